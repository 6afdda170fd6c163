// Package artifact defines the content model node outputs are persisted
// under: an immutable payload plus provenance describing which node of which
// execution produced it and from which inputs.
package artifact

import (
	"fmt"
	"strings"
	"time"
)

// ContentType labels the stored payload shape.
type ContentType string

const (
	// ContentTypeText marks plain string payloads.
	ContentTypeText ContentType = "text/plain"
	// ContentTypeJSON marks structured payloads (maps, slices, numbers).
	ContentTypeJSON ContentType = "application/json"
)

// GlobalPrefix keys artifacts seeded from run-global inputs.
const GlobalPrefix = "global_"

// Provenance records which node of which execution produced an artifact.
type Provenance struct {
	NodeID      string   `json:"node_id"`
	ExecutionID string   `json:"execution_id"`
	Inputs      []string `json:"inputs,omitempty"`
}

// Metadata describes a stored artifact.
type Metadata struct {
	ContentType ContentType `json:"content_type"`
	Size        int         `json:"size"`
	CreatedAt   time.Time   `json:"created_at"`
	Provenance  Provenance  `json:"provenance"`
}

// Artifact is an immutable stored value. Once written it is retrieved by ID
// only and never mutated in place.
type Artifact struct {
	ID       string   `json:"id"`
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Validate ensures the artifact is well-formed before storage.
func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("artifact: id is required")
	}
	return nil
}

// Clone returns a deep copy so callers can never alias stored state.
func (a Artifact) Clone() Artifact {
	clone := a
	clone.Data = cloneValue(a.Data)
	if len(a.Metadata.Provenance.Inputs) > 0 {
		inputs := make([]string, len(a.Metadata.Provenance.Inputs))
		copy(inputs, a.Metadata.Provenance.Inputs)
		clone.Metadata.Provenance.Inputs = inputs
	}
	return clone
}

// InferContentType classifies a value as text vs structured.
func InferContentType(value any) ContentType {
	if _, ok := value.(string); ok {
		return ContentTypeText
	}
	return ContentTypeJSON
}

// SizeOf approximates payload size for metadata. Strings report their byte
// length; everything else reports its formatted length.
func SizeOf(value any) int {
	if s, ok := value.(string); ok {
		return len(s)
	}
	return len(fmt.Sprintf("%v", value))
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
