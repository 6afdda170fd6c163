package artifact

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a retrieval references an unknown artifact.
var ErrNotFound = errors.New("artifact: not found")

// Store is the content store contract the execution core writes through. The
// core performs no other I/O.
type Store interface {
	Store(a Artifact) (string, error)
	Retrieve(ref string) (Artifact, error)
	List() ([]string, error)
	Delete(ref string) error
}

// MemoryStore is a thread-safe in-memory Store. One is created per execution
// session; nothing is persisted beyond the process.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
	now       func() time.Time
}

// MemoryStoreOption customizes a MemoryStore during construction.
type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the clock used for created-at timestamps.
func WithClock(clock func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	store := &MemoryStore{
		artifacts: map[string]Artifact{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Store persists the artifact and returns its ID. A missing ID is assigned;
// a missing created-at timestamp is stamped from the store clock. Artifacts
// are immutable: storing an existing ID is rejected.
func (s *MemoryStore) Store(a Artifact) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return "", err
	}
	if a.Metadata.CreatedAt.IsZero() {
		a.Metadata.CreatedAt = s.now().UTC()
	}
	if a.Metadata.ContentType == "" {
		a.Metadata.ContentType = InferContentType(a.Data)
	}
	if a.Metadata.Size == 0 {
		a.Metadata.Size = SizeOf(a.Data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[a.ID]; exists {
		return "", fmt.Errorf("artifact: %s already stored", a.ID)
	}
	s.artifacts[a.ID] = a.Clone()
	return a.ID, nil
}

// Retrieve returns a copy of the stored artifact or ErrNotFound.
func (s *MemoryStore) Retrieve(ref string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.artifacts[ref]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return stored.Clone(), nil
}

// List returns every stored artifact ID in sorted order.
func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the artifact. Deleting an unknown ref returns ErrNotFound.
func (s *MemoryStore) Delete(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[ref]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	delete(s.artifacts, ref)
	return nil
}
