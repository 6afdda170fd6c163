package artifact

import (
	"errors"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return at }
}

func TestStoreRoundTripPreservesDataAndProvenance(t *testing.T) {
	store := NewMemoryStore(WithClock(fixedClock()))
	in := Artifact{
		ID:   "summarize_result",
		Data: map[string]any{"text": "done", "count": 3},
		Metadata: Metadata{
			Provenance: Provenance{NodeID: "summarize", ExecutionID: "exec-1", Inputs: []string{"fetch_result"}},
		},
	}
	id, err := store.Store(in)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	out, err := store.Retrieve(id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	data, ok := out.Data.(map[string]any)
	if !ok || data["text"] != "done" || data["count"] != 3 {
		t.Fatalf("unexpected data: %#v", out.Data)
	}
	if out.Metadata.Provenance.NodeID != "summarize" || out.Metadata.Provenance.ExecutionID != "exec-1" {
		t.Fatalf("unexpected provenance: %+v", out.Metadata.Provenance)
	}
	if !out.Metadata.CreatedAt.Equal(fixedClock()()) {
		t.Fatalf("expected stamped created-at, got %v", out.Metadata.CreatedAt)
	}
}

func TestStoreAssignsIDAndInfersContentType(t *testing.T) {
	store := NewMemoryStore()
	id, err := store.Store(Artifact{Data: "hello"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	out, err := store.Retrieve(id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if out.Metadata.ContentType != ContentTypeText {
		t.Fatalf("expected text content type, got %s", out.Metadata.ContentType)
	}
	if out.Metadata.Size != len("hello") {
		t.Fatalf("unexpected size %d", out.Metadata.Size)
	}
}

func TestStoreRejectsOverwrite(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Store(Artifact{ID: "a", Data: 1}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.Store(Artifact{ID: "a", Data: 2}); err == nil {
		t.Fatal("expected overwrite rejection")
	}
}

func TestRetrieveReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Store(Artifact{ID: "a", Data: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	first, _ := store.Retrieve("a")
	first.Data.(map[string]any)["k"] = "mutated"
	second, _ := store.Retrieve("a")
	if second.Data.(map[string]any)["k"] != "v" {
		t.Fatal("retrieve leaked shared state")
	}
}

func TestRetrieveUnknownIsNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Retrieve("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	store := NewMemoryStore()
	for _, id := range []string{"b", "a"} {
		if _, err := store.Store(Artifact{ID: id, Data: id}); err != nil {
			t.Fatalf("store %s: %v", id, err)
		}
	}
	ids, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := store.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}
