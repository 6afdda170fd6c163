package registry

import (
	"context"
	"testing"
)

func noopExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{}, nil
	})
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	if err := r.Register("action", noopExecutor()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("action", noopExecutor()); err == nil {
		t.Fatal("duplicate kind must fail")
	}
	if err := r.Register("", noopExecutor()); err == nil {
		t.Fatal("empty kind must fail")
	}
	if err := r.Register("gate", nil); err == nil {
		t.Fatal("nil executor must fail")
	}
	if _, err := r.Resolve("action"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := r.Resolve("absent"); err == nil {
		t.Fatal("unknown kind must fail")
	}
}

func TestKindsSorted(t *testing.T) {
	r := New()
	r.MustRegister("merge", noopExecutor())
	r.MustRegister("action", noopExecutor())
	r.MustRegister("gate", noopExecutor())
	kinds := r.Kinds()
	want := []string{"action", "gate", "merge"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestMustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for duplicate registration")
		}
	}()
	r := New()
	r.MustRegister("action", noopExecutor())
	r.MustRegister("action", noopExecutor())
}
