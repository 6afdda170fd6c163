package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echoProcessor(ctx context.Context, nodeID string, batch []any) ([]any, error) {
	return batch, nil
}

func TestFanOutFlattensInInputOrder(t *testing.T) {
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		out := make([]any, len(batch))
		for i, v := range batch {
			out[i] = fmt.Sprintf("done-%v", v)
		}
		return out, nil
	})
	res, err := exec.ExecuteFanOut(context.Background(), "split", []any{1, 2, 3, 4, 5}, FanOutConfig{BatchSize: 2, MaxConcurrency: 4})
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	want := []any{"done-1", "done-2", "done-3", "done-4", "done-5"}
	if len(res.Values) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(res.Values))
	}
	for i, v := range want {
		if res.Values[i] != v {
			t.Fatalf("result %d: expected %v, got %v", i, v, res.Values[i])
		}
	}
	if exec.ActiveCount() != 0 {
		t.Fatalf("task still active after completion: %d", exec.ActiveCount())
	}
}

func TestFanOutBoundsConcurrency(t *testing.T) {
	var running, peak int64
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		now := atomic.AddInt64(&running, 1)
		for {
			seen := atomic.LoadInt64(&peak)
			if now <= seen || atomic.CompareAndSwapInt64(&peak, seen, now) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return batch, nil
	})
	_, err := exec.ExecuteFanOut(context.Background(), "split", []any{1, 2, 3, 4, 5}, FanOutConfig{MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Fatalf("concurrency bound violated: %d batches ran at once", got)
	}
}

func TestFanOutBatchFailureStillReportsDuration(t *testing.T) {
	boom := errors.New("downstream exploded")
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		if batch[0] == 3 {
			return nil, boom
		}
		return batch, nil
	})
	res, err := exec.ExecuteFanOut(context.Background(), "split", []any{1, 2, 3}, FanOutConfig{MaxConcurrency: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected batch error, got %v", err)
	}
	if res.TaskID == "" {
		t.Fatal("failed invocation should still identify its task")
	}
	if exec.ActiveCount() != 0 {
		t.Fatalf("failed task still active: %d", exec.ActiveCount())
	}
}

func TestFanOutRejectPolicyFailsWithoutStartingBatches(t *testing.T) {
	release := make(chan struct{})
	var started int64
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		atomic.AddInt64(&started, 1)
		<-release
		return batch, nil
	})
	cfg := FanOutConfig{
		MaxConcurrency: 1,
		Backpressure:   &Backpressure{Enabled: true, MaxQueueSize: 1, DropPolicy: Reject},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exec.ExecuteFanOut(context.Background(), "occupant", []any{1}, cfg)
	}()
	waitFor(t, func() bool { return atomic.LoadInt64(&started) == 1 })

	before := atomic.LoadInt64(&started)
	if _, err := exec.ExecuteFanOut(context.Background(), "rejected", []any{2}, cfg); err == nil {
		t.Fatal("expected rejection while queue is full")
	}
	if atomic.LoadInt64(&started) != before {
		t.Fatal("rejected call must not start any batch")
	}
	close(release)
	wg.Wait()
}

func TestFanOutDropOldestEvictsAndProceeds(t *testing.T) {
	release := make(chan struct{})
	exec := New(func(ctx context.Context, nodeID string, batch []any) ([]any, error) {
		if nodeID == "occupant" {
			<-release
		}
		return batch, nil
	})
	cfg := FanOutConfig{
		MaxConcurrency: 1,
		Backpressure:   &Backpressure{Enabled: true, MaxQueueSize: 1, DropPolicy: DropOldest},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exec.ExecuteFanOut(context.Background(), "occupant", []any{1}, cfg)
	}()
	waitFor(t, func() bool { return exec.ActiveCount() == 1 })

	res, err := exec.ExecuteFanOut(context.Background(), "newcomer", []any{2}, cfg)
	if err != nil {
		t.Fatalf("drop_oldest should admit the newcomer: %v", err)
	}
	if len(res.Values) != 1 || res.Values[0] != 2 {
		t.Fatalf("unexpected newcomer results: %v", res.Values)
	}
	close(release)
	wg.Wait()
}

func TestFanOutValidation(t *testing.T) {
	exec := New(echoProcessor)
	cases := []FanOutConfig{
		{MaxConcurrency: 0},
		{MaxConcurrency: 2, BatchSize: -1},
		{MaxConcurrency: 2, Backpressure: &Backpressure{Enabled: true, MaxQueueSize: 0, DropPolicy: Reject}},
		{MaxConcurrency: 2, Backpressure: &Backpressure{Enabled: true, MaxQueueSize: 3, DropPolicy: "explode"}},
	}
	for i, cfg := range cases {
		if _, err := exec.ExecuteFanOut(context.Background(), "split", []any{1}, cfg); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, cfg)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
