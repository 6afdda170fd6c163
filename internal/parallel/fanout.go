package parallel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ExecuteFanOut partitions inputs into batches and runs them concurrently,
// bounded by the configured concurrency limit. All batches are awaited; the
// first batch error fails the whole invocation. The returned Result carries
// the flattened batch outputs in input order and the total duration, duration
// included even on failure.
func (e *Executor) ExecuteFanOut(ctx context.Context, nodeID string, inputs []any, cfg FanOutConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if e.process == nil {
		return Result{}, fmt.Errorf("parallel: no batch processor configured")
	}
	task, err := e.admit(nodeID, ModeFanOut, cfg.Backpressure)
	if err != nil {
		return Result{}, err
	}

	batches := partition(inputs, cfg.batchSize())
	for range batches {
		task.SubTaskIDs = append(task.SubTaskIDs, task.TaskID+"_"+fmt.Sprint(len(task.SubTaskIDs)))
	}

	outputs := make([][]any, len(batches))
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	group, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		group.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			out, err := e.process(gctx, nodeID, batch)
			if err != nil {
				return fmt.Errorf("parallel: batch %d of node %s: %w", i, nodeID, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		e.finish(task, StatusFailed, nil)
		return Result{TaskID: task.TaskID, Duration: task.Duration()}, err
	}

	flat := flatten(outputs)
	e.finish(task, StatusCompleted, flat)
	if e.log != nil {
		e.log.Printf("parallel: fan-out %s for node %s completed, %d batches, %d results in %s",
			task.TaskID, nodeID, len(batches), len(flat), task.Duration())
	}
	return Result{TaskID: task.TaskID, Values: flat, Duration: task.Duration()}, nil
}

// partition splits inputs into chunks of size. The final chunk may be short.
func partition(inputs []any, size int) [][]any {
	if len(inputs) == 0 {
		return nil
	}
	batches := make([][]any, 0, (len(inputs)+size-1)/size)
	for start := 0; start < len(inputs); start += size {
		end := start + size
		if end > len(inputs) {
			end = len(inputs)
		}
		batches = append(batches, inputs[start:end])
	}
	return batches
}

// flatten joins per-batch outputs one level deep, preserving batch order.
func flatten(outputs [][]any) []any {
	var flat []any
	for _, out := range outputs {
		flat = append(flat, out...)
	}
	return flat
}
