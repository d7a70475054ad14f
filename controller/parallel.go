package controller

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/dataset"
	"github.com/nvr-ai/go-ml-eval/inference"
)

// EngineFactory creates an independent engine for one worker.
type EngineFactory func() (inference.Engine, error)

// ParallelRun scores object detection samples on several engines at once.
//
// Samples are split into contiguous shards, one per worker, and every worker owns an engine
// from factory which it closes when done. Records come back in sample order. The first failing
// worker cancels the others.
//
// Arguments:
//   - ctx: Cancels the run.
//   - factory: Creates the engine of each worker.
//   - workers: The number of workers; values below 1 mean 1.
//   - samples: The samples with features and ground truth.
//
// Returns:
//   - []EvaluationRecord: One record per sample in input order.
//   - error: The first error of any worker.
func (c *Controller) ParallelRun(ctx context.Context, factory EngineFactory, workers int, samples []dataset.Sample) ([]EvaluationRecord, error) {
	run := *c
	samples, err := run.remap(samples)
	if err != nil {
		return nil, err
	}
	if err := run.inferSize(samples); err != nil {
		return nil, err
	}
	return run.parallelRun(ctx, factory, workers, samples)
}

func (c *Controller) parallelRun(ctx context.Context, factory EngineFactory, workers int, samples []dataset.Sample) ([]EvaluationRecord, error) {
	if factory == nil {
		return nil, ErrMissingEngine
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(samples) {
		workers = max(len(samples), 1)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := newProgress(len(samples), c.interval, c.now, c.log)
	shardSize := (len(samples) + workers - 1) / workers
	results := make([][]EvaluationRecord, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := min(w*shardSize, len(samples))
		hi := min(lo+shardSize, len(samples))

		wg.Add(1)
		go func(idx int, shard []dataset.Sample) {
			defer wg.Done()

			engine, err := factory()
			if err != nil {
				errs[idx] = errors.Wrapf(err, "creating engine for worker %d", idx)
				cancel()
				return
			}
			defer func() {
				if err := engine.Close(); err != nil {
					c.log.WithError(err).Warn("Failed to close engine")
				}
			}()

			worker := *c
			worker.engine = engine
			worker.log = c.log.WithField("worker", idx)
			results[idx], errs[idx] = worker.run(ctx, shard, p)
			if errs[idx] != nil {
				cancel()
			}
		}(w, samples[lo:hi])
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		return nil, err
	}
	records := make([]EvaluationRecord, 0, len(samples))
	for _, r := range results {
		records = append(records, r...)
	}
	return records, nil
}

// firstError prefers the error that caused a cancellation over the cancellations it caused.
func firstError(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}
