// Package workerpool implements the bounded worker pool named in spec
// §5 as the substrate for KeyedFileMap's parallel reads and
// ActionMaskMaterializer's per-head tasks: one goroutine per task,
// capped at the number of available cores, awaited as a single
// barrier. Grounded on the worker-count capping and errgroup cohort
// pattern of lox-pokerforbots' equity.go.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work identified by a key, pure in (key) -> (value,
// error).
type Task[K comparable, V any] struct {
	Key K
	Run func(ctx context.Context) (V, error)
}

// RunAll runs every task concurrently, bounded to
// min(NumCPU(), len(tasks)) simultaneous goroutines (at least 1). It
// awaits the whole cohort before returning (spec §5
// surface 1: "the caller awaits the whole cohort before proceeding").
// If any task returns an error, RunAll returns the first one and
// cancels the context passed to the remaining tasks.
func RunAll[K comparable, V any](ctx context.Context, tasks []Task[K, V]) (map[K]V, error) {
	workers := runtime.NumCPU()
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make(map[K]V, len(tasks))
	values := make([]V, len(tasks))
	keys := make([]K, len(tasks))

	for i, task := range tasks {
		i, task := i, task
		keys[i] = task.Key
		g.Go(func() error {
			v, err := task.Run(gctx)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, k := range keys {
		results[k] = values[i]
	}
	return results, nil
}
