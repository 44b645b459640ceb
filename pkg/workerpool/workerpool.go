// Package workerpool runs bounded concurrent work over a slice.
package workerpool

import (
	"context"
	"sync"
)

// Process runs process for every item on workerCount goroutines. The first
// error cancels the shared context, invokes onCancel and stops further work.
func Process[T any](
	ctx context.Context,
	workerCount int,
	items []T,
	process func(context.Context, T) error,
	onCancel func(),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount = max(1, min(workerCount, len(items)))
	tasks := make(chan T, workerCount)
	errs := make(chan error, workerCount)
	wg := sync.WaitGroup{}
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-tasks:
					if !ok {
						return
					}
					if err := process(ctx, item); err != nil {
						select {
						case errs <- err:
						default:
						}
						if onCancel != nil {
							onCancel()
						}
						cancel()
						return
					}
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Map applies fn to every item concurrently and returns the results in input
// order. It fails with the first error observed.
func Map[T, R any](ctx context.Context, workerCount int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, ctx.Err()
	}
	indices := make([]int, len(items))
	for i := range indices {
		indices[i] = i
	}
	err := Process(ctx, workerCount, indices, func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return results, nil
}
