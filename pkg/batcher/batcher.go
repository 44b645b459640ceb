// Package batcher provides a generic buffered batch processor with rate limiting.
package batcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Batcher buffers items and flushes them either by size or interval.
type Batcher[T any] struct {
	flushCallback func(context.Context, []T) error
	itemsCh       chan T
	flushSize     int
	flushInterval time.Duration
	rl            ratelimit.Limiter
	logger        *zap.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Batcher. rps limits flushes per second; rps <= 0 disables the limit.
func New[T any](logger *zap.Logger, flushCallback func(context.Context, []T) error, flushSize int, flushInterval time.Duration, rps int) *Batcher[T] {
	if flushSize < 1 {
		flushSize = 1
	}
	rl := ratelimit.NewUnlimited()
	if rps > 0 {
		rl = ratelimit.New(rps)
	}
	return &Batcher[T]{
		logger:        logger,
		flushCallback: flushCallback,
		itemsCh:       make(chan T, flushSize*2),
		flushSize:     flushSize,
		flushInterval: flushInterval,
		rl:            rl,
		stop:          make(chan struct{}),
	}
}

// Start begins the background flushing loop.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop flushes what is buffered and waits for the loop to exit. It is safe to call twice.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
}

// TryAdd queues an item without blocking and reports whether it was accepted.
func (b *Batcher[T]) TryAdd(item T) bool {
	select {
	case <-b.stop:
		return false
	default:
	}

	select {
	case b.itemsCh <- item:
		return true
	default:
		return false
	}
}

func (b *Batcher[T]) run(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	buf := make([]T, 0, b.flushSize)

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}

		b.rl.Take()
		err := b.flushCallback(ctx, buf)
		if err != nil {
			b.logger.Error("batch not flushed", zap.Int("size", len(buf)), zap.Error(err))
		} else {
			b.logger.Debug("batch flushed", zap.Int("size", len(buf)))
		}
		buf = buf[:0]
	}

	// drain takes what is still queued and flushes it on a context that
	// outlives the shutdown signal.
	drain := func() {
		final := context.WithoutCancel(ctx)
		for {
			select {
			case item := <-b.itemsCh:
				buf = append(buf, item)
				if len(buf) >= b.flushSize {
					flush(final)
				}
			default:
				flush(final)
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return

		case <-b.stop:
			drain()
			return

		case item := <-b.itemsCh:
			buf = append(buf, item)
			if len(buf) >= b.flushSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}
