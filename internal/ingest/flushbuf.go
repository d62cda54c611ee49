package ingest

import (
	"sync"
	"time"
)

// FlushBuffer accumulates items and delivers them as one batch after a
// quiet period with no new arrivals. Streaming backfill uses one per
// timeframe so thousands of individual candle messages become a handful
// of bulk commits; the same primitive suits any bursty input that should
// be coalesced.
type FlushBuffer[T any] struct {
	quiet time.Duration
	flush func([]T)

	mu    sync.Mutex
	items []T
	timer *time.Timer
}

// NewFlushBuffer creates a buffer that calls flush with the accumulated
// batch once quiet elapses without an Add. The flush callback runs on the
// timer goroutine.
func NewFlushBuffer[T any](quiet time.Duration, flush func([]T)) *FlushBuffer[T] {
	return &FlushBuffer[T]{quiet: quiet, flush: flush}
}

// Add appends an item and restarts the quiet-period timer.
func (b *FlushBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.quiet, b.fire)
}

func (b *FlushBuffer[T]) fire() {
	if batch := b.take(); len(batch) > 0 {
		b.flush(batch)
	}
}

// Drain cancels any pending timer and returns the buffered items without
// invoking the flush callback. Used when the owner needs the batch
// synchronously, such as the backfill-to-live transition.
func (b *FlushBuffer[T]) Drain() []T {
	return b.take()
}

func (b *FlushBuffer[T]) take() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = nil
	return items
}

// Len returns the number of buffered items.
func (b *FlushBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
