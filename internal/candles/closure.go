package candles

import (
	"log/slog"
	"sync"

	"charthub/internal/domain"
)

// ClosureListener receives the finalized candle when a stream's in-progress
// candle closes.
type ClosureListener func(key Key, closed domain.Candle)

// CloseDetector watches candle updates per (symbol, timeframe) and emits a
// closure exactly once per closed candle: when a candle with a later
// timestamp arrives, the previously stored candle is final.
type CloseDetector struct {
	mu        sync.Mutex
	latest    map[Key]domain.Candle
	listeners []ClosureListener
	log       *slog.Logger
}

// NewCloseDetector creates a detector with no listeners.
func NewCloseDetector(log *slog.Logger) *CloseDetector {
	return &CloseDetector{
		latest: make(map[Key]domain.Candle),
		log:    log,
	}
}

// AddListener registers a closure listener. Listeners run synchronously in
// registration order on the goroutine that called Process.
func (d *CloseDetector) AddListener(l ClosureListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Process observes a candle for key and returns true when it closed the
// previously stored candle. Same-timestamp candles update in place; older
// timestamps are treated the same way, favoring the most recent data.
func (d *CloseDetector) Process(key Key, c domain.Candle) bool {
	d.mu.Lock()
	prev, seen := d.latest[key]
	if !seen || c.Timestamp <= prev.Timestamp {
		d.latest[key] = c
		d.mu.Unlock()
		return false
	}
	d.latest[key] = c
	listeners := make([]ClosureListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	for _, l := range listeners {
		d.fire(l, key, prev)
	}
	return true
}

// fire invokes a single listener, recovering panics so one failing listener
// cannot starve the rest.
func (d *CloseDetector) fire(l ClosureListener, key Key, closed domain.Candle) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("closure listener panicked",
				"symbol", key.Symbol, "timeframe", key.Timeframe, "panic", r)
		}
	}()
	l(key, closed)
}

// Reset forgets all stored candles, used on disconnect so stale state never
// produces a closure against the next connection's data.
func (d *CloseDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = make(map[Key]domain.Candle)
}
