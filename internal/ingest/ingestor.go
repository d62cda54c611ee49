// Package ingest turns the backend's per-message candle stream into bulk
// chart-state commits: it owns the connection mode state machine, debounces
// backfill into batches, and queues candles for chart surfaces that have
// not finished initializing.
package ingest

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"charthub/internal/candles"
	"charthub/internal/domain"
)

// DefaultQuietPeriod is the backfill debounce window: a flush fires once
// this long passes with no further historical candle for the timeframe.
const DefaultQuietPeriod = 200 * time.Millisecond

// pendingCandle is a live candle waiting for its surface to become ready.
// Boundary candles are closures forwarded from a finer timeframe; they
// are drained after the direct stream so the direct candle wins ties.
type pendingCandle struct {
	candle   domain.Candle
	boundary bool
}

// Ingestor feeds incoming candles through the mode state machine into the
// candle store and closure detector. All entry points are safe for
// concurrent use; commits are serialized so the backfill-to-live flip is
// a single observable state change.
type Ingestor struct {
	store    *candles.Store
	detector *candles.CloseDetector
	quiet    time.Duration
	log      *slog.Logger

	// OnCommit, when set, is called after each batch lands in the store.
	// The window event loop uses it to schedule a re-render.
	OnCommit func(candles.Key, []domain.Candle)

	mu       sync.Mutex
	machine  *Machine
	buffers  map[candles.Key]*FlushBuffer[domain.Candle]
	ready    map[domain.Timeframe]bool
	pending  map[candles.Key][]pendingCandle
}

// NewIngestor creates an ingestor for the given run mode.
func NewIngestor(mode RunMode, store *candles.Store, detector *candles.CloseDetector, log *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		detector: detector,
		quiet:    DefaultQuietPeriod,
		log:      log.With("component", "ingest", "mode", mode.String()),
		machine:  NewMachine(mode),
		buffers:  make(map[candles.Key]*FlushBuffer[domain.Candle]),
		ready:    make(map[domain.Timeframe]bool),
		pending:  make(map[candles.Key][]pendingCandle),
	}
}

// SetQuietPeriod overrides the backfill debounce window. Tests shorten it.
func (in *Ingestor) SetQuietPeriod(d time.Duration) { in.quiet = d }

// State returns the machine's current state.
func (in *Ingestor) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.machine.State()
}

// Connecting marks the start of a dial attempt.
func (in *Ingestor) Connecting() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.machine.Connecting()
}

// Connected marks a successful dial.
func (in *Ingestor) Connected() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.machine.Connected(); err != nil {
		return err
	}
	in.log.Info("ingest started", "state", in.machine.State().String())
	return nil
}

// SurfaceReady marks one timeframe's chart surface as able to accept
// candles and drains anything queued for it: direct candles first, then
// boundary candles, each skipped when the store already has its
// timestamp.
func (in *Ingestor) SurfaceReady(tf domain.Timeframe) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.ready[tf] = true

	for key, queue := range in.pending {
		if key.Timeframe != tf || len(queue) == 0 {
			continue
		}
		delete(in.pending, key)

		var direct, boundary []domain.Candle
		for _, p := range queue {
			if p.boundary {
				boundary = append(boundary, p.candle)
			} else {
				direct = append(direct, p.candle)
			}
		}
		series := in.store.Series(key)
		drained := 0
		for _, c := range append(direct, boundary...) {
			if series.Has(c.Timestamp) {
				continue
			}
			in.commitLocked(key, c)
			drained++
		}
		in.log.Debug("surface queue drained", "timeframe", string(tf), "queued", len(queue), "committed", drained)
	}
}

// HandleCandle routes one inbound candle according to the current state:
// buffered during backfill, committed (or queued) during live and replay
// streaming, dropped otherwise.
func (in *Ingestor) HandleCandle(key candles.Key, c domain.Candle) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.machine.State() {
	case StateBackfill:
		if c.Source == domain.SourceLive {
			in.promoteToLive(key, c)
			return
		}
		in.bufferLocked(key).Add(c)

	case StateLive, StateReplay:
		in.deliverLocked(key, c, false)

	case StateReplayPaused:
		// The backend should not send while paused; tolerate stragglers.
		in.deliverLocked(key, c, false)

	default:
		in.log.Debug("candle dropped", "state", in.machine.State().String(),
			"symbol", key.Symbol, "timeframe", string(key.Timeframe))
	}
}

// HandleBoundaryCandle ingests a candle synthesized from a finer
// timeframe's closure. It only ever lands through the dedup path.
func (in *Ingestor) HandleBoundaryCandle(key candles.Key, c domain.Candle) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.ready[key.Timeframe] {
		in.pending[key] = append(in.pending[key], pendingCandle{candle: c, boundary: true})
		return
	}
	if in.store.Series(key).Has(c.Timestamp) {
		return
	}
	in.commitLocked(key, c)
}

// BackfillComplete finishes a history-only run, flushing whatever the
// debounce timers still hold.
func (in *Ingestor) BackfillComplete() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.flushAllLocked()
	return in.machine.BackfillComplete()
}

// Pause suspends replay delivery.
func (in *Ingestor) Pause() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.machine.Pause()
}

// Resume continues a paused replay.
func (in *Ingestor) Resume() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.machine.Resume()
}

// ReplayEnded marks replay exhaustion.
func (in *Ingestor) ReplayEnded() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.machine.ReplayEnded()
}

// Disconnect resets to the disconnected state and clears every buffer and
// queue so nothing stale replays into a fresh connection.
func (in *Ingestor) Disconnect() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for key, buf := range in.buffers {
		buf.Drain()
		delete(in.buffers, key)
	}
	in.pending = make(map[candles.Key][]pendingCandle)
	in.machine.Disconnect()
	in.log.Info("ingest disconnected, queues cleared")
}

// promoteToLive is the atomic backfill-to-live transition: every buffered
// timeframe flushes, the triggering live candle merges in, and the state
// flips — all under one lock so no partial commit is observable.
func (in *Ingestor) promoteToLive(key candles.Key, live domain.Candle) {
	in.flushAllLocked()
	if err := in.machine.LiveArrived(); err != nil {
		in.log.Warn("live transition rejected", "err", err)
		return
	}
	in.deliverLocked(key, live, false)
	in.log.Info("live streaming started", "symbol", key.Symbol, "timeframe", string(key.Timeframe))
}

// bufferLocked returns the backfill buffer for key, creating it with the
// debounced flush hooked back into commit.
func (in *Ingestor) bufferLocked(key candles.Key) *FlushBuffer[domain.Candle] {
	buf, ok := in.buffers[key]
	if !ok {
		buf = NewFlushBuffer(in.quiet, func(batch []domain.Candle) {
			in.mu.Lock()
			defer in.mu.Unlock()
			in.commitBatchLocked(key, batch)
		})
		in.buffers[key] = buf
	}
	return buf
}

func (in *Ingestor) flushAllLocked() {
	for key, buf := range in.buffers {
		if batch := buf.Drain(); len(batch) > 0 {
			in.commitBatchLocked(key, batch)
		}
	}
}

// deliverLocked commits a streaming candle, or queues it when its surface
// is not ready yet.
func (in *Ingestor) deliverLocked(key candles.Key, c domain.Candle, boundary bool) {
	if !in.ready[key.Timeframe] {
		in.pending[key] = append(in.pending[key], pendingCandle{candle: c, boundary: boundary})
		return
	}
	in.commitLocked(key, c)
}

func (in *Ingestor) commitLocked(key candles.Key, c domain.Candle) {
	in.store.Series(key).Upsert(c)
	in.detector.Process(key, c)
	if in.OnCommit != nil {
		in.OnCommit(key, []domain.Candle{c})
	}
}

func (in *Ingestor) commitBatchLocked(key candles.Key, batch []domain.Candle) {
	sort.Slice(batch, func(i, j int) bool { return batch[i].Timestamp < batch[j].Timestamp })
	in.store.Series(key).UpsertBatch(batch)
	for _, c := range batch {
		in.detector.Process(key, c)
	}
	in.log.Debug("backfill batch committed",
		"symbol", key.Symbol, "timeframe", string(key.Timeframe), "candles", len(batch))
	if in.OnCommit != nil {
		in.OnCommit(key, batch)
	}
}
