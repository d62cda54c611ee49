package ingest

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"charthub/internal/candles"
	"charthub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func histCandle(ts int64, close float64) domain.Candle {
	return domain.Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1, Source: domain.SourceHistorical}
}

func liveCandle(ts int64, close float64) domain.Candle {
	c := histCandle(ts, close)
	c.Source = domain.SourceLive
	return c
}

var es1m = candles.Key{Symbol: "ES", Timeframe: domain.TF1m}

func newTestIngestor(mode RunMode) (*Ingestor, *candles.Store) {
	store := candles.NewStore()
	det := candles.NewCloseDetector(testLogger())
	in := NewIngestor(mode, store, det, testLogger())
	in.SetQuietPeriod(30 * time.Millisecond)
	return in, store
}

func connect(t *testing.T, in *Ingestor) {
	t.Helper()
	if err := in.Connecting(); err != nil {
		t.Fatal(err)
	}
	if err := in.Connected(); err != nil {
		t.Fatal(err)
	}
}

func TestMachinePaths(t *testing.T) {
	m := NewMachine(ModeLive)
	steps := []struct {
		ev   func() error
		want State
	}{
		{m.Connecting, StateConnecting},
		{m.Connected, StateBackfill},
		{m.LiveArrived, StateLive},
	}
	for _, s := range steps {
		if err := s.ev(); err != nil {
			t.Fatal(err)
		}
		if m.State() != s.want {
			t.Fatalf("state = %s, want %s", m.State(), s.want)
		}
	}
	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Errorf("state after disconnect = %s", m.State())
	}

	r := NewMachine(ModeReplay)
	for _, ev := range []func() error{r.Connecting, r.Connected, r.Pause, r.Resume, r.ReplayEnded} {
		if err := ev(); err != nil {
			t.Fatal(err)
		}
	}
	if r.State() != StateEnded {
		t.Errorf("replay final state = %s, want ended", r.State())
	}

	h := NewMachine(ModeHistoryOnly)
	for _, ev := range []func() error{h.Connecting, h.Connected, h.BackfillComplete} {
		if err := ev(); err != nil {
			t.Fatal(err)
		}
	}
	if h.State() != StateDone {
		t.Errorf("history-only final state = %s, want done", h.State())
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine(ModeLive)
	if err := m.LiveArrived(); err == nil {
		t.Error("LiveArrived accepted while disconnected")
	}
	if err := m.Pause(); err == nil {
		t.Error("Pause accepted outside replay")
	}
	if err := m.Connected(); err == nil {
		t.Error("Connected accepted without Connecting")
	}
}

func TestFlushBufferDebounce(t *testing.T) {
	var mu sync.Mutex
	var batches [][]int
	buf := NewFlushBuffer(40*time.Millisecond, func(b []int) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})

	// Adds inside the quiet window coalesce into one batch.
	for i := 0; i < 5; i++ {
		buf.Add(i)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("flushes = %d, want 1", len(batches))
	}
	if len(batches[0]) != 5 {
		t.Errorf("batch size = %d, want 5", len(batches[0]))
	}
}

func TestFlushBufferDrainSkipsCallback(t *testing.T) {
	fired := false
	buf := NewFlushBuffer(20*time.Millisecond, func([]int) { fired = true })
	buf.Add(1)
	buf.Add(2)
	got := buf.Drain()
	if len(got) != 2 {
		t.Fatalf("drained %d items, want 2", len(got))
	}
	time.Sleep(60 * time.Millisecond)
	if fired {
		t.Error("flush callback fired after Drain")
	}
	if buf.Len() != 0 {
		t.Errorf("Len = %d after drain", buf.Len())
	}
}

func TestBackfillBatchCommit(t *testing.T) {
	in, store := newTestIngestor(ModeLive)
	connect(t, in)
	in.SurfaceReady(domain.TF1m)

	var mu sync.Mutex
	commits := 0
	in.OnCommit = func(candles.Key, []domain.Candle) {
		mu.Lock()
		commits++
		mu.Unlock()
	}

	// Out-of-order historical stream.
	for _, ts := range []int64{180000, 0, 120000, 60000} {
		in.HandleCandle(es1m, histCandle(ts, 4700))
	}
	time.Sleep(100 * time.Millisecond)

	series := store.Series(es1m)
	if series.Len() != 4 {
		t.Fatalf("series holds %d candles, want 4", series.Len())
	}
	all := series.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Timestamp >= all[i].Timestamp {
			t.Fatal("committed candles not sorted")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if commits != 1 {
		t.Errorf("commits = %d, want 1 batch for the whole backfill", commits)
	}
}

func TestLiveTransitionFlushesAtomically(t *testing.T) {
	in, store := newTestIngestor(ModeLive)
	// Long quiet period: only the live candle can trigger the flush.
	in.SetQuietPeriod(10 * time.Second)
	connect(t, in)
	in.SurfaceReady(domain.TF1m)
	in.SurfaceReady(domain.TF5m)

	es5m := candles.Key{Symbol: "ES", Timeframe: domain.TF5m}
	in.HandleCandle(es1m, histCandle(0, 4700))
	in.HandleCandle(es1m, histCandle(60000, 4701))
	in.HandleCandle(es5m, histCandle(0, 4700))

	if got := store.Series(es1m).Len(); got != 0 {
		t.Fatalf("backfill committed before flush: %d candles", got)
	}

	in.HandleCandle(es1m, liveCandle(120000, 4702))

	if in.State() != StateLive {
		t.Fatalf("state = %s, want live", in.State())
	}
	if got := store.Series(es1m).Len(); got != 3 {
		t.Errorf("1m series = %d candles, want 3 (2 backfill + live)", got)
	}
	if got := store.Series(es5m).Len(); got != 1 {
		t.Errorf("5m series = %d candles, want 1 (flushed with every timeframe)", got)
	}
	last, _ := store.Series(es1m).Last()
	if last.Source != domain.SourceLive || last.Timestamp != 120000 {
		t.Errorf("last candle = %+v, want the live trigger", last)
	}
}

func TestNotReadySurfaceQueuesAndDrains(t *testing.T) {
	in, store := newTestIngestor(ModeLive)
	connect(t, in)
	in.SurfaceReady(domain.TF1m)
	in.HandleCandle(es1m, liveCandle(0, 4700)) // flips to live

	es5m := candles.Key{Symbol: "ES", Timeframe: domain.TF5m}
	in.HandleCandle(es5m, liveCandle(0, 4700))
	in.HandleBoundaryCandle(es5m, histCandle(300000, 4705))
	in.HandleCandle(es5m, liveCandle(300000, 4706))

	if got := store.Series(es5m).Len(); got != 0 {
		t.Fatalf("candles committed to a not-ready surface: %d", got)
	}

	in.SurfaceReady(domain.TF5m)

	series := store.Series(es5m)
	if series.Len() != 2 {
		t.Fatalf("drained series = %d candles, want 2 (ts dedup)", series.Len())
	}
	// Boundary candles drain last and lose ties to the direct stream.
	all := series.All()
	if all[1].Close != 4706 {
		t.Errorf("ts=300000 close = %v, want 4706 (direct candle wins)", all[1].Close)
	}
}

func TestBoundaryCandleDedup(t *testing.T) {
	in, store := newTestIngestor(ModeLive)
	connect(t, in)
	in.SurfaceReady(domain.TF5m)
	in.SurfaceReady(domain.TF1m)
	in.HandleCandle(es1m, liveCandle(0, 4700))

	es5m := candles.Key{Symbol: "ES", Timeframe: domain.TF5m}
	in.HandleCandle(es5m, liveCandle(300000, 4705))
	in.HandleBoundaryCandle(es5m, histCandle(300000, 4799)) // duplicate ts, skipped
	in.HandleBoundaryCandle(es5m, histCandle(600000, 4710))

	series := store.Series(es5m)
	if series.Len() != 2 {
		t.Fatalf("series = %d candles, want 2", series.Len())
	}
	all := series.All()
	if all[0].Close != 4705 {
		t.Errorf("existing candle overwritten by boundary duplicate: %v", all[0].Close)
	}
}

func TestDisconnectClearsQueues(t *testing.T) {
	in, store := newTestIngestor(ModeLive)
	in.SetQuietPeriod(10 * time.Second)
	connect(t, in)

	in.HandleCandle(es1m, histCandle(0, 4700)) // buffered, never flushed
	es5m := candles.Key{Symbol: "ES", Timeframe: domain.TF5m}
	in.HandleCandle(es5m, histCandle(0, 4700)) // buffered for a not-ready surface
	in.Disconnect()

	if in.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", in.State())
	}

	// Reconnect: nothing stale may replay.
	connect(t, in)
	in.SurfaceReady(domain.TF1m)
	in.SurfaceReady(domain.TF5m)
	in.HandleCandle(es1m, liveCandle(60000, 4701))

	if got := store.Series(es1m).Len(); got != 1 {
		t.Errorf("1m series = %d candles, want only the post-reconnect candle", got)
	}
	if got := store.Series(es5m).Len(); got != 0 {
		t.Errorf("5m series = %d candles, want 0", got)
	}
}

func TestHistoryOnlyCompletes(t *testing.T) {
	in, store := newTestIngestor(ModeHistoryOnly)
	in.SetQuietPeriod(10 * time.Second)
	connect(t, in)
	in.SurfaceReady(domain.TF1m)

	in.HandleCandle(es1m, histCandle(0, 4700))
	in.HandleCandle(es1m, histCandle(60000, 4701))
	if err := in.BackfillComplete(); err != nil {
		t.Fatal(err)
	}

	if in.State() != StateDone {
		t.Errorf("state = %s, want done", in.State())
	}
	if got := store.Series(es1m).Len(); got != 2 {
		t.Errorf("series = %d candles, want 2 (final flush on completion)", got)
	}

	// Post-completion candles are dropped.
	in.HandleCandle(es1m, liveCandle(120000, 4702))
	if got := store.Series(es1m).Len(); got != 2 {
		t.Errorf("candle accepted after done: %d", got)
	}
}

func TestReplayPauseResume(t *testing.T) {
	in, store := newTestIngestor(ModeReplay)
	connect(t, in)
	in.SurfaceReady(domain.TF1m)

	if in.State() != StateReplay {
		t.Fatalf("state = %s, want replay", in.State())
	}
	in.HandleCandle(es1m, histCandle(0, 4700))
	if err := in.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := in.Resume(); err != nil {
		t.Fatal(err)
	}
	in.HandleCandle(es1m, histCandle(60000, 4701))
	if err := in.ReplayEnded(); err != nil {
		t.Fatal(err)
	}
	if got := store.Series(es1m).Len(); got != 2 {
		t.Errorf("series = %d candles, want 2", got)
	}
}
