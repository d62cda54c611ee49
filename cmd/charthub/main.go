package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"charthub/internal/annotation"
	"charthub/internal/backend"
	"charthub/internal/broker"
	"charthub/internal/candles"
	"charthub/internal/config"
	"charthub/internal/domain"
	"charthub/internal/forward"
	"charthub/internal/ingest"
	"charthub/internal/levels"
	"charthub/internal/router"
	"charthub/internal/store"
	"charthub/internal/util"
	"charthub/internal/windows"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	modeFlag := flag.String("mode", "live", "run mode: live, history, replay")
	replayStart := flag.String("replay-start", "", "replay live window start (RFC3339)")
	replayEnd := flag.String("replay-end", "", "replay live window end (RFC3339)")
	replayInterval := flag.Int64("replay-interval", 250, "replay pacing, milliseconds per candle")
	strategies := flag.String("strategies", "", "comma-separated strategy feeds to subscribe")
	flag.Parse()

	if p := os.Getenv("CHARTHUB_CONFIG"); *cfgPath == "" && p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	mode, err := parseMode(*modeFlag)
	if err != nil {
		logger.Error("bad mode", "err", err)
		os.Exit(1)
	}

	venue, err := time.LoadLocation(cfg.VenueTZ)
	if err != nil {
		logger.Error("loading venue timezone", "tz", cfg.VenueTZ, "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Local persistence.
	settingsDB, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Error("opening sqlite store", "path", cfg.Storage.SQLitePath, "err", err)
		os.Exit(1)
	}
	defer settingsDB.Close()

	var recording store.RecordingStore
	if cfg.Backend.RecordClosed {
		recording = store.NewParquetStore(cfg.Storage.DataDir)
	}

	// Candle pipeline.
	candleStore := candles.NewStore()
	detector := candles.NewCloseDetector(logger)
	ingestor := ingest.NewIngestor(mode, candleStore, detector, logger)

	// Backend connection doubles as the annotation sender.
	client := backend.NewClient(cfg.Backend.URL, cfg.ClientID, logger)
	syncer := annotation.NewSyncer(cfg.ClientID, client, logger)

	timeframes := make([]domain.Timeframe, 0, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		timeframes = append(timeframes, domain.Timeframe(tf))
	}
	for _, tf := range timeframes {
		syncer.Attach(annotation.NewRegistry(tf, logSurface{log: logger, tf: tf}))
	}

	// Window bus and trading side.
	bus := router.New(logger)
	tm, ok := windows.NewTradeManager(bus, pickBroker(cfg, logger), logger)
	if !ok {
		logger.Error("trade manager refused to register")
		os.Exit(1)
	}
	go tm.Run(ctx)

	// Local rebroadcast of closed candles.
	var fwd *forward.Service
	var onClosed func(candles.Key, domain.Candle)
	if cfg.Forward.Enabled {
		fwd = forward.NewService(logger)
		go func() {
			if err := fwd.Listen(ctx, cfg.Forward.Addr); err != nil {
				logger.Error("forwarding service stopped", "err", err)
			}
		}()
		onClosed = fwd.Forward
	}

	mainWin := windows.NewMain(windows.MainConfig{
		Instrument: cfg.Instrument,
		Timeframes: timeframes,
		Venue:      venue,
		Settings:   levelSettings(cfg),
		Bus:        bus,
		Store:      candleStore,
		Detector:   detector,
		Ingestor:   ingestor,
		Syncer:     syncer,
		Levels:     levels.NewEngine(logger),
		SettingsDB: settingsDB,
		Recording:  recording,
		OnClosed:   onClosed,
		Control:    client,
		Log:        logger,
	})
	go mainWin.Run(ctx)
	mainWin.SurfacesReady()

	handler := &streamHandler{Main: mainWin, ing: ingestor, fwd: fwd, mode: mode}

	if mode == ingest.ModeReplay {
		go replayControls(ctx, client, ingestor, logger)
	}

	subscribe := func() error {
		switch mode {
		case ingest.ModeReplay:
			req, err := replayRequest(cfg, *replayStart, *replayEnd, *replayInterval)
			if err != nil {
				return err
			}
			return client.Send(ctx, req)
		default:
			start := time.Now().AddDate(0, 0, -cfg.Backend.HistoryDays).UnixMilli()
			return client.Send(ctx, backend.GetDataRequest{
				Act:        backend.ActGetData,
				Instrument: cfg.Instrument,
				Timeframes: cfg.Timeframes,
				StartTime:  start,
			})
		}
	}

	// Connect, stream, and reconnect until signalled. Replay and
	// history-only runs end with the stream instead of redialing.
	for ctx.Err() == nil {
		if err := ingestor.Connecting(); err != nil {
			logger.Error("ingest state error", "err", err)
			break
		}
		err := util.Retry(ctx, 5, 2*time.Second, func() error {
			return client.Dial(ctx)
		})
		if err != nil {
			logger.Error("backend unreachable", "err", err)
			ingestor.Disconnect()
			if mode != ingest.ModeLive {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Second):
			}
			continue
		}
		if err := ingestor.Connected(); err != nil {
			logger.Error("ingest state error", "err", err)
			break
		}

		_ = client.Send(ctx, backend.GetClientSettingsRequest{Act: backend.ActGetClientSettings})
		_ = client.Send(ctx, backend.GetAnnoRequest{Act: backend.ActGetAnno, Instrument: cfg.Instrument})
		if feeds := splitList(*strategies); len(feeds) > 0 {
			_ = client.Send(ctx, backend.GetStratRequest{Act: backend.ActGetStrat})
			for _, s := range feeds {
				_ = client.Send(ctx, backend.SubStratRequest{Act: backend.ActSubStrat, Strategy: s})
			}
		}
		if err := subscribe(); err != nil {
			logger.Error("subscription failed", "err", err)
			client.Close()
			ingestor.Disconnect()
			continue
		}

		client.ReadLoop(ctx, handler)

		if mode != ingest.ModeLive {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}

	for _, s := range splitList(*strategies) {
		_ = client.Send(context.Background(), backend.UnsubStratRequest{Act: backend.ActUnsubStrat, Strategy: s})
	}
	client.Close()
	mainWin.Close()
	if fwd != nil {
		fwd.Shutdown()
	}
	logger.Info("charthub stopped")
}

// streamHandler wraps the main window's stream handling with process-level
// concerns: freezing the forward subscriber set on first data and closing
// out a history-only backfill when the stream ends.
type streamHandler struct {
	*windows.Main
	ing  *ingest.Ingestor
	fwd  *forward.Service
	mode ingest.RunMode

	started atomic.Bool
}

func (h *streamHandler) HandleCandle(m backend.DataMessage) {
	if h.fwd != nil && h.started.CompareAndSwap(false, true) {
		h.fwd.MarkDataStarted()
	}
	h.Main.HandleCandle(m)
}

func (h *streamHandler) Disconnected(err error) {
	if h.mode == ingest.ModeHistoryOnly {
		if berr := h.ing.BackfillComplete(); berr != nil {
			slog.Debug("backfill completion skipped", "err", berr)
		}
	}
	h.Main.Disconnected(err)
	if h.fwd != nil {
		h.fwd.Reset()
		h.started.Store(false)
	}
}

// logSurface is the headless render target: without a chart window the
// annotation lifecycle is logged instead of drawn.
type logSurface struct {
	log *slog.Logger
	tf  domain.Timeframe
}

func (s logSurface) Create(id annotation.ID, _ domain.Geometry) error {
	s.log.Debug("annotation created", "timeframe", string(s.tf), "id", id.String())
	return nil
}

func (s logSurface) Update(annotation.ID, domain.Geometry) error { return nil }

func (s logSurface) Remove(id annotation.ID) error {
	s.log.Debug("annotation removed", "timeframe", string(s.tf), "id", id.String())
	return nil
}

func (s logSurface) SetEditable(annotation.ID, bool) error { return nil }

// replayControls drives an active replay from stdin: p pauses, r resumes,
// s stops. Each command updates the local state machine and notifies the
// backend.
func replayControls(ctx context.Context, client *backend.Client, ing *ingest.Ingestor, log *slog.Logger) {
	t := true
	f := false
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "p":
			if err := ing.Pause(); err != nil {
				log.Warn("pause rejected", "err", err)
				continue
			}
			_ = client.Send(ctx, backend.ModifyReplayRequest{Act: backend.ActModifyReplay, Paused: &t})
		case "r":
			if err := ing.Resume(); err != nil {
				log.Warn("resume rejected", "err", err)
				continue
			}
			_ = client.Send(ctx, backend.ModifyReplayRequest{Act: backend.ActModifyReplay, Paused: &f})
		case "s":
			_ = client.Send(ctx, backend.StopReplayRequest{Act: backend.ActStopReplay})
			if err := ing.ReplayEnded(); err != nil {
				log.Warn("replay end rejected", "err", err)
			}
			return
		}
	}
}

func parseMode(s string) (ingest.RunMode, error) {
	switch s {
	case "live":
		return ingest.ModeLive, nil
	case "history":
		return ingest.ModeHistoryOnly, nil
	case "replay":
		return ingest.ModeReplay, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// levelSettings applies the config toggles over the built-in defaults.
func levelSettings(cfg *config.Config) levels.Settings {
	s := levels.DefaultSettings()
	s.PrevDayEnabled = cfg.Levels.PrevDay
	s.PreMarketEnabled = cfg.Levels.PreMarket
	s.ORBEnabled = cfg.Levels.OpeningRange
	s.KillzonesEnabled = cfg.Levels.Killzones
	s.PriceLinesEnabled = cfg.Levels.PriceLines
	s.OpeningGapsEnabled = cfg.Levels.OpeningGaps
	return s
}

// pickBroker uses the Alpaca API when credentials are configured and the
// built-in paper simulator otherwise.
func pickBroker(cfg *config.Config, log *slog.Logger) broker.Broker {
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		log.Info("using alpaca broker", "base_url", cfg.Alpaca.BaseURL, "paper", cfg.Alpaca.PaperMode)
		return broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}
	log.Info("no broker credentials, using simulator")
	return broker.NewSimulatorBroker(100_000)
}

func replayRequest(cfg *config.Config, startStr, endStr string, intervalMs int64) (backend.GetReplayRequest, error) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return backend.GetReplayRequest{}, fmt.Errorf("replay-start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return backend.GetReplayRequest{}, fmt.Errorf("replay-end: %w", err)
	}
	if !end.After(start) {
		return backend.GetReplayRequest{}, fmt.Errorf("replay window is empty")
	}
	return backend.GetReplayRequest{
		Act:              backend.ActGetReplay,
		Instrument:       cfg.Instrument,
		Timeframes:       cfg.Timeframes,
		HistoryStart:     start.AddDate(0, 0, -cfg.Backend.HistoryDays).UnixMilli(),
		LiveStart:        start.UnixMilli(),
		LiveEnd:          end.UnixMilli(),
		ReplayIntervalMs: intervalMs,
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
