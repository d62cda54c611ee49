package windows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"charthub/internal/annotation"
	"charthub/internal/backend"
	"charthub/internal/candles"
	"charthub/internal/domain"
	"charthub/internal/ingest"
	"charthub/internal/levels"
	"charthub/internal/router"
	"charthub/internal/session"
	"charthub/internal/store"
)

// MainConfig carries the main window's collaborators and settings.
type MainConfig struct {
	Instrument string
	Timeframes []domain.Timeframe
	Venue      *time.Location
	Settings   levels.Settings

	Bus        *router.Router
	Store      *candles.Store
	Detector   *candles.CloseDetector
	Ingestor   *ingest.Ingestor
	Syncer     *annotation.Syncer
	Levels     *levels.Engine
	SettingsDB store.SettingsStore
	Recording  store.RecordingStore

	// OnClosed, when set, receives every closed candle (the forwarding
	// service and any recorder hook in here).
	OnClosed func(candles.Key, domain.Candle)

	// Control sends control-plane requests upstream. Nil when the window
	// has no backend connection.
	Control ControlSender

	Log *slog.Logger
}

// ControlSender is the outbound control-plane side of the backend
// connection.
type ControlSender interface {
	Send(ctx context.Context, v any) error
}

// Main is the primary chart window. It owns the backend connection's
// inbound side, the candle state, session segmentation, derived levels,
// and the annotation syncer; the trading windows only ever see routed
// messages derived from it.
type Main struct {
	cfg MainConfig
	log *slog.Logger

	mailbox *router.Mailbox
	id      router.WindowID

	mu       sync.Mutex
	gaps     *session.GapTracker
	sessions []domain.Session
	applied  map[string]annotation.ID // internal marker IDs currently on charts
}

// Compile-time check: Main consumes the backend stream directly.
var _ backend.Handler = (*Main)(nil)

const internalMarkerOwner = "levels"

// NewMain registers the main window on the bus and wires the ingest
// pipeline callbacks.
func NewMain(cfg MainConfig) *Main {
	m := &Main{
		cfg:     cfg,
		log:     cfg.Log.With("window", "main", "instrument", cfg.Instrument),
		gaps:    session.NewGapTracker(),
		applied: make(map[string]annotation.ID),
	}
	m.mailbox = router.NewMailbox(nil, nil)
	m.id, _ = cfg.Bus.Register(domain.WindowMain, m.mailbox)

	cfg.Detector.AddListener(m.onClosed)
	cfg.Ingestor.OnCommit = m.onCommit
	return m
}

// ID returns the window's bus identity.
func (m *Main) ID() router.WindowID { return m.id }

// Run drains the mailbox until ctx ends. Closing the main window tears
// down every other window through the bus.
func (m *Main) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case _, ok := <-m.mailbox.Inbox():
			if !ok {
				return
			}
			// The main window broadcasts but receives nothing routed today;
			// annotation drags arrive through the syncer instead.
		}
	}
}

// Close unregisters the main window, cascading to all others.
func (m *Main) Close() {
	m.cfg.Bus.Unregister(m.id)
}

// SurfacesReady marks every configured chart surface as initialized,
// draining any candles queued while they were starting up.
func (m *Main) SurfacesReady() {
	for _, tf := range m.cfg.Timeframes {
		m.cfg.Ingestor.SurfaceReady(tf)
	}
}

// Drag lifecycle phases broadcast on the annotation drag channel.
const (
	DragStarted       = "drag_started"
	DragEnded         = "drag_ended"
	DragEndedComplete = "drag_ended_complete"
)

// NotifyAnnotationDrag broadcasts a drag lifecycle phase so other windows
// can defer heavy work while the user is mid-drag.
func (m *Main) NotifyAnnotationDrag(phase string, id annotation.ID) {
	payload, _ := json.Marshal(map[string]string{"phase": phase, "id": id.String()})
	m.cfg.Bus.Broadcast(m.id, router.ChanAnnoDrag, payload)
}

// SaveSettings persists a full settings snapshot upstream, caches it
// locally, and broadcasts the change to the trading windows.
func (m *Main) SaveSettings(snapshot json.RawMessage) error {
	if m.cfg.SettingsDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.cfg.SettingsDB.SaveSettings(ctx, snapshot); err != nil {
			m.log.Warn("settings snapshot not cached", "err", err)
		}
	}
	m.cfg.Bus.Broadcast(m.id, router.ChanSettings, snapshot)

	if m.cfg.Control == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.cfg.Control.Send(ctx, backend.SaveClientSettingsRequest{
		Act:      backend.ActSaveClientSettings,
		Settings: snapshot,
	})
}

// ---------------------------------------------------------------------------
// backend.Handler
// ---------------------------------------------------------------------------

// HandleCandle feeds one wire candle into the ingest pipeline and pushes
// the latest price to the trading windows.
func (m *Main) HandleCandle(msg backend.DataMessage) {
	key := candles.Key{Symbol: msg.Instrument, Timeframe: domain.Timeframe(msg.Timeframe)}
	if !key.Timeframe.Valid() {
		m.log.Warn("candle with unknown timeframe dropped", "timeframe", msg.Timeframe)
		return
	}
	if err := msg.Validate(); err != nil {
		m.log.Warn("malformed candle dropped", "timeframe", msg.Timeframe, "err", err)
		return
	}
	m.cfg.Ingestor.HandleCandle(key, msg.Candle())

	if msg.Source != "historical" {
		tick, _ := json.Marshal(map[string]any{
			"instrument": msg.Instrument,
			"price":      msg.Close,
		})
		m.cfg.Bus.Broadcast(m.id, router.ChanMarketData, tick)
	}
}

// HandleCtrl processes control-plane responses: the settings snapshot and
// the persisted annotation list.
func (m *Main) HandleCtrl(msg backend.CtrlMessage) {
	switch msg.Act {
	case backend.ActGetClientSettings:
		if m.cfg.SettingsDB == nil || len(msg.Payload) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.cfg.SettingsDB.SaveSettings(ctx, msg.Payload); err != nil {
			m.log.Warn("settings snapshot not cached", "err", err)
		}
		m.cfg.Bus.Broadcast(m.id, router.ChanSettings, msg.Payload)

	case backend.ActGetAnno:
		m.applyAnnotationList(msg.Payload)

	default:
		m.log.Debug("ctrl response", "act", msg.Act)
	}
}

// HandleError logs backend failures; the stream itself stays up.
func (m *Main) HandleError(msg backend.ErrorMessage) {
	m.log.Error("backend error", "act", msg.Act, "code", msg.Code, "text", msg.Text)
}

// HandleStrategy applies an out-of-band strategy annotation push.
func (m *Main) HandleStrategy(msg backend.StrategyMessage) {
	mut := annotation.Mutation{
		Op:       annotation.MutationOp(msg.Op),
		ID:       msg.ID,
		Type:     msg.Type,
		Geometry: msg.Geometry,
	}
	if err := m.cfg.Syncer.ApplyRemote(mut); err != nil {
		m.log.Warn("strategy annotation dropped", "id", msg.ID, "err", err)
	}
}

// Disconnected resets the ingest pipeline; reconnecting is the owner's
// decision, not an automatic retry.
func (m *Main) Disconnected(err error) {
	if err != nil {
		m.log.Warn("backend disconnected", "err", err)
	}
	m.cfg.Ingestor.Disconnect()
	m.mu.Lock()
	m.gaps.Reset()
	m.sessions = nil
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Ingest pipeline callbacks
// ---------------------------------------------------------------------------

// onClosed fans a closure out to the forwarder and the recording store.
func (m *Main) onClosed(key candles.Key, c domain.Candle) {
	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(key, c)
	}
	if m.cfg.Recording != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.cfg.Recording.AppendClosed(ctx, key.Symbol, key.Timeframe, []domain.Candle{c}); err != nil {
			m.log.Warn("closed candle not recorded", "err", err)
		}
	}
}

// onCommit recomputes sessions and derived levels after each 1-minute
// commit. Batch commits make this a handful of calls per backfill rather
// than one per candle.
func (m *Main) onCommit(key candles.Key, _ []domain.Candle) {
	if key.Symbol != m.cfg.Instrument || key.Timeframe != domain.TF1m {
		return
	}
	m.Recompute()
}

// Recompute resegments sessions from the 1-minute series and reapplies
// the derived-level markers.
func (m *Main) Recompute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	minute := m.cfg.Store.Series(candles.Key{Symbol: m.cfg.Instrument, Timeframe: domain.TF1m}).All()
	if len(minute) == 0 {
		return
	}
	if m.gaps.Observe(minute) || m.sessions == nil {
		m.sessions = session.Segment(minute)
	}

	markers := m.cfg.Levels.Compute(levels.Input{
		Instrument: m.cfg.Instrument,
		Candles: func(tf domain.Timeframe) []domain.Candle {
			return m.cfg.Store.Series(candles.Key{Symbol: m.cfg.Instrument, Timeframe: tf}).All()
		},
		Sessions: m.sessions,
		Settings: m.cfg.Settings,
		Venue:    m.cfg.Venue,
	})
	m.applyMarkersLocked(markers)
}

// applyMarkersLocked reconciles the computed marker set against what is
// currently drawn: new and changed markers are (re)created, markers that
// disappeared are deleted.
func (m *Main) applyMarkersLocked(markers []domain.Marker) {
	next := make(map[string]annotation.ID, len(markers))
	for _, mk := range markers {
		for _, id := range m.markerIDs(mk) {
			next[id.String()] = id
			if err := m.cfg.Syncer.ApplyLocal(annotation.OpCreate, id, mk.Geometry); err != nil {
				m.log.Warn("marker not applied", "slug", mk.Slug, "err", err)
			}
		}
	}
	for key, id := range m.applied {
		if _, ok := next[key]; !ok {
			if err := m.cfg.Syncer.ApplyLocal(annotation.OpDelete, id, nil); err != nil {
				m.log.Warn("stale marker not removed", "id", key, "err", err)
			}
		}
	}
	m.applied = next
}

// markerIDs derives the annotation identities for one marker: one "all"
// ID normally, or one per timeframe when the marker restricts itself.
func (m *Main) markerIDs(mk domain.Marker) []annotation.ID {
	base := annotation.ID{
		Owner:      annotation.InternalOwner(internalMarkerOwner),
		Instrument: m.cfg.Instrument,
		Timeframe:  domain.TimeframeAll,
		Type:       mk.Geometry.Kind(),
		UniqueID:   mk.Slug,
	}
	if len(mk.Timeframes) == 0 {
		return []annotation.ID{base}
	}
	ids := make([]annotation.ID, 0, len(mk.Timeframes))
	for _, tf := range mk.Timeframes {
		id := base
		id.Timeframe = tf
		id.UniqueID = fmt.Sprintf("%s_%s", mk.Slug, tf)
		ids = append(ids, id)
	}
	return ids
}

// applyAnnotationList replays the backend's authoritative annotation list
// and refreshes the local cache.
func (m *Main) applyAnnotationList(payload json.RawMessage) {
	var list []annotation.Mutation
	if err := json.Unmarshal(payload, &list); err != nil {
		m.log.Warn("malformed annotation list dropped", "err", err)
		return
	}

	cache := make([]store.CachedAnnotation, 0, len(list))
	for _, mut := range list {
		if mut.Op == "" {
			mut.Op = annotation.OpCreate
		}
		if err := m.cfg.Syncer.ApplyRemote(mut); err != nil {
			m.log.Warn("persisted annotation dropped", "id", mut.ID, "err", err)
			continue
		}
		cache = append(cache, store.CachedAnnotation{ID: mut.ID, Type: mut.Type, Geometry: mut.Geometry})
	}

	if m.cfg.SettingsDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.cfg.SettingsDB.ReplaceAnnotations(ctx, m.cfg.Instrument, cache); err != nil {
			m.log.Warn("annotation cache not refreshed", "err", err)
		}
	}
}
