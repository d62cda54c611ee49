// Package forward runs the local rebroadcast service: external processes
// subscribe over a local websocket and receive every closed candle as
// JSON. A subscriber must attach before the main client starts receiving
// data; later attempts are rejected so no subscriber ever sees a partial
// stream.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"charthub/internal/candles"
	"charthub/internal/domain"
)

// SyncReply is the handshake and lifecycle message sent to subscribers.
type SyncReply struct {
	Sync string `json:"sync"` // "ready", "notready", "ended"
}

// ClosedCandle is the rebroadcast payload for one candle closure.
type ClosedCandle struct {
	Instrument string  `json:"instrument"`
	Timeframe  string  `json:"timeframe"`
	Timestamp  int64   `json:"t"`
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     int64   `json:"v"`
}

const subscriberBuffer = 128

// Service is the local forwarding listener. Wire its Forward method into
// the closure detector and call MarkDataStarted when the first candle
// arrives from the backend.
type Service struct {
	log *slog.Logger

	mu      sync.Mutex
	started bool
	nextID  int
	subs    map[int]chan []byte

	srv *http.Server
}

// NewService creates an idle forwarding service.
func NewService(log *slog.Logger) *Service {
	return &Service{
		log:  log.With("component", "forward"),
		subs: make(map[int]chan []byte),
	}
}

// Listen serves websocket subscribers on addr until ctx ends.
func (s *Service) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("forward listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	s.srv = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	s.log.Info("forwarding service listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("subscriber accept failed", "err", err)
		return
	}

	ctx := r.Context()

	// The subscriber opens with a sync request; anything else is a
	// protocol error.
	var req map[string]any
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = wsjson.Read(rctx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "expected sync request")
		return
	}

	id, ch, ok := s.subscribe()
	if !ok {
		_ = wsjson.Write(ctx, conn, SyncReply{Sync: "notready"})
		conn.Close(websocket.StatusNormalClosure, "data already flowing")
		s.log.Info("subscriber rejected, stream already started")
		return
	}
	defer s.unsubscribe(id)

	if err := wsjson.Write(ctx, conn, SyncReply{Sync: "ready"}); err != nil {
		return
	}
	s.log.Info("subscriber attached", "id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, open := <-ch:
			if !open {
				// Reset or shutdown: tell the subscriber and let it
				// disconnect.
				ended, _ := json.Marshal(SyncReply{Sync: "ended"})
				wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = conn.Write(wctx, websocket.MessageText, ended)
				cancel()
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

// subscribe registers a subscriber channel; refused once data has
// started.
func (s *Service) subscribe() (int, chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return 0, nil, false
	}
	s.nextID++
	ch := make(chan []byte, subscriberBuffer)
	s.subs[s.nextID] = ch
	return s.nextID, ch, true
}

func (s *Service) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		// Not closed here when already closed by Reset.
		select {
		case <-ch:
		default:
		}
	}
}

// MarkDataStarted freezes the subscriber set: the stream is live and late
// subscribers would miss its head.
func (s *Service) MarkDataStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

// Forward rebroadcasts one closed candle to every subscriber. Sends never
// block; a subscriber that cannot keep up loses candles.
func (s *Service) Forward(key candles.Key, c domain.Candle) {
	payload, err := json.Marshal(ClosedCandle{
		Instrument: key.Symbol,
		Timeframe:  string(key.Timeframe),
		Timestamp:  c.Timestamp,
		Open:       c.Open, High: c.High, Low: c.Low, Close: c.Close,
		Volume: c.Volume,
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- payload:
		default:
			s.log.Debug("slow subscriber, candle dropped", "id", id)
		}
	}
}

// Reset ends every active subscription and reopens the service for new
// subscribers. Called when the client resets its data state.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.started = false
	s.log.Info("forwarding service reset")
}

// Shutdown ends all subscriptions and stops the listener.
func (s *Service) Shutdown() {
	s.Reset()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	}
}
