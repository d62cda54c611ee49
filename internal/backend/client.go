package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"charthub/internal/annotation"
)

const dialTimeout = 10 * time.Second

// Handler receives decoded inbound messages. Calls are made sequentially
// from the client's read loop, preserving the connection's FIFO order.
type Handler interface {
	HandleCandle(DataMessage)
	HandleCtrl(CtrlMessage)
	HandleError(ErrorMessage)
	HandleStrategy(StrategyMessage)
	// Disconnected fires once when the read loop exits; err is nil on a
	// clean local Close.
	Disconnected(err error)
}

// Client is one persistent backend connection. It identifies itself with
// the configured client ID immediately after dialing; the owner then runs
// ReadLoop on its own goroutine and uses the typed send helpers. There is
// no automatic reconnect: on disconnect the owner resets its ingest state
// and dials again.
type Client struct {
	url      string
	clientID string
	log      *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ annotation.Sender = (*Client)(nil)

// NewClient creates an unconnected client for the given backend URL.
func NewClient(url, clientID string, log *slog.Logger) *Client {
	return &Client{
		url:      url,
		clientID: clientID,
		log:      log.With("component", "backend", "url", url),
	}
}

// Dial connects and sends set_client_id.
func (c *Client) Dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial backend %s: %w", c.url, err)
	}
	// Candle bursts during backfill can exceed the default read limit.
	conn.SetReadLimit(1 << 22)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.Send(ctx, SetClientIDRequest{Act: ActSetClientID, ClientID: c.clientID}); err != nil {
		c.Close()
		return err
	}
	c.log.Info("connected to backend", "client_id", c.clientID)
	return nil
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one outbound action. Concurrent senders are serialized.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("backend not connected")
	}
	if err := wsjson.Write(ctx, conn, v); err != nil {
		return fmt.Errorf("send to backend: %w", err)
	}
	return nil
}

// SendAnnotation forwards an annotation mutation, returning false when the
// connection is down. Failed sends are not queued.
func (c *Client) SendAnnotation(m annotation.Mutation) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var req any
	if m.Op == annotation.OpDelete {
		req = DeleteAnnoRequest{Act: ActDeleteAnno, ID: m.ID}
	} else {
		req = SaveAnnoRequest{Act: ActSaveAnno, ID: m.ID, Type: m.Type, Geometry: m.Geometry}
	}
	if err := c.Send(ctx, req); err != nil {
		c.log.Debug("annotation send dropped", "id", m.ID, "err", err)
		return false
	}
	return true
}

// ReadLoop reads and dispatches inbound messages until the connection or
// ctx ends, then fires the handler's Disconnected callback exactly once.
func (c *Client) ReadLoop(ctx context.Context, h Handler) {
	err := c.readAll(ctx, h)
	if errors.Is(err, context.Canceled) ||
		websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = nil
	}
	if err != nil {
		c.log.Warn("backend connection lost", "err", err)
	}
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	h.Disconnected(err)
}

func (c *Client) readAll(ctx context.Context, h Handler) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("backend not connected")
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(raw, h)
	}
}

// dispatch decodes one inbound frame. A malformed frame is logged and
// dropped; the connection stays up.
func (c *Client) dispatch(raw []byte, h Handler) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("undecodable backend frame dropped", "err", err)
		return
	}
	switch env.MTyp {
	case MTypData:
		var m DataMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Warn("malformed data message dropped", "err", err)
			return
		}
		h.HandleCandle(m)
	case MTypCtrl:
		var m CtrlMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Warn("malformed ctrl message dropped", "err", err)
			return
		}
		h.HandleCtrl(m)
	case MTypError:
		var m ErrorMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Warn("malformed error message dropped", "err", err)
			return
		}
		h.HandleError(m)
	case MTypStrategy:
		var m StrategyMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.log.Warn("malformed strategy message dropped", "err", err)
			return
		}
		h.HandleStrategy(m)
	default:
		c.log.Warn("unknown mtyp dropped", "mtyp", env.MTyp)
	}
}

// Close shuts the connection down cleanly. Safe to call when already
// closed.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}
