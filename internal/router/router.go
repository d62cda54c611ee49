// Package router is the in-process message bus between the application's
// windows. Delivery is asynchronous and non-blocking, mirroring OS-window
// IPC: a window that cannot keep up loses messages rather than stalling
// the sender.
package router

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"charthub/internal/domain"
)

// Channel names the typed message streams between windows.
type Channel string

const (
	// ChanMarketData pushes price/candle updates to trading windows.
	ChanMarketData Channel = "market_data"
	// ChanBrokerCommand forwards broker-bound commands to the TradeManager.
	ChanBrokerCommand Channel = "broker_command"
	// ChanBrokerResponse carries correlated broker command results.
	ChanBrokerResponse Channel = "broker_response"
	// ChanAnnoDrag carries annotation drag lifecycle notifications
	// (started, ended, ended-complete).
	ChanAnnoDrag Channel = "anno_drag"
	// ChanOrderLifecycle carries chart-click order initiate/cancel/complete.
	ChanOrderLifecycle Channel = "order_lifecycle"
	// ChanSettings broadcasts settings changes.
	ChanSettings Channel = "settings"
	// ChanWindowLifecycle carries open/close/focus requests.
	ChanWindowLifecycle Channel = "window_lifecycle"
)

// Message is one routed unit. Token is set on correlated request/response
// pairs and empty on broadcasts.
type Message struct {
	Channel Channel
	Token   string
	From    WindowID
	Payload json.RawMessage
	Err     string
}

// WindowID identifies one registered window.
type WindowID struct {
	Kind domain.WindowKind
	Seq  int
}

// Endpoint is a registered window's receiving side. Deliveries are
// non-blocking sends into Inbox; Focus raises the window.
type Endpoint interface {
	Deliver(Message) bool
	Focus()
	Close()
}

const mailboxSize = 256

// Mailbox is the standard Endpoint: a buffered channel the window's event
// loop drains, plus focus/close hooks.
type Mailbox struct {
	inbox   chan Message
	onFocus func()
	onClose func()

	once sync.Once
}

// NewMailbox creates a mailbox endpoint. Nil hooks are allowed.
func NewMailbox(onFocus, onClose func()) *Mailbox {
	return &Mailbox{
		inbox:   make(chan Message, mailboxSize),
		onFocus: onFocus,
		onClose: onClose,
	}
}

// Inbox returns the receive side for the window's event loop.
func (m *Mailbox) Inbox() <-chan Message { return m.inbox }

// Deliver enqueues without blocking; a full mailbox drops the message.
func (m *Mailbox) Deliver(msg Message) bool {
	select {
	case m.inbox <- msg:
		return true
	default:
		return false
	}
}

// Focus invokes the focus hook.
func (m *Mailbox) Focus() {
	if m.onFocus != nil {
		m.onFocus()
	}
}

// Close invokes the close hook once and seals the inbox.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		if m.onClose != nil {
			m.onClose()
		}
		close(m.inbox)
	})
}

// Router registers windows and routes messages between them, enforcing
// the window topology rules: one TradeManager at most, broker commands
// flowing only through it, and closes cascading downward.
type Router struct {
	log *slog.Logger

	mu      sync.Mutex
	seq     int
	windows map[WindowID]Endpoint
	// pending maps a correlation token to the requester awaiting the
	// response. One-shot: consumed on first response.
	pending map[string]WindowID
}

// New creates an empty router.
func New(log *slog.Logger) *Router {
	return &Router{
		log:     log.With("component", "router"),
		windows: make(map[WindowID]Endpoint),
		pending: make(map[string]WindowID),
	}
}

// Register adds a window and returns its ID. Registering a TradeManager
// when one exists focuses the existing window instead; the returned bool
// is false and the caller must not start the duplicate.
func (r *Router) Register(kind domain.WindowKind, ep Endpoint) (WindowID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == domain.WindowTradeManager {
		if existing, ok := r.tradeManagerLocked(); ok {
			r.log.Info("trade manager already open, focusing existing")
			r.windows[existing].Focus()
			return existing, false
		}
	}

	r.seq++
	id := WindowID{Kind: kind, Seq: r.seq}
	r.windows[id] = ep
	r.log.Info("window registered", "kind", kind.String(), "seq", id.Seq)
	return id, true
}

// Unregister removes a window and cascades closes: Main takes every other
// window down with it, a TradeManager takes the trade tickets.
func (r *Router) Unregister(id WindowID) {
	r.mu.Lock()
	ep, ok := r.windows[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.windows, id)

	var cascade []Endpoint
	switch id.Kind {
	case domain.WindowMain:
		for wid, wep := range r.windows {
			delete(r.windows, wid)
			cascade = append(cascade, wep)
		}
	case domain.WindowTradeManager:
		for wid, wep := range r.windows {
			if wid.Kind == domain.WindowTradeTicket {
				delete(r.windows, wid)
				cascade = append(cascade, wep)
			}
		}
	}
	// Requests awaiting windows that no longer exist will never answer.
	for token, requester := range r.pending {
		if _, ok := r.windows[requester]; !ok {
			delete(r.pending, token)
		}
	}
	r.mu.Unlock()

	ep.Close()
	for _, wep := range cascade {
		wep.Close()
	}
	r.log.Info("window closed", "kind", id.Kind.String(), "seq", id.Seq, "cascaded", len(cascade))
}

// Broadcast fans a message out to every TradeManager and TradeTicket
// window except the sender. Used for market data, order lifecycle, and
// settings changes.
func (r *Router) Broadcast(from WindowID, ch Channel, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := Message{Channel: ch, From: from, Payload: payload}
	for id, ep := range r.windows {
		if id == from || id.Kind == domain.WindowMain {
			continue
		}
		if !ep.Deliver(msg) {
			r.log.Warn("broadcast dropped, mailbox full",
				"channel", string(ch), "kind", id.Kind.String(), "seq", id.Seq)
		}
	}
}

// Notify delivers a message to one specific window.
func (r *Router) Notify(to WindowID, msg Message) bool {
	r.mu.Lock()
	ep, ok := r.windows[to]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return ep.Deliver(msg)
}

// RequestBroker forwards a broker-bound command to the TradeManager,
// registering a one-shot correlation so the eventual response reaches
// only the requester. With no TradeManager open, an error response is
// synthesized into the requester's mailbox immediately.
func (r *Router) RequestBroker(from WindowID, payload json.RawMessage) string {
	token := uuid.NewString()

	r.mu.Lock()
	tmID, ok := r.tradeManagerLocked()
	if !ok {
		requester := r.windows[from]
		r.mu.Unlock()
		r.log.Warn("broker command with no trade manager", "from", from.Kind.String())
		if requester != nil {
			requester.Deliver(Message{
				Channel: ChanBrokerResponse,
				Token:   token,
				Err:     "no trade manager window",
			})
		}
		return token
	}
	r.pending[token] = from
	tm := r.windows[tmID]
	r.mu.Unlock()

	if !tm.Deliver(Message{Channel: ChanBrokerCommand, Token: token, From: from, Payload: payload}) {
		r.mu.Lock()
		delete(r.pending, token)
		requester := r.windows[from]
		r.mu.Unlock()
		if requester != nil {
			requester.Deliver(Message{
				Channel: ChanBrokerResponse,
				Token:   token,
				Err:     "trade manager mailbox full",
			})
		}
	}
	return token
}

// Respond routes a broker response back to the window that issued the
// correlated request. The correlation is consumed; a second response with
// the same token goes nowhere.
func (r *Router) Respond(token string, payload json.RawMessage, errText string) bool {
	r.mu.Lock()
	requester, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	ep := r.windows[requester]
	r.mu.Unlock()

	if !ok || ep == nil {
		r.log.Debug("uncorrelated broker response dropped", "token", token)
		return false
	}
	return ep.Deliver(Message{
		Channel: ChanBrokerResponse,
		Token:   token,
		Payload: payload,
		Err:     errText,
	})
}

// HasTradeManager reports whether a TradeManager window is registered.
func (r *Router) HasTradeManager() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tradeManagerLocked()
	return ok
}

func (r *Router) tradeManagerLocked() (WindowID, bool) {
	for id := range r.windows {
		if id.Kind == domain.WindowTradeManager {
			return id, true
		}
	}
	return WindowID{}, false
}
