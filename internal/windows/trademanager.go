package windows

import (
	"context"
	"encoding/json"
	"log/slog"

	"charthub/internal/broker"
	"charthub/internal/domain"
	"charthub/internal/router"
)

// TradeManager is the single window allowed to talk to the broker. All
// broker-bound commands from other windows arrive through its mailbox and
// are executed sequentially; responses route back by correlation token.
type TradeManager struct {
	bus    *router.Router
	broker broker.Broker
	log    *slog.Logger

	mailbox *router.Mailbox
	id      router.WindowID

	// OnFocus is invoked when another window tries to open a duplicate
	// TradeManager. The UI layer raises the OS window.
	OnFocus func()
}

// NewTradeManager registers a TradeManager on the bus. When one already
// exists the existing window is focused and ok is false; the caller must
// discard this instance.
func NewTradeManager(bus *router.Router, b broker.Broker, log *slog.Logger) (*TradeManager, bool) {
	tm := &TradeManager{
		bus:    bus,
		broker: b,
		log:    log.With("window", "trade_manager", "broker", b.Name()),
	}
	tm.mailbox = router.NewMailbox(func() {
		if tm.OnFocus != nil {
			tm.OnFocus()
		}
	}, nil)

	id, ok := bus.Register(domain.WindowTradeManager, tm.mailbox)
	if !ok {
		return nil, false
	}
	tm.id = id
	return tm, true
}

// ID returns the window's bus identity.
func (tm *TradeManager) ID() router.WindowID { return tm.id }

// Run drains the mailbox until ctx ends or the window is closed. It is
// the window's event loop; run it on its own goroutine.
func (tm *TradeManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			tm.Close()
			return
		case msg, ok := <-tm.mailbox.Inbox():
			if !ok {
				return
			}
			tm.handle(ctx, msg)
		}
	}
}

// Close unregisters the window, cascading to any open trade tickets.
func (tm *TradeManager) Close() {
	tm.bus.Unregister(tm.id)
}

func (tm *TradeManager) handle(ctx context.Context, msg router.Message) {
	switch msg.Channel {
	case router.ChanBrokerCommand:
		tm.execute(ctx, msg)
	case router.ChanMarketData:
		tm.markPrice(msg.Payload)
	default:
		// Drag, order lifecycle, and settings broadcasts are UI-level
		// concerns; nothing to do at this layer.
	}
}

// markPrice feeds market-data pushes into the simulator so resting paper
// orders fill. Live brokers mark on their own side.
func (tm *TradeManager) markPrice(payload json.RawMessage) {
	sim, ok := tm.broker.(*broker.SimulatorBroker)
	if !ok {
		return
	}
	var tick struct {
		Instrument string  `json:"instrument"`
		Price      float64 `json:"price"`
	}
	if err := json.Unmarshal(payload, &tick); err != nil || tick.Instrument == "" {
		return
	}
	sim.MarkPrice(tick.Instrument, tick.Price)
}

// execute runs one routed broker command and responds on its token.
func (tm *TradeManager) execute(ctx context.Context, msg router.Message) {
	var cmd BrokerCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		tm.bus.Respond(msg.Token, nil, "malformed broker command")
		return
	}

	result := BrokerResult{Op: cmd.Op}
	var err error
	switch cmd.Op {
	case BrokerOpSubmit:
		if cmd.Order == nil {
			tm.bus.Respond(msg.Token, nil, "submit without order")
			return
		}
		result.Order, err = tm.broker.SubmitOrder(ctx, cmd.Order)
	case BrokerOpCancel:
		err = tm.broker.CancelOrder(ctx, cmd.OrderID)
	case BrokerOpPositions:
		result.Positions, err = tm.broker.GetPositions(ctx)
	case BrokerOpAccount:
		result.Account, err = tm.broker.GetAccount(ctx)
	default:
		tm.bus.Respond(msg.Token, nil, "unknown broker op "+string(cmd.Op))
		return
	}

	if err != nil {
		tm.log.Warn("broker command failed", "op", string(cmd.Op), "err", err)
		tm.bus.Respond(msg.Token, nil, err.Error())
		return
	}
	tm.bus.Respond(msg.Token, encodeResult(result), "")

	// Order state changed; let the other windows refresh without polling.
	if cmd.Op == BrokerOpSubmit || cmd.Op == BrokerOpCancel {
		tm.bus.Broadcast(tm.id, router.ChanOrderLifecycle, encodeResult(result))
	}
}
