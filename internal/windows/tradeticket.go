package windows

import (
	"context"
	"encoding/json"
	"log/slog"

	"charthub/internal/domain"
	"charthub/internal/router"
)

// TradeTicket is a lightweight order-entry window. It issues broker
// commands through the bus and surfaces the correlated responses.
type TradeTicket struct {
	bus *router.Router
	log *slog.Logger

	mailbox *router.Mailbox
	id      router.WindowID

	// OnResult receives each correlated broker response. Err is non-empty
	// when the command failed or no TradeManager was open.
	OnResult func(token string, result BrokerResult, errText string)

	// OnOrderEvent receives order lifecycle broadcasts caused by other
	// windows' commands.
	OnOrderEvent func(result BrokerResult)
}

// NewTradeTicket registers a trade ticket window on the bus.
func NewTradeTicket(bus *router.Router, log *slog.Logger) *TradeTicket {
	tt := &TradeTicket{
		bus: bus,
		log: log.With("window", "trade_ticket"),
	}
	tt.mailbox = router.NewMailbox(nil, nil)
	tt.id, _ = bus.Register(domain.WindowTradeTicket, tt.mailbox)
	return tt
}

// ID returns the window's bus identity.
func (tt *TradeTicket) ID() router.WindowID { return tt.id }

// Submit routes an order to the TradeManager, returning the correlation
// token for matching the eventual response.
func (tt *TradeTicket) Submit(order *domain.Order) string {
	return tt.bus.RequestBroker(tt.id, encodeCommand(BrokerCommand{Op: BrokerOpSubmit, Order: order}))
}

// Cancel routes an order cancellation.
func (tt *TradeTicket) Cancel(orderID string) string {
	return tt.bus.RequestBroker(tt.id, encodeCommand(BrokerCommand{Op: BrokerOpCancel, OrderID: orderID}))
}

// Positions requests the current position list.
func (tt *TradeTicket) Positions() string {
	return tt.bus.RequestBroker(tt.id, encodeCommand(BrokerCommand{Op: BrokerOpPositions}))
}

// Account requests the account snapshot.
func (tt *TradeTicket) Account() string {
	return tt.bus.RequestBroker(tt.id, encodeCommand(BrokerCommand{Op: BrokerOpAccount}))
}

// Run drains the mailbox until ctx ends or the window is closed.
func (tt *TradeTicket) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			tt.Close()
			return
		case msg, ok := <-tt.mailbox.Inbox():
			if !ok {
				return
			}
			switch msg.Channel {
			case router.ChanBrokerResponse:
				tt.dispatch(msg)
			case router.ChanOrderLifecycle:
				tt.orderEvent(msg)
			}
		}
	}
}

// Close unregisters the window.
func (tt *TradeTicket) Close() {
	tt.bus.Unregister(tt.id)
}

func (tt *TradeTicket) dispatch(msg router.Message) {
	if tt.OnResult == nil {
		return
	}
	var result BrokerResult
	if msg.Err == "" && len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			tt.OnResult(msg.Token, BrokerResult{}, err.Error())
			return
		}
	}
	tt.OnResult(msg.Token, result, msg.Err)
}

func (tt *TradeTicket) orderEvent(msg router.Message) {
	if tt.OnOrderEvent == nil {
		return
	}
	var result BrokerResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return
	}
	tt.OnOrderEvent(result)
}
