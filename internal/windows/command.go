// Package windows implements the application's window actors. Each window
// runs one event-loop goroutine draining its router mailbox; everything a
// window owns is touched only from that loop.
package windows

import (
	"encoding/json"

	"charthub/internal/domain"
)

// BrokerOp names the broker commands routed to the TradeManager.
type BrokerOp string

const (
	BrokerOpSubmit    BrokerOp = "submit"
	BrokerOpCancel    BrokerOp = "cancel"
	BrokerOpPositions BrokerOp = "positions"
	BrokerOpAccount   BrokerOp = "account"
)

// BrokerCommand is the payload carried on the broker command channel.
type BrokerCommand struct {
	Op      BrokerOp      `json:"op"`
	Order   *domain.Order `json:"order,omitempty"`
	OrderID string        `json:"order_id,omitempty"`
}

// BrokerResult is the correlated response payload.
type BrokerResult struct {
	Op        BrokerOp            `json:"op"`
	Order     *domain.Order       `json:"order,omitempty"`
	Positions []domain.Position   `json:"positions,omitempty"`
	Account   *domain.AccountInfo `json:"account,omitempty"`
}

func encodeCommand(c BrokerCommand) json.RawMessage {
	raw, _ := json.Marshal(c)
	return raw
}

func encodeResult(r BrokerResult) json.RawMessage {
	raw, _ := json.Marshal(r)
	return raw
}
