package broker

import (
	"context"
	"fmt"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"charthub/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca trading
// API. Point BaseURL at the paper endpoint for paper accounts; the code
// path is identical.
type AlpacaBroker struct {
	client *alpacaapi.Client
}

// NewAlpacaBroker creates an AlpacaBroker with the given credentials and
// API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder places the order and returns it updated with the
// broker-assigned ID and status.
func (b *AlpacaBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	qty := decimal.NewFromFloat(order.Qty)
	req := alpacaapi.PlaceOrderRequest{
		Symbol:      order.Instrument,
		Qty:         &qty,
		Side:        alpacaapi.Side(order.Side),
		Type:        alpacaapi.OrderType(order.Type),
		TimeInForce: alpacaapi.Day,
	}
	switch order.Type {
	case domain.OrderTypeLimit:
		p := decimal.NewFromFloat(order.LimitPrice)
		req.LimitPrice = &p
	case domain.OrderTypeStop:
		p := decimal.NewFromFloat(order.StopPrice)
		req.StopPrice = &p
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("alpaca submit %s %s: %w", order.Side, order.Instrument, err)
	}

	order.ID = placed.ID
	order.Status = domain.OrderStatus(placed.Status)
	order.CreatedAt = placed.CreatedAt
	order.UpdatedAt = placed.UpdatedAt
	order.FilledQty, _ = placed.FilledQty.Float64()
	if placed.FilledAvgPrice != nil {
		order.FilledAvgPrice, _ = placed.FilledAvgPrice.Float64()
	}
	return order, nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca cancel %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all open positions in the account.
func (b *AlpacaBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	raw, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		qty, _ := p.Qty.Float64()
		entry, _ := p.AvgEntryPrice.Float64()
		pos := domain.Position{
			Instrument:    p.Symbol,
			Qty:           qty,
			Side:          domain.PositionSide(p.Side),
			AvgEntryPrice: entry,
		}
		if p.UnrealizedPL != nil {
			pos.UnrealizedPL, _ = p.UnrealizedPL.Float64()
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetAccount returns the current account snapshot.
func (b *AlpacaBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca account: %w", err)
	}

	equity, _ := acct.Equity.Float64()
	cash, _ := acct.Cash.Float64()
	bp, _ := acct.BuyingPower.Float64()
	return &domain.AccountInfo{
		Equity:      equity,
		Cash:        cash,
		BuyingPower: bp,
		Currency:    acct.Currency,
	}, nil
}
