package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"charthub/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading. It
// tracks positions, orders, and cash in memory; market orders fill
// immediately at the last marked price, limit and stop orders rest until
// MarkPrice crosses them.
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	last      map[string]float64
}

// NewSimulatorBroker creates a simulator with the given starting cash.
func NewSimulatorBroker(startingCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      startingCash,
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]*domain.Order),
		last:      make(map[string]float64),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// MarkPrice records the latest price for an instrument, filling any
// resting limit or stop orders it crosses and refreshing unrealized P&L.
func (b *SimulatorBroker) MarkPrice(instrument string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[instrument] = price

	for _, o := range b.orders {
		if o.Instrument != instrument || o.Status != domain.OrderStatusAccepted {
			continue
		}
		if b.crosses(o, price) {
			b.fillLocked(o, b.fillPrice(o, price))
		}
	}
	if p, ok := b.positions[instrument]; ok {
		b.markPositionLocked(p, price)
	}
}

func (b *SimulatorBroker) crosses(o *domain.Order, price float64) bool {
	switch o.Type {
	case domain.OrderTypeMarket:
		// A market order only rests when submitted before any mark.
		return true
	case domain.OrderTypeLimit:
		if o.Side == domain.OrderSideBuy {
			return price <= o.LimitPrice
		}
		return price >= o.LimitPrice
	case domain.OrderTypeStop:
		if o.Side == domain.OrderSideBuy {
			return price >= o.StopPrice
		}
		return price <= o.StopPrice
	default:
		return false
	}
}

func (b *SimulatorBroker) fillPrice(o *domain.Order, mark float64) float64 {
	if o.Type == domain.OrderTypeLimit {
		return o.LimitPrice
	}
	return mark
}

// SubmitOrder accepts the order; market orders against a marked
// instrument fill immediately.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order.Qty <= 0 {
		order.Status = domain.OrderStatusRejected
		return order, fmt.Errorf("simulator: non-positive qty %v", order.Qty)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Status = domain.OrderStatusAccepted
	b.orders[order.ID] = order

	if order.Type == domain.OrderTypeMarket {
		price, ok := b.last[order.Instrument]
		if !ok {
			// No mark yet: rest until the first price arrives.
			return order, nil
		}
		b.fillLocked(order, price)
	}
	return order, nil
}

// fillLocked executes an accepted order in full and adjusts the position
// and cash.
func (b *SimulatorBroker) fillLocked(o *domain.Order, price float64) {
	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	o.UpdatedAt = time.Now().UTC()

	signed := o.Qty
	if o.Side == domain.OrderSideSell {
		signed = -o.Qty
	}
	b.cash -= signed * price

	p, ok := b.positions[o.Instrument]
	if !ok {
		side := domain.PositionSideLong
		if signed < 0 {
			side = domain.PositionSideShort
		}
		b.positions[o.Instrument] = &domain.Position{
			Instrument:    o.Instrument,
			Qty:           signed,
			Side:          side,
			AvgEntryPrice: price,
		}
		return
	}

	newQty := p.Qty + signed
	switch {
	case newQty == 0:
		delete(b.positions, o.Instrument)
	case (p.Qty > 0) == (newQty > 0) && abs(newQty) > abs(p.Qty):
		// Adding to the position: blend the entry price.
		p.AvgEntryPrice = (p.AvgEntryPrice*abs(p.Qty) + price*abs(signed)) / abs(newQty)
		p.Qty = newQty
	default:
		// Reducing or flipping; a flip re-enters at the fill price.
		if (p.Qty > 0) != (newQty > 0) {
			p.AvgEntryPrice = price
		}
		p.Qty = newQty
	}
	if p.Qty > 0 {
		p.Side = domain.PositionSideLong
	} else {
		p.Side = domain.PositionSideShort
	}
	b.markPositionLocked(p, price)
}

func (b *SimulatorBroker) markPositionLocked(p *domain.Position, price float64) {
	p.UnrealizedPL = (price - p.AvgEntryPrice) * p.Qty
}

// CancelOrder cancels a resting order. Filled orders cannot be cancelled.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("simulator: unknown order %s", orderID)
	}
	switch o.Status {
	case domain.OrderStatusAccepted, domain.OrderStatusNew:
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return fmt.Errorf("simulator: order %s not cancellable in status %s", orderID, o.Status)
	}
}

// GetPositions returns copies of all open positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}

// GetAccount computes equity as cash plus the marked value of open
// positions.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		if price, ok := b.last[p.Instrument]; ok {
			equity += p.Qty * price
		} else {
			equity += p.Qty * p.AvgEntryPrice
		}
	}
	return &domain.AccountInfo{
		Equity:      equity,
		Cash:        b.cash,
		BuyingPower: b.cash,
		Currency:    "USD",
	}, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
