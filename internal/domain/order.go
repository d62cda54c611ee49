package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a broker order as routed from any window to the TradeManager.
type Order struct {
	ID             string
	Instrument     string
	Side           OrderSide
	Type           OrderType
	Qty            float64
	LimitPrice     float64
	StopPrice      float64
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is an open broker position.
type Position struct {
	Instrument    string
	Qty           float64
	Side          PositionSide
	AvgEntryPrice float64
	UnrealizedPL  float64
}

// AccountInfo is a snapshot of the broker account.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	Currency    string
}
