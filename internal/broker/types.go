package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the paper account snapshot returned by the brokerage.
type Account struct {
	Equity      decimal.Decimal `json:"equity"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}

// Position is an open brokerage position.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           int64           `json:"qty"`
	Side          string          `json:"side"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pl"`
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus mirrors the brokerage's order lifecycle states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order is the brokerage's view of an order. Quantities are share
// counts; prices are decimal.
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Qty            int64           `json:"qty"`
	Type           string          `json:"type"`
	Status         OrderStatus     `json:"status"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledQty      int64           `json:"filled_qty"`
}

// OrderRequest is the payload for placing an order.
type OrderRequest struct {
	Symbol      string    `json:"symbol"`
	Qty         int64     `json:"qty"`
	Side        OrderSide `json:"side"`
	Type        string    `json:"type"`
	TimeInForce string    `json:"time_in_force"`
}
