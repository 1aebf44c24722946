package strategy

import (
	"time"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is the single open position of a paper deployment. It is
// embedded in the deployment record, created on an accepted entry
// signal and destroyed on exit, stop-loss, take-profit or explicit stop.
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Qty        int64        `json:"qty"`
	EntryPrice float64      `json:"entry_price"`
	EntryTime  time.Time    `json:"entry_time"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
}

// UnrealizedPnL returns the open P&L at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p == nil {
		return 0
	}
	diff := price - p.EntryPrice
	if p.Side == PositionSideShort {
		diff = -diff
	}
	return diff * float64(p.Qty)
}

// StopHit reports whether price has crossed the stored stop-loss level.
func (p *Position) StopHit(price float64) bool {
	if p == nil || p.StopLoss == 0 {
		return false
	}
	if p.Side == PositionSideLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TakeProfitHit reports whether price has crossed the take-profit level.
func (p *Position) TakeProfitHit(price float64) bool {
	if p == nil || p.TakeProfit == 0 {
		return false
	}
	if p.Side == PositionSideLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}
