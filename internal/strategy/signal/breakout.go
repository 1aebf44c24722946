package signal

import (
	"fmt"

	"quantlab/internal/market"
	"quantlab/internal/market/indicator"
	"quantlab/internal/strategy"
)

// Breakout signals entries when price pushes beyond the recent range.
// The entry bands are the lookback high/low inflated by breakout_pct;
// the exit threshold is the un-inflated opposite extreme, so a position
// is not immediately re-entered after a marginal reversal.
type Breakout struct{}

// Generate implements Generator.
func (g *Breakout) Generate(bars []market.Bar, params map[string]float64, pos *strategy.Position) Signal {
	lookback := int(param(params, "lookback", 20))
	breakoutPct := param(params, "breakout_pct", 0.002)
	allowLong := param(params, "allow_long", 1) != 0
	allowShort := param(params, "allow_short", 1) != 0

	// The range is computed over the lookback bars preceding the most
	// recent bar, excluding it.
	if len(bars) < lookback+1 {
		return hold("insufficient bars for breakout lookback")
	}
	window := bars[len(bars)-1-lookback : len(bars)-1]
	rangeHigh, rangeLow := indicator.HighLow(window)
	price := market.LastClose(bars)

	upperBand := rangeHigh * (1 + breakoutPct)
	lowerBand := rangeLow * (1 - breakoutPct)

	if pos != nil {
		switch pos.Side {
		case strategy.PositionSideLong:
			if price < rangeLow {
				return Signal{Type: TypeExit, Reason: fmt.Sprintf(
					"price %.4f fell below range low %.4f", price, rangeLow)}
			}
		case strategy.PositionSideShort:
			if price > rangeHigh {
				return Signal{Type: TypeExit, Reason: fmt.Sprintf(
					"price %.4f rose above range high %.4f", price, rangeHigh)}
			}
		}
		return hold("position open, no reversal past range extreme")
	}

	if price > upperBand && allowLong {
		return Signal{Type: TypeEntryLong, Reason: fmt.Sprintf(
			"price %.4f broke above band %.4f (range high %.4f)", price, upperBand, rangeHigh)}
	}
	if price < lowerBand && allowShort {
		return Signal{Type: TypeEntryShort, Reason: fmt.Sprintf(
			"price %.4f broke below band %.4f (range low %.4f)", price, lowerBand, rangeLow)}
	}
	return hold("price inside breakout bands")
}
