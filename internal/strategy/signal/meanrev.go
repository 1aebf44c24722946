package signal

import (
	"fmt"

	"quantlab/internal/market"
	"quantlab/internal/market/indicator"
	"quantlab/internal/strategy"
)

// rsiNeutral is the midpoint at which a mean-reversion position is
// considered to have reverted.
const rsiNeutral = 50.0

// MeanReversion enters when RSI crosses an extreme and exits when RSI
// returns to the neutral midpoint from the side the position was
// opened on.
type MeanReversion struct{}

// Generate implements Generator.
func (g *MeanReversion) Generate(bars []market.Bar, params map[string]float64, pos *strategy.Position) Signal {
	period := int(param(params, "rsi_period", 14))
	oversold := param(params, "rsi_oversold", 30)
	overbought := param(params, "rsi_overbought", 70)
	allowLong := param(params, "allow_long", 1) != 0
	allowShort := param(params, "allow_short", 1) != 0

	if len(bars) < period+2 {
		return hold("insufficient bars for RSI")
	}

	rsi := indicator.RSI(bars, period)
	prevRSI := indicator.RSI(bars[:len(bars)-1], period)

	if pos != nil {
		switch pos.Side {
		case strategy.PositionSideLong:
			if rsi >= rsiNeutral {
				return Signal{Type: TypeExit, Reason: fmt.Sprintf(
					"RSI %.2f reverted to neutral from oversold", rsi)}
			}
		case strategy.PositionSideShort:
			if rsi <= rsiNeutral {
				return Signal{Type: TypeExit, Reason: fmt.Sprintf(
					"RSI %.2f reverted to neutral from overbought", rsi)}
			}
		}
		return hold(fmt.Sprintf("RSI %.2f not yet reverted", rsi))
	}

	if allowLong && prevRSI >= oversold && rsi < oversold {
		return Signal{Type: TypeEntryLong, Reason: fmt.Sprintf(
			"RSI crossed below oversold: %.2f -> %.2f (threshold %.2f)", prevRSI, rsi, oversold)}
	}
	if allowShort && prevRSI <= overbought && rsi > overbought {
		return Signal{Type: TypeEntryShort, Reason: fmt.Sprintf(
			"RSI crossed above overbought: %.2f -> %.2f (threshold %.2f)", prevRSI, rsi, overbought)}
	}
	return hold(fmt.Sprintf("RSI %.2f inside thresholds", rsi))
}
