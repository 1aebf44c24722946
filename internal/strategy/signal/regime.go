package signal

import (
	"fmt"

	"quantlab/internal/market"
	"quantlab/internal/market/indicator"
	"quantlab/internal/strategy"
)

// RegimeSwitch dispatches to the breakout generator in high-volatility
// regimes and to mean-reversion otherwise. Exactly one sub-strategy is
// active per invocation; nothing is blended.
type RegimeSwitch struct {
	breakout Breakout
	meanRev  MeanReversion
}

// Generate implements Generator.
func (g *RegimeSwitch) Generate(bars []market.Bar, params map[string]float64, pos *strategy.Position) Signal {
	trendLookback := int(param(params, "trend_lookback", 30))
	volThreshold := param(params, "volatility_threshold", 0.01)

	if len(bars) < trendLookback+1 {
		return hold("insufficient bars for regime volatility")
	}

	vol := indicator.RealizedVolatility(bars, trendLookback)
	if vol > volThreshold {
		sig := g.breakout.Generate(bars, params, pos)
		sig.Reason = fmt.Sprintf("high-vol regime (%.4f > %.4f): %s", vol, volThreshold, sig.Reason)
		return sig
	}
	sig := g.meanRev.Generate(bars, params, pos)
	sig.Reason = fmt.Sprintf("low-vol regime (%.4f <= %.4f): %s", vol, volThreshold, sig.Reason)
	return sig
}
