package tuner

import (
	"math"

	"quantlab/internal/backtest"
)

// Score maps aggregated metrics to a scalar under the group objective.
// Each term is clamped so a single outlier metric cannot dominate the
// otherwise additive score. Win rate stands in as a risk adjustment
// where no Sharpe estimate is available.
func Score(m backtest.RunMetrics, obj ObjectiveConfig) float64 {
	pfTerm := math.Min(m.ProfitFactor, 5) / 3
	retTerm := clamp(m.NetPnL/1000, -1, 2)
	ddTerm := math.Min(2*m.MaxDrawdown, 1)

	return obj.ProfitFactorWeight*pfTerm +
		obj.ReturnWeight*retTerm +
		obj.WinRateWeight*m.WinRate -
		obj.DrawdownWeight*ddTerm
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
