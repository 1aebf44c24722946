package tuner

import (
	"fmt"
	"math"
	"strings"

	"quantlab/internal/backtest"
)

// championDrawdownSlack relaxes the drawdown ceiling relative to the
// champion's own drawdown. See DESIGN.md for the risk-ratchet caveat.
const championDrawdownSlack = 1.25

// Gate decides whether a challenger replaces the champion. A rejection
// is an expected outcome, not an error; the composed reason names every
// failed sub-condition.
type Gate struct {
	Config GateConfig
}

// NewGate applies defaults for unset thresholds.
func NewGate(cfg *GateConfig) *Gate {
	g := &Gate{Config: DefaultGateConfig}
	if cfg != nil {
		if cfg.MinTrades > 0 {
			g.Config.MinTrades = cfg.MinTrades
		}
		if cfg.MaxDrawdown > 0 {
			g.Config.MaxDrawdown = cfg.MaxDrawdown
		}
	}
	return g
}

// Evaluate runs all sub-conditions. The challenger is accepted iff all
// pass; ties on score are accepted so the search never regresses.
func (g *Gate) Evaluate(challenger, champion backtest.RunMetrics, challengerScore, championScore float64) ([]GateResult, bool, string) {
	results := make([]GateResult, 0, 3)

	tradesOK := challenger.TradeCount >= g.Config.MinTrades
	results = append(results, GateResult{
		Name:   "min_trades",
		Passed: tradesOK,
		Detail: fmt.Sprintf("trades: %d (min %d)", challenger.TradeCount, g.Config.MinTrades),
	})

	// The champion's own drawdown sets a dynamic, slightly relaxed
	// ceiling rather than a single global constant.
	ddCeiling := math.Max(g.Config.MaxDrawdown, champion.MaxDrawdown*championDrawdownSlack)
	ddOK := challenger.MaxDrawdown <= ddCeiling
	results = append(results, GateResult{
		Name:   "max_drawdown",
		Passed: ddOK,
		Detail: fmt.Sprintf("drawdown: %.4f (ceiling %.4f)", challenger.MaxDrawdown, ddCeiling),
	})

	scoreOK := challengerScore >= championScore
	results = append(results, GateResult{
		Name:   "score",
		Passed: scoreOK,
		Detail: fmt.Sprintf("score: %.4f vs champion %.4f", challengerScore, championScore),
	})

	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r.Detail)
		}
	}
	if len(failed) > 0 {
		return results, false, strings.Join(failed, "; ")
	}
	return results, true, ""
}
