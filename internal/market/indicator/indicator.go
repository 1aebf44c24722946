// Package indicator provides the stateless technical indicators used by
// the signal generators. All functions are pure: identical inputs yield
// identical outputs.
package indicator

import (
	"math"

	"quantlab/internal/market"
)

// ATR returns the Average True Range over the given period: the
// arithmetic mean of the last period true-range values. Returns 0 when
// there are not enough bars to compute period true ranges.
func ATR(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		highLow := bars[i].High - bars[i].Low
		highClose := math.Abs(bars[i].High - bars[i-1].Close)
		lowClose := math.Abs(bars[i].Low - bars[i-1].Close)
		trueRanges = append(trueRanges, math.Max(highLow, math.Max(highClose, lowClose)))
	}

	sum := 0.0
	for _, tr := range trueRanges[len(trueRanges)-period:] {
		sum += tr
	}
	return sum / float64(period)
}

// RSI returns the Relative Strength Index over the trailing period
// close-to-close changes, in [0,100]. Returns 50 when there is not
// enough history and 100 when there are no losses in the window; both
// are deliberate fallback policies.
func RSI(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 50
	}

	var gains, losses float64
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RealizedVolatility returns the standard deviation of simple returns
// over the trailing lookback bars. Returns 0 with insufficient history.
func RealizedVolatility(bars []market.Bar, lookback int) float64 {
	if lookback <= 1 || len(bars) < lookback+1 {
		return 0
	}

	returns := make([]float64, 0, lookback)
	start := len(bars) - lookback
	for i := start; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			return 0
		}
		returns = append(returns, bars[i].Close/prev-1)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

// HighLow returns the highest high and lowest low over bars.
func HighLow(bars []market.Bar) (high, low float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low
}
