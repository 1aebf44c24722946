package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/market"
	"quantlab/internal/strategy"
)

func rangeBars(n int, high, low float64) []market.Bar {
	bars := make([]market.Bar, n)
	base := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	for i := range bars {
		close := low + (high-low)/2
		bars[i] = market.Bar{
			Symbol:    "TEST",
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      close,
			High:      high,
			Low:       low,
			Close:     close,
		}
	}
	return bars
}

func withLastClose(bars []market.Bar, price float64) []market.Bar {
	out := make([]market.Bar, len(bars))
	copy(out, bars)
	last := out[len(out)-1]
	last.Close = price
	if price > last.High {
		last.High = price
	}
	if price < last.Low {
		last.Low = price
	}
	out[len(out)-1] = last
	return out
}

func closesToBars(closes []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	base := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = market.Bar{
			Symbol:    "TEST",
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return bars
}

func TestBreakoutEntryLong(t *testing.T) {
	// Flat 20-bar range [100,101], then a bar closing at 105.
	bars := withLastClose(rangeBars(21, 101, 100), 105)

	sig := (&Breakout{}).Generate(bars, map[string]float64{
		"lookback":     20,
		"breakout_pct": 0.002,
	}, nil)
	assert.Equal(t, TypeEntryLong, sig.Type)
	assert.NotEmpty(t, sig.Reason)
}

func TestBreakoutHoldInsideBand(t *testing.T) {
	bars := withLastClose(rangeBars(21, 101, 100), 100.5)

	sig := (&Breakout{}).Generate(bars, map[string]float64{
		"lookback":     20,
		"breakout_pct": 0.002,
	}, nil)
	assert.Equal(t, TypeHold, sig.Type)
}

func TestBreakoutEntryShort(t *testing.T) {
	bars := withLastClose(rangeBars(21, 101, 100), 95)

	sig := (&Breakout{}).Generate(bars, map[string]float64{
		"lookback":     20,
		"breakout_pct": 0.002,
	}, nil)
	assert.Equal(t, TypeEntryShort, sig.Type)
}

func TestBreakoutDirectionGate(t *testing.T) {
	bars := withLastClose(rangeBars(21, 101, 100), 95)

	sig := (&Breakout{}).Generate(bars, map[string]float64{
		"lookback":     20,
		"breakout_pct": 0.002,
		"allow_short":  0,
	}, nil)
	assert.Equal(t, TypeHold, sig.Type)
}

func TestBreakoutExitUsesUninflatedExtreme(t *testing.T) {
	params := map[string]float64{"lookback": 20, "breakout_pct": 0.002}
	long := &strategy.Position{Side: strategy.PositionSideLong}

	// Price back below the un-inflated range low: exit.
	bars := withLastClose(rangeBars(21, 101, 100), 99.9)
	sig := (&Breakout{}).Generate(bars, params, long)
	assert.Equal(t, TypeExit, sig.Type)

	// Price below the inflated entry band but above the raw low: hold.
	// Entry and exit thresholds are asymmetric on purpose.
	bars = withLastClose(rangeBars(21, 101, 100), 100.1)
	sig = (&Breakout{}).Generate(bars, params, long)
	assert.Equal(t, TypeHold, sig.Type)

	short := &strategy.Position{Side: strategy.PositionSideShort}
	bars = withLastClose(rangeBars(21, 101, 100), 101.2)
	sig = (&Breakout{}).Generate(bars, params, short)
	assert.Equal(t, TypeExit, sig.Type)
}

func TestBreakoutInsufficientBars(t *testing.T) {
	sig := (&Breakout{}).Generate(rangeBars(10, 101, 100), map[string]float64{"lookback": 20}, nil)
	assert.Equal(t, TypeHold, sig.Type)
}

func TestMeanReversionEntryLong(t *testing.T) {
	// The final drop pushes RSI from above the oversold threshold to below it.
	closes := []float64{100, 100, 100, 100, 100, 101, 102, 103, 101, 99, 97}
	sig := (&MeanReversion{}).Generate(closesToBars(closes), map[string]float64{
		"rsi_period":   5,
		"rsi_oversold": 30,
	}, nil)
	assert.Equal(t, TypeEntryLong, sig.Type)
}

func TestMeanReversionEntryShort(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100, 99, 98, 97, 99, 101, 103}
	sig := (&MeanReversion{}).Generate(closesToBars(closes), map[string]float64{
		"rsi_period":     5,
		"rsi_overbought": 70,
	}, nil)
	assert.Equal(t, TypeEntryShort, sig.Type)
}

func TestMeanReversionExitAtNeutral(t *testing.T) {
	// Alternating closes keep RSI pinned at the midpoint.
	closes := []float64{100, 101, 100, 101, 100, 101, 100}
	long := &strategy.Position{Side: strategy.PositionSideLong}
	sig := (&MeanReversion{}).Generate(closesToBars(closes), map[string]float64{
		"rsi_period": 4,
	}, long)
	assert.Equal(t, TypeExit, sig.Type)

	// A short position at the midpoint also reverts.
	short := &strategy.Position{Side: strategy.PositionSideShort}
	sig = (&MeanReversion{}).Generate(closesToBars(closes), map[string]float64{
		"rsi_period": 4,
	}, short)
	assert.Equal(t, TypeExit, sig.Type)
}

func TestMeanReversionHoldWhileExtended(t *testing.T) {
	// RSI stays deep below neutral while the downtrend continues.
	closes := []float64{100, 99, 98, 97, 96, 95, 94}
	long := &strategy.Position{Side: strategy.PositionSideLong}
	sig := (&MeanReversion{}).Generate(closesToBars(closes), map[string]float64{
		"rsi_period": 4,
	}, long)
	assert.Equal(t, TypeHold, sig.Type)
}

func TestRegimeSwitchDispatch(t *testing.T) {
	g := &RegimeSwitch{}

	// Flat closes: zero volatility, delegates to mean-reversion.
	flat := rangeBars(40, 101, 100)
	sig := g.Generate(flat, map[string]float64{
		"trend_lookback":       20,
		"volatility_threshold": 0.01,
	}, nil)
	assert.Equal(t, TypeHold, sig.Type)
	assert.Contains(t, sig.Reason, "low-vol regime")

	// Large alternating swings: high volatility, delegates to breakout.
	swings := make([]float64, 40)
	for i := range swings {
		if i%2 == 0 {
			swings[i] = 100
		} else {
			swings[i] = 110
		}
	}
	sig = g.Generate(closesToBars(swings), map[string]float64{
		"trend_lookback":       20,
		"volatility_threshold": 0.01,
		"lookback":             10,
	}, nil)
	assert.Contains(t, sig.Reason, "high-vol regime")
}

func TestRegimeSwitchInsufficientBars(t *testing.T) {
	sig := (&RegimeSwitch{}).Generate(rangeBars(5, 101, 100), map[string]float64{
		"trend_lookback": 30,
	}, nil)
	assert.Equal(t, TypeHold, sig.Type)
}

func TestForFamily(t *testing.T) {
	for _, family := range []strategy.Family{
		strategy.FamilyBreakout, strategy.FamilyMeanReversion, strategy.FamilyRegimeSwitch,
	} {
		g, err := ForFamily(family)
		require.NoError(t, err)
		require.NotNil(t, g)
	}

	_, err := ForFamily(strategy.Family("martingale"))
	assert.Error(t, err)
}

func TestGeneratorsArePure(t *testing.T) {
	bars := withLastClose(rangeBars(41, 101, 100), 105)
	params := map[string]float64{"lookback": 20, "breakout_pct": 0.002, "rsi_period": 14}

	for _, g := range []Generator{&Breakout{}, &MeanReversion{}, &RegimeSwitch{}} {
		first := g.Generate(bars, params, nil)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, g.Generate(bars, params, nil))
		}
	}
}
