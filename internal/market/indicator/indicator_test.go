package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quantlab/internal/market"
)

func barsFromOHLC(ohlc [][4]float64) []market.Bar {
	bars := make([]market.Bar, len(ohlc))
	base := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	for i, v := range ohlc {
		bars[i] = market.Bar{
			Symbol:    "TEST",
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
		}
	}
	return bars
}

func barsFromCloses(closes []float64) []market.Bar {
	ohlc := make([][4]float64, len(closes))
	for i, c := range closes {
		ohlc[i] = [4]float64{c, c, c, c}
	}
	return barsFromOHLC(ohlc)
}

func TestATR(t *testing.T) {
	bars := barsFromOHLC([][4]float64{
		{100, 101, 99, 100}, // seed bar, no TR
		{100, 102, 100, 101}, // TR = max(2, 2, 0) = 2
		{101, 103, 100, 102}, // TR = max(3, 2, 1) = 3
		{102, 103, 101, 101}, // TR = max(2, 1, 1) = 2
	})

	assert.InDelta(t, (3.0+2.0)/2, ATR(bars, 2), 1e-9)
	assert.InDelta(t, (2.0+3.0+2.0)/3, ATR(bars, 3), 1e-9)
}

func TestATRInsufficientBars(t *testing.T) {
	bars := barsFromOHLC([][4]float64{{100, 101, 99, 100}, {100, 102, 100, 101}})
	assert.Equal(t, 0.0, ATR(bars, 14))
	assert.Equal(t, 0.0, ATR(nil, 14))
	assert.Equal(t, 0.0, ATR(bars, 0))
}

func TestATRGapTrueRange(t *testing.T) {
	// A gap down makes |low - prevClose| the dominant component.
	bars := barsFromOHLC([][4]float64{
		{100, 101, 99, 100},
		{90, 91, 89, 90}, // TR = max(2, |91-100|=9, |89-100|=11) = 11
	})
	assert.InDelta(t, 11.0, ATR(bars, 1), 1e-9)
}

func TestRSI(t *testing.T) {
	// Strictly rising closes: no losses, RSI = 100.
	assert.Equal(t, 100.0, RSI(barsFromCloses([]float64{1, 2, 3, 4, 5, 6}), 5))

	// Strictly falling closes: no gains, RSI = 0.
	assert.Equal(t, 0.0, RSI(barsFromCloses([]float64{6, 5, 4, 3, 2, 1}), 5))

	// Equal gains and losses: RS = 1, RSI = 50.
	rsi := RSI(barsFromCloses([]float64{100, 101, 100, 101, 100}), 4)
	assert.InDelta(t, 50.0, rsi, 1e-9)
}

func TestRSIInsufficientHistory(t *testing.T) {
	assert.Equal(t, 50.0, RSI(barsFromCloses([]float64{1, 2}), 14))
	assert.Equal(t, 50.0, RSI(nil, 14))
}

func TestRSIBounded(t *testing.T) {
	closes := []float64{100, 103, 99, 104, 98, 107, 95, 110, 92, 111, 101, 99.5}
	for period := 2; period <= 10; period++ {
		rsi := RSI(barsFromCloses(closes), period)
		assert.GreaterOrEqual(t, rsi, 0.0, "period %d", period)
		assert.LessOrEqual(t, rsi, 100.0, "period %d", period)
	}
}

func TestIndicatorsArePure(t *testing.T) {
	bars := barsFromOHLC([][4]float64{
		{100, 102, 99, 101}, {101, 104, 100, 103}, {103, 105, 101, 102},
		{102, 103, 99, 100}, {100, 106, 100, 105}, {105, 107, 103, 104},
	})
	for i := 0; i < 5; i++ {
		assert.Equal(t, ATR(bars, 3), ATR(bars, 3))
		assert.Equal(t, RSI(bars, 3), RSI(bars, 3))
		assert.Equal(t, RealizedVolatility(bars, 4), RealizedVolatility(bars, 4))
	}
}

func TestRealizedVolatility(t *testing.T) {
	// Constant prices have zero volatility.
	assert.Equal(t, 0.0, RealizedVolatility(barsFromCloses([]float64{100, 100, 100, 100, 100}), 4))

	// Alternating +1%/-1% style moves have positive volatility.
	vol := RealizedVolatility(barsFromCloses([]float64{100, 101, 100, 101, 100}), 4)
	assert.Greater(t, vol, 0.0)

	assert.Equal(t, 0.0, RealizedVolatility(barsFromCloses([]float64{100, 101}), 10))
}

func TestHighLow(t *testing.T) {
	bars := barsFromOHLC([][4]float64{
		{100, 101, 99, 100},
		{100, 104, 98, 103},
		{103, 102.5, 99.5, 101},
	})
	high, low := HighLow(bars)
	assert.Equal(t, 104.0, high)
	assert.Equal(t, 98.0, low)

	high, low = HighLow(nil)
	assert.Equal(t, 0.0, high)
	assert.Equal(t, 0.0, low)
}
