package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA_WarmupAndRecursion(t *testing.T) {
	res := EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, res, 5)

	// k = 0.5: seeded at the first value, then prev*0.5 + v*0.5, with the
	// first n-1 outputs masked.
	assert.True(t, math.IsNaN(res[0]))
	assert.True(t, math.IsNaN(res[1]))
	assert.InDelta(t, 2.25, res[2], 1e-9)
	assert.InDelta(t, 3.125, res[3], 1e-9)
	assert.InDelta(t, 4.0625, res[4], 1e-9)
}

func TestEMA_SkipsLeadingNaN(t *testing.T) {
	res := EMA([]float64{math.NaN(), math.NaN(), 10, 10, 10}, 2)
	assert.True(t, math.IsNaN(res[0]))
	assert.True(t, math.IsNaN(res[1]))
	// Warmup restarts at the first valid input.
	assert.True(t, math.IsNaN(res[2]))
	assert.InDelta(t, 10, res[3], 1e-9)
}

func TestRSI_WilderSmoothing(t *testing.T) {
	res := RSI([]float64{1, 2, 3, 2, 3}, 2)
	require.Len(t, res, 5)

	assert.True(t, math.IsNaN(res[0]))
	assert.True(t, math.IsNaN(res[1]))
	assert.InDelta(t, 100, res[2], 1e-9) // only gains so far
	assert.InDelta(t, 50, res[3], 1e-9)
	assert.InDelta(t, 75, res[4], 1e-9)
}

func TestRSI_InsufficientHistory(t *testing.T) {
	res := RSI([]float64{1, 2, 3}, 14)
	for _, v := range res {
		assert.True(t, math.IsNaN(v))
	}
}

func TestATR_TrueRangeMean(t *testing.T) {
	highs := []float64{10, 11, 12}
	lows := []float64{9, 10, 11}
	closes := []float64{9.5, 10.5, 11.5}

	res := ATR(highs, lows, closes, 2)
	require.Len(t, res, 3)

	assert.True(t, math.IsNaN(res[0]))
	// tr = [1, 1.5, 1.5]
	assert.InDelta(t, 1.25, res[1], 1e-9)
	assert.InDelta(t, 1.5, res[2], 1e-9)
}

func TestMACD_HistogramConsistency(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	macd, sig, hist := MACD(closes, 12, 26, 9)
	last := len(closes) - 1

	assert.True(t, math.IsNaN(macd[0]))
	assert.False(t, math.IsNaN(macd[last]))
	assert.False(t, math.IsNaN(sig[last]))
	assert.InDelta(t, macd[last]-sig[last], hist[last], 1e-9)
	// A monotone uptrend keeps the fast EMA above the slow one.
	assert.Greater(t, macd[last], 0.0)
}

func TestBollinger(t *testing.T) {
	mid, upper, lower := Bollinger([]float64{1, 3}, 2, 2)

	assert.True(t, math.IsNaN(mid[0]))
	assert.InDelta(t, 2, mid[1], 1e-9)
	assert.InDelta(t, 4, upper[1], 1e-9)
	assert.InDelta(t, 0, lower[1], 1e-9)
}

func TestCompute_EmptyWindow(t *testing.T) {
	snap := Compute(nil, DefaultSnapshotConfig())
	assert.True(t, math.IsNaN(snap.RSI))
	assert.True(t, math.IsNaN(snap.ATR))
	assert.True(t, math.IsNaN(snap.Pivot))
}
