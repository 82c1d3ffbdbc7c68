// Package indicator computes classic technical indicators over ordered
// candle windows. All functions are pure: same input slice, same output.
// Insufficient history yields NaN, and callers must never act on a NaN value.
package indicator

import (
	"math"

	"trade-engine/internal/model"
)

// Closes extracts the close series as float64.
func Closes(candles []model.Candle) []float64 {
	r := make([]float64, len(candles))
	for i := range candles {
		r[i] = candles[i].Close.InexactFloat64()
	}
	return r
}

func Highs(candles []model.Candle) []float64 {
	r := make([]float64, len(candles))
	for i := range candles {
		r[i] = candles[i].High.InexactFloat64()
	}
	return r
}

func Lows(candles []model.Candle) []float64 {
	r := make([]float64, len(candles))
	for i := range candles {
		r[i] = candles[i].Low.InexactFloat64()
	}
	return r
}

// EMA is the recursive exponential moving average (adjust=false semantics).
// The first n-1 points are NaN so callers cannot act on a half-warm average.
func EMA(x []float64, n int) []float64 {
	res := make([]float64, len(x))
	if len(x) == 0 || n < 1 {
		return res
	}
	k := 2.0 / (float64(n) + 1)
	prev := math.NaN()
	for i, v := range x {
		if math.IsNaN(v) {
			res[i] = math.NaN()
			continue
		}
		if math.IsNaN(prev) {
			prev = v
		} else {
			prev = v*k + prev*(1-k)
		}
		res[i] = prev
	}
	maskWarmup(res, x, n-1)
	return res
}

// RSI uses Wilder's smoothing (EMA with alpha = 1/n) over price deltas.
func RSI(closes []float64, n int) []float64 {
	res := nanSlice(len(closes))
	if n < 2 || len(closes) <= n {
		return res
	}

	gain, loss := 0.0, 0.0
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d >= 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgG := gain / float64(n)
	avgL := loss / float64(n)
	res[n] = rsiValue(avgG, avgL)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d >= 0 {
			g = d
		} else {
			l = -d
		}
		avgG = (avgG*float64(n-1) + g) / float64(n)
		avgL = (avgL*float64(n-1) + l) / float64(n)
		res[i] = rsiValue(avgG, avgL)
	}
	return res
}

func rsiValue(avgG, avgL float64) float64 {
	if avgL == 0 {
		if avgG == 0 {
			return 50
		}
		return 100
	}
	rs := avgG / avgL
	return 100 - 100/(1+rs)
}

// ATR is the simple rolling mean of the true range over n bars.
func ATR(highs, lows, closes []float64, n int) []float64 {
	res := nanSlice(len(closes))
	if n < 1 || len(closes) == 0 {
		return res
	}

	tr := make([]float64, len(closes))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(closes); i++ {
		m1 := highs[i] - lows[i]
		m2 := math.Abs(highs[i] - closes[i-1])
		m3 := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(m1, math.Max(m2, m3))
	}

	sum := 0.0
	for i := range tr {
		sum += tr[i]
		if i >= n {
			sum -= tr[i-n]
		}
		if i >= n-1 {
			res[i] = sum / float64(n)
		}
	}
	return res
}

// MACD returns the MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	sig = EMA(macd, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}

// Bollinger returns the middle, upper and lower bands (SMA +/- k*stddev).
func Bollinger(closes []float64, n int, k float64) (mid, upper, lower []float64) {
	mid = nanSlice(len(closes))
	upper = nanSlice(len(closes))
	lower = nanSlice(len(closes))
	if n < 1 {
		return mid, upper, lower
	}

	for i := n - 1; i < len(closes); i++ {
		window := closes[i-n+1 : i+1]
		sum := 0.0
		for _, v := range window {
			sum += v
		}
		mean := sum / float64(n)
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(n))
		mid[i] = mean
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return mid, upper, lower
}

// Pivot is the classic pivot point of a single candle.
func Pivot(high, low, close float64) float64 {
	return (high + low + close) / 3
}

// Snapshot is a fresh value object computed on demand; it has no persisted
// identity and is never partially updated.
type Snapshot struct {
	RSI        float64
	ATR        float64
	EMAFast    float64
	EMASlow    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBUpper    float64
	BBLower    float64
	Pivot      float64
}

// SnapshotConfig holds the periods a Snapshot is computed with.
type SnapshotConfig struct {
	RSIPeriod  int
	ATRPeriod  int
	EMAFast    int
	EMASlow    int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBPeriod   int
	BBMult     float64
}

func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		RSIPeriod:  14,
		ATRPeriod:  14,
		EMAFast:    9,
		EMASlow:    21,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		BBMult:     2.0,
	}
}

// Compute derives a Snapshot from the last point of the window.
func Compute(candles []model.Candle, cfg SnapshotConfig) Snapshot {
	if len(candles) == 0 {
		return Snapshot{
			RSI: math.NaN(), ATR: math.NaN(), EMAFast: math.NaN(),
			EMASlow: math.NaN(), MACD: math.NaN(), MACDSignal: math.NaN(),
			MACDHist: math.NaN(), BBUpper: math.NaN(), BBLower: math.NaN(),
			Pivot: math.NaN(),
		}
	}

	closes := Closes(candles)
	highs := Highs(candles)
	lows := Lows(candles)
	last := len(candles) - 1

	macd, sig, hist := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	_, upper, lower := Bollinger(closes, cfg.BBPeriod, cfg.BBMult)

	return Snapshot{
		RSI:        RSI(closes, cfg.RSIPeriod)[last],
		ATR:        ATR(highs, lows, closes, cfg.ATRPeriod)[last],
		EMAFast:    EMA(closes, cfg.EMAFast)[last],
		EMASlow:    EMA(closes, cfg.EMASlow)[last],
		MACD:       macd[last],
		MACDSignal: sig[last],
		MACDHist:   hist[last],
		BBUpper:    upper[last],
		BBLower:    lower[last],
		Pivot:      Pivot(highs[last], lows[last], closes[last]),
	}
}

func nanSlice(n int) []float64 {
	r := make([]float64, n)
	for i := range r {
		r[i] = math.NaN()
	}
	return r
}

// maskWarmup overwrites the first `bars` outputs that follow the first valid
// input with NaN.
func maskWarmup(res, src []float64, bars int) {
	start := -1
	for i, v := range src {
		if !math.IsNaN(v) {
			start = i
			break
		}
	}
	if start < 0 {
		return
	}
	for i := start; i < len(res) && i < start+bars; i++ {
		res[i] = math.NaN()
	}
}
