package structure

import (
	"testing"
	"time"

	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sc(i int, h, l, c float64) model.Candle {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.Candle{
		Symbol:   "BTCUSDT",
		Period:   "5m",
		OpenTime: t0.Add(time.Duration(i) * 5 * time.Minute),
		Open:     decimal.NewFromFloat(c),
		High:     decimal.NewFromFloat(h),
		Low:      decimal.NewFromFloat(l),
		Close:    decimal.NewFromFloat(c),
		Closed:   true,
	}
}

func TestAnalyzer_BullishBreakCreatesBlock(t *testing.T) {
	a := NewAnalyzer("BTCUSDT", "5m", 2, 3, zap.NewNop())

	candles := []model.Candle{
		sc(0, 10, 9, 9.5),
		sc(1, 11, 10, 10.5),
		sc(2, 12, 11, 11.5), // swing high, confirmed two candles later
		sc(3, 11, 10, 10.5),
		sc(4, 11, 10, 10.8),
	}

	for i, c := range candles {
		res := a.OnClosedCandle(c)
		assert.Nil(t, res.Event, "no break expected at index %d", i)
		assert.Equal(t, model.TrendNone, res.Trend)
	}

	// Close above the confirmed swing high at 12: first break is a CHoCH.
	res := a.OnClosedCandle(sc(5, 12.5, 11.5, 12.1))
	require.NotNil(t, res.Event)
	assert.Equal(t, model.EventCHoCH, res.Event.Kind)
	assert.Equal(t, model.DirectionLong, res.Event.Direction)
	assert.Equal(t, 5, res.Event.Index)
	assert.True(t, res.Event.Price.Equal(decimal.NewFromFloat(12)))
	assert.Equal(t, model.TrendBullish, res.Trend)

	// Order block sits at the lowest-low candle of the broken leg (index 3).
	require.NotNil(t, res.NewBlock)
	assert.Equal(t, model.DirectionLong, res.NewBlock.Direction)
	assert.Equal(t, 3, res.NewBlock.OriginIndex)
	assert.True(t, res.NewBlock.Top.Equal(decimal.NewFromFloat(11)))
	assert.True(t, res.NewBlock.Bottom.Equal(decimal.NewFromFloat(10)))

	// The block created on the breaking candle is not a retest of itself.
	assert.Empty(t, res.Retests)
}

func TestAnalyzer_OneBreakPerSwing(t *testing.T) {
	a := NewAnalyzer("BTCUSDT", "5m", 2, 3, zap.NewNop())

	seq := []model.Candle{
		sc(0, 10, 9, 9.5),
		sc(1, 11, 10, 10.5),
		sc(2, 12, 11, 11.5),
		sc(3, 11, 10, 10.5),
		sc(4, 11, 10, 10.8),
		sc(5, 12.5, 11.5, 12.1), // breaks swing high 12
		sc(6, 13, 12, 12.8),     // still above 12, but the swing is consumed
	}

	events := 0
	for _, c := range seq {
		if res := a.OnClosedCandle(c); res.Event != nil {
			events++
		}
	}
	assert.Equal(t, 1, events)
	assert.Equal(t, model.TrendBullish, a.Trend())
}

func TestAnalyzer_RetestAfterBreak(t *testing.T) {
	a := NewAnalyzer("BTCUSDT", "5m", 2, 3, zap.NewNop())

	seq := []model.Candle{
		sc(0, 10, 9, 9.5),
		sc(1, 11, 10, 10.5),
		sc(2, 12, 11, 11.5),
		sc(3, 11, 10, 10.5),
		sc(4, 11, 10, 10.8),
		sc(5, 12.5, 11.5, 12.1),
	}
	for _, c := range seq {
		a.OnClosedCandle(c)
	}

	// Pull back into the block zone [10, 11].
	res := a.OnClosedCandle(sc(6, 11.2, 10.9, 11.05))
	assert.Nil(t, res.Event)
	require.Len(t, res.Retests, 1)
	assert.Equal(t, model.DirectionLong, res.Retests[0].Direction)
	assert.Equal(t, 3, res.Retests[0].OriginIndex)
}

func TestAnalyzer_BlockRetention(t *testing.T) {
	a := NewAnalyzer("BTCUSDT", "5m", 1, 2, zap.NewNop())

	// Alternating impulses create repeated breaks; only the newest two blocks
	// may survive.
	base := 10.0
	for i := 0; i < 40; i++ {
		var c model.Candle
		switch i % 4 {
		case 0:
			c = sc(i, base+2, base+1, base+1.5)
		case 1:
			c = sc(i, base+1, base, base+0.5)
		case 2:
			c = sc(i, base+3, base+2, base+2.8)
		default:
			base += 1
			c = sc(i, base+3, base+2, base+2.5)
		}
		a.OnClosedCandle(c)
	}

	assert.LessOrEqual(t, len(a.Blocks()), 2)
}

func TestAnalyzer_BoundedBuffer(t *testing.T) {
	a := NewAnalyzer("BTCUSDT", "5m", 3, 3, zap.NewNop())

	for i := 0; i < maxBuffer+100; i++ {
		a.OnClosedCandle(sc(i, 10, 9, 9.5))
	}
	assert.Equal(t, maxBuffer+100, a.CandleCount())
}

func TestAnalyzer_Reset(t *testing.T) {
	a := NewAnalyzer("BTCUSDT", "5m", 2, 3, zap.NewNop())
	for i := 0; i < 10; i++ {
		a.OnClosedCandle(sc(i, 10+float64(i), 9+float64(i), 9.5+float64(i)))
	}

	a.Reset()
	assert.Equal(t, model.TrendNone, a.Trend())
	assert.Empty(t, a.Blocks())
	assert.Equal(t, 0, a.CandleCount())
}
