package engine

import (
	"context"
	"testing"

	"trade-engine/internal/gateway"
	"trade-engine/internal/model"
	"trade-engine/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBacktester_ReportShape(t *testing.T) {
	ctx := context.Background()
	initial := decimal.NewFromInt(10000)

	tester, err := NewBacktester(testConfig("BTCUSDT"), initial, zap.NewNop())
	require.NoError(t, err)

	report, err := tester.Run(ctx, series("BTCUSDT", 600))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", report.Symbol)
	assert.True(t, report.InitialBalance.Equal(initial))
	assert.Equal(t, len(report.TradesLog), report.TotalTrades)
	// Final balance always reconciles with realized pnl.
	realized := decimal.Zero
	for _, tr := range report.TradesLog {
		realized = realized.Add(tr.PnL)
	}
	assert.True(t, report.FinalBalance.Equal(initial.Add(realized)),
		"final %s != initial %s + realized %s", report.FinalBalance, initial, realized)
	assert.GreaterOrEqual(t, report.WinRate, 0.0)
	assert.LessOrEqual(t, report.WinRate, 1.0)
	assert.GreaterOrEqual(t, report.MaxDrawdown, 0.0)
}

// Running the same series twice produces identical reports: the backtest path
// has no hidden wall-clock or randomness.
func TestBacktester_Repeatable(t *testing.T) {
	ctx := context.Background()
	initial := decimal.NewFromInt(10000)
	candles := series("BTCUSDT", 600)

	t1, err := NewBacktester(testConfig("BTCUSDT"), initial, zap.NewNop())
	require.NoError(t, err)
	r1, err := t1.Run(ctx, candles)
	require.NoError(t, err)

	t2, err := NewBacktester(testConfig("BTCUSDT"), initial, zap.NewNop())
	require.NoError(t, err)
	r2, err := t2.Run(ctx, candles)
	require.NoError(t, err)

	assert.Equal(t, r1.TotalTrades, r2.TotalTrades)
	assert.True(t, r1.FinalBalance.Equal(r2.FinalBalance))
	assert.Equal(t, r1.SharpRatio, r2.SharpRatio)
	assert.Equal(t, len(r1.Signals), len(r2.Signals))
}

// A bulk backtest run and a live-style candle-at-a-time run over the same
// series must emit the same signals and the same trades. The backtester's own
// bookkeeping (equity curve, final liquidation) must never feed back into the
// decisions.
func TestBacktester_MatchesIncrementalRun(t *testing.T) {
	ctx := context.Background()
	candles := series("BTCUSDT", 600)

	tester, err := NewBacktester(testConfig("BTCUSDT"), decimal.NewFromInt(10000), zap.NewNop())
	require.NoError(t, err)
	report, err := tester.Run(ctx, candles)
	require.NoError(t, err)

	var liveSignals []model.Signal
	sink := storage.NewMemoryTradeSink()
	eng, err := New(testConfig("BTCUSDT"), gateway.NewPaperGateway(zap.NewNop()),
		storage.NewMemoryStateStore(), sink,
		Observers{OnSignal: func(sig model.Signal) { liveSignals = append(liveSignals, sig) }},
		zap.NewNop())
	require.NoError(t, err)
	for _, c := range candles {
		require.NoError(t, eng.ProcessBase(ctx, c))
	}

	require.NotEmpty(t, report.Signals, "series must actually produce signals")
	require.Equal(t, len(report.Signals), len(liveSignals))
	for i := range report.Signals {
		assert.Equal(t, report.Signals[i], liveSignals[i])
	}

	// The bulk run liquidates any open position after the last candle; the
	// incremental run does not. Everything before that must match exactly.
	bulkTrades := report.TradesLog
	if n := len(bulkTrades); n > 0 && bulkTrades[n-1].Reason == model.CloseReasonManual {
		bulkTrades = bulkTrades[:n-1]
	}
	liveTrades := sink.Trades()
	require.Equal(t, len(bulkTrades), len(liveTrades))
	for i := range bulkTrades {
		assert.Equal(t, bulkTrades[i], liveTrades[i])
	}
}

// Decisions depend only on closed candles already seen: the signals emitted
// over a prefix of the series are exactly the full run's signals created
// within that prefix window.
func TestBacktester_NoLookAhead(t *testing.T) {
	ctx := context.Background()
	candles := series("BTCUSDT", 600)
	cut := 400

	full, err := NewBacktester(testConfig("BTCUSDT"), decimal.NewFromInt(10000), zap.NewNop())
	require.NoError(t, err)
	fullReport, err := full.Run(ctx, candles)
	require.NoError(t, err)

	prefix, err := NewBacktester(testConfig("BTCUSDT"), decimal.NewFromInt(10000), zap.NewNop())
	require.NoError(t, err)
	prefixReport, err := prefix.Run(ctx, candles[:cut])
	require.NoError(t, err)

	cutoff := candles[cut-1].OpenTime
	var want []model.Signal
	for _, sig := range fullReport.Signals {
		if !sig.CreatedAt.After(cutoff) {
			want = append(want, sig)
		}
	}

	require.NotEmpty(t, prefixReport.Signals)
	require.Equal(t, len(want), len(prefixReport.Signals))
	for i := range want {
		assert.Equal(t, want[i], prefixReport.Signals[i])
	}
}

func TestBacktester_FlatSeriesNoTrades(t *testing.T) {
	ctx := context.Background()
	initial := decimal.NewFromInt(10000)

	tester, err := NewBacktester(testConfig("BTCUSDT"), initial, zap.NewNop())
	require.NoError(t, err)

	// A dead-flat tape produces no structure breaks and therefore no trades.
	flat := series("BTCUSDT", 120)
	for i := range flat {
		flat[i].Open = decimal.NewFromInt(100)
		flat[i].Close = decimal.NewFromInt(100)
		flat[i].High = decimal.NewFromFloat(100.1)
		flat[i].Low = decimal.NewFromFloat(99.9)
	}

	report, err := tester.Run(ctx, flat)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalTrades)
	assert.True(t, report.FinalBalance.Equal(initial))
}

func TestMaxDrawdown(t *testing.T) {
	b := &Backtester{equityCurve: []decimal.Decimal{
		decimal.NewFromInt(100),
		decimal.NewFromInt(120),
		decimal.NewFromInt(90),
		decimal.NewFromInt(110),
	}}
	// Peak 120 to trough 90: 25% drawdown.
	assert.True(t, b.calculateMaxDrawdown().Equal(decimal.NewFromFloat(0.25)))
}

func TestWinRate(t *testing.T) {
	assert.Equal(t, 0.0, winRate(nil))
}
