package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"trade-engine/internal/detector"
	"trade-engine/internal/gateway"
	"trade-engine/internal/model"
	"trade-engine/internal/position"
	"trade-engine/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(symbol string) Config {
	return Config{
		Symbol:           symbol,
		BasePeriod:       "1m",
		StructuralPeriod: "5m",
		FilterPeriod:     "15m",
		SwingLookback:    2,
		OBRetention:      3,
		Detector: detector.Config{
			RSIPeriod:   2,
			RSILongMax:  100,
			RSIShortMin: 0,
			ATRPeriod:   2,
			EMAFast:     2,
			EMASlow:     3,
			StopATRMult: 0.5,
			RewardRisk:  2.0,
			Validity:    4 * time.Hour,
		},
		Position: position.Config{
			Equity:       decimal.NewFromInt(10000),
			RiskPerTrade: decimal.NewFromFloat(0.01),
			TrailStartR:  1.0,
			TrailDistR:   0.5,
		},
		ConfigHash: "cfg-a",
	}
}

// oscillating walk with enough swings to trigger breaks and retests.
func series(symbol string, n int) []model.Candle {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, 0, n)
	prev := 100.0
	for i := 0; i < n; i++ {
		next := 100 + math.Sin(float64(i)/6)*3 + math.Sin(float64(i)/29)*8
		o, c := prev, next
		h := math.Max(o, c) + 0.4
		l := math.Min(o, c) - 0.4
		out = append(out, model.Candle{
			Symbol:   symbol,
			Period:   "1m",
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     decimal.NewFromFloat(o),
			High:     decimal.NewFromFloat(h),
			Low:      decimal.NewFromFloat(l),
			Close:    decimal.NewFromFloat(c),
			Volume:   decimal.NewFromInt(1),
			Closed:   true,
		})
		prev = next
	}
	return out
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *storage.MemoryStateStore, *storage.MemoryTradeSink) {
	t.Helper()
	store := storage.NewMemoryStateStore()
	sink := storage.NewMemoryTradeSink()
	eng, err := New(cfg, gateway.NewPaperGateway(zap.NewNop()), store, sink, Observers{}, zap.NewNop())
	require.NoError(t, err)
	return eng, store, sink
}

// The same candle sequence must always produce the same trades and the same
// final state, regardless of which engine instance processed it.
func TestEngine_DeterministicReplay(t *testing.T) {
	ctx := context.Background()
	candles := series("BTCUSDT", 600)

	eng1, store1, sink1 := newTestEngine(t, testConfig("BTCUSDT"))
	eng2, store2, sink2 := newTestEngine(t, testConfig("BTCUSDT"))

	for _, c := range candles {
		require.NoError(t, eng1.ProcessBase(ctx, c))
		require.NoError(t, eng2.ProcessBase(ctx, c))
	}

	trades1, trades2 := sink1.Trades(), sink2.Trades()
	require.Equal(t, len(trades1), len(trades2))
	for i := range trades1 {
		assert.Equal(t, trades1[i], trades2[i])
	}

	snap1, err := store1.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	snap2, err := store2.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, snap1)
	require.NotNil(t, snap2)
	assert.Equal(t, snap1.LastProcessed, snap2.LastProcessed)
	assert.Equal(t, snap1.TrailingActive, snap2.TrailingActive)
	assert.Equal(t, snap1.Position == nil, snap2.Position == nil)
}

func TestEngine_DropsDuplicatesAndInvalid(t *testing.T) {
	ctx := context.Background()
	eng, store, _ := newTestEngine(t, testConfig("BTCUSDT"))

	candles := series("BTCUSDT", 3)
	for _, c := range candles {
		require.NoError(t, eng.ProcessBase(ctx, c))
	}

	// Redelivery of an already-processed candle is a no-op.
	require.NoError(t, eng.ProcessBase(ctx, candles[1]))

	// Malformed candle: low above close.
	bad := candles[2]
	bad.OpenTime = bad.OpenTime.Add(time.Minute)
	bad.Low = bad.Close.Add(decimal.NewFromInt(10))
	require.NoError(t, eng.ProcessBase(ctx, bad))

	snap, err := store.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, candles[2].OpenTime, snap.LastProcessed)
}

// flakyCloseGateway fails ClosePosition a fixed number of times, then fills.
type flakyCloseGateway struct {
	stubGateway
	failures int
	attempts int
}

func (g *flakyCloseGateway) ClosePosition(ctx context.Context, symbol string, price decimal.Decimal) (gateway.CloseResult, error) {
	g.attempts++
	if g.attempts <= g.failures {
		return gateway.CloseResult{}, gateway.ErrTransient
	}
	return g.stubGateway.ClosePosition(ctx, symbol, price)
}

// A gateway outage while the stop is breached must not kill the symbol: the
// position stays open and the breach re-fires on the next structural candle.
func TestEngine_TransientCloseFailureKeepsWorkerAlive(t *testing.T) {
	ctx := context.Background()
	gw := &flakyCloseGateway{failures: 1}
	store := storage.NewMemoryStateStore()
	sink := storage.NewMemoryTradeSink()
	var observed []model.CompletedTrade
	obs := Observers{OnTrade: func(trade model.CompletedTrade) { observed = append(observed, trade) }}
	eng, err := New(testConfig("BTCUSDT"), gw, store, sink, obs, zap.NewNop())
	require.NoError(t, err)

	eng.Lifecycle().Adopt(model.Position{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionLong,
		EntryPrice: decimal.NewFromInt(100),
		Size:       decimal.NewFromInt(50),
		StopLoss:   decimal.NewFromInt(98),
	}, decimal.Zero, false)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	below := func(i int) model.Candle {
		return model.Candle{
			Symbol:   "BTCUSDT",
			Period:   "1m",
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     decimal.NewFromFloat(97),
			High:     decimal.NewFromFloat(97.2),
			Low:      decimal.NewFromFloat(96.8),
			Close:    decimal.NewFromFloat(97),
			Volume:   decimal.NewFromInt(1),
			Closed:   true,
		}
	}

	// First structural close: breach detected, exchange unreachable. The
	// error stays a warning and the position stays open.
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.ProcessBase(ctx, below(i)))
	}
	require.NotNil(t, eng.Position())
	assert.Equal(t, position.StateOpen, eng.State())
	assert.Empty(t, sink.Trades())

	// Next structural close retries the breach and fills at the stop.
	for i := 5; i < 10; i++ {
		require.NoError(t, eng.ProcessBase(ctx, below(i)))
	}
	assert.Nil(t, eng.Position())
	trades := sink.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, model.CloseReasonStop, trades[0].Reason)
	assert.True(t, trades[0].ExitPrice.Equal(decimal.NewFromInt(98)))
	assert.Equal(t, 2, gw.attempts)

	// The completed trade also reaches the trade observer.
	require.Len(t, observed, 1)
	assert.Equal(t, trades[0], observed[0])
}

// Snapshot persistence failure must halt the symbol, not silently continue.
type failingStore struct{}

func (failingStore) Save(ctx context.Context, snap model.Snapshot) error {
	return context.DeadlineExceeded
}
func (failingStore) Load(ctx context.Context, symbol string) (*model.Snapshot, error) {
	return nil, nil
}

func TestEngine_SnapshotFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	eng, err := New(testConfig("BTCUSDT"), gateway.NewPaperGateway(zap.NewNop()),
		failingStore{}, storage.NewMemoryTradeSink(), Observers{}, zap.NewNop())
	require.NoError(t, err)

	err = eng.ProcessBase(ctx, series("BTCUSDT", 1)[0])
	assert.Error(t, err)
}
