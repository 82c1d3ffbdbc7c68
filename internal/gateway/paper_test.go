package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaperGateway_EntryAndClose(t *testing.T) {
	g := NewPaperGateway(zap.NewNop())
	ctx := context.Background()

	fill, err := g.PlaceEntry(ctx, "BTCUSDT", model.DirectionLong,
		decimal.NewFromInt(1), decimal.NewFromInt(98), decimal.NewFromInt(100))
	require.NoError(t, err)
	// Long entries fill above the limit by the slippage fraction.
	assert.True(t, fill.Price.Equal(decimal.NewFromFloat(100.05)), "got %s", fill.Price)

	// A second entry for the same symbol is rejected.
	_, err = g.PlaceEntry(ctx, "BTCUSDT", model.DirectionLong,
		decimal.NewFromInt(1), decimal.NewFromInt(98), decimal.NewFromInt(100))
	assert.Error(t, err)

	pos, err := g.LivePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.EntryPrice.Equal(fill.Price))

	res, err := g.ClosePosition(ctx, "BTCUSDT", decimal.NewFromInt(105))
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(decimal.NewFromInt(105)))

	// Closing again is idempotent.
	_, err = g.ClosePosition(ctx, "BTCUSDT", decimal.NewFromInt(105))
	assert.NoError(t, err)

	pos, err = g.LivePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestPaperGateway_UpdateStop(t *testing.T) {
	g := NewPaperGateway(zap.NewNop())
	ctx := context.Background()

	err := g.UpdateStop(ctx, "BTCUSDT", decimal.NewFromInt(99))
	assert.Error(t, err, "no position to protect")

	_, err = g.PlaceEntry(ctx, "BTCUSDT", model.DirectionShort,
		decimal.NewFromInt(1), decimal.NewFromInt(102), decimal.NewFromInt(100))
	require.NoError(t, err)

	require.NoError(t, g.UpdateStop(ctx, "BTCUSDT", decimal.NewFromInt(101)))
	pos, err := g.LivePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.StopLoss.Equal(decimal.NewFromInt(101)))
}

// flakyGateway fails a fixed number of times before succeeding.
type flakyGateway struct {
	PaperGateway
	failures int
}

func (g *flakyGateway) UpdateStop(ctx context.Context, symbol string, newStop decimal.Decimal) error {
	if g.failures > 0 {
		g.failures--
		return ErrTransient
	}
	return nil
}

func TestRetryingGateway_RetriesTransient(t *testing.T) {
	inner := &flakyGateway{failures: 2}
	g := WithRetry(inner, 3, time.Millisecond, zap.NewNop())

	err := g.UpdateStop(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.Equal(t, 0, inner.failures)
}

func TestRetryingGateway_GivesUp(t *testing.T) {
	inner := &flakyGateway{failures: 10}
	g := WithRetry(inner, 3, time.Millisecond, zap.NewNop())

	err := g.UpdateStop(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, IsTransient(err))
}
