// Package storage holds the persistence collaborators: candle history for
// recovery catch-up, the per-symbol state snapshot, and the completed-trade
// sink. Postgres implementations back the live service; in-memory ones back
// backtests and tests.
package storage

import (
	"context"
	"time"

	"trade-engine/internal/model"
)

// CandleRepository loads closed candles for the recovery catch-up replay.
type CandleRepository interface {
	LoadRecent(ctx context.Context, symbol, period string, since time.Time) ([]model.Candle, error)
}

// StateStore is durable key-value persistence, last-writer-wins per symbol.
type StateStore interface {
	Save(ctx context.Context, snap model.Snapshot) error
	Load(ctx context.Context, symbol string) (*model.Snapshot, error)
}

// TradeSink records completed trades. Fire-and-forget: failures must not
// block the state machine.
type TradeSink interface {
	Record(trade model.CompletedTrade)
}
