// Package gateway abstracts the exchange. All calls must be idempotent or
// safely retryable, and safe for concurrent use from multiple symbol workers;
// the gateway, not the engine, owns rate limiting.
package gateway

import (
	"context"
	"errors"
	"time"

	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
)

// ErrTransient marks failures the caller may retry with backoff.
var ErrTransient = errors.New("transient gateway error")

// IsTransient reports whether an error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

type FillResult struct {
	Symbol    string
	Direction model.Direction
	Price     decimal.Decimal
	Size      decimal.Decimal
	FilledAt  time.Time
}

type CloseResult struct {
	Symbol   string
	Price    decimal.Decimal
	Size     decimal.Decimal
	ClosedAt time.Time
}

type ExchangeGateway interface {
	PlaceEntry(ctx context.Context, symbol string, dir model.Direction, size, stopLoss, limit decimal.Decimal) (FillResult, error)
	ClosePosition(ctx context.Context, symbol string, price decimal.Decimal) (CloseResult, error)
	UpdateStop(ctx context.Context, symbol string, newStop decimal.Decimal) error
	// LivePosition reports the exchange's view of the open position, which
	// is authoritative during recovery. Nil means flat.
	LivePosition(ctx context.Context, symbol string) (*model.Position, error)
}
