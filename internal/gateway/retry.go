package gateway

import (
	"context"
	"time"

	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RetryingGateway decorates another gateway with exponential backoff on
// transient errors. A capped number of attempts keeps an unreachable
// exchange from stalling a symbol worker forever.
type RetryingGateway struct {
	inner    ExchangeGateway
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func WithRetry(inner ExchangeGateway, attempts int, backoff time.Duration, logger *zap.Logger) *RetryingGateway {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingGateway{inner: inner, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *RetryingGateway) PlaceEntry(ctx context.Context, symbol string, dir model.Direction, size, stopLoss, limit decimal.Decimal) (FillResult, error) {
	var res FillResult
	err := r.do(ctx, "place_entry", symbol, func() error {
		var err error
		res, err = r.inner.PlaceEntry(ctx, symbol, dir, size, stopLoss, limit)
		return err
	})
	return res, err
}

func (r *RetryingGateway) ClosePosition(ctx context.Context, symbol string, price decimal.Decimal) (CloseResult, error) {
	var res CloseResult
	err := r.do(ctx, "close_position", symbol, func() error {
		var err error
		res, err = r.inner.ClosePosition(ctx, symbol, price)
		return err
	})
	return res, err
}

func (r *RetryingGateway) UpdateStop(ctx context.Context, symbol string, newStop decimal.Decimal) error {
	return r.do(ctx, "update_stop", symbol, func() error {
		return r.inner.UpdateStop(ctx, symbol, newStop)
	})
}

func (r *RetryingGateway) LivePosition(ctx context.Context, symbol string) (*model.Position, error) {
	var res *model.Position
	err := r.do(ctx, "live_position", symbol, func() error {
		var err error
		res, err = r.inner.LivePosition(ctx, symbol)
		return err
	})
	return res, err
}

func (r *RetryingGateway) do(ctx context.Context, op, symbol string, fn func() error) error {
	backoff := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		r.logger.Warn("gateway call failed, retrying",
			zap.String("op", op),
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = increaseBackoff(backoff)
	}
	return err
}

func increaseBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > time.Minute {
		return time.Minute
	}
	return next
}
