package storage

import (
	"context"
	"sync"
	"time"

	"trade-engine/internal/model"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// TradeRecorder batches completed trades and flushes them on a ticker.
// Record never blocks the caller: if the buffer is full the trade is dropped
// with a log line rather than stalling the decision path.
type TradeRecorder struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	buffer []model.CompletedTrade
	limit  int
}

func NewTradeRecorder(pool *pgxpool.Pool, logger *zap.Logger, interval time.Duration, limit int) *TradeRecorder {
	return &TradeRecorder{
		pool:     pool,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}
}

func (r *TradeRecorder) Record(trade model.CompletedTrade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) >= r.limit {
		r.logger.Warn("trade buffer full, dropping record",
			zap.String("symbol", trade.Symbol))
		return
	}
	r.buffer = append(r.buffer, trade)
}

func (r *TradeRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *TradeRecorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	b := &pgx.Batch{}
	for _, t := range batch {
		b.Queue(`
			INSERT INTO completed_trades
			(symbol, direction, entry_price, exit_price, size, pnl, reason, opened_at, closed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.Symbol, string(t.Direction), t.EntryPrice, t.ExitPrice, t.Size, t.PnL, string(t.Reason), t.OpenedAt, t.ClosedAt)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()
	for range batch {
		if _, err := br.Exec(); err != nil {
			r.logger.Error("failed to persist completed trade", zap.Error(err))
		}
	}
}
