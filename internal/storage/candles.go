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

type PgCandleRepository struct {
	pool *pgxpool.Pool
}

func NewPgCandleRepository(pool *pgxpool.Pool) *PgCandleRepository {
	return &PgCandleRepository{pool: pool}
}

func (r *PgCandleRepository) LoadRecent(ctx context.Context, symbol, period string, since time.Time) ([]model.Candle, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT open_time, symbol, period, open, high, low, close, volume
		FROM klines
		WHERE symbol = $1 AND period = $2 AND open_time >= $3
		ORDER BY open_time ASC`,
		symbol, period, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.OpenTime, &c.Symbol, &c.Period, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Closed = true
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LoadRange fetches closed candles in [start, end], oldest first. Used by the
// backtest API.
func (r *PgCandleRepository) LoadRange(ctx context.Context, symbol, period string, start, end time.Time) ([]model.Candle, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT open_time, symbol, period, open, high, low, close, volume
		FROM klines
		WHERE symbol = $1 AND period = $2 AND open_time BETWEEN $3 AND $4
		ORDER BY open_time ASC`,
		symbol, period, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.OpenTime, &c.Symbol, &c.Period, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Closed = true
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// CandleRecorder batches closed candles toward the klines table. Add never
// blocks the decision path; a full buffer drops the candle with a log line.
// Upsert keeps redelivered candles from a reconnecting feed harmless.
type CandleRecorder struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	buffer []model.Candle
	limit  int
}

func NewCandleRecorder(pool *pgxpool.Pool, logger *zap.Logger, interval time.Duration, limit int) *CandleRecorder {
	return &CandleRecorder{
		pool:     pool,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}
}

func (r *CandleRecorder) Add(c model.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) >= r.limit {
		r.logger.Warn("kline buffer full, dropping candle",
			zap.String("symbol", c.Symbol), zap.String("period", c.Period))
		return
	}
	r.buffer = append(r.buffer, c)
}

func (r *CandleRecorder) Run(ctx context.Context) {
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

func (r *CandleRecorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	b := &pgx.Batch{}
	for _, c := range batch {
		b.Queue(`
			INSERT INTO klines (symbol, period, open_time, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol, period, open_time) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, volume = EXCLUDED.volume`,
			c.Symbol, c.Period, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()
	for range batch {
		if _, err := br.Exec(); err != nil {
			r.logger.Error("failed to persist candle", zap.Error(err))
		}
	}
}
