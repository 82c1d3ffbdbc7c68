package storage

import (
	"context"
	"sync"
	"time"

	"trade-engine/internal/model"
)

// MemoryStateStore is the StateStore used by backtests and tests.
type MemoryStateStore struct {
	mu    sync.Mutex
	snaps map[string]model.Snapshot
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{snaps: make(map[string]model.Snapshot)}
}

func (s *MemoryStateStore) Save(ctx context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Symbol] = snap
	return nil
}

func (s *MemoryStateStore) Load(ctx context.Context, symbol string) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[symbol]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// MemoryTradeSink accumulates completed trades in order.
type MemoryTradeSink struct {
	mu     sync.Mutex
	trades []model.CompletedTrade
}

func NewMemoryTradeSink() *MemoryTradeSink {
	return &MemoryTradeSink{}
}

func (s *MemoryTradeSink) Record(trade model.CompletedTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
}

func (s *MemoryTradeSink) Trades() []model.CompletedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CompletedTrade, len(s.trades))
	copy(out, s.trades)
	return out
}

// MemoryCandleRepository serves a fixed candle slice, oldest first.
type MemoryCandleRepository struct {
	candles []model.Candle
}

func NewMemoryCandleRepository(candles []model.Candle) *MemoryCandleRepository {
	return &MemoryCandleRepository{candles: candles}
}

func (r *MemoryCandleRepository) LoadRecent(ctx context.Context, symbol, period string, since time.Time) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range r.candles {
		if c.Symbol == symbol && c.Period == period && !c.OpenTime.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}
