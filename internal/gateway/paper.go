package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperGateway simulates fills in-process: entries fill at the limit price
// adjusted by slippage, closes fill at the requested price. Used by the
// backtester and by paper-trading live mode.
type PaperGateway struct {
	mu        sync.Mutex
	positions map[string]*model.Position
	slippage  decimal.Decimal
	logger    *zap.Logger
}

func NewPaperGateway(logger *zap.Logger) *PaperGateway {
	return &PaperGateway{
		positions: make(map[string]*model.Position),
		slippage:  decimal.NewFromFloat(0.0005), // 0.05% slippage
		logger:    logger,
	}
}

func (g *PaperGateway) PlaceEntry(ctx context.Context, symbol string, dir model.Direction, size, stopLoss, limit decimal.Decimal) (FillResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.positions[symbol]; ok {
		return FillResult{}, fmt.Errorf("position already open for %s", symbol)
	}

	one := decimal.NewFromInt(1)
	var fill decimal.Decimal
	if dir == model.DirectionLong {
		fill = limit.Mul(one.Add(g.slippage))
	} else {
		fill = limit.Mul(one.Sub(g.slippage))
	}

	g.positions[symbol] = &model.Position{
		Symbol:     symbol,
		Direction:  dir,
		EntryPrice: fill,
		Size:       size,
		StopLoss:   stopLoss,
	}

	g.logger.Debug("paper entry filled",
		zap.String("symbol", symbol),
		zap.String("direction", string(dir)),
		zap.String("price", fill.String()),
		zap.String("size", size.String()),
	)

	return FillResult{
		Symbol:    symbol,
		Direction: dir,
		Price:     fill,
		Size:      size,
		FilledAt:  time.Now(),
	}, nil
}

func (g *PaperGateway) ClosePosition(ctx context.Context, symbol string, price decimal.Decimal) (CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[symbol]
	if !ok {
		// Idempotent: closing a flat symbol is a no-op.
		return CloseResult{Symbol: symbol, Price: price, ClosedAt: time.Now()}, nil
	}
	delete(g.positions, symbol)

	return CloseResult{
		Symbol:   symbol,
		Price:    price,
		Size:     pos.Size,
		ClosedAt: time.Now(),
	}, nil
}

func (g *PaperGateway) UpdateStop(ctx context.Context, symbol string, newStop decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	pos.StopLoss = newStop
	return nil
}

func (g *PaperGateway) LivePosition(ctx context.Context, symbol string) (*model.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}
