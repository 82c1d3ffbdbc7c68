// Package position owns the single logical position per trading pair and its
// FLAT -> ENTERING -> OPEN -> CLOSING -> FLAT state machine.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"trade-engine/internal/gateway"
	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type State string

const (
	StateFlat     State = "flat"
	StateEntering State = "entering"
	StateOpen     State = "open"
	StateClosing  State = "closing"
)

var (
	// ErrPositionExists rejects a second concurrent entry for a symbol.
	ErrPositionExists = errors.New("position already exists")
	// ErrStopWorse rejects a stop update that would loosen protection.
	ErrStopWorse = errors.New("stop update is less protective")
	// ErrNotOpen rejects operations that require an open position.
	ErrNotOpen = errors.New("no open position")
)

type Config struct {
	Equity       decimal.Decimal
	RiskPerTrade decimal.Decimal // fraction of equity risked per trade
	TrailStartR  float64         // R multiples of initial risk before trailing activates
	TrailDistR   float64         // ATR multiple between extreme and trailed stop
}

// Lifecycle drives one symbol's position. Not safe for concurrent use: the
// owning symbol worker calls it strictly in candle-arrival order, which the
// trailing ratchet depends on.
type Lifecycle struct {
	symbol      string
	state       State
	pos         *model.Position
	initialRisk decimal.Decimal // per-unit distance from entry to initial stop
	cfg         Config
	gw          gateway.ExchangeGateway
	logger      *zap.Logger
}

func NewLifecycle(symbol string, cfg Config, gw gateway.ExchangeGateway, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		symbol: symbol,
		state:  StateFlat,
		cfg:    cfg,
		gw:     gw,
		logger: logger,
	}
}

func (l *Lifecycle) State() State { return l.state }

// Position returns a copy of the live position, or nil when flat.
func (l *Lifecycle) Position() *model.Position {
	if l.pos == nil {
		return nil
	}
	cp := *l.pos
	return &cp
}

// OpenFromSignal attempts FLAT -> ENTERING -> OPEN. A gateway failure reverts
// to FLAT with no side effects; transient errors are surfaced retryable.
func (l *Lifecycle) OpenFromSignal(ctx context.Context, sig model.Signal, at time.Time) error {
	if l.state != StateFlat {
		return ErrPositionExists
	}

	risk := sig.EntryPrice.Sub(sig.StopLoss).Abs()
	if risk.IsZero() {
		return fmt.Errorf("signal has zero risk distance")
	}
	size := l.cfg.Equity.Mul(l.cfg.RiskPerTrade).Div(risk)
	if size.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("computed size %s is not positive", size)
	}

	l.state = StateEntering
	fill, err := l.gw.PlaceEntry(ctx, l.symbol, sig.Direction, size, sig.StopLoss, sig.EntryPrice)
	if err != nil {
		l.state = StateFlat
		return fmt.Errorf("entry not confirmed: %w", err)
	}

	l.pos = &model.Position{
		Symbol:         l.symbol,
		Direction:      sig.Direction,
		EntryPrice:     fill.Price,
		Size:           fill.Size,
		StopLoss:       sig.StopLoss,
		ExtremePrice:   fill.Price,
		TrailingActive: false,
		OpenedAt:       at,
	}
	l.initialRisk = fill.Price.Sub(sig.StopLoss).Abs()
	l.state = StateOpen

	l.logger.Info("position opened",
		zap.String("symbol", l.symbol),
		zap.String("direction", string(sig.Direction)),
		zap.String("entry", fill.Price.String()),
		zap.String("size", fill.Size.String()),
		zap.String("stop", sig.StopLoss.String()),
	)
	return nil
}

// Adopt installs an exchange-reported position without re-entering. The
// snapshot supplies only the fields the exchange cannot report.
func (l *Lifecycle) Adopt(pos model.Position, extreme decimal.Decimal, trailing bool) {
	cp := pos
	if extreme.IsZero() {
		extreme = pos.EntryPrice
	}
	cp.ExtremePrice = extreme
	cp.TrailingActive = trailing
	l.pos = &cp
	l.initialRisk = pos.EntryPrice.Sub(pos.StopLoss).Abs()
	l.state = StateOpen

	l.logger.Info("position adopted",
		zap.String("symbol", l.symbol),
		zap.String("direction", string(pos.Direction)),
		zap.String("entry", pos.EntryPrice.String()),
		zap.Bool("trailing", trailing),
	)
}

// Update applies one closed candle to an open position: stop breach check,
// extreme tracking, trailing activation and ratchet. Returns the completed
// trade when the position closed.
func (l *Lifecycle) Update(ctx context.Context, c model.Candle, atr float64) (*model.CompletedTrade, error) {
	if l.state != StateOpen {
		return nil, nil
	}

	// Worst case inside the candle is evaluated against the stop carried in
	// from the previous candle; a new extreme on the same candle cannot save
	// a breached stop.
	if l.stopBreached(c) {
		return l.close(ctx, l.pos.StopLoss, c.OpenTime, model.CloseReasonStop)
	}

	long := l.pos.Direction == model.DirectionLong
	if long && c.High.GreaterThan(l.pos.ExtremePrice) {
		l.pos.ExtremePrice = c.High
	}
	if !long && c.Low.LessThan(l.pos.ExtremePrice) {
		l.pos.ExtremePrice = c.Low
	}

	if !l.pos.TrailingActive && l.trailStartReached() {
		l.pos.TrailingActive = true
		l.logger.Info("trailing activated",
			zap.String("symbol", l.symbol),
			zap.String("extreme", l.pos.ExtremePrice.String()),
		)
	}

	if l.pos.TrailingActive && !math.IsNaN(atr) {
		if err := l.ratchet(ctx, atr); err != nil && !gateway.IsTransient(err) {
			return nil, err
		}
	}
	return nil, nil
}

func (l *Lifecycle) stopBreached(c model.Candle) bool {
	if l.pos.Direction == model.DirectionLong {
		return c.Low.LessThanOrEqual(l.pos.StopLoss)
	}
	return c.High.GreaterThanOrEqual(l.pos.StopLoss)
}

func (l *Lifecycle) trailStartReached() bool {
	needed := decimal.NewFromFloat(l.cfg.TrailStartR).Mul(l.initialRisk)
	if l.pos.Direction == model.DirectionLong {
		return l.pos.ExtremePrice.Sub(l.pos.EntryPrice).GreaterThanOrEqual(needed)
	}
	return l.pos.EntryPrice.Sub(l.pos.ExtremePrice).GreaterThanOrEqual(needed)
}

// ratchet moves the stop toward the extreme, never away from it. The gateway
// is updated first; the in-memory stop only moves once the exchange
// confirmed, so a transient failure retries naturally on the next candle.
func (l *Lifecycle) ratchet(ctx context.Context, atr float64) error {
	dist := decimal.NewFromFloat(l.cfg.TrailDistR * atr)

	var candidate decimal.Decimal
	improves := false
	if l.pos.Direction == model.DirectionLong {
		candidate = l.pos.ExtremePrice.Sub(dist)
		improves = candidate.GreaterThan(l.pos.StopLoss)
	} else {
		candidate = l.pos.ExtremePrice.Add(dist)
		improves = candidate.LessThan(l.pos.StopLoss)
	}
	if !improves {
		return nil
	}

	if err := l.gw.UpdateStop(ctx, l.symbol, candidate); err != nil {
		l.logger.Warn("stop update failed",
			zap.String("symbol", l.symbol),
			zap.String("candidate", candidate.String()),
			zap.Error(err),
		)
		return err
	}

	l.pos.StopLoss = candidate
	l.logger.Debug("stop trailed",
		zap.String("symbol", l.symbol),
		zap.String("stop", candidate.String()),
	)
	return nil
}

// UpdateStopManual applies an externally requested stop move, rejecting any
// move against the protective direction.
func (l *Lifecycle) UpdateStopManual(ctx context.Context, newStop decimal.Decimal) error {
	if l.state != StateOpen {
		return ErrNotOpen
	}
	if l.pos.Direction == model.DirectionLong && newStop.LessThan(l.pos.StopLoss) {
		return ErrStopWorse
	}
	if l.pos.Direction == model.DirectionShort && newStop.GreaterThan(l.pos.StopLoss) {
		return ErrStopWorse
	}
	if err := l.gw.UpdateStop(ctx, l.symbol, newStop); err != nil {
		return err
	}
	l.pos.StopLoss = newStop
	return nil
}

// CloseManual closes the position at the given price.
func (l *Lifecycle) CloseManual(ctx context.Context, price decimal.Decimal, at time.Time) (*model.CompletedTrade, error) {
	if l.state != StateOpen {
		return nil, ErrNotOpen
	}
	return l.close(ctx, price, at, model.CloseReasonManual)
}

// CloseOnSignal closes the position because the strategy flipped.
func (l *Lifecycle) CloseOnSignal(ctx context.Context, price decimal.Decimal, at time.Time) (*model.CompletedTrade, error) {
	if l.state != StateOpen {
		return nil, ErrNotOpen
	}
	return l.close(ctx, price, at, model.CloseReasonSignal)
}

func (l *Lifecycle) close(ctx context.Context, price decimal.Decimal, at time.Time, reason model.CloseReason) (*model.CompletedTrade, error) {
	l.state = StateClosing
	res, err := l.gw.ClosePosition(ctx, l.symbol, price)
	if err != nil {
		// Revert to the prior stable state; the caller retries or escalates.
		l.state = StateOpen
		return nil, fmt.Errorf("close not confirmed: %w", err)
	}

	pos := *l.pos
	trade := &model.CompletedTrade{
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  res.Price,
		Size:       pos.Size,
		PnL:        pos.UnrealizedPnL(res.Price),
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
	}

	l.pos = nil
	l.initialRisk = decimal.Zero
	l.state = StateFlat

	l.logger.Info("position closed",
		zap.String("symbol", l.symbol),
		zap.String("exit", res.Price.String()),
		zap.String("pnl", trade.PnL.String()),
		zap.String("reason", string(reason)),
	)
	return trade, nil
}
