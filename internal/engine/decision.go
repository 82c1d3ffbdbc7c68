// Package engine orchestrates aggregation, signal detection and the position
// lifecycle. One DecisionEngine code path serves live trading, backtests and
// the recovery catch-up replay: anything that could make those paths diverge
// (wall-clock time, map iteration order, partial candles) stays out of it.
package engine

import (
	"context"
	"fmt"
	"time"

	"trade-engine/internal/aggregator"
	"trade-engine/internal/detector"
	"trade-engine/internal/gateway"
	"trade-engine/internal/infrastructure"
	"trade-engine/internal/model"
	"trade-engine/internal/position"
	"trade-engine/internal/storage"
	"trade-engine/internal/structure"

	"go.uber.org/zap"
)

// Observers are optional callbacks toward a UI or event bus. The engine
// functions correctly with none attached.
type Observers struct {
	OnCandle   func(period string, c model.Candle, closed bool)
	OnSignal   func(sig model.Signal)
	OnPosition func(pos *model.Position)
	OnTrade    func(trade model.CompletedTrade)
}

type Config struct {
	Symbol           string
	BasePeriod       string
	StructuralPeriod string
	FilterPeriod     string
	SwingLookback    int
	OBRetention      int
	Detector         detector.Config
	Position         position.Config
	ConfigHash       string
}

// Engine drives one symbol. Not safe for concurrent use; the owning worker
// feeds it candle-close events strictly in order.
type Engine struct {
	cfg   Config
	agg   *aggregator.Aggregator
	det   *detector.Detector
	lc    *position.Lifecycle
	store storage.StateStore
	sink  storage.TradeSink
	obs   Observers

	// lastBase dedups the base stream by open time; a reconnecting feed may
	// redeliver candles.
	lastBase time.Time
	pending  *model.Signal

	// suppressEntries: manage the existing position but open nothing new
	// (recovery catch-up). warmup additionally skips lifecycle updates and
	// snapshot writes while structural state is rebuilt from history.
	suppressEntries bool
	warmup          bool

	ctx   context.Context
	cbErr error

	logger *zap.Logger
}

func New(cfg Config, gw gateway.ExchangeGateway, store storage.StateStore, sink storage.TradeSink, obs Observers, logger *zap.Logger) (*Engine, error) {
	periods := []string{cfg.BasePeriod, cfg.StructuralPeriod, cfg.FilterPeriod}
	agg, err := aggregator.New(cfg.Symbol, cfg.BasePeriod, periods, logger)
	if err != nil {
		return nil, err
	}

	analyzer := structure.NewAnalyzer(cfg.Symbol, cfg.StructuralPeriod, cfg.SwingLookback, cfg.OBRetention, logger)
	det := detector.New(cfg.Symbol, cfg.Detector, analyzer, logger)
	lc := position.NewLifecycle(cfg.Symbol, cfg.Position, gw, logger)

	e := &Engine{
		cfg:    cfg,
		agg:    agg,
		det:    det,
		lc:     lc,
		store:  store,
		sink:   sink,
		obs:    obs,
		logger: logger,
	}

	agg.OnUpdate(func(period string, c model.Candle, closed bool) {
		if e.obs.OnCandle != nil && !e.warmup {
			e.obs.OnCandle(period, c, closed)
		}
	})
	agg.OnClose(func(period string, c model.Candle) {
		if err := e.onClosed(period, c); err != nil && e.cbErr == nil {
			e.cbErr = err
		}
	})

	return e, nil
}

func (e *Engine) Symbol() string                 { return e.cfg.Symbol }
func (e *Engine) Position() *model.Position      { return e.lc.Position() }
func (e *Engine) State() position.State          { return e.lc.State() }
func (e *Engine) SetSuppressEntries(v bool)      { e.suppressEntries = v }
func (e *Engine) setWarmup(v bool)               { e.warmup = v }
func (e *Engine) Lifecycle() *position.Lifecycle { return e.lc }

// ProcessBase runs one decision cycle for one base candle. The returned error
// is fatal for the symbol worker (persistence failure, invariant violation);
// invalid or duplicate candles are dropped and logged, not escalated.
func (e *Engine) ProcessBase(ctx context.Context, c model.Candle) error {
	if err := c.Validate(); err != nil {
		infrastructure.FeedDrops.WithLabelValues(e.cfg.Symbol, "invalid").Inc()
		e.logger.Warn("dropping invalid candle", zap.Error(err))
		return nil
	}
	if !e.lastBase.IsZero() && !c.OpenTime.After(e.lastBase) {
		infrastructure.FeedDrops.WithLabelValues(e.cfg.Symbol, "duplicate").Inc()
		e.logger.Debug("dropping duplicate candle",
			zap.String("symbol", e.cfg.Symbol),
			zap.Time("open_time", c.OpenTime),
		)
		return nil
	}
	e.lastBase = c.OpenTime

	e.ctx = ctx
	e.cbErr = nil
	if err := e.agg.ProcessBase(c); err != nil {
		return err
	}
	if e.cbErr != nil {
		return e.cbErr
	}

	if e.warmup {
		return nil
	}
	return e.persist(ctx, c.OpenTime)
}

func (e *Engine) onClosed(period string, c model.Candle) error {
	infrastructure.CandleCloseRate.WithLabelValues(e.cfg.Symbol, period).Inc()

	if period == e.cfg.FilterPeriod {
		e.det.OnFilterCandle(c)
	}
	if period != e.cfg.StructuralPeriod {
		return nil
	}

	sig, atr := e.det.OnStructuralCandle(c)

	if !e.warmup {
		trade, err := e.lc.Update(e.ctx, c, atr)
		switch {
		case err == nil:
		case gateway.IsTransient(err):
			// The lifecycle reverted to OPEN; the breach re-fires next candle.
			e.logger.Warn("position update deferred on transient gateway error",
				zap.String("symbol", e.cfg.Symbol), zap.Error(err))
		default:
			return fmt.Errorf("position update: %w", err)
		}
		if trade != nil {
			e.emitTrade(*trade)
		}
	}

	if sig != nil {
		// A fresh signal supersedes an unconsumed older one.
		e.pending = sig
		if !e.warmup {
			infrastructure.SignalRate.WithLabelValues(e.cfg.Symbol, string(sig.Direction)).Inc()
			if e.obs.OnSignal != nil {
				e.obs.OnSignal(*sig)
			}
		}
	}

	if e.warmup {
		return nil
	}
	return e.tryEntry(c)
}

// tryEntry consumes the pending signal: expired ones are silently discarded,
// transient gateway failures keep it pending for the next candle.
func (e *Engine) tryEntry(c model.Candle) error {
	if e.pending == nil || e.suppressEntries {
		return nil
	}
	if e.pending.Expired(c.OpenTime) {
		e.logger.Debug("signal expired unconsumed",
			zap.String("symbol", e.cfg.Symbol),
			zap.Time("valid_until", e.pending.ValidUntil),
		)
		e.pending = nil
		return nil
	}
	if e.lc.State() != position.StateFlat {
		return nil
	}

	err := e.lc.OpenFromSignal(e.ctx, *e.pending, c.OpenTime)
	switch {
	case err == nil:
		e.pending = nil
		infrastructure.OpenPositions.Inc()
		if e.obs.OnPosition != nil {
			e.obs.OnPosition(e.lc.Position())
		}
	case gateway.IsTransient(err):
		e.logger.Warn("entry deferred on transient gateway error",
			zap.String("symbol", e.cfg.Symbol), zap.Error(err))
	default:
		e.logger.Warn("entry rejected, discarding signal",
			zap.String("symbol", e.cfg.Symbol), zap.Error(err))
		e.pending = nil
	}
	return nil
}

func (e *Engine) emitTrade(trade model.CompletedTrade) {
	infrastructure.OpenPositions.Dec()
	if e.sink != nil {
		e.sink.Record(trade)
	}
	if e.obs.OnTrade != nil {
		e.obs.OnTrade(trade)
	}
	if e.obs.OnPosition != nil {
		e.obs.OnPosition(nil)
	}
}

// persist writes the snapshot; failure is fatal for this symbol's worker:
// continuing with state we cannot durably record would lose track of a live
// position after the next crash.
func (e *Engine) persist(ctx context.Context, processed time.Time) error {
	snap := model.Snapshot{
		Symbol:        e.cfg.Symbol,
		Position:      e.lc.Position(),
		LastProcessed: processed,
		ConfigHash:    e.cfg.ConfigHash,
	}
	if snap.Position != nil {
		snap.ExtremePrice = snap.Position.ExtremePrice
		snap.TrailingActive = snap.Position.TrailingActive
	}

	if err := e.store.Save(ctx, snap); err != nil {
		infrastructure.SnapshotFailures.WithLabelValues(e.cfg.Symbol).Inc()
		return fmt.Errorf("snapshot persistence failed for %s: %w", e.cfg.Symbol, err)
	}
	return nil
}

// CloseManual closes any open position at the given mark, on user request.
func (e *Engine) CloseManual(ctx context.Context, mark model.Candle) error {
	e.ctx = ctx
	trade, err := e.lc.CloseManual(ctx, mark.Close, mark.OpenTime)
	if err != nil {
		return err
	}
	if trade != nil {
		e.emitTrade(*trade)
	}
	return e.persist(ctx, e.lastBase)
}

// Flush persists the final snapshot during shutdown.
func (e *Engine) Flush(ctx context.Context) error {
	if e.lastBase.IsZero() {
		return nil
	}
	return e.persist(ctx, e.lastBase)
}
