package engine

import (
	"context"
	"fmt"
	"time"

	"trade-engine/internal/gateway"
	"trade-engine/internal/infrastructure"
	"trade-engine/internal/model"
	"trade-engine/internal/storage"

	"go.uber.org/zap"
)

// RecoveryCoordinator rebuilds a symbol's in-memory state after a restart:
// adopt the exchange's live position (authoritative), rebuild structural
// state from candle history, then replay everything that happened while the
// process was down through the normal decision path with new entries
// suppressed. Only then does the worker switch to live processing.
type RecoveryCoordinator struct {
	eng    *Engine
	repo   storage.CandleRepository
	store  storage.StateStore
	gw     gateway.ExchangeGateway
	logger *zap.Logger
}

func NewRecoveryCoordinator(eng *Engine, repo storage.CandleRepository, store storage.StateStore, gw gateway.ExchangeGateway, logger *zap.Logger) *RecoveryCoordinator {
	return &RecoveryCoordinator{
		eng:    eng,
		repo:   repo,
		store:  store,
		gw:     gw,
		logger: logger,
	}
}

func (r *RecoveryCoordinator) Recover(ctx context.Context) error {
	symbol := r.eng.Symbol()

	snap, err := r.store.Load(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	live, err := r.gw.LivePosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("query live position: %w", err)
	}

	if live != nil {
		// The exchange is the source of truth for the position itself; the
		// snapshot only contributes fields the exchange cannot report.
		extreme := live.EntryPrice
		trailing := false
		if snap != nil {
			if !snap.ExtremePrice.IsZero() {
				extreme = snap.ExtremePrice
			}
			trailing = snap.TrailingActive
		}
		r.eng.Lifecycle().Adopt(*live, extreme, trailing)
		infrastructure.OpenPositions.Inc()
	} else if snap != nil && snap.Position != nil {
		r.logger.Warn("snapshot had a position but the exchange reports flat, dropping it",
			zap.String("symbol", symbol))
	}

	if snap != nil && snap.ConfigHash != "" && snap.ConfigHash != r.eng.cfg.ConfigHash {
		r.logger.Info("engine configuration changed, structural state will be rebuilt",
			zap.String("symbol", symbol),
			zap.String("old_hash", snap.ConfigHash),
			zap.String("new_hash", r.eng.cfg.ConfigHash),
		)
	}

	var lastProcessed time.Time
	if snap != nil {
		lastProcessed = snap.LastProcessed
	}

	since := r.warmupSince(lastProcessed)
	candles, err := r.repo.LoadRecent(ctx, symbol, r.eng.cfg.BasePeriod, since)
	if err != nil {
		return fmt.Errorf("load catch-up candles: %w", err)
	}

	r.logger.Info("starting catch-up replay",
		zap.String("symbol", symbol),
		zap.Int("candles", len(candles)),
		zap.Time("since", since),
		zap.Time("last_processed", lastProcessed),
	)

	r.eng.SetSuppressEntries(true)
	defer r.eng.SetSuppressEntries(false)

	for i, c := range candles {
		// History up to the last processed candle only rebuilds structural
		// state; the engine already acted on it before the restart.
		warm := !lastProcessed.IsZero() && !c.OpenTime.After(lastProcessed)
		r.eng.setWarmup(warm)
		if err := r.eng.ProcessBase(ctx, c); err != nil {
			r.eng.setWarmup(false)
			return fmt.Errorf("catch-up replay: %w", err)
		}
		infrastructure.ReplayProgress.WithLabelValues(symbol).Set(float64(len(candles) - i - 1))
	}
	r.eng.setWarmup(false)

	r.logger.Info("catch-up replay complete, switching to live",
		zap.String("symbol", symbol))
	return nil
}

// warmupSince extends the replay window back far enough to rebuild swing,
// order-block and indicator state before the first catch-up candle.
func (r *RecoveryCoordinator) warmupSince(lastProcessed time.Time) time.Time {
	structDur, _ := model.PeriodDuration(r.eng.cfg.StructuralPeriod)
	filterDur, _ := model.PeriodDuration(r.eng.cfg.FilterPeriod)

	bars := r.eng.cfg.Detector.EMASlow
	if r.eng.cfg.Detector.RSIPeriod > bars {
		bars = r.eng.cfg.Detector.RSIPeriod
	}
	if r.eng.cfg.Detector.ATRPeriod > bars {
		bars = r.eng.cfg.Detector.ATRPeriod
	}
	bars = bars*4 + 2

	warmup := filterDur * time.Duration(bars)
	if s := structDur * time.Duration(bars+4*r.eng.cfg.SwingLookback); s > warmup {
		warmup = s
	}

	if lastProcessed.IsZero() {
		// First run: no decisions to catch up on, just indicator warmup
		// from wherever history begins.
		return time.Time{}
	}
	return lastProcessed.Add(-warmup)
}
