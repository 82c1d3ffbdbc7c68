package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"trade-engine/internal/engine"
	"trade-engine/internal/feed"
	"trade-engine/internal/gateway"
	"trade-engine/internal/model"
	"trade-engine/internal/storage"

	"go.uber.org/zap"
)

// NormalizeSymbol unifies different exchange symbol formats into a standard one (e.g. BTCUSDT)
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// Worker owns one symbol end to end: recovery, the live candle loop and the
// manual-close path. The engine itself is single-threaded; the mutex
// serializes the feed loop against API-triggered closes.
type Worker struct {
	symbol string
	period string
	eng    *engine.Engine
	src    feed.Source
	repo   storage.CandleRepository
	store  storage.StateStore
	gw     gateway.ExchangeGateway
	klines *storage.CandleRecorder
	logger *zap.Logger

	mu   sync.Mutex
	last model.Candle
}

// Run recovers state and then consumes the live feed until the context is
// cancelled or the engine reports a fatal error.
func (w *Worker) Run(ctx context.Context) error {
	rec := engine.NewRecoveryCoordinator(w.eng, w.repo, w.store, w.gw, w.logger)
	if err := rec.Recover(ctx); err != nil {
		return fmt.Errorf("recovery for %s: %w", w.symbol, err)
	}

	ch, err := w.src.Subscribe(ctx, w.symbol, w.period)
	if err != nil {
		return fmt.Errorf("feed subscribe for %s: %w", w.symbol, err)
	}
	w.logger.Info("symbol worker live", zap.String("symbol", w.symbol))

	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return w.eng.Flush(sctx)
		case c, ok := <-ch:
			if !ok {
				return fmt.Errorf("feed closed for %s", w.symbol)
			}
			w.mu.Lock()
			err := w.eng.ProcessBase(ctx, c)
			if err == nil {
				w.last = c
			}
			w.mu.Unlock()
			if err != nil {
				return fmt.Errorf("engine halted for %s: %w", w.symbol, err)
			}
		}
	}
}

func (w *Worker) status() (string, *model.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.eng.State()), w.eng.Position()
}

func (w *Worker) closeManual(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last.OpenTime.IsZero() {
		return fmt.Errorf("no market data yet for %s", w.symbol)
	}
	return w.eng.CloseManual(ctx, w.last)
}

// Workers manages one Worker per configured symbol and implements the
// api.EngineController surface.
type Workers struct {
	byID  map[string]*Worker
	order []string
}

func (ws *Workers) Symbols() []string { return ws.order }

func (ws *Workers) Status(symbol string) (string, *model.Position, bool) {
	w, ok := ws.byID[NormalizeSymbol(symbol)]
	if !ok {
		return "", nil, false
	}
	state, pos := w.status()
	return state, pos, true
}

func (ws *Workers) CloseManual(ctx context.Context, symbol string) error {
	w, ok := ws.byID[NormalizeSymbol(symbol)]
	if !ok {
		return fmt.Errorf("unknown symbol %s", symbol)
	}
	return w.closeManual(ctx)
}

// startWorkers builds one engine per symbol with observers that publish
// candle, signal, position and trade events to the ENGINE stream, and
// launches the per-symbol loops. A fatal worker error stops that symbol only.
func (a *App) startWorkers(ctx context.Context) error {
	src, err := a.newFeed()
	if err != nil {
		return err
	}

	repo := storage.NewPgCandleRepository(a.DB)
	store := storage.NewPgStateStore(a.DB)

	a.Workers = &Workers{byID: make(map[string]*Worker)}
	for _, raw := range strings.Split(a.Config.Symbols, ",") {
		symbol := NormalizeSymbol(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		if _, dup := a.Workers.byID[symbol]; dup {
			continue
		}

		w := &Worker{
			symbol: symbol,
			period: a.Config.Engine.BasePeriod,
			src:    src,
			repo:   repo,
			store:  store,
			gw:     a.Gateway,
			klines: a.KlineRecorder,
			logger: a.Logger,
		}

		eng, err := engine.New(
			engine.FromSettings(symbol, a.Config.Engine, a.equity()),
			a.Gateway, store, a.TradeRecorder, a.observersFor(w), a.Logger)
		if err != nil {
			return fmt.Errorf("engine for %s: %w", symbol, err)
		}
		w.eng = eng

		a.Workers.byID[symbol] = w
		a.Workers.order = append(a.Workers.order, symbol)
	}

	if len(a.Workers.byID) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	for _, symbol := range a.Workers.order {
		w := a.Workers.byID[symbol]
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("symbol worker stopped", zap.String("symbol", w.symbol), zap.Error(err))
			}
		}()
	}
	return nil
}

func (a *App) newFeed() (feed.Source, error) {
	switch a.Config.FeedMode {
	case "ws":
		return feed.NewWSFeed(a.Config.FeedURL, a.Logger), nil
	case "poll":
		return feed.NewPollFeed(a.Config.FeedURL, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown feed mode %q", a.Config.FeedMode)
	}
}

func (a *App) observersFor(w *Worker) engine.Observers {
	return engine.Observers{
		OnCandle: func(period string, c model.Candle, closed bool) {
			if closed && w.klines != nil {
				w.klines.Add(c)
			}
			a.publish(fmt.Sprintf("engine.candle.%s.%s", period, c.Symbol), c)
		},
		OnSignal: func(sig model.Signal) {
			a.publish(fmt.Sprintf("engine.signal.%s", sig.Symbol), sig)
		},
		OnPosition: func(pos *model.Position) {
			a.publish(fmt.Sprintf("engine.position.%s", w.symbol), pos)
		},
		OnTrade: func(trade model.CompletedTrade) {
			a.publish(fmt.Sprintf("engine.trade.%s", trade.Symbol), trade)
		},
	}
}

func (a *App) publish(subject string, v interface{}) {
	if a.JS == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		a.Logger.Error("failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := a.JS.PublishAsync(subject, data); err != nil {
		a.Logger.Error("failed to publish to NATS", zap.String("subject", subject), zap.Error(err))
	}
}
