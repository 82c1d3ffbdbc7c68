package aggregator

import (
	"fmt"
	"sort"
	"time"

	"trade-engine/internal/model"

	"go.uber.org/zap"
)

// UpdateFunc fires on every processed base candle, for every target
// timeframe, whether or not the bucket rolled over.
type UpdateFunc func(period string, c model.Candle, closed bool)

// CloseFunc fires exactly once per completed target candle.
type CloseFunc func(period string, c model.Candle)

// Aggregator converts one symbol's base-resolution candle stream into N
// independently tracked higher-timeframe candles. Buckets are derived purely
// from candle open times, never the wall clock, so the same input sequence
// always yields the same output sequence.
type Aggregator struct {
	symbol     string
	basePeriod string
	baseDur    time.Duration
	targets    map[string]time.Duration
	// order fixes the event order across timeframes (longest period first)
	// so downstream decisions see the same sequence in backtest and live.
	order    []string
	open     map[string]*model.Candle
	onUpdate UpdateFunc
	onClose  CloseFunc
	logger   *zap.Logger
}

func New(symbol, basePeriod string, targetPeriods []string, logger *zap.Logger) (*Aggregator, error) {
	baseDur, err := model.PeriodDuration(basePeriod)
	if err != nil {
		return nil, err
	}

	targets := make(map[string]time.Duration, len(targetPeriods))
	order := make([]string, 0, len(targetPeriods))
	for _, p := range targetPeriods {
		d, err := model.PeriodDuration(p)
		if err != nil {
			return nil, err
		}
		if p != basePeriod && d%baseDur != 0 {
			return nil, fmt.Errorf("period %s is not a multiple of base period %s", p, basePeriod)
		}
		if _, dup := targets[p]; dup {
			continue
		}
		targets[p] = d
		order = append(order, p)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return targets[order[i]] > targets[order[j]]
	})

	return &Aggregator{
		symbol:     symbol,
		basePeriod: basePeriod,
		baseDur:    baseDur,
		targets:    targets,
		order:      order,
		open:       make(map[string]*model.Candle),
		onUpdate:   func(string, model.Candle, bool) {},
		onClose:    func(string, model.Candle) {},
		logger:     logger,
	}, nil
}

func (a *Aggregator) OnUpdate(fn UpdateFunc) { a.onUpdate = fn }
func (a *Aggregator) OnClose(fn CloseFunc)   { a.onClose = fn }

// ProcessBase merges one closed base candle into every target timeframe.
func (a *Aggregator) ProcessBase(base model.Candle) error {
	if err := base.Validate(); err != nil {
		return err
	}

	for _, period := range a.order {
		dur := a.targets[period]
		if period == a.basePeriod {
			// Pass-through, no re-aggregation.
			out := base
			out.Period = period
			out.Closed = true
			a.onUpdate(period, out, true)
			a.onClose(period, out)
			continue
		}
		a.merge(period, dur, base)
	}
	return nil
}

func (a *Aggregator) merge(period string, dur time.Duration, base model.Candle) {
	bucketStart := base.OpenTime.Truncate(dur)

	cur, ok := a.open[period]
	if ok && !cur.OpenTime.Equal(bucketStart) {
		// Bucket rolled over; a gap in the base stream closes the stale
		// candle here rather than on a timer.
		a.closeCandle(period, cur)
		delete(a.open, period)
		cur, ok = nil, false
	}

	if !ok {
		cur = &model.Candle{
			Symbol:   a.symbol,
			Period:   period,
			OpenTime: bucketStart,
			Open:     base.Open,
			High:     base.Open,
			Low:      base.Open,
			Close:    base.Open,
		}
		a.open[period] = cur
	}

	if base.High.GreaterThan(cur.High) {
		cur.High = base.High
	}
	if base.Low.LessThan(cur.Low) {
		cur.Low = base.Low
	}
	cur.Close = base.Close
	cur.Volume = cur.Volume.Add(base.Volume)

	// The final base candle of the bucket completes the target candle
	// immediately; bucket membership is pure open-time arithmetic.
	if base.OpenTime.Add(a.baseDur).Equal(bucketStart.Add(dur)) {
		a.onUpdate(period, *cur, true)
		a.closeCandle(period, cur)
		delete(a.open, period)
		return
	}

	a.onUpdate(period, *cur, false)
}

func (a *Aggregator) closeCandle(period string, c *model.Candle) {
	c.Closed = true
	a.logger.Debug("candle closed",
		zap.String("symbol", a.symbol),
		zap.String("period", period),
		zap.Time("open_time", c.OpenTime),
	)
	a.onClose(period, *c)
}

// Reset clears all per-timeframe state.
func (a *Aggregator) Reset() {
	a.open = make(map[string]*model.Candle)
}
