// Package structure tracks swing pivots, break-of-structure events and order
// blocks for one (symbol, timeframe) pair. It only ever sees closed candles,
// and every piece of internal state is a function of candle index, so the
// live and backtest paths produce the same events for the same input.
package structure

import (
	"time"

	"trade-engine/internal/model"

	"go.uber.org/zap"
)

// Result is what one closed candle produced.
type Result struct {
	Event    *model.StructureEvent
	NewBlock *model.OrderBlock
	Retests  []model.OrderBlock
	Trend    model.Trend
}

type Analyzer struct {
	symbol   string
	period   string
	lookback int
	retain   int

	// candles holds a bounded window of closed candles; offset is the
	// absolute index of candles[0], so swing and block indices stay stable
	// across trims.
	candles []model.Candle
	offset  int
	trend   model.Trend

	// Latest confirmed, unconsumed swings. A swing triggers at most one
	// break; it is set to nil once consumed.
	swingHigh *model.Swing
	swingLow  *model.Swing

	lastBreak int
	blocks    []model.OrderBlock

	logger *zap.Logger
}

func NewAnalyzer(symbol, period string, lookback, retain int, logger *zap.Logger) *Analyzer {
	if lookback < 1 {
		lookback = 1
	}
	if retain < 1 {
		retain = 1
	}
	return &Analyzer{
		symbol:    symbol,
		period:    period,
		lookback:  lookback,
		retain:    retain,
		trend:     model.TrendNone,
		lastBreak: -1,
		logger:    logger,
	}
}

const maxBuffer = 512

func (a *Analyzer) Trend() model.Trend         { return a.trend }
func (a *Analyzer) Blocks() []model.OrderBlock { return a.blocks }
func (a *Analyzer) CandleCount() int           { return a.offset + len(a.candles) }

func (a *Analyzer) at(i int) model.Candle { return a.candles[i-a.offset] }

// OnClosedCandle advances the analyzer by exactly one confirmed candle.
func (a *Analyzer) OnClosedCandle(c model.Candle) Result {
	a.candles = append(a.candles, c)
	if len(a.candles) > maxBuffer {
		drop := len(a.candles) - maxBuffer
		a.candles = a.candles[drop:]
		a.offset += drop
	}
	i := a.offset + len(a.candles) - 1

	a.confirmPivot(i)

	res := Result{Trend: a.trend}

	if ev, block := a.detectBreak(i, c); ev != nil {
		res.Event = ev
		res.NewBlock = block
		res.Trend = a.trend
	}

	res.Retests = a.detectRetests(c, res.NewBlock)
	return res
}

// confirmPivot checks whether the candle lookback bars back is now a
// confirmed swing. Detection necessarily lags by lookback candles.
func (a *Analyzer) confirmPivot(i int) {
	p := i - a.lookback
	if p-a.lookback < a.offset {
		return
	}

	isHigh, isLow := true, true
	for j := p - a.lookback; j <= p+a.lookback; j++ {
		if j == p {
			continue
		}
		if a.at(j).High.GreaterThan(a.at(p).High) {
			isHigh = false
		}
		if a.at(j).Low.LessThan(a.at(p).Low) {
			isLow = false
		}
	}

	if isHigh {
		a.swingHigh = &model.Swing{
			Price: a.at(p).High,
			Index: p,
			Kind:  model.SwingHigh,
			Time:  a.at(p).OpenTime,
		}
	}
	if isLow {
		a.swingLow = &model.Swing{
			Price: a.at(p).Low,
			Index: p,
			Kind:  model.SwingLow,
			Time:  a.at(p).OpenTime,
		}
	}
}

func (a *Analyzer) detectBreak(i int, c model.Candle) (*model.StructureEvent, *model.OrderBlock) {
	if a.swingHigh != nil && a.swingHigh.Index > a.lastBreak && c.Close.GreaterThan(a.swingHigh.Price) {
		kind := model.EventCHoCH
		if a.trend == model.TrendBullish {
			kind = model.EventBOS
		}
		ev := &model.StructureEvent{
			Kind:      kind,
			Direction: model.DirectionLong,
			Price:     a.swingHigh.Price,
			Index:     i,
			Time:      c.OpenTime,
		}
		block := a.buildBlock(model.DirectionLong, a.swingHigh.Index, i, c.OpenTime)
		a.trend = model.TrendBullish
		a.swingHigh = nil
		a.lastBreak = i
		a.logStructure(ev)
		return ev, block
	}

	if a.swingLow != nil && a.swingLow.Index > a.lastBreak && c.Close.LessThan(a.swingLow.Price) {
		kind := model.EventCHoCH
		if a.trend == model.TrendBearish {
			kind = model.EventBOS
		}
		ev := &model.StructureEvent{
			Kind:      kind,
			Direction: model.DirectionShort,
			Price:     a.swingLow.Price,
			Index:     i,
			Time:      c.OpenTime,
		}
		block := a.buildBlock(model.DirectionShort, a.swingLow.Index, i, c.OpenTime)
		a.trend = model.TrendBearish
		a.swingLow = nil
		a.lastBreak = i
		a.logStructure(ev)
		return ev, block
	}

	return nil, nil
}

// buildBlock finds the extremal candle of the leg between the broken swing
// and the breaking candle: lowest low for a bullish break, highest high for a
// bearish one. The new block is retained and older ones evicted by recency.
func (a *Analyzer) buildBlock(dir model.Direction, from, to int, at time.Time) *model.OrderBlock {
	if from < a.offset {
		from = a.offset
	}
	origin := from
	for j := from; j <= to; j++ {
		if dir == model.DirectionLong {
			if a.at(j).Low.LessThan(a.at(origin).Low) {
				origin = j
			}
		} else {
			if a.at(j).High.GreaterThan(a.at(origin).High) {
				origin = j
			}
		}
	}

	block := model.OrderBlock{
		Direction:   dir,
		Top:         a.at(origin).High,
		Bottom:      a.at(origin).Low,
		OriginIndex: origin,
		CreatedAt:   at,
	}

	a.blocks = append(a.blocks, block)
	if len(a.blocks) > a.retain {
		a.blocks = a.blocks[len(a.blocks)-a.retain:]
	}
	return &block
}

func (a *Analyzer) detectRetests(c model.Candle, created *model.OrderBlock) []model.OrderBlock {
	var retests []model.OrderBlock
	for _, b := range a.blocks {
		if created != nil && b.OriginIndex == created.OriginIndex && b.Direction == created.Direction {
			// The block created on this very candle cannot be retested yet.
			continue
		}
		if b.Overlaps(c) {
			retests = append(retests, b)
		}
	}
	return retests
}

func (a *Analyzer) logStructure(ev *model.StructureEvent) {
	a.logger.Debug("structure event",
		zap.String("symbol", a.symbol),
		zap.String("period", a.period),
		zap.String("kind", string(ev.Kind)),
		zap.String("direction", string(ev.Direction)),
		zap.String("price", ev.Price.String()),
		zap.Int("index", ev.Index),
	)
}

// Reset drops all accumulated structural state, e.g. after a configuration
// change that invalidates it.
func (a *Analyzer) Reset() {
	a.candles = nil
	a.offset = 0
	a.trend = model.TrendNone
	a.swingHigh = nil
	a.swingLow = nil
	a.lastBreak = -1
	a.blocks = nil
}
