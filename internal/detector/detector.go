// Package detector turns closed candles into entry signals. A detector uses
// only information available at the close of the candle it is processing:
// it never sees a later candle, so feeding it the same ordered sequence in
// bulk or one at a time yields the same signals.
package detector

import (
	"math"
	"time"

	"trade-engine/internal/indicator"
	"trade-engine/internal/model"
	"trade-engine/internal/structure"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	RSIPeriod   int
	RSILongMax  float64 // long entries require RSI at or below this (pullback)
	RSIShortMin float64 // short entries require RSI at or above this
	ATRPeriod   int
	EMAFast     int
	EMASlow     int
	StopATRMult float64
	RewardRisk  float64 // 0 disables the take-profit level
	Validity    time.Duration
}

// Detector combines indicator values, structural retests and a higher
// filter-timeframe trend check into at most one Signal per closed candle.
type Detector struct {
	symbol   string
	cfg      Config
	analyzer *structure.Analyzer

	// Rolling structural-timeframe window for indicator computation.
	candles []model.Candle
	window  int

	// Filter-timeframe close series for trend alignment.
	filterCloses []float64

	logger *zap.Logger
}

func New(symbol string, cfg Config, analyzer *structure.Analyzer, logger *zap.Logger) *Detector {
	window := cfg.RSIPeriod
	if cfg.ATRPeriod > window {
		window = cfg.ATRPeriod
	}
	if cfg.EMASlow > window {
		window = cfg.EMASlow
	}
	// Head room beyond the longest warmup keeps EMA recursion stable across
	// buffer trims.
	window = window*4 + 2

	return &Detector{
		symbol:   symbol,
		cfg:      cfg,
		analyzer: analyzer,
		window:   window,
		logger:   logger,
	}
}

// OnFilterCandle records a closed candle of the higher filter timeframe.
func (d *Detector) OnFilterCandle(c model.Candle) {
	d.filterCloses = append(d.filterCloses, c.Close.InexactFloat64())
	if len(d.filterCloses) > d.window {
		d.filterCloses = d.filterCloses[1:]
	}
}

// OnStructuralCandle processes one closed structural-timeframe candle. It
// returns the entry signal (nil when no condition holds) and the current ATR,
// which the position lifecycle needs for trailing even when no signal fires.
func (d *Detector) OnStructuralCandle(c model.Candle) (*model.Signal, float64) {
	d.candles = append(d.candles, c)
	if len(d.candles) > d.window {
		d.candles = d.candles[1:]
	}

	res := d.analyzer.OnClosedCandle(c)

	closes := indicator.Closes(d.candles)
	rsi := last(indicator.RSI(closes, d.cfg.RSIPeriod))
	atr := last(indicator.ATR(indicator.Highs(d.candles), indicator.Lows(d.candles), closes, d.cfg.ATRPeriod))

	if res.Trend == model.TrendNone || len(res.Retests) == 0 {
		return nil, atr
	}
	if math.IsNaN(rsi) || math.IsNaN(atr) {
		// Insufficient history degrades to "no signal this cycle".
		return nil, atr
	}

	switch res.Trend {
	case model.TrendBullish:
		if rsi > d.cfg.RSILongMax {
			return nil, atr
		}
		if !d.filterAgrees(model.DirectionLong) {
			return nil, atr
		}
		block, ok := pickRetest(res.Retests, model.DirectionLong)
		if !ok {
			return nil, atr
		}
		return d.buildSignal(c, model.DirectionLong, block, atr), atr

	case model.TrendBearish:
		if rsi < d.cfg.RSIShortMin {
			return nil, atr
		}
		if !d.filterAgrees(model.DirectionShort) {
			return nil, atr
		}
		block, ok := pickRetest(res.Retests, model.DirectionShort)
		if !ok {
			return nil, atr
		}
		return d.buildSignal(c, model.DirectionShort, block, atr), atr
	}

	return nil, atr
}

// filterAgrees checks the higher-timeframe EMA trend. With no filter history
// yet there is no agreement, so no entry.
func (d *Detector) filterAgrees(dir model.Direction) bool {
	fast := last(indicator.EMA(d.filterCloses, d.cfg.EMAFast))
	slow := last(indicator.EMA(d.filterCloses, d.cfg.EMASlow))
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return false
	}
	if dir == model.DirectionLong {
		return fast > slow
	}
	return fast < slow
}

func (d *Detector) buildSignal(c model.Candle, dir model.Direction, block model.OrderBlock, atr float64) *model.Signal {
	pad := decimal.NewFromFloat(d.cfg.StopATRMult * atr)

	var entry, stop decimal.Decimal
	if dir == model.DirectionLong {
		entry = block.Top
		stop = block.Bottom.Sub(pad)
	} else {
		entry = block.Bottom
		stop = block.Top.Add(pad)
	}

	sig := &model.Signal{
		Symbol:     d.symbol,
		Direction:  dir,
		EntryPrice: entry,
		StopLoss:   stop,
		Comment:    "ob retest",
		CreatedAt:  c.OpenTime,
		ValidUntil: c.OpenTime.Add(d.cfg.Validity),
	}

	if d.cfg.RewardRisk > 0 {
		risk := entry.Sub(stop).Abs()
		rr := decimal.NewFromFloat(d.cfg.RewardRisk)
		var tp decimal.Decimal
		if dir == model.DirectionLong {
			tp = entry.Add(risk.Mul(rr))
		} else {
			tp = entry.Sub(risk.Mul(rr))
		}
		sig.TakeProfit = &tp
	}

	d.logger.Debug("signal",
		zap.String("symbol", d.symbol),
		zap.String("direction", string(dir)),
		zap.String("entry", entry.String()),
		zap.String("stop", stop.String()),
		zap.Time("valid_until", sig.ValidUntil),
	)
	return sig
}

// pickRetest returns the most recent retested block matching the direction.
func pickRetest(retests []model.OrderBlock, dir model.Direction) (model.OrderBlock, bool) {
	for i := len(retests) - 1; i >= 0; i-- {
		if retests[i].Direction == dir {
			return retests[i], true
		}
	}
	return model.OrderBlock{}, false
}

func last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}

// Reset drops all rolling state, including the structure analyzer's.
func (d *Detector) Reset() {
	d.candles = nil
	d.filterCloses = nil
	d.analyzer.Reset()
}
