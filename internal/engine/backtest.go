package engine

import (
	"context"
	"math"

	"trade-engine/internal/gateway"
	"trade-engine/internal/model"
	"trade-engine/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Backtester feeds a historical candle sequence through the identical
// decision path the live worker uses, against a paper gateway, and reports
// the usual statistics. Because the path is shared, a bulk run and a live
// candle-at-a-time run over the same sequence produce the same decisions.
type Backtester struct {
	eng     *Engine
	sink    *storage.MemoryTradeSink
	balance decimal.Decimal

	equityCurve []decimal.Decimal
	returns     []float64
	signals     []model.Signal
}

func NewBacktester(cfg Config, initialBalance decimal.Decimal, logger *zap.Logger) (*Backtester, error) {
	sink := storage.NewMemoryTradeSink()
	b := &Backtester{
		sink:    sink,
		balance: initialBalance,
	}

	cfg.Position.Equity = initialBalance
	obs := Observers{
		OnSignal: func(sig model.Signal) { b.signals = append(b.signals, sig) },
	}

	eng, err := New(cfg, gateway.NewPaperGateway(logger), storage.NewMemoryStateStore(), sink, obs, logger)
	if err != nil {
		return nil, err
	}
	b.eng = eng
	return b, nil
}

func (b *Backtester) Run(ctx context.Context, candles []model.Candle) (model.BacktestReport, error) {
	initialBalance := b.balance
	prevEquity := initialBalance
	realized := decimal.Zero
	seen := 0

	for _, c := range candles {
		if err := b.eng.ProcessBase(ctx, c); err != nil {
			return model.BacktestReport{}, err
		}

		trades := b.sink.Trades()
		for ; seen < len(trades); seen++ {
			realized = realized.Add(trades[seen].PnL)
		}

		equity := initialBalance.Add(realized)
		if pos := b.eng.Position(); pos != nil {
			equity = equity.Add(pos.UnrealizedPnL(c.Close))
		}
		b.equityCurve = append(b.equityCurve, equity)

		if !prevEquity.IsZero() {
			ret, _ := equity.Sub(prevEquity).Div(prevEquity).Float64()
			b.returns = append(b.returns, ret)
		}
		prevEquity = equity
	}

	// Final liquidation at the last close so open exposure shows up in the
	// realized numbers.
	if pos := b.eng.Position(); pos != nil && len(candles) > 0 {
		last := candles[len(candles)-1]
		if err := b.eng.CloseManual(ctx, last); err != nil {
			return model.BacktestReport{}, err
		}
		trades := b.sink.Trades()
		for ; seen < len(trades); seen++ {
			realized = realized.Add(trades[seen].PnL)
		}
	}

	finalBalance := initialBalance.Add(realized)
	totalReturn := decimal.Zero
	if !initialBalance.IsZero() {
		totalReturn = finalBalance.Sub(initialBalance).Div(initialBalance)
	}

	trades := b.sink.Trades()
	maxDD, _ := b.calculateMaxDrawdown().Float64()

	return model.BacktestReport{
		Symbol:         b.eng.Symbol(),
		TotalTrades:    len(trades),
		WinRate:        winRate(trades),
		TotalReturn:    totalReturn,
		TotalProfit:    realized,
		MaxDrawdown:    maxDD,
		SharpRatio:     b.calculateSharpeRatio(),
		InitialBalance: initialBalance,
		FinalBalance:   finalBalance,
		Signals:        b.signals,
		TradesLog:      trades,
	}, nil
}

func (b *Backtester) calculateMaxDrawdown() decimal.Decimal {
	if len(b.equityCurve) == 0 {
		return decimal.Zero
	}
	maxEquity := b.equityCurve[0]
	maxDD := decimal.Zero
	for _, equity := range b.equityCurve {
		if equity.GreaterThan(maxEquity) {
			maxEquity = equity
		}
		if maxEquity.IsZero() {
			continue
		}
		dd := maxEquity.Sub(equity).Div(maxEquity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func (b *Backtester) calculateSharpeRatio() float64 {
	if len(b.returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range b.returns {
		sum += r
	}
	avgReturn := sum / float64(len(b.returns))

	var sumSqDiff float64
	for _, r := range b.returns {
		diff := r - avgReturn
		sumSqDiff += diff * diff
	}
	stdDev := math.Sqrt(sumSqDiff / float64(len(b.returns)))

	if stdDev == 0 {
		return 0
	}
	return avgReturn / stdDev
}

func winRate(trades []model.CompletedTrade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}
