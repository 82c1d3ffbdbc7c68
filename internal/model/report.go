package model

import (
	"github.com/shopspring/decimal"
)

// BacktestReport 回测结果报告
type BacktestReport struct {
	Symbol         string           `json:"symbol"`
	TotalTrades    int              `json:"total_trades"`
	WinRate        float64          `json:"win_rate"`
	TotalReturn    decimal.Decimal  `json:"total_return"`
	TotalProfit    decimal.Decimal  `json:"total_profit"`
	MaxDrawdown    float64          `json:"max_drawdown"`
	SharpRatio     float64          `json:"sharp_ratio"`
	InitialBalance decimal.Decimal  `json:"initial_balance"`
	FinalBalance   decimal.Decimal  `json:"final_balance"`
	Signals        []Signal         `json:"signals"`
	TradesLog      []CompletedTrade `json:"trades_log"`
}
