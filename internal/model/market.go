package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle 代表一根K线
type Candle struct {
	Symbol   string          `json:"symbol" db:"symbol"`
	Period   string          `json:"period" db:"period"` // "1m", "5m", "1h"
	OpenTime time.Time       `json:"t" db:"open_time"`
	Open     decimal.Decimal `json:"o" db:"open"`
	High     decimal.Decimal `json:"h" db:"high"`
	Low      decimal.Decimal `json:"l" db:"low"`
	Close    decimal.Decimal `json:"c" db:"close"`
	Volume   decimal.Decimal `json:"v" db:"volume"`
	Closed   bool            `json:"closed" db:"-"`
}

// Validate rejects malformed candles at the boundary instead of letting them
// into the aggregation path.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle missing symbol")
	}
	if c.OpenTime.IsZero() {
		return fmt.Errorf("candle missing open time")
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return fmt.Errorf("candle low %s above open/close", c.Low)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("candle high %s below open/close", c.High)
	}
	return nil
}

var periodDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// PeriodDuration resolves a period string like "5m" or "1h".
func PeriodDuration(period string) (time.Duration, error) {
	d, ok := periodDurations[period]
	if !ok {
		return 0, fmt.Errorf("unknown period: %s", period)
	}
	return d, nil
}
