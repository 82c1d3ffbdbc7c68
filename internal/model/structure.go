package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend is process-wide state scoped to one (symbol, structural timeframe).
type Trend string

const (
	TrendNone    Trend = "none"
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
)

type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// Swing is a confirmed pivot. Confirmation lags formation by the configured
// lookback, so Index always refers to a candle at least lookback bars in the
// past. Immutable once confirmed.
type Swing struct {
	Price decimal.Decimal `json:"price"`
	Index int             `json:"index"`
	Kind  SwingKind       `json:"kind"`
	Time  time.Time       `json:"time"`
}

type StructureEventKind string

const (
	// BOS: close beyond the latest opposing swing in the direction of the
	// prevailing trend.
	EventBOS StructureEventKind = "BOS"
	// CHoCH: the same break against the prevailing trend.
	EventCHoCH StructureEventKind = "CHoCH"
)

type StructureEvent struct {
	Kind      StructureEventKind `json:"kind"`
	Direction Direction          `json:"direction"`
	Price     decimal.Decimal    `json:"price"`
	Index     int                `json:"index"`
	Time      time.Time          `json:"time"`
}

// OrderBlock is the extremal candle of the leg preceding a structure break.
// Never mutated; evicted by recency.
type OrderBlock struct {
	Direction   Direction       `json:"direction"`
	Top         decimal.Decimal `json:"top"`
	Bottom      decimal.Decimal `json:"bottom"`
	OriginIndex int             `json:"origin_index"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Overlaps reports whether the candle's range touches the block's band.
func (b OrderBlock) Overlaps(c Candle) bool {
	return c.Low.LessThanOrEqual(b.Top) && c.High.GreaterThanOrEqual(b.Bottom)
}
