package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other trade direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Signal is a one-shot entry suggestion. It is consumed at most once and
// silently discarded once the validity window has passed. All timestamps come
// from candle open times, never the wall clock, so replaying the same candle
// sequence reproduces the same signals.
type Signal struct {
	Symbol     string           `json:"symbol"`
	Direction  Direction        `json:"direction"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	StopLoss   decimal.Decimal  `json:"stop_loss"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Comment    string           `json:"comment,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ValidUntil time.Time        `json:"valid_until"`
}

// Expired reports whether the signal is past its validity window at the given
// candle time.
func (s Signal) Expired(at time.Time) bool {
	return at.After(s.ValidUntil)
}

// Position is the single live position for a (symbol, account) pair.
type Position struct {
	Symbol         string          `json:"symbol" db:"symbol"`
	Direction      Direction       `json:"direction" db:"direction"`
	EntryPrice     decimal.Decimal `json:"entry_price" db:"entry_price"`
	Size           decimal.Decimal `json:"size" db:"size"`
	StopLoss       decimal.Decimal `json:"stop_loss" db:"stop_loss"`
	ExtremePrice   decimal.Decimal `json:"extreme_price" db:"extreme_price"`
	TrailingActive bool            `json:"trailing_active" db:"trailing_active"`
	OpenedAt       time.Time       `json:"opened_at" db:"opened_at"`
}

// UnrealizedPnL at the given mark price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Direction == DirectionLong {
		return price.Sub(p.EntryPrice).Mul(p.Size)
	}
	return p.EntryPrice.Sub(price).Mul(p.Size)
}

type CloseReason string

const (
	CloseReasonStop   CloseReason = "stop"
	CloseReasonSignal CloseReason = "signal"
	CloseReasonManual CloseReason = "manual"
)

// CompletedTrade 平仓后的成交记录
type CompletedTrade struct {
	Symbol     string          `json:"symbol" db:"symbol"`
	Direction  Direction       `json:"direction" db:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price" db:"exit_price"`
	Size       decimal.Decimal `json:"size" db:"size"`
	PnL        decimal.Decimal `json:"pnl" db:"pnl"`
	Reason     CloseReason     `json:"reason" db:"reason"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at" db:"closed_at"`
}

// Snapshot is the durable per-symbol state written after every decision
// cycle. The exchange's live position is authoritative across restarts; the
// snapshot supplies only what the exchange cannot report back.
type Snapshot struct {
	Symbol         string          `json:"symbol"`
	Position       *Position       `json:"position,omitempty"`
	ExtremePrice   decimal.Decimal `json:"extreme_price"`
	TrailingActive bool            `json:"trailing_active"`
	LastProcessed  time.Time       `json:"last_processed"`
	ConfigHash     string          `json:"config_hash,omitempty"`
}
