// Package feed delivers base-resolution candles from a market data source.
// Two interchangeable implementations exist, a websocket push feed and a REST
// poll feed, selected at configuration time. Either way the consumer sees a
// per-symbol stream of candles with non-decreasing open times; duplicates
// from reconnects are dropped here.
package feed

import (
	"context"

	"trade-engine/internal/model"
)

// Source streams base candles for one symbol. The returned channel closes
// when the context is cancelled. Only closed candles are delivered.
type Source interface {
	Subscribe(ctx context.Context, symbol, period string) (<-chan model.Candle, error)
}

// dedup tracks the last delivered open time per symbol and drops anything
// not strictly newer.
type dedup struct {
	last map[string]int64
}

func newDedup() *dedup {
	return &dedup{last: make(map[string]int64)}
}

func (d *dedup) fresh(c model.Candle) bool {
	ts := c.OpenTime.UnixNano()
	if prev, ok := d.last[c.Symbol]; ok && ts <= prev {
		return false
	}
	d.last[c.Symbol] = ts
	return true
}
