package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trade-engine/internal/infrastructure"
	"trade-engine/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PollFeed fetches closed klines over REST on a fixed interval, for venues
// or deployments where a websocket stream is unavailable. It emits the same
// per-symbol candle stream as WSFeed.
type PollFeed struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewPollFeed(baseURL string, logger *zap.Logger) *PollFeed {
	return &PollFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (f *PollFeed) Subscribe(ctx context.Context, symbol, period string) (<-chan model.Candle, error) {
	dur, err := model.PeriodDuration(period)
	if err != nil {
		return nil, err
	}

	out := make(chan model.Candle, 1000)

	go func() {
		defer close(out)
		seen := newDedup()

		// Poll twice per period so a closed candle is picked up promptly.
		interval := dur / 2
		if interval > time.Minute {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		f.fetch(ctx, symbol, period, seen, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.fetch(ctx, symbol, period, seen, out)
			}
		}
	}()

	return out, nil
}

func (f *PollFeed) fetch(ctx context.Context, symbol, period string, seen *dedup, out chan<- model.Candle) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=5", f.baseURL, symbol, period)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Error("failed to build klines request", zap.Error(err))
		return
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("klines poll failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("klines poll returned non-200", zap.Int("status", resp.StatusCode))
		return
	}

	// Binance-style kline rows: arrays of mixed numbers and strings.
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		f.logger.Warn("failed to decode klines response", zap.Error(err))
		return
	}

	dur, _ := model.PeriodDuration(period)
	cutoff := time.Now().Truncate(dur)

	for _, row := range rows {
		candle, err := parseKlineRow(row, symbol, period)
		if err != nil {
			infrastructure.FeedDrops.WithLabelValues(symbol, "invalid").Inc()
			f.logger.Warn("dropping malformed kline row", zap.Error(err))
			continue
		}
		// The most recent row is the still-forming candle.
		if !candle.OpenTime.Before(cutoff) {
			continue
		}
		candle.Closed = true

		if !seen.fresh(candle) {
			continue
		}
		select {
		case out <- candle:
		case <-ctx.Done():
			return
		}
	}
}

func parseKlineRow(row []json.RawMessage, symbol, period string) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}

	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, fmt.Errorf("bad open time: %w", err)
	}

	fields := make([]decimal.Decimal, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return model.Candle{}, fmt.Errorf("bad field %d: %w", i, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("bad field %d: %w", i, err)
		}
		fields[i-1] = d
	}

	c := model.Candle{
		Symbol:   symbol,
		Period:   period,
		OpenTime: time.Unix(0, openMs*int64(time.Millisecond)),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}
	return c, c.Validate()
}
