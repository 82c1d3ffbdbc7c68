package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"trade-engine/internal/infrastructure"
	"trade-engine/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WSFeed subscribes to a Binance-style kline websocket stream. The reconnect
// loop runs inside Subscribe's goroutine with exponential backoff; the
// consumer keeps operating on its last known state while we are offline and
// newly formed candles are simply delayed until reconnection.
type WSFeed struct {
	baseURL string
	logger  *zap.Logger
}

func NewWSFeed(baseURL string, logger *zap.Logger) *WSFeed {
	return &WSFeed{baseURL: baseURL, logger: logger}
}

// klineEvent is the raw kline payload from a Binance-style stream.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

func (f *WSFeed) Subscribe(ctx context.Context, symbol, period string) (<-chan model.Candle, error) {
	if _, err := model.PeriodDuration(period); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s@kline_%s", f.baseURL, strings.ToLower(symbol), period)
	out := make(chan model.Candle, 1000)

	go func() {
		defer close(out)
		seen := newDedup()
		backoff := time.Second

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			f.logger.Info("connecting to kline websocket", zap.String("url", url))
			dialer := websocket.Dialer{
				HandshakeTimeout: 10 * time.Second,
			}
			conn, _, err := dialer.DialContext(ctx, url, nil)
			if err != nil {
				f.logger.Error("failed to connect to kline websocket", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = increaseBackoff(backoff)
				continue
			}

			backoff = time.Second // Reset backoff on successful connection
			f.logger.Info("connected to kline websocket")
			infrastructure.WSConnections.Inc()

			if err := f.readLoop(ctx, conn, symbol, period, seen, out); err != nil {
				f.logger.Error("connection closed with error", zap.Error(err))
			}
			infrastructure.WSConnections.Dec()
			conn.Close()
		}
	}()

	return out, nil
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn, symbol, period string, seen *dedup, out chan<- model.Candle) error {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var event klineEvent
			if err := json.Unmarshal(message, &event); err != nil {
				f.logger.Error("failed to unmarshal kline event", zap.Error(err))
				continue
			}
			if !event.Kline.Final {
				// The engine only consumes closed candles.
				continue
			}

			candle, err := f.convert(event, symbol, period)
			if err != nil {
				infrastructure.FeedDrops.WithLabelValues(symbol, "invalid").Inc()
				f.logger.Warn("dropping malformed kline", zap.Error(err))
				continue
			}
			if !seen.fresh(candle) {
				infrastructure.FeedDrops.WithLabelValues(symbol, "duplicate").Inc()
				continue
			}

			select {
			case out <- candle:
			default:
				f.logger.Warn("candle channel full, dropping candle",
					zap.String("symbol", symbol),
					zap.Time("open_time", candle.OpenTime),
				)
			}
		}
	}
}

func (f *WSFeed) convert(event klineEvent, symbol, period string) (model.Candle, error) {
	open, err := decimal.NewFromString(event.Kline.Open)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bad open: %w", err)
	}
	high, err := decimal.NewFromString(event.Kline.High)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bad high: %w", err)
	}
	low, err := decimal.NewFromString(event.Kline.Low)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bad low: %w", err)
	}
	closeP, err := decimal.NewFromString(event.Kline.Close)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bad close: %w", err)
	}
	volume, err := decimal.NewFromString(event.Kline.Volume)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bad volume: %w", err)
	}

	c := model.Candle{
		Symbol:   symbol,
		Period:   period,
		OpenTime: time.Unix(0, event.Kline.StartTime*int64(time.Millisecond)),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closeP,
		Volume:   volume,
		Closed:   true,
	}
	return c, c.Validate()
}

func increaseBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > time.Minute {
		return time.Minute
	}
	return next
}
