package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CandleCloseRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candle_close_total",
		Help: "Total number of closed candles processed per timeframe",
	}, []string{"symbol", "period"})

	SignalRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_total",
		Help: "Total number of entry signals emitted",
	}, []string{"symbol", "direction"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "open_positions",
		Help: "Number of currently open positions",
	})

	SnapshotFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_failure_total",
		Help: "Total number of snapshot persistence failures",
	}, []string{"symbol"})

	ReplayProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "replay_candles_remaining",
		Help: "Candles remaining in the recovery catch-up replay",
	}, []string{"symbol"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	FeedDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_dropped_total",
		Help: "Total number of feed events dropped (invalid or duplicate)",
	}, []string{"symbol", "cause"})

	BacktestRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Total number of backtests executed via the API",
	})
)
