package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus collectors.
type Metrics struct {
	BacktestsStarted  prometheus.Counter
	BacktestsByStatus *prometheus.CounterVec
	BacktestDuration  prometheus.Histogram
	WSClients         prometheus.Gauge
}

// NewMetrics registers the collectors on the given registry. Each
// server owns its own registry so tests stay isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BacktestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtester_backtests_started_total",
			Help: "Backtests accepted by the API.",
		}),
		BacktestsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_backtests_finished_total",
			Help: "Backtests finished, by terminal status.",
		}, []string{"status"}),
		BacktestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_backtest_duration_seconds",
			Help:    "Wall time of finished backtests.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "backtester_websocket_clients",
			Help: "Currently connected WebSocket clients.",
		}),
	}
}
