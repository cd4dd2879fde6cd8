package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_grid_cycles_total",
			Help: "Control loop iterations",
		},
		[]string{"loop"},
	)

	promCycleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "btc_grid_cycle_seconds",
			Help:    "Duration of one control loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"loop"},
	)

	promExchangeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "btc_grid_exchange_call_seconds",
			Help:    "Latency of exchange gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// events: repriced, removed_<reason>, filled, notification
	promEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_grid_events_total",
			Help: "Order lifecycle events",
		},
		[]string{"event"},
	)

	promErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_grid_errors_total",
			Help: "Errors absorbed by background components",
		},
		[]string{"component"},
	)

	promHTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_grid_http_requests_total",
			Help: "API requests by status class",
		},
		[]string{"class"},
	)

	promTrailingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "btc_grid_trailing_orders",
			Help: "Orders currently under trailing control",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promCycles,
		promCycleSeconds,
		promExchangeSeconds,
		promEvents,
		promErrors,
		promHTTPRequests,
		promTrailingActive,
	)
}

// PrometheusHandler serves the default registry in text exposition format.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
