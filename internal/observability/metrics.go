// Package observability holds the Prometheus metrics exported by stocklens.
// All collectors register on the default registry and are exposed at
// /metrics by the HTTP server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stocklens"

var (
	// IngestRuns counts Ingest calls by outcome (inserted, unchanged,
	// skipped, error).
	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Ingestion runs by outcome.",
	}, []string{"source", "outcome"})

	// IngestBars counts bars seen during ingestion by disposition
	// (inserted, rejected, duplicate).
	IngestBars = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "bars_total",
		Help:      "Bars processed during ingestion by disposition.",
	}, []string{"disposition"})

	// ProviderRequestSeconds times outbound market-data requests.
	ProviderRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "request_seconds",
		Help:      "Latency of market-data provider requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source", "status"})

	// CacheLookups counts result-cache lookups by namespace and result
	// (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Result cache lookups by namespace and result.",
	}, []string{"namespace", "result"})

	// BacktestSeconds times strategy simulations.
	BacktestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backtest",
		Name:      "simulate_seconds",
		Help:      "Duration of backtest simulations.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"strategy"})

	// ReportsAssembled counts report requests by format and outcome
	// (cached, built, error).
	ReportsAssembled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "report",
		Name:      "requests_total",
		Help:      "Report requests by format and outcome.",
	}, []string{"format", "outcome"})

	// HTTPRequests counts API requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPRequestSeconds times API requests by route.
	HTTPRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// RefreshRuns counts scheduled refresh passes by outcome.
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "runs_total",
		Help:      "Scheduled refresh passes by outcome.",
	}, []string{"outcome"})
)
