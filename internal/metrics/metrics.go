// Package metrics holds the Prometheus collectors shared by the trading loop.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbbot"

var (
	once sync.Once

	QuotesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "quotes_accepted_total",
		Help:      "Quotes accepted by the aggregator",
	}, []string{"exchange"})

	QuotesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "quotes_rejected_total",
		Help:      "Quotes dropped as out-of-order or invalid",
	}, []string{"exchange", "reason"})

	FeedErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "errors_total",
		Help:      "Failed quote fetches per exchange",
	}, []string{"exchange"})

	FeedLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "fetch_seconds",
		Help:      "Time to fetch one quote",
		Buckets:   prometheus.DefBuckets,
	}, []string{"exchange"})

	OpportunitiesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detector",
		Name:      "opportunities_total",
		Help:      "Opportunities emitted by the detector",
	}, []string{"pair"})

	SpreadPct = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "detector",
		Name:      "best_spread_pct",
		Help:      "Best gross spread seen in the last cycle, percent",
	}, []string{"pair"})

	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "attempts_total",
		Help:      "Finalized execution attempts by outcome",
	}, []string{"outcome"})

	Skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "skipped_total",
		Help:      "Opportunities dropped before an attempt was created",
	}, []string{"reason"})

	ExecutionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "execution_seconds",
		Help:      "Wall time of finalized attempts",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	TodayProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "today_profit",
		Help:      "Cumulative realized profit for the current UTC day",
	})

	Exposure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "exposure",
		Help:      "Capital currently reserved by in-flight attempts",
	})

	RiskMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "mode",
		Help:      "1 for the active risk mode, 0 otherwise",
	}, []string{"mode"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Outbound events a sink failed to deliver",
	}, []string{"sink"})
)

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			QuotesAccepted,
			QuotesRejected,
			FeedErrors,
			FeedLatency,
			OpportunitiesDetected,
			SpreadPct,
			Attempts,
			Skipped,
			ExecutionSeconds,
			TodayProfit,
			Exposure,
			RiskMode,
			EventsDropped,
		)
	})
}

// Handler serves the default registry in the OpenMetrics format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
