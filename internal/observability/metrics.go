package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the triage pipeline.
type Metrics struct {
	MessagesProcessed  *prometheus.CounterVec
	DuplicateMessages  prometheus.Counter
	DegradedAnalyses   prometheus.Counter
	StorageRetries     prometheus.Counter
	FailedMessages     prometheus.Counter
	SuggestionFailures prometheus.Counter
	PriorityScores     prometheus.Histogram
	InFlightClients    prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Delivered messages by triage category.",
		}, []string{"category"}),
		DuplicateMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Messages rejected as at-least-once redeliveries.",
		}),
		DegradedAnalyses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_analyses_total",
			Help:      "Messages triaged with default-neutral analysis after a timeout or fault.",
		}),
		StorageRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Write-back attempts retried on storage unavailability.",
		}),
		FailedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_messages_total",
			Help:      "Messages that exhausted the storage retry budget.",
		}),
		SuggestionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_failures_total",
			Help:      "Decisions delivered without reply suggestions.",
		}),
		PriorityScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "priority_score",
			Help:      "Distribution of assembled priority scores.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
		InFlightClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_clients",
			Help:      "Clients currently holding a processing slot.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
