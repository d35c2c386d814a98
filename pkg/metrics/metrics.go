// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// ChatSessionsTotal tracks chat sessions created.
	ChatSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_total",
			Help: "Total chat sessions created",
		},
		[]string{"chatbot_id"},
	)

	// MessagesTotal tracks messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"sender"},
	)

	// LLMCompletionDuration tracks agent reply generation latency.
	LLMCompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "Agent reply generation duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// WidgetExchangesTotal tracks widget send exchanges by outcome.
	WidgetExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_exchanges_total",
			Help: "Widget message exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// WidgetDeliveryDuration tracks how long the widget waits for an agent reply.
	WidgetDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "widget_delivery_duration_seconds",
			Help:    "Time between submit and agent reply in the widget",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	// WidgetStoreReadsTotal tracks widget store refreshes by status.
	WidgetStoreReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_store_reads_total",
			Help: "Widget message store reads by status",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordCompletion records metrics for an agent reply generation.
func RecordCompletion(provider, status string, duration float64, tokensIn, tokensOut int) {
	LLMCompletionDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// RecordExchange records the outcome of a widget exchange.
func RecordExchange(outcome string, duration float64) {
	WidgetExchangesTotal.WithLabelValues(outcome).Inc()
	WidgetDeliveryDuration.Observe(duration)
}

// RecordStoreRead records a widget store refresh.
func RecordStoreRead(status string) {
	WidgetStoreReadsTotal.WithLabelValues(status).Inc()
}
