package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WebhookRequests    *prometheus.CounterVec
	WAEvents           *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	PersistLatency     *prometheus.HistogramVec
	GraphRequests      *prometheus.CounterVec
	GraphLatency       *prometheus.HistogramVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_requests_total",
				Help:      "Total WhatsApp webhook requests by method and outcome.",
			}, []string{"method", "outcome"}),
			WAEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_events_total",
				Help:      "Total normalized WhatsApp events by kind and result.",
			}, []string{"kind", "result"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			PersistLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "persist_duration_seconds",
				Help:      "Latency distribution for message and status writes.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			GraphRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_requests_total",
				Help:      "Total WhatsApp Cloud API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GraphLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "graph_request_duration_seconds",
				Help:      "Latency distribution for WhatsApp Cloud API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WebhookRequests,
			metricsInstance.WAEvents,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.PersistLatency,
			metricsInstance.GraphRequests,
			metricsInstance.GraphLatency,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
