// Package metrics exposes the service's Prometheus collectors behind a small
// interface so services can run with a no-op implementation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricsCollector interface {
	// Provider call metrics
	RecordProviderCall(provider, operation string, duration time.Duration, result string)
	RecordBreakerState(provider, state string)

	// Flow metrics
	RecordTokenization(provider, shape, result string)
	RecordPayment(provider, status string)
	RecordWebhook(provider, outcome string)

	// Cache metrics
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordProviderCall(string, string, time.Duration, string) {}
func (NoopMetricsCollector) RecordBreakerState(string, string)                       {}
func (NoopMetricsCollector) RecordTokenization(string, string, string)               {}
func (NoopMetricsCollector) RecordPayment(string, string)                            {}
func (NoopMetricsCollector) RecordWebhook(string, string)                            {}
func (NoopMetricsCollector) RecordCacheHit(string)                                   {}
func (NoopMetricsCollector) RecordCacheMiss(string)                                  {}

type PrometheusCollector struct {
	providerCalls *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	tokenizations *prometheus.CounterVec
	payments      *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// NewPrometheusCollector registers the collectors on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paybroker",
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of outbound provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paybroker",
			Name:      "provider_breaker_open",
			Help:      "1 when the provider circuit breaker is open.",
		}, []string{"provider"}),
		tokenizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybroker",
			Name:      "tokenizations_total",
			Help:      "Tokenization attempts by outcome.",
		}, []string{"provider", "shape", "result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybroker",
			Name:      "payments_total",
			Help:      "Payment attempts by final status.",
		}, []string{"provider", "status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybroker",
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"provider", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybroker",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(c.providerCalls, c.breakerState, c.tokenizations, c.payments, c.webhooks, c.cacheLookups)
	return c
}

func (c *PrometheusCollector) RecordProviderCall(provider, operation string, duration time.Duration, result string) {
	c.providerCalls.WithLabelValues(provider, operation, result).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordBreakerState(provider, state string) {
	open := 0.0
	if state == "open" {
		open = 1
	}
	c.breakerState.WithLabelValues(provider).Set(open)
}

func (c *PrometheusCollector) RecordTokenization(provider, shape, result string) {
	c.tokenizations.WithLabelValues(provider, shape, result).Inc()
}

func (c *PrometheusCollector) RecordPayment(provider, status string) {
	c.payments.WithLabelValues(provider, status).Inc()
}

func (c *PrometheusCollector) RecordWebhook(provider, outcome string) {
	c.webhooks.WithLabelValues(provider, outcome).Inc()
}

func (c *PrometheusCollector) RecordCacheHit(string) {
	c.cacheLookups.WithLabelValues("hit").Inc()
}

func (c *PrometheusCollector) RecordCacheMiss(string) {
	c.cacheLookups.WithLabelValues("miss").Inc()
}
