package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordPayment("stripe", "completed")
	c.RecordPayment("stripe", "completed")
	c.RecordWebhook("stripe", "rejected")
	c.RecordBreakerState("transbank", "open")
	c.RecordProviderCall("stripe", "charge", 120*time.Millisecond, "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.payments.WithLabelValues("stripe", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.webhooks.WithLabelValues("stripe", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("transbank")))

	c.RecordBreakerState("transbank", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("transbank")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.providerCalls))
}

func TestNoopSatisfiesInterface(t *testing.T) {
	var c MetricsCollector = NoopMetricsCollector{}
	c.RecordPayment("stripe", "failed")
}
