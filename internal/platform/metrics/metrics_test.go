package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementRegistered(OutcomeTokenIssued)
	m.IncrementRegistered(OutcomeTokenIssued)
	m.IncrementConfirmed()
	m.IncrementDelivery(KindNewsletter, DeliveryFailed)
	m.ObserveHTTPRequest("/subscriptions", "POST", 200, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubscriptionsRegistered.WithLabelValues(OutcomeTokenIssued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriptionsConfirmed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(KindNewsletter, DeliveryFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementRegistered(OutcomeFailed)
		m.IncrementConfirmed()
		m.IncrementDelivery(KindConfirmation, DeliverySent)
		m.ObserveHTTPRequest("/", "GET", 200, time.Now())
	})
}
