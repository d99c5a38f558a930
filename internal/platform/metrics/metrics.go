package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registration outcomes.
const (
	OutcomeTokenIssued      = "token_issued"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeFailed           = "failed"
)

// Delivery kinds and outcomes.
const (
	KindConfirmation = "confirmation"
	KindNewsletter   = "newsletter"

	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// Metrics holds the Prometheus collectors for the service. All methods are
// safe on a nil receiver so services can run without metrics.
type Metrics struct {
	SubscriptionsRegistered *prometheus.CounterVec
	SubscriptionsConfirmed  prometheus.Counter
	Deliveries              *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubscriptionsRegistered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_subscriptions_registered_total",
			Help: "Registration attempts by outcome",
		}, []string{"outcome"}),
		SubscriptionsConfirmed: f.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_subscriptions_confirmed_total",
			Help: "Subscriptions confirmed through a token",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Outbound emails by kind and outcome",
		}, []string{"kind", "outcome"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsletter_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method", "status"}),
	}
}

// IncrementRegistered records a registration attempt.
func (m *Metrics) IncrementRegistered(outcome string) {
	if m == nil {
		return
	}
	m.SubscriptionsRegistered.WithLabelValues(outcome).Inc()
}

// IncrementConfirmed records a successful confirmation.
func (m *Metrics) IncrementConfirmed() {
	if m == nil {
		return
	}
	m.SubscriptionsConfirmed.Inc()
}

// IncrementDelivery records one outbound email.
func (m *Metrics) IncrementDelivery(kind, outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind, outcome).Inc()
}

// ObserveHTTPRequest records request latency.
// Call with time.Now() taken before the handler ran.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}
