// Package metrics holds the prometheus instrumentation for the service.
// Upstream call timing is recorded by explicit wrapping at the call sites
// rather than implicit decoration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	upstreamDuration    *prometheus.HistogramVec
	circuitTransitions  *prometheus.CounterVec
	webhookAuthFailures *prometheus.CounterVec
	invoicesCreated     *prometheus.CounterVec
}

// New creates the registry and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stablepay_upstream_request_seconds",
			Help:    "Duration of outbound calls to upstream APIs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablepay_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"breaker", "to"}),
		webhookAuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablepay_webhook_auth_failures_total",
			Help: "Webhook deliveries rejected for signature mismatch.",
		}, []string{"network"}),
		invoicesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablepay_invoices_created_total",
			Help: "Invoices created, by network.",
		}, []string{"network"}),
	}
	m.registry.MustRegister(
		m.upstreamDuration,
		m.circuitTransitions,
		m.webhookAuthFailures,
		m.invoicesCreated,
	)
	return m
}

// ObserveUpstream records one outbound call duration.
func (m *Metrics) ObserveUpstream(target string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(target).Observe(d.Seconds())
}

// TimeUpstream wraps fn, recording its duration under target.
func (m *Metrics) TimeUpstream(target string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.ObserveUpstream(target, time.Since(start))
	return err
}

// CircuitTransition records a breaker state change.
func (m *Metrics) CircuitTransition(breaker, to string) {
	m.circuitTransitions.WithLabelValues(breaker, to).Inc()
}

// WebhookAuthFailure records a rejected webhook delivery.
func (m *Metrics) WebhookAuthFailure(network string) {
	m.webhookAuthFailures.WithLabelValues(network).Inc()
}

// InvoiceCreated records an invoice creation.
func (m *Metrics) InvoiceCreated(network string) {
	m.invoicesCreated.WithLabelValues(network).Inc()
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
