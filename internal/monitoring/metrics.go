// Package monitoring exposes Prometheus metrics for resolution and checkout.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nwshop"

// ResolutionMetrics records pipeline outcomes. It satisfies the resolver
// and checkout recorder interfaces.
type ResolutionMetrics struct {
	resolutions      *prometheus.CounterVec
	duration         prometheus.Histogram
	semanticFailures prometheus.Counter
	checkoutSessions *prometheus.CounterVec
}

// NewResolutionMetrics registers the collectors on reg, or on the default
// registerer when reg is nil. It panics on duplicate registration.
func NewResolutionMetrics(reg prometheus.Registerer) *ResolutionMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &ResolutionMetrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved terms by pipeline stage and outcome.",
		}, []string{"source", "resolved"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Time to resolve one term.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		semanticFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_failures_total",
			Help:      "Semantic searches that failed or timed out.",
		}),
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions created by item source.",
		}, []string{"source"}),
	}

	reg.MustRegister(m.resolutions, m.duration, m.semanticFailures, m.checkoutSessions)
	return m
}

// ObserveResolution counts one resolution and its latency.
func (m *ResolutionMetrics) ObserveResolution(source string, resolved bool, elapsed time.Duration) {
	m.resolutions.WithLabelValues(source, strconv.FormatBool(resolved)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// SemanticFailure counts a degraded semantic lookup.
func (m *ResolutionMetrics) SemanticFailure() {
	m.semanticFailures.Inc()
}

// CheckoutSessionCreated counts a new checkout session.
func (m *ResolutionMetrics) CheckoutSessionCreated(source string) {
	if source == "" {
		source = "unknown"
	}
	m.checkoutSessions.WithLabelValues(source).Inc()
}
