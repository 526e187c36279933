package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolutionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewResolutionMetrics(reg)

	m.ObserveResolution("search", true, 20*time.Millisecond)
	m.ObserveResolution("search", true, 30*time.Millisecond)
	m.ObserveResolution("none", false, time.Millisecond)
	m.SemanticFailure()
	m.CheckoutSessionCreated("")
	m.CheckoutSessionCreated("list")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("search", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("none", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.semanticFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutSessions.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutSessions.WithLabelValues("list")))

	n, err := testutil.GatherAndCount(reg, "nwshop_resolution_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewResolutionMetrics_DuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewResolutionMetrics(reg)
	assert.Panics(t, func() { NewResolutionMetrics(reg) })
}
