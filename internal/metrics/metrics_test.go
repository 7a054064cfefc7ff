package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.Intent("ready")
		m.Rejected("NotYourTurn")
		m.Transition("Main", "timer")
		m.Reconnected()
		m.Ended("forfeit")
		m.ConnOpened()
		m.RateLimited("/ws", true)
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionClosed()
	m.Rejected("CategoryNotAllowed")
	m.RateLimited("/matches", false)
	m.RateLimited("/matches", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("CategoryNotAllowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RLBlocked.WithLabelValues("/matches")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
