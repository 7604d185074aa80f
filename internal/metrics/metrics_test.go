package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.EventReceived("join")
	m.EventReceived("message")
	m.EventReceived("message")
	m.Delivered(3, 1)
	m.PersistenceError("append_message")
	m.RateLimited()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("message")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DeliveriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DropsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistenceErrors.WithLabelValues("append_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.SessionOpened()
		m.SessionClosed()
		m.EventReceived("typing")
		m.Delivered(1, 1)
		m.PersistenceError("history")
		m.RateLimited()
	})
}
