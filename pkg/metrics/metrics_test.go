package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.OrderSubmitted("rested")
	m.OrderSubmitted("rested")
	m.RingExecuted(3)
	m.SettlementFailed("custody")
	m.SetResting(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("rested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ringExecutions))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.restingOrders))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "smashdex_settlement_failures_total{reason=\"custody\"} 1"))
	assert.True(t, strings.Contains(body, "smashdex_ring_size_count 1"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.OrderSubmitted("rested")
	m.RingExecuted(4)
	m.SetDormant(1)
	assert.Nil(t, m.Registry())
}
