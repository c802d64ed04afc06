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
		m.RefreshExchange("success")
		m.RefreshJoined()
		m.GatewayRetry()
		m.RecommendFallback("business")
		m.RecommendLookup("public")
		m.SessionTeardown("logout")
		m.SessionTransition("anonymous")
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RefreshExchange("success")
	m.RefreshExchange("success")
	m.RefreshExchange("rejected")
	m.GatewayRetry()
	m.RecommendFallback("transport")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshExchanges.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshExchanges.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecommendFallbacks.WithLabelValues("transport")))

	count, err := testutil.GatherAndCount(reg, "snapclient_refresh_exchanges_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.SessionTeardown("logout")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTeardowns.WithLabelValues("logout")))
}
