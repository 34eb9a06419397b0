package proxymetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestConnectionStartEndTracksActiveAndTotal(t *testing.T) {
	tr := New(prometheus.NewRegistry())

	require.Equal(t, int64(0), tr.ActiveConnections())

	tr.ConnectionStart()
	tr.ConnectionStart()
	require.Equal(t, int64(2), tr.ActiveConnections())
	require.Equal(t, float64(2), gaugeValue(t, tr.activeConnections))
	require.Equal(t, float64(2), counterValue(t, tr.totalConnections))

	tr.ConnectionEnd()
	require.Equal(t, int64(1), tr.ActiveConnections())
	require.Equal(t, float64(1), gaugeValue(t, tr.activeConnections))
	// total never decreases
	require.Equal(t, float64(2), counterValue(t, tr.totalConnections))
}

func TestAllowedRequestIncrementsCountAndBytes(t *testing.T) {
	tr := New(prometheus.NewRegistry())

	tr.AllowedRequest(100, 50)
	tr.AllowedRequest(10, 5)

	require.Equal(t, float64(2), counterValue(t, tr.allowedRequests))
	require.Equal(t, float64(110), counterValue(t, tr.bytesSent))
	require.Equal(t, float64(55), counterValue(t, tr.bytesReceived))
}

func TestBlockedRequestIncrementsCount(t *testing.T) {
	tr := New(prometheus.NewRegistry())

	tr.BlockedRequest()
	tr.BlockedRequest()
	tr.BlockedRequest()

	require.Equal(t, float64(3), counterValue(t, tr.blockedRequests))
}

func TestNewRegistersAllCollectorsOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 6)
}
