// Package proxymetrics exposes the proxy's connection-tracking counters as
// Prometheus collectors a real operator can scrape.
package proxymetrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "relayproxy"
	subsystem = "connections"
)

// Tracker records connection and byte-transfer counters. All methods are
// safe for concurrent use; the active-connection gauge is also kept as a
// plain atomic so ActiveConnections() can read it without hitting the
// registry.
type Tracker struct {
	active int64

	totalConnections  prometheus.Counter
	activeConnections prometheus.Gauge
	allowedRequests   prometheus.Counter
	blockedRequests   prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
}

// New registers and returns a Tracker. reg is typically
// prometheus.DefaultRegisterer; passing a fresh registry keeps tests
// isolated from global state.
func New(reg prometheus.Registerer) *Tracker {
	factory := promauto.With(reg)
	return &Tracker{
		totalConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "total",
			Help: "Total number of accepted client connections.",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "active",
			Help: "Number of client connections currently being handled.",
		}),
		allowedRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "allowed_requests_total",
			Help: "Requests that were relayed, tunneled, or served from the cache.",
		}),
		blockedRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "blocked_requests_total",
			Help: "Requests denied by the blacklist or authentication.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_sent_total",
			Help: "Bytes written to clients by HTTP relay and cache serve; CONNECT tunnel traffic is not counted.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_received_total",
			Help: "Bytes read from upstream servers by HTTP relay; CONNECT tunnel traffic is not counted.",
		}),
	}
}

// ConnectionStart records a newly accepted connection.
func (t *Tracker) ConnectionStart() {
	atomic.AddInt64(&t.active, 1)
	t.activeConnections.Inc()
	t.totalConnections.Inc()
}

// ConnectionEnd records a connection's teardown.
func (t *Tracker) ConnectionEnd() {
	atomic.AddInt64(&t.active, -1)
	t.activeConnections.Dec()
}

// AllowedRequest records a successfully relayed/tunneled request and the
// bytes moved in each direction.
func (t *Tracker) AllowedRequest(bytesSent, bytesReceived int) {
	t.allowedRequests.Inc()
	t.bytesSent.Add(float64(bytesSent))
	t.bytesReceived.Add(float64(bytesReceived))
}

// BlockedRequest records a denied request.
func (t *Tracker) BlockedRequest() {
	t.blockedRequests.Inc()
}

// ActiveConnections returns the current number of in-flight connections.
func (t *Tracker) ActiveConnections() int64 {
	return atomic.LoadInt64(&t.active)
}
