package hub

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "realtime"

// Collector is a prometheus.Collector for the delivery layer. A nil
// *Collector is valid and records nothing.
type Collector struct {
	activeConnections prometheus.Gauge
	connectedUsers    prometheus.Gauge
	sessionsOpened    *prometheus.CounterVec
	eventsSent        *prometheus.CounterVec
	sendFailures      *prometheus.CounterVec
	heartbeatFailures prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_connections",
				Help:      "The number of registered event stream connections.",
			},
		),
		connectedUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connected_users",
				Help:      "The number of users with at least one registered connection.",
			},
		),
		sessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_opened_total",
				Help:      "The number of event stream sessions that reached the open state.",
			}, []string{"transport"},
		),
		eventsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_sent_total",
				Help:      "The number of events accepted by connection sinks.",
			}, []string{"type"},
		),
		sendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "send_failures_total",
				Help:      "The number of events a connection sink refused.",
			}, []string{"reason"},
		),
		heartbeatFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "heartbeat_failures_total",
				Help:      "The number of connections torn down by a failed heartbeat.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.activeConnections.Describe(ch)
	c.connectedUsers.Describe(ch)
	c.sessionsOpened.Describe(ch)
	c.eventsSent.Describe(ch)
	c.sendFailures.Describe(ch)
	c.heartbeatFailures.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.activeConnections.Collect(ch)
	c.connectedUsers.Collect(ch)
	c.sessionsOpened.Collect(ch)
	c.eventsSent.Collect(ch)
	c.sendFailures.Collect(ch)
	c.heartbeatFailures.Collect(ch)
}

func (c *Collector) setRegistrySize(connections, users int) {
	if c == nil {
		return
	}
	c.activeConnections.Set(float64(connections))
	c.connectedUsers.Set(float64(users))
}

func (c *Collector) sessionOpened(transport string) {
	if c == nil {
		return
	}
	c.sessionsOpened.WithLabelValues(transport).Inc()
}

func (c *Collector) eventSent(eventType string) {
	if c == nil {
		return
	}
	c.eventsSent.WithLabelValues(eventType).Inc()
}

func (c *Collector) sendFailed(err error) {
	if c == nil {
		return
	}
	c.sendFailures.WithLabelValues(failureReason(err)).Inc()
}

func (c *Collector) heartbeatFailed() {
	if c == nil {
		return
	}
	c.heartbeatFailures.Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSinkClosed):
		return "closed"
	case errors.Is(err, ErrSendTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
