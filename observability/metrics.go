// Package observability collects and exposes relay metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IRecorder is the metrics surface used by the gateway and the relay engine.
type IRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
	AuthFailure()
	SessionCreated()
	SessionResumed()
	MessageRelayed()
	DeliverySucceeded()
	DeliveryDropped()
	PresenceBroadcast(kind string)
	SetOnlineIdentities(n int)
	SetSystemUsage(memPercent, cpuPercent float64)
}

// Collector implements IRecorder on top of Prometheus.
type Collector struct {
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	authFailures       prometheus.Counter
	sessionsCreated    prometheus.Counter
	sessionsResumed    prometheus.Counter
	messagesRelayed    prometheus.Counter
	deliveries         prometheus.Counter
	deliveriesDropped  prometheus.Counter
	presenceBroadcasts *prometheus.CounterVec
	identitiesOnline   prometheus.Gauge
	systemMemPercent   prometheus.Gauge
	systemCPUPercent   prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Currently open relay connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total accepted relay connections.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Handshakes rejected with an authentication error.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Fresh sessions minted for new identities.",
		}),
		sessionsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_resumed_total",
			Help: "Connections resumed from an existing session token.",
		}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Direct messages persisted and fanned out.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Per-connection event deliveries that were accepted.",
		}),
		deliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_deliveries_dropped_total",
			Help: "Per-connection event deliveries skipped (slow or closed sink).",
		}),
		presenceBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_presence_broadcasts_total",
			Help: "Presence notifications broadcast, by kind.",
		}, []string{"kind"}),
		identitiesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_identities_online",
			Help: "Identities with at least one live connection.",
		}),
		systemMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_system_memory_used_percent",
			Help: "Host memory usage sampled by the telemetry worker.",
		}),
		systemCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_system_cpu_used_percent",
			Help: "Host CPU usage sampled by the telemetry worker.",
		}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.authFailures,
		c.sessionsCreated,
		c.sessionsResumed,
		c.messagesRelayed,
		c.deliveries,
		c.deliveriesDropped,
		c.presenceBroadcasts,
		c.identitiesOnline,
		c.systemMemPercent,
		c.systemCPUPercent,
	)

	return c
}

func (c *Collector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *Collector) AuthFailure() {
	c.authFailures.Inc()
}

func (c *Collector) SessionCreated() {
	c.sessionsCreated.Inc()
}

func (c *Collector) SessionResumed() {
	c.sessionsResumed.Inc()
}

func (c *Collector) MessageRelayed() {
	c.messagesRelayed.Inc()
}

func (c *Collector) DeliverySucceeded() {
	c.deliveries.Inc()
}

func (c *Collector) DeliveryDropped() {
	c.deliveriesDropped.Inc()
}

func (c *Collector) PresenceBroadcast(kind string) {
	c.presenceBroadcasts.WithLabelValues(kind).Inc()
}

func (c *Collector) SetOnlineIdentities(n int) {
	c.identitiesOnline.Set(float64(n))
}

func (c *Collector) SetSystemUsage(memPercent, cpuPercent float64) {
	c.systemMemPercent.Set(memPercent)
	c.systemCPUPercent.Set(cpuPercent)
}
