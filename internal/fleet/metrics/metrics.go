// Package metrics exposes Prometheus instrumentation for the fleet manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the fleet-wide Prometheus collectors.
type Metrics struct {
	ServersByStatus   *prometheus.GaugeVec
	ProvisionsTotal   *prometheus.CounterVec
	ProvisionDuration prometheus.Histogram
	DestroysTotal     *prometheus.CounterVec
	PeersTotal        prometheus.Gauge
	RemoteCommands    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServersByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vpnfleet",
			Name:      "servers",
			Help:      "Number of servers per lifecycle status.",
		}, []string{"status"}),
		ProvisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnfleet",
			Name:      "provisions_total",
			Help:      "Completed provisioning attempts by result.",
		}, []string{"provider", "result"}),
		ProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vpnfleet",
			Name:      "provision_duration_seconds",
			Help:      "Wall time from request to active.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 8),
		}),
		DestroysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnfleet",
			Name:      "destroys_total",
			Help:      "Completed destroy attempts by result.",
		}, []string{"provider", "result"}),
		PeersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpnfleet",
			Name:      "peers",
			Help:      "Number of peer profiles across the fleet.",
		}),
		RemoteCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnfleet",
			Name:      "remote_commands_total",
			Help:      "Remote configuration commands by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ServersByStatus,
		m.ProvisionsTotal,
		m.ProvisionDuration,
		m.DestroysTotal,
		m.PeersTotal,
		m.RemoteCommands,
	)
	return m
}

// NewUnregistered creates collectors on a private registry. Useful in tests
// where two components would otherwise collide on the default registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
