// Package metrics exposes the gateway's poll and fleet health as Prometheus
// gauges/counters, read from the poller's per-device health snapshots (C7)
// and the supervisor's fleet stats (C8). Nothing in the core depends on
// this package; it is an outer-layer consumer wired the way the teacher's
// pkg/collector exposes its own stats for an HTTP handler to format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raohassandev/modbus-gateway/internal/poller"
	"github.com/raohassandev/modbus-gateway/internal/supervisor"
)

// Registry owns every gauge/counter this package exports and the poller/
// supervisor handles it reads from to refresh them.
type Registry struct {
	poller     *poller.Poller
	supervisor *supervisor.Supervisor

	pollDuration   *prometheus.GaugeVec
	pollErrorTotal *prometheus.CounterVec
	fleetSuccess   prometheus.Gauge
	fleetFailed    prometheus.Gauge
	fleetStrategy  *prometheus.GaugeVec

	lastErrorCount map[string]int
}

// NewRegistry builds and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer, p *poller.Poller, sup *supervisor.Supervisor) *Registry {
	m := &Registry{
		poller:     p,
		supervisor: sup,
		pollDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbus_gateway_poll_duration_seconds",
			Help: "Most recent poll latency per device.",
		}, []string{"device_id"}),
		pollErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_gateway_poll_errors_total",
			Help: "Cumulative failed polls per device.",
		}, []string{"device_id"}),
		fleetSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_gateway_fleet_successful_polls",
			Help: "Cumulative successful polls across the fleet.",
		}),
		fleetFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_gateway_fleet_failed_polls",
			Help: "Cumulative failed polls across the fleet.",
		}),
		fleetStrategy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbus_gateway_bring_up_strategy",
			Help: "1 for the bring-up strategy currently in effect, 0 otherwise.",
		}, []string{"strategy"}),
		lastErrorCount: make(map[string]int),
	}
	reg.MustRegister(m.pollDuration, m.pollErrorTotal, m.fleetSuccess, m.fleetFailed, m.fleetStrategy)
	return m
}

// Refresh pulls the latest snapshots from the poller and supervisor and
// updates every gauge/counter. Call this periodically (e.g. from a
// promhttp handler's ServeHTTP via a middleware, or a short ticker) rather
// than on every poll, since health snapshots already aggregate over a
// window.
func (m *Registry) Refresh() {
	for _, h := range m.poller.HealthAll() {
		m.pollDuration.WithLabelValues(h.DeviceID).Set(h.LastLatency.Seconds())

		failed := h.TotalPolls - h.SuccessfulPolls
		delta := failed - m.lastErrorCount[h.DeviceID]
		if delta > 0 {
			m.pollErrorTotal.WithLabelValues(h.DeviceID).Add(float64(delta))
		}
		m.lastErrorCount[h.DeviceID] = failed
	}

	stats := m.supervisor.Stats()
	m.fleetSuccess.Set(float64(stats.SuccessfulPolls))
	m.fleetFailed.Set(float64(stats.FailedPolls))

	for _, s := range []supervisor.Strategy{
		supervisor.BatchSequential, supervisor.ParallelBackground,
		supervisor.Emergency, supervisor.GracefulDegradation,
	} {
		v := 0.0
		if s == stats.StrategyChosen {
			v = 1.0
		}
		m.fleetStrategy.WithLabelValues(string(s)).Set(v)
	}
}
