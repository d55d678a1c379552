package poller

import (
	"sync"
	"time"
)

// healthWindowSize is how many recent poll latencies each device keeps for
// its health snapshot (SPEC_FULL.md §5 "Device health snapshot").
const healthWindowSize = 20

// HealthSnapshot is one device's recent polling health, exposed to
// internal/metrics.
type HealthSnapshot struct {
	DeviceID        string
	LastLatency     time.Duration
	AverageLatency  time.Duration
	SuccessRatio    float64
	TotalPolls      int
	SuccessfulPolls int
}

type deviceHealth struct {
	latencies       []time.Duration
	next            int
	totalPolls      int
	successfulPolls int
	lastLatency     time.Duration
}

// healthTracker keeps a bounded ring of recent poll latencies per device.
type healthTracker struct {
	mu      sync.Mutex
	devices map[string]*deviceHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{devices: make(map[string]*deviceHealth)}
}

func (h *healthTracker) record(deviceID string, latency time.Duration, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dh, ok := h.devices[deviceID]
	if !ok {
		dh = &deviceHealth{latencies: make([]time.Duration, 0, healthWindowSize)}
		h.devices[deviceID] = dh
	}
	dh.lastLatency = latency
	dh.totalPolls++
	if success {
		dh.successfulPolls++
	}
	if len(dh.latencies) < healthWindowSize {
		dh.latencies = append(dh.latencies, latency)
	} else {
		dh.latencies[dh.next] = latency
		dh.next = (dh.next + 1) % healthWindowSize
	}
}

// Snapshot returns deviceID's current health, or the zero value if it has
// never been polled.
func (h *healthTracker) Snapshot(deviceID string) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	dh, ok := h.devices[deviceID]
	if !ok {
		return HealthSnapshot{DeviceID: deviceID}
	}
	var sum time.Duration
	for _, l := range dh.latencies {
		sum += l
	}
	avg := time.Duration(0)
	if len(dh.latencies) > 0 {
		avg = sum / time.Duration(len(dh.latencies))
	}
	ratio := 0.0
	if dh.totalPolls > 0 {
		ratio = float64(dh.successfulPolls) / float64(dh.totalPolls)
	}
	return HealthSnapshot{
		DeviceID:        deviceID,
		LastLatency:     dh.lastLatency,
		AverageLatency:  avg,
		SuccessRatio:    ratio,
		TotalPolls:      dh.totalPolls,
		SuccessfulPolls: dh.successfulPolls,
	}
}

// SnapshotAll returns every tracked device's current health.
func (h *healthTracker) SnapshotAll() []HealthSnapshot {
	h.mu.Lock()
	ids := make([]string, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	out := make([]HealthSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.Snapshot(id))
	}
	return out
}
