package transport

import (
	"sync"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
)

// portRegistry is the process-wide `{port_path -> busy}` map (§5) that
// prevents two RTUTransports from opening the same serial device node.
type portRegistry struct {
	mu   sync.Mutex
	busy map[string]bool
}

var globalPortRegistry = &portRegistry{busy: make(map[string]bool)}

// Acquire marks path busy, or returns *gwerrors.PortBusy if another session
// already holds it.
func (r *portRegistry) Acquire(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[path] {
		return &gwerrors.PortBusy{Path: path}
	}
	r.busy[path] = true
	return nil
}

// Release frees path. It is safe to call on a path that was never acquired.
func (r *portRegistry) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, path)
}

// BusyPorts returns a snapshot of every currently-held serial port path, for
// CoreState's diagnostic view of the process-wide port-busy registry (§9).
func BusyPorts() []string {
	globalPortRegistry.mu.Lock()
	defer globalPortRegistry.mu.Unlock()
	out := make([]string, 0, len(globalPortRegistry.busy))
	for path := range globalPortRegistry.busy {
		out = append(out, path)
	}
	return out
}
