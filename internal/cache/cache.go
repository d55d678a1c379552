// Package cache implements the realtime reading cache (C6): the last
// Reading for every device, with no expiry (§4.4). It generalizes the
// teacher's utils.ValueCache from a single TTL'd float keyed by string to a
// full device.Reading keyed by device id, dropping the TTL entirely since a
// stale reading still answers "what did we last see" which is the point of
// this cache.
package cache

import (
	"sync"

	"github.com/raohassandev/modbus-gateway/internal/device"
)

// Cache is a concurrent device_id -> Reading map. The poller is the single
// writer per device (§5); any number of goroutines may read concurrently.
type Cache struct {
	mu   sync.RWMutex
	data map[string]device.Reading
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{data: make(map[string]device.Reading, 64)}
}

// Put stores r as the latest Reading for its DeviceID, replacing any prior
// entry atomically — readers never observe a partially-written Reading
// (§5 "poller publishes to cache atomically").
func (c *Cache) Put(r device.Reading) {
	c.mu.Lock()
	c.data[r.DeviceID] = r
	c.mu.Unlock()
}

// Get returns the latest Reading for deviceID, or ok=false if none has ever
// been published.
func (c *Cache) Get(deviceID string) (device.Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.data[deviceID]
	return r, ok
}

// Delete removes a device's cached Reading, called when a device is removed
// from the fleet.
func (c *Cache) Delete(deviceID string) {
	c.mu.Lock()
	delete(c.data, deviceID)
	c.mu.Unlock()
}

// Len returns the number of devices currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Snapshot returns a shallow copy of every cached Reading, for a health
// endpoint or a bulk push.
func (c *Cache) Snapshot() []device.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]device.Reading, 0, len(c.data))
	for _, r := range c.data {
		out = append(out, r)
	}
	return out
}
