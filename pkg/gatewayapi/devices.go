package gatewayapi

import (
	"context"
	"fmt"
	"time"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
	"github.com/raohassandev/modbus-gateway/internal/poller"
	"github.com/raohassandev/modbus-gateway/internal/session"
	"github.com/raohassandev/modbus-gateway/internal/setpoint"
	"github.com/raohassandev/modbus-gateway/internal/supervisor"
)

// Reading is the public DTO for a poller.PollDevice / cache.Get result.
type Reading struct {
	DeviceID  string
	Timestamp time.Time
	Entries   []device.ReadingEntry
}

func fromDeviceReading(r device.Reading) Reading {
	return Reading{DeviceID: r.DeviceID, Timestamp: r.Timestamp, Entries: r.Entries}
}

// ListDevices returns every enabled device, as the repository record
// stores it (no reading attached).
func (g *Gateway) ListDevices(ctx context.Context) ([]device.Device, error) {
	return g.devices.FindEnabled(ctx)
}

// GetDevice returns one device by ID.
func (g *Gateway) GetDevice(ctx context.Context, deviceID string) (*device.Device, error) {
	return g.devices.FindByID(ctx, deviceID)
}

// LatestReading returns the most recent cached reading for deviceID, if the
// poller has ever successfully polled it.
func (g *Gateway) LatestReading(deviceID string) (Reading, bool) {
	r, ok := g.core.Cache.Get(deviceID)
	if !ok {
		return Reading{}, false
	}
	return fromDeviceReading(r), true
}

// PollDevice triggers an immediate out-of-band poll of deviceID and returns
// the fresh reading, bypassing the device's scheduled interval.
func (g *Gateway) PollDevice(ctx context.Context, deviceID string) (Reading, error) {
	r, err := g.core.Supervisor.PollOne(ctx, deviceID)
	if err != nil {
		return Reading{}, err
	}
	return fromDeviceReading(r), nil
}

// ForceRefresh triggers an immediate poll of every enabled device.
func (g *Gateway) ForceRefresh(ctx context.Context) error {
	return g.core.Supervisor.ForceRefresh(ctx)
}

// FleetStats reports the supervisor's running poll success/failure tally
// and current bring-up strategy.
func (g *Gateway) FleetStats() supervisor.Stats {
	return g.core.Supervisor.Stats()
}

// DeviceHealth reports the poller's per-device health snapshot.
func (g *Gateway) DeviceHealth(deviceID string) poller.HealthSnapshot {
	return g.core.Poller.Health(deviceID)
}

// DeviceHealthAll reports every device's health snapshot.
func (g *Gateway) DeviceHealthAll() []poller.HealthSnapshot {
	return g.core.Poller.HealthAll()
}

// DeviceHistory returns up to limit historical readings for deviceID, most
// recent first.
func (g *Gateway) DeviceHistory(ctx context.Context, deviceID string, limit int) ([]poller.HistoricalEntry, error) {
	return g.history.DevicePoints(ctx, deviceID, limit)
}

// DeviceSetpointEvents returns up to limit setpoint event-log entries for
// deviceID, most recent first.
func (g *Gateway) DeviceSetpointEvents(ctx context.Context, deviceID string, limit int) ([]setpoint.EventLogEntry, error) {
	return g.eventLog.FindByDeviceID(ctx, deviceID, limit)
}

// DiagnoseDevice probes deviceID's transport through the shared session
// pool and classifies the result, for the test-connection CLI command.
func (g *Gateway) DiagnoseDevice(ctx context.Context, deviceID string) (session.TestConnectionResult, error) {
	d, err := g.devices.FindByID(ctx, deviceID)
	if err != nil {
		return session.TestConnectionResult{}, fmt.Errorf("gatewayapi: find device %s: %w", deviceID, err)
	}
	if d == nil {
		return session.TestConnectionResult{}, fmt.Errorf("gatewayapi: device %s not found", deviceID)
	}
	sess, err := g.sessions.Get(ctx, *d)
	if err != nil {
		return session.TestConnectionResult{}, fmt.Errorf("gatewayapi: connect to device %s: %w", deviceID, err)
	}
	fc, addr := firstProbe(*d)
	return sess.Diagnose(ctx, fc, addr, d.Name), nil
}

func firstProbe(d device.Device) (pdu.FunctionCode, uint16) {
	if len(d.DataPoints) > 0 {
		return d.DataPoints[0].FunctionCode, d.DataPoints[0].StartAddress
	}
	return pdu.ReadHoldingRegisters, 0
}
