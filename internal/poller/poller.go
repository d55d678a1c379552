// Package poller implements C7: the per-device poll cycle (load device,
// read every DataPoint, decode, publish) and its adaptive backoff policy
// (§4.5). It generalizes the teacher's Collector.pollOnce/Run ticker loop
// from one fixed interval over flat Points to the spec's multi-DataPoint,
// multi-Parameter decode plus backoff-adjusted re-arm.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/repository"
	"github.com/raohassandev/modbus-gateway/internal/session"
)

// HistorySink is the external historical-sink collaborator (§6.1):
// write_many([HistoricalEntry]), best-effort, never propagating failures to
// the poller.
type HistorySink interface {
	WriteMany(ctx context.Context, entries []HistoricalEntry)
}

// HistoricalEntry is one non-null, non-error parameter reading shipped to
// the historical sink.
type HistoricalEntry struct {
	DeviceID  string
	Parameter string
	Value     float64
	Unit      string
	Timestamp time.Time
}

// PushChannel is the external push-channel collaborator (§6.1): emit by
// event name, best-effort.
type PushChannel interface {
	Emit(eventName string, payload map[string]any)
}

// SessionProvider returns the long-lived, already-connected Session for a
// device, creating and connecting it on first use.
type SessionProvider interface {
	Get(ctx context.Context, d device.Device) (*session.Session, error)
}

// Hooks lets an observer (the supervisor, C8) see every poll outcome,
// including the ones fired by a device's own re-arm timer rather than an
// explicit PollDevice call.
type Hooks struct {
	OnPollResult func(deviceID string, success bool, at time.Time)
}

// Poller implements C7.
type Poller struct {
	repo     repository.DeviceRepository
	cache    Cache
	history  HistorySink
	push     PushChannel
	sessions SessionProvider
	logger   *zap.Logger

	backoff *backoffTracker
	timers  *timerSet
	health  *healthTracker
	hooks   Hooks
}

// Health returns deviceID's current poll-health snapshot (SPEC_FULL.md §5).
func (p *Poller) Health(deviceID string) HealthSnapshot { return p.health.Snapshot(deviceID) }

// HealthAll returns every tracked device's current poll-health snapshot.
func (p *Poller) HealthAll() []HealthSnapshot { return p.health.SnapshotAll() }

// SetHooks installs the poll-result observer. Not safe to call concurrently
// with PollDevice.
func (p *Poller) SetHooks(h Hooks) { p.hooks = h }

// IsScheduled reports whether deviceID currently has an armed re-poll timer.
func (p *Poller) IsScheduled(deviceID string) bool { return p.timers.isScheduled(deviceID) }

// Cache is the narrow slice of internal/cache.Cache the poller needs,
// accepted as an interface so tests can substitute a fake.
type Cache interface {
	Put(r device.Reading)
}

// New builds a Poller. logger must not be nil.
func New(repo repository.DeviceRepository, c Cache, history HistorySink, push PushChannel, sessions SessionProvider, logger *zap.Logger) *Poller {
	return &Poller{
		repo:     repo,
		cache:    c,
		history:  history,
		push:     push,
		sessions: sessions,
		logger:   logger,
		backoff:  newBackoffTracker(),
		timers:   newTimerSet(),
		health:   newHealthTracker(),
	}
}

// PollDevice performs one read cycle for deviceID (§4.5 steps 1-3).
func (p *Poller) PollDevice(ctx context.Context, deviceID string) (device.Reading, error) {
	d, err := p.repo.FindByID(ctx, deviceID)
	if err != nil {
		p.backoff.recordRepositoryError(deviceID)
		return device.Reading{}, err
	}
	if d == nil {
		return device.Reading{}, fmt.Errorf("poller: device %s not found", deviceID)
	}
	if !d.Enabled {
		return device.Reading{}, fmt.Errorf("poller: device %s is disabled", deviceID)
	}

	sess, err := p.sessions.Get(ctx, *d)
	if err != nil {
		p.backoff.recordFailure(deviceID)
		p.logger.Warn("poller could not obtain session", zap.String("device", deviceID), zap.Error(err))
		return device.Reading{}, err
	}

	started := time.Now()
	entries := make([]device.ReadingEntry, 0)
	critical := make([]string, 0)
	anySuccess := false
	for _, dp := range d.DataPoints {
		startAddr := device.EffectiveStartAddress(dp.StartAddress, d.AddressBase)
		raw, err := sess.ReadRegisters(ctx, dp.FunctionCode, startAddr, dp.Count)
		if err != nil {
			for _, param := range dp.Parameters {
				entries = append(entries, device.ReadingEntry{Name: param.Name, Unit: param.Unit, DataType: param.DataType, Error: err.Error()})
			}
			continue
		}
		anySuccess = true
		registers := asRegisters(raw, dp.Count)
		decoded := device.DecodeDataPoint(dp, registers, d.Make)
		// The scaling pipeline clamps to [MinValue, MaxValue], so the band
		// check runs on a second decode with the clamp bounds removed.
		unclamped := dp
		unclamped.Parameters = make([]device.Parameter, len(dp.Parameters))
		for i, param := range dp.Parameters {
			param.MinValue, param.MaxValue = nil, nil
			unclamped.Parameters[i] = param
		}
		for i, entry := range device.DecodeDataPoint(unclamped, registers, d.Make) {
			if i < len(dp.Parameters) && isOutOfBand(dp.Parameters[i], entry) {
				critical = append(critical, entry.Name)
			}
		}
		entries = append(entries, decoded...)
	}
	p.health.record(deviceID, time.Since(started), anySuccess)

	reading := device.NewReading(deviceID, time.Now(), entries)

	if anySuccess {
		p.backoff.recordSuccess(deviceID)
		now := time.Now()
		if err := p.repo.UpdatePartial(ctx, deviceID, repository.DevicePatch{LastSeen: &now}); err != nil {
			p.logger.Warn("poller failed to update last_seen", zap.String("device", deviceID), zap.Error(err))
		}
		p.cache.Put(reading)
		p.publishHistory(ctx, reading)
		p.publishRealtime(reading, critical)
	} else {
		p.backoff.recordFailure(deviceID)
	}
	if p.hooks.OnPollResult != nil {
		p.hooks.OnPollResult(deviceID, anySuccess, reading.Timestamp)
	}
	return reading, nil
}

// isOutOfBand reports whether entry's decoded value falls outside its
// parameter's configured min/max band, the read-side counterpart to
// device.ValidateWriteValue's write-side check (§6.1 critical_value_changed).
func isOutOfBand(p device.Parameter, entry device.ReadingEntry) bool {
	if entry.Value == nil {
		return false
	}
	v := *entry.Value
	if p.MinValue != nil && v < *p.MinValue {
		return true
	}
	if p.MaxValue != nil && v > *p.MaxValue {
		return true
	}
	return false
}

// asRegisters normalizes a Session.ReadRegisters result into a uniform
// []uint16 register slice so device.DecodeDataPoint has a single input
// shape: coil/discrete reads ([]bool) are packed one bit per register so a
// BOOL Parameter with bit_position 0 still decodes correctly.
func asRegisters(raw any, count int) []uint16 {
	switch v := raw.(type) {
	case []uint16:
		return v
	case []bool:
		out := make([]uint16, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out
	default:
		return make([]uint16, count)
	}
}

func (p *Poller) publishHistory(ctx context.Context, r device.Reading) {
	if p.history == nil {
		return
	}
	entries := make([]HistoricalEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Error != "" || e.Value == nil {
			continue // §6.1: only non-null, non-error values are sent
		}
		entries = append(entries, HistoricalEntry{DeviceID: r.DeviceID, Parameter: e.Name, Value: *e.Value, Unit: e.Unit, Timestamp: r.Timestamp})
	}
	if len(entries) > 0 {
		p.history.WriteMany(ctx, entries)
	}
}

func (p *Poller) publishRealtime(r device.Reading, critical []string) {
	if p.push == nil {
		return
	}
	p.push.Emit("realtime_data_update", map[string]any{
		"device_id": r.DeviceID,
		"timestamp": r.Timestamp.Format(time.RFC3339),
		"entries":   r.Entries,
	})
	p.push.Emit("device_data_update", map[string]any{
		"device_id": r.DeviceID,
		"timestamp": r.Timestamp.Format(time.RFC3339),
	})
	for _, e := range r.Entries {
		if e.DataType == "BOOL" {
			p.push.Emit("coil_update", map[string]any{
				"device_id": r.DeviceID,
				"parameter": e.Name,
				"value":     e.Raw,
				"timestamp": r.Timestamp.Format(time.RFC3339),
			})
			p.push.Emit("device_coil_update", map[string]any{
				"device_id": r.DeviceID,
				"parameter": e.Name,
				"value":     e.Raw,
				"timestamp": r.Timestamp.Format(time.RFC3339),
			})
		}
	}
	for _, name := range critical {
		entry := findEntry(r.Entries, name)
		p.push.Emit("critical_value_changed", map[string]any{
			"device_id": r.DeviceID,
			"parameter": name,
			"value":     entry.Raw,
			"timestamp": r.Timestamp.Format(time.RFC3339),
		})
	}
}

func findEntry(entries []device.ReadingEntry, name string) device.ReadingEntry {
	for _, e := range entries {
		if e.Name == name {
			return e
		}
	}
	return device.ReadingEntry{}
}

// ScheduleDevice installs a one-shot timer that calls PollDevice then
// re-arms itself at an interval adjusted by adaptive backoff (§4.5). The
// effective interval is clamped to a 10s minimum.
func (p *Poller) ScheduleDevice(ctx context.Context, deviceID string, intervalMs int) {
	if intervalMs < minPollIntervalMs {
		intervalMs = minPollIntervalMs
	}
	p.backoff.setConfiguredInterval(deviceID, intervalMs)
	p.armTimer(ctx, deviceID)
}

func (p *Poller) armTimer(ctx context.Context, deviceID string) {
	next := p.backoff.nextIntervalMs(deviceID)
	p.timers.set(deviceID, time.AfterFunc(time.Duration(next)*time.Millisecond, func() {
		if _, err := p.PollDevice(ctx, deviceID); err != nil {
			p.logger.Debug("scheduled poll failed", zap.String("device", deviceID), zap.Error(err))
		}
		if p.timers.isScheduled(deviceID) {
			p.armTimer(ctx, deviceID)
		}
	}))
}

// StopDevice cancels deviceID's next-scheduled timer (§5 "cancellation"). A
// request already in flight runs to completion.
func (p *Poller) StopDevice(deviceID string) {
	p.timers.stop(deviceID)
}

// StopAll cancels every device's timer, for stop_auto_polling_service.
func (p *Poller) StopAll() {
	p.timers.stopAll()
}
