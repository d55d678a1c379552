// Package setpoint implements C10: turning a schedule.Event into a
// register write, gated by the device's control-mode bits, with optional
// gradual linear transition. It generalizes the teacher's direct
// register-write helpers (applyRowToServer in servermgr) from "always
// write" to the spec's control-bit-gated, possibly-interpolated write
// path.
package setpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/codec"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
	"github.com/raohassandev/modbus-gateway/internal/repository"
	"github.com/raohassandev/modbus-gateway/internal/schedule"
	"github.com/raohassandev/modbus-gateway/internal/session"
)

// ErrNoDefaultValue is returned when an End event has neither a rule
// default_setpoint nor a parameter default_value to fall back to (§9 Open
// Question, decided as an error rather than a silent zero-write).
var ErrNoDefaultValue = errors.New("setpoint: no default_setpoint or parameter default_value for End event")

const (
	defaultTransitionDurationMs = 60_000
	transitionDiffThreshold     = 0.01
	transitionTickInterval      = 5 * time.Second
)

// ReadingCache is the narrow read-only view of the realtime cache the
// setpoint manager needs to evaluate control-mode bits.
type ReadingCache interface {
	Get(deviceID string) (device.Reading, bool)
}

// SessionProvider returns the long-lived Session for a device.
type SessionProvider interface {
	Get(ctx context.Context, d device.Device) (*session.Session, error)
}

// EventLogEntry is one append-only record of a setpoint write (§4.8 step 6).
// ID is a random v4 UUID assigned at emission time, not derived from any
// device/schedule identifier, so two writes of the same value at the same
// instant remain distinguishable in the log.
type EventLogEntry struct {
	ID        string
	Kind      string
	Message   string
	DeviceID  string
	Timestamp time.Time
	UserID    string
}

// EventLogSink persists EventLogEntry values. Failures are logged, never
// surfaced (§4.8 "do not surface logging failures").
type EventLogSink interface {
	WriteEvent(ctx context.Context, e EventLogEntry)
}

type transitionState struct {
	deviceID   string
	parameter  string
	address    uint16
	dataType   codec.DataType
	byteOrder  codec.ByteOrder
	startValue float64
	target     float64
	startedAt  time.Time
	durationMs int
}

// Manager implements schedule.Sink, applying every schedule event it
// receives, and runs the periodic transition re-write loop.
type Manager struct {
	repo         repository.DeviceRepository
	scheduleRepo repository.ScheduleRepository
	cache        ReadingCache
	sessions     SessionProvider
	eventlog     EventLogSink
	logger       *zap.Logger

	// BypassScheduleBitCheck skips the is_control_central/is_schedule_on
	// gate (§4.8 step 2's escape hatch), for devices with no such bits.
	BypassScheduleBitCheck bool

	mu              sync.Mutex
	lastSetpoint    map[string]float64 // key: deviceID+"|"+parameter
	transitions     map[string]*transitionState
}

var _ schedule.Sink = (*Manager)(nil)

// New builds a Manager.
func New(repo repository.DeviceRepository, scheduleRepo repository.ScheduleRepository, cache ReadingCache, sessions SessionProvider, eventlog EventLogSink, logger *zap.Logger) *Manager {
	return &Manager{
		repo:         repo,
		scheduleRepo: scheduleRepo,
		cache:        cache,
		sessions:     sessions,
		eventlog:     eventlog,
		logger:       logger,
		lastSetpoint: make(map[string]float64),
		transitions:  make(map[string]*transitionState),
	}
}

// Run drives the periodic re-write of in-progress transitions every 5s
// (§4.8 step 4) until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(transitionTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tickTransitions(ctx)
		}
	}
}

func transitionKey(deviceID, parameter string) string { return deviceID + "|" + parameter }

// HandleScheduleEvent implements schedule.Sink (§4.8 steps 1-6).
func (m *Manager) HandleScheduleEvent(ctx context.Context, ev schedule.Event) {
	if err := m.apply(ctx, ev); err != nil {
		m.logger.Warn("setpoint event not applied", zap.String("device", ev.DeviceID), zap.String("rule", ev.Rule.ID), zap.Error(err))
	}
}

func (m *Manager) apply(ctx context.Context, ev schedule.Event) error {
	d, err := m.repo.FindByID(ctx, ev.DeviceID)
	if err != nil {
		return fmt.Errorf("setpoint: load device: %w", err)
	}
	if d == nil {
		return fmt.Errorf("setpoint: device %s not found", ev.DeviceID)
	}

	param, _, found := device.FindParameterByName(d.DataPoints, ev.Rule.Parameter)
	if !found {
		return fmt.Errorf("setpoint: no parameter %q (or fallback \"setpoint\") on device %s", ev.Rule.Parameter, ev.DeviceID)
	}

	if !m.BypassScheduleBitCheck {
		reading, ok := m.cache.Get(ev.DeviceID)
		if !ok {
			return fmt.Errorf("setpoint: no cached reading yet for device %s", ev.DeviceID)
		}
		if centralFound, central := device.IsControlCentral(reading); centralFound && !central {
			return nil // I-6: control not central, skip silently
		}
		if scheduleFound, on := device.IsScheduleOn(reading); scheduleFound && !on {
			return nil // I-6: schedule bit off, skip silently
		}
	}

	target, err := resolveTargetValue(ev, *param)
	if err != nil {
		return err
	}
	if err := device.ValidateWriteValue(*param, target); err != nil {
		return err
	}

	order := device.EffectiveByteOrder(*param, d.Make)
	key := transitionKey(ev.DeviceID, param.Name)
	address := device.EffectiveStartAddress(uint16(param.RegisterIndex), d.AddressBase)

	m.mu.Lock()
	previous, hadPrevious := m.lastSetpoint[key]
	m.mu.Unlock()

	if hadPrevious && absDiff(previous, target) > transitionDiffThreshold && param.DataType != codec.BOOL {
		m.mu.Lock()
		m.transitions[key] = &transitionState{
			deviceID: ev.DeviceID, parameter: param.Name, address: address,
			dataType: param.DataType, byteOrder: order,
			startValue: previous, target: target,
			startedAt: ev.At, durationMs: defaultTransitionDurationMs,
		}
		m.mu.Unlock()
		return nil // periodic tick writes the interpolated value
	}

	if err := m.writeAndRecord(ctx, *d, *param, address, order, target, ev); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.transitions, key)
	m.mu.Unlock()
	return nil
}

func resolveTargetValue(ev schedule.Event, p device.Parameter) (float64, error) {
	if ev.Action == schedule.Start {
		return ev.Rule.Setpoint, nil
	}
	if ev.Rule.DefaultSetpoint != nil {
		return *ev.Rule.DefaultSetpoint, nil
	}
	if p.DefaultValue != nil {
		return *p.DefaultValue, nil
	}
	return 0, ErrNoDefaultValue
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// tickTransitions re-writes every in-progress transition's interpolated
// value, removing any that have completed.
func (m *Manager) tickTransitions(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*transitionState, 0, len(m.transitions))
	for _, tr := range m.transitions {
		snapshot = append(snapshot, tr)
	}
	m.mu.Unlock()

	for _, tr := range snapshot {
		elapsed := time.Since(tr.startedAt)
		frac := float64(elapsed.Milliseconds()) / float64(tr.durationMs)
		done := frac >= 1
		if done {
			frac = 1
		}
		value := tr.startValue + (tr.target-tr.startValue)*frac

		d, err := m.repo.FindByID(ctx, tr.deviceID)
		if err != nil || d == nil {
			m.logger.Warn("transition tick could not reload device", zap.String("device", tr.deviceID), zap.Error(err))
			continue
		}
		if err := m.write(ctx, *d, tr.address, tr.dataType, tr.byteOrder, value); err != nil {
			m.logger.Warn("transition tick write failed", zap.String("device", tr.deviceID), zap.String("parameter", tr.parameter), zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.lastSetpoint[transitionKey(tr.deviceID, tr.parameter)] = value
		if done {
			delete(m.transitions, transitionKey(tr.deviceID, tr.parameter))
		}
		m.mu.Unlock()
	}
}

func (m *Manager) writeAndRecord(ctx context.Context, d device.Device, p device.Parameter, address uint16, order codec.ByteOrder, value float64, ev schedule.Event) error {
	if err := m.write(ctx, d, address, p.DataType, order, value); err != nil {
		return err
	}

	key := transitionKey(d.ID, p.Name)
	m.mu.Lock()
	m.lastSetpoint[key] = value
	m.mu.Unlock()

	now := ev.At
	if ev.Schedule.CurrentActiveRule == nil {
		ev.Schedule.CurrentActiveRule = map[string]string{}
	}
	if ev.Action == schedule.Start {
		ev.Schedule.CurrentActiveRule[p.Name] = ev.Rule.ID
	} else {
		delete(ev.Schedule.CurrentActiveRule, p.Name)
	}
	ev.Schedule.LastApplied = &now
	if m.scheduleRepo != nil {
		if err := m.scheduleRepo.SaveSchedule(ctx, &ev.Schedule); err != nil {
			m.logger.Warn("setpoint could not persist current_active_rule", zap.String("device", d.ID), zap.Error(err))
		}
	}

	if m.eventlog != nil {
		m.eventlog.WriteEvent(ctx, EventLogEntry{
			ID:        uuid.NewString(),
			Kind:      "info",
			Message:   fmt.Sprintf("setpoint %s.%s -> %v (%s)", d.ID, p.Name, value, ev.Action),
			DeviceID:  d.ID,
			Timestamp: now,
		})
	}
	return nil
}

// write dispatches FC16 for 32-bit types, FC6 for 16-bit, FC5 for coils
// (§4.8 step 5).
func (m *Manager) write(ctx context.Context, d device.Device, address uint16, dt codec.DataType, order codec.ByteOrder, value float64) error {
	sess, err := m.sessions.Get(ctx, d)
	if err != nil {
		return fmt.Errorf("setpoint: session: %w", err)
	}

	if dt == codec.BOOL {
		v := uint16(0x0000)
		if value != 0 {
			v = 0xFF00
		}
		return sess.WriteSingle(ctx, pdu.WriteSingleCoil, address, v)
	}

	words, err := codec.EncodeValue(value, dt, order)
	if err != nil {
		return fmt.Errorf("setpoint: encode: %w", err)
	}
	if len(words) == 1 {
		return sess.WriteSingle(ctx, pdu.WriteSingleRegister, address, words[0])
	}
	return sess.WriteMultiple(ctx, pdu.WriteMultipleRegisters, address, words)
}
