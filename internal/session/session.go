// Package session implements the per-device client state machine (C4): a
// Session owns one Transport and serializes every request/response
// exchange, retrying per the device's policy and never allowing more than
// one request in flight (invariant I-3).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
	"github.com/raohassandev/modbus-gateway/internal/transport"
)

// State is one of the five session lifecycle states (§4.3).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is emitted on the Session's event stream on every transition.
type StateChange struct {
	From State
	To   State
	Err  error
}

// Policy bundles a Session's retry/timeout tuning, sourced from
// device.AdvancedSettings.
type Policy struct {
	TimeoutMs       int
	Retries         int
	RetryIntervalMs int
	AutoReconnect   bool
}

// Session wraps one Transport and a unit id, enforcing the state machine,
// retry policy and single-in-flight rule of §4.3 and §5.
type Session struct {
	transport transport.Transport
	unitID    byte
	policy    Policy
	logger    *zap.Logger
	deviceID  string

	mu       sync.Mutex
	state    State
	inFlight bool

	stateCh chan StateChange
}

// New builds a Session around an already-constructed Transport. The
// transport is not connected until Connect is called.
func New(deviceID string, unitID byte, tr transport.Transport, policy Policy, logger *zap.Logger) *Session {
	if policy.TimeoutMs == 0 {
		policy.TimeoutMs = 5000
	}
	if policy.RetryIntervalMs == 0 {
		policy.RetryIntervalMs = 1000
	}
	return &Session{
		transport: tr,
		unitID:    unitID,
		policy:    policy,
		logger:    logger,
		deviceID:  deviceID,
		stateCh:   make(chan StateChange, 16),
	}
}

// StateChanges returns the session's observable transition stream (§4.3).
func (s *Session) StateChanges() <-chan StateChange { return s.stateCh }

func (s *Session) setState(to State, err error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	select {
	case s.stateCh <- StateChange{From: from, To: to, Err: err}:
	default:
	}
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect transitions Disconnected -> Connecting -> {Connected|Errored}.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(Connecting, nil)
	if err := s.transport.Connect(ctx); err != nil {
		s.setState(Errored, err)
		return err
	}
	s.setState(Connected, nil)
	return nil
}

// Disconnect transitions Connected -> Disconnecting -> Disconnected.
func (s *Session) Disconnect() error {
	s.setState(Disconnecting, nil)
	err := s.transport.Disconnect()
	s.setState(Disconnected, err)
	return err
}

func (s *Session) acquireInFlight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return &gwerrors.BusyInProgress{Device: s.deviceID}
	}
	s.inFlight = true
	return nil
}

func (s *Session) releaseInFlight() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// execute runs one request PDU through the retry policy of §4.3: up to
// retries+1 attempts, sleeping retry_interval_ms between, reconnecting first
// if auto_reconnect is set and the session isn't Connected. Modbus exception
// responses are never retried.
func (s *Session) execute(ctx context.Context, requestPDU []byte) ([]byte, error) {
	if err := s.acquireInFlight(); err != nil {
		return nil, err
	}
	defer s.releaseInFlight()

	timeout := time.Duration(s.policy.TimeoutMs) * time.Millisecond
	attempts := s.policy.Retries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(s.policy.RetryIntervalMs) * time.Millisecond):
			}
			if s.currentState() != Connected && s.policy.AutoReconnect {
				if err := s.Connect(ctx); err != nil {
					lastErr = err
					continue
				}
			}
		}

		respPDU, err := s.transport.Send(ctx, s.unitID, requestPDU, timeout)
		if err == nil {
			return respPDU, nil
		}

		var modbusErr *pdu.ModbusException
		if errors.As(err, &modbusErr) {
			return nil, err // not retried (§4.9)
		}
		lastErr = err
		s.logger.Debug("session request attempt failed", zap.String("device", s.deviceID), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}

// ReadRegisters issues FC 1-4. For FC 1/2 (coil/discrete) the result is
// unpacked into one bool per requested address; for FC 3/4 it is one uint16
// per register.
func (s *Session) ReadRegisters(ctx context.Context, fc pdu.FunctionCode, address uint16, count int) (any, error) {
	reqPDU, err := pdu.BuildReadRequest(fc, address, count)
	if err != nil {
		return nil, &gwerrors.ConfigError{Field: "function_code/count", Reason: err.Error()}
	}
	respPDU, err := s.execute(ctx, reqPDU)
	if err != nil {
		return nil, err
	}
	payload, err := pdu.ParseReadResponse(respPDU, fc)
	if err != nil {
		return nil, err
	}
	switch fc {
	case pdu.ReadCoils, pdu.ReadDiscreteInputs:
		return unpackBits(payload, count), nil
	default:
		return unpackRegisters(payload), nil
	}
}

func unpackBits(payload []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = payload[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

func unpackRegisters(payload []byte) []uint16 {
	out := make([]uint16, len(payload)/2)
	for i := range out {
		out[i] = uint16(payload[i*2])<<8 | uint16(payload[i*2+1])
	}
	return out
}

// WriteSingle issues FC 5 or FC 6.
func (s *Session) WriteSingle(ctx context.Context, fc pdu.FunctionCode, address uint16, value uint16) error {
	var reqPDU []byte
	var err error
	switch fc {
	case pdu.WriteSingleCoil:
		reqPDU, err = pdu.BuildWriteSingleCoil(address, value)
	case pdu.WriteSingleRegister:
		reqPDU = pdu.BuildWriteSingleRegister(address, value)
	default:
		return &gwerrors.ConfigError{Field: "function_code", Reason: fmt.Sprintf("%d is not a single-write function", fc)}
	}
	if err != nil {
		return &gwerrors.ConfigError{Field: "value", Reason: err.Error()}
	}
	respPDU, err := s.execute(ctx, reqPDU)
	if err != nil {
		return err
	}
	return pdu.ParseWriteResponse(respPDU, fc)
}

// WriteMultiple issues FC 15 (coils) or FC 16 (registers).
func (s *Session) WriteMultiple(ctx context.Context, fc pdu.FunctionCode, address uint16, values any) error {
	var reqPDU []byte
	var err error
	switch v := values.(type) {
	case []bool:
		reqPDU, err = pdu.BuildWriteMultipleCoils(address, v)
	case []uint16:
		reqPDU, err = pdu.BuildWriteMultipleRegisters(address, v)
	default:
		return &gwerrors.ConfigError{Field: "values", Reason: fmt.Sprintf("unsupported value slice type %T", values)}
	}
	if err != nil {
		return &gwerrors.ConfigError{Field: "values", Reason: err.Error()}
	}
	respPDU, err := s.execute(ctx, reqPDU)
	if err != nil {
		return err
	}
	return pdu.ParseWriteResponse(respPDU, fc)
}

// ExecuteCustom sends an arbitrary PDU and returns the raw response PDU,
// bypassing decode/validation, for callers with a non-standard function
// code already built.
func (s *Session) ExecuteCustom(ctx context.Context, requestPDU []byte) ([]byte, error) {
	return s.execute(ctx, requestPDU)
}
