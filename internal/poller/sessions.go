package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/session"
	"github.com/raohassandev/modbus-gateway/internal/transport"
)

// sessionPool is the default SessionProvider: one Session per device,
// built lazily on first use and kept for the process lifetime, mirroring
// the teacher's Collector holding one *modbus.Client per configured
// target for its whole run.
type sessionPool struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	logger   *zap.Logger
}

// NewSessionPool builds a SessionProvider backed by one long-lived Session
// per device.
func NewSessionPool(logger *zap.Logger) *sessionPool {
	return &sessionPool{sessions: make(map[string]*session.Session), logger: logger}
}

func (p *sessionPool) Get(ctx context.Context, d device.Device) (*session.Session, error) {
	p.mu.Lock()
	sess, ok := p.sessions[d.ID]
	p.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := p.build(d)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[d.ID] = sess
	p.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func (p *sessionPool) build(d device.Device) (*session.Session, error) {
	policy := session.Policy{
		TimeoutMs:       d.Advanced.TimeoutMs,
		Retries:         d.Advanced.Retries,
		RetryIntervalMs: d.Advanced.RetryIntervalMs,
		AutoReconnect:   true,
	}

	switch d.Transport {
	case device.TransportTCP:
		if d.TCP == nil {
			return nil, fmt.Errorf("poller: device %s is transport=tcp but has no tcp config", d.ID)
		}
		tr := transport.NewTCPTransport(transport.TCPConfig{
			Host:           d.TCP.Host,
			Port:           d.TCP.Port,
			ConnectTimeout: time.Duration(d.TCP.TimeoutMs) * time.Millisecond,
			AutoReconnect:  true,
		}, p.logger)
		return session.New(d.ID, d.TCP.UnitID, tr, policy, p.logger), nil

	case device.TransportRTU:
		if d.RTU == nil {
			return nil, fmt.Errorf("poller: device %s is transport=rtu but has no rtu config", d.ID)
		}
		tr := transport.NewRTUTransport(transport.RTUConfig{
			Path:     d.RTU.Path,
			BaudRate: d.RTU.Baud,
			DataBits: d.RTU.DataBits,
			StopBits: d.RTU.StopBits,
			Parity:   rtuParityCode(d.RTU.Parity),
		}, p.logger)
		return session.New(d.ID, d.RTU.UnitID, tr, policy, p.logger), nil

	default:
		return nil, fmt.Errorf("poller: device %s has unknown transport %q", d.ID, d.Transport)
	}
}

// Drop removes a device's session (e.g. after a definition change forces a
// reconnect with new parameters).
func (p *sessionPool) Drop(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, deviceID)
}

func rtuParityCode(parity device.Parity) string {
	switch parity {
	case device.ParityEven:
		return "E"
	case device.ParityOdd:
		return "O"
	default:
		return "N"
	}
}
