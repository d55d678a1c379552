package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/poller"
	"github.com/raohassandev/modbus-gateway/internal/repository"
	"github.com/raohassandev/modbus-gateway/internal/session"
	"github.com/raohassandev/modbus-gateway/internal/supervisor"
	"github.com/raohassandev/modbus-gateway/internal/transport"
)

type fakeTransport struct{}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Disconnect() error                 { return nil }
func (f *fakeTransport) Events() <-chan transport.Event    { return nil }
func (f *fakeTransport) Send(ctx context.Context, unitID byte, requestPDU []byte, timeout time.Duration) ([]byte, error) {
	return []byte{requestPDU[0], 2, 0, 0}, nil
}

type fakeSessions struct{}

func (fakeSessions) Get(ctx context.Context, d device.Device) (*session.Session, error) {
	sess := session.New(d.ID, 1, &fakeTransport{}, session.Policy{TimeoutMs: 100, Retries: 0, RetryIntervalMs: 5}, zap.NewNop())
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

type fakeRepo struct {
	devices map[string]device.Device
}

func (r *fakeRepo) FindByID(ctx context.Context, id string) (*device.Device, error) {
	d, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
func (r *fakeRepo) FindEnabled(ctx context.Context) ([]device.Device, error) { return nil, nil }
func (r *fakeRepo) CountEnabled(ctx context.Context) (int, error)            { return 0, nil }
func (r *fakeRepo) UpdatePartial(ctx context.Context, id string, patch repository.DevicePatch) error {
	return nil
}

type fakeCache struct{}

func (fakeCache) Put(r device.Reading) {}

func sampleDevice() device.Device {
	return device.Device{
		ID: "dev1", Enabled: true, Transport: device.TransportTCP,
		TCP: &device.TCPConfig{Host: "10.0.0.1", Port: 502, UnitID: 1, TimeoutMs: 100},
		DataPoints: []device.DataPoint{
			{FunctionCode: 3, StartAddress: 0, Count: 1, Parameters: []device.Parameter{{Name: "temp", DataType: "UINT16"}}},
		},
	}
}

func TestRefreshPopulatesPollDurationAndFleetGauges(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": sampleDevice()}}
	p := poller.New(repo, fakeCache{}, nil, nil, fakeSessions{}, zap.NewNop())
	sup := supervisor.New(repo, p, zap.NewNop())

	if _, err := p.PollDevice(context.Background(), "dev1"); err != nil {
		t.Fatalf("PollDevice() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	m := NewRegistry(reg, p, sup)
	m.Refresh()

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if !hasMetric(metricFamilies, "modbus_gateway_poll_duration_seconds") {
		t.Fatal("expected modbus_gateway_poll_duration_seconds to be registered and populated")
	}
	if !hasMetric(metricFamilies, "modbus_gateway_fleet_successful_polls") {
		t.Fatal("expected modbus_gateway_fleet_successful_polls to be registered")
	}
}

func hasMetric(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return true
		}
	}
	return false
}
