package gorm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDevice(id string) device.Device {
	return device.Device{
		ID:        id,
		Name:      "Chiller",
		Make:      "acme",
		Enabled:   true,
		Transport: device.TransportTCP,
		TCP:       &device.TCPConfig{Host: "10.0.0.1", Port: 502, UnitID: 1, TimeoutMs: 5000},
		DataPoints: []device.DataPoint{
			{FunctionCode: 3, StartAddress: 0, Count: 2, Parameters: []device.Parameter{{Name: "temp", DataType: "FLOAT32", ByteOrder: "ABCD"}}},
		},
		Advanced:    device.AdvancedSettings{TimeoutMs: 5000, Retries: 3, RetryIntervalMs: 1000},
		AddressBase: device.AddressBaseZero,
	}
}

func TestStoreSaveAndFindByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := sampleDevice("dev1")
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	got, err := s.FindByID(ctx, "dev1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got == nil || got.Name != "Chiller" || got.TCP == nil || got.TCP.Port != 502 {
		t.Fatalf("FindByID() = %+v", got)
	}
	if len(got.DataPoints) != 1 || len(got.DataPoints[0].Parameters) != 1 {
		t.Fatalf("FindByID() data points = %+v", got.DataPoints)
	}
}

func TestStoreFindByIDMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.FindByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("FindByID() error = %v, want nil", err)
	}
	if got != nil {
		t.Fatalf("FindByID() = %+v, want nil", got)
	}
}

func TestStoreFindEnabledAndCountEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	enabled := sampleDevice("dev1")
	disabled := sampleDevice("dev2")
	disabled.Enabled = false
	if err := s.SaveDevice(ctx, enabled); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	if err := s.SaveDevice(ctx, disabled); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	devices, err := s.FindEnabled(ctx)
	if err != nil {
		t.Fatalf("FindEnabled() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "dev1" {
		t.Fatalf("FindEnabled() = %+v", devices)
	}

	count, err := s.CountEnabled(ctx)
	if err != nil {
		t.Fatalf("CountEnabled() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("CountEnabled() = %d, want 1", count)
	}
}

func TestStoreUpdatePartial(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveDevice(ctx, sampleDevice("dev1")); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	activeSchedule := "sched-1"
	err := s.UpdatePartial(ctx, "dev1", repository.DevicePatch{LastSeen: &now, ActiveScheduleID: &activeSchedule})
	if err != nil {
		t.Fatalf("UpdatePartial() error = %v", err)
	}

	got, err := s.FindByID(ctx, "dev1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(now) {
		t.Fatalf("LastSeen = %v, want %v", got.LastSeen, now)
	}
	if got.ActiveScheduleID != "sched-1" {
		t.Fatalf("ActiveScheduleID = %q, want sched-1", got.ActiveScheduleID)
	}
}

func TestStoreAddressBaseLegacyShim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := sampleDevice("dev1")
	d.Advanced.Retries = 0 // legacy marker
	d.AddressBase = 0      // unset
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	got, err := s.FindByID(ctx, "dev1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.AddressBase != device.AddressBaseOne {
		t.Fatalf("AddressBase = %v, want AddressBaseOne via legacy shim", got.AddressBase)
	}
}

func TestStoreScheduleTemplateAndDeviceScheduleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tmpl := device.ScheduleTemplate{
		ID:   "tmpl1",
		Name: "office hours",
		Rules: []device.ScheduleRule{
			{Enabled: true, Days: []device.Day{device.Weekday}, StartTime: "08:00", EndTime: "18:00", Setpoint: 22.0, Parameter: "setpoint"},
		},
	}
	if err := s.SaveTemplate(ctx, &tmpl); err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}

	ds := device.DeviceSchedule{DeviceID: "dev1", TemplateID: "tmpl1", Active: true}
	if err := s.SaveSchedule(ctx, &ds); err != nil {
		t.Fatalf("SaveSchedule() error = %v", err)
	}

	active, err := s.FindActiveSchedules(ctx, time.Now())
	if err != nil {
		t.Fatalf("FindActiveSchedules() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("FindActiveSchedules() len = %d, want 1", len(active))
	}
	if active[0].Template.Name != "office hours" || len(active[0].Template.Rules) != 1 {
		t.Fatalf("FindActiveSchedules()[0].Template = %+v", active[0].Template)
	}
}

func TestStoreFindActiveSchedulesExcludesOutOfDateRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tmpl := device.ScheduleTemplate{ID: "tmpl1", Name: "t"}
	if err := s.SaveTemplate(ctx, &tmpl); err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	ds := device.DeviceSchedule{DeviceID: "dev1", TemplateID: "tmpl1", Active: true, EndDate: &past}
	if err := s.SaveSchedule(ctx, &ds); err != nil {
		t.Fatalf("SaveSchedule() error = %v", err)
	}

	active, err := s.FindActiveSchedules(ctx, time.Now())
	if err != nil {
		t.Fatalf("FindActiveSchedules() error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("FindActiveSchedules() len = %d, want 0 (EndDate in the past)", len(active))
	}
}
