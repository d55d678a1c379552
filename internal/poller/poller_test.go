package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
	"github.com/raohassandev/modbus-gateway/internal/repository"
	"github.com/raohassandev/modbus-gateway/internal/session"
	"github.com/raohassandev/modbus-gateway/internal/transport"
)

// fakeTransport always answers a FC3 read with two fixed registers
// (0x4120, 0x0000 -> 10.0 as big-endian FLOAT32), or returns connErr if set.
type fakeTransport struct {
	connErr error
	sendErr error
}

func (f *fakeTransport) Connect(ctx context.Context) error { return f.connErr }
func (f *fakeTransport) Disconnect() error                 { return nil }
func (f *fakeTransport) Events() <-chan transport.Event    { return nil }
func (f *fakeTransport) Send(ctx context.Context, unitID byte, requestPDU []byte, timeout time.Duration) ([]byte, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	fc := requestPDU[0]
	return []byte{fc, 4, 0x41, 0x20, 0x00, 0x00}, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	devices map[string]device.Device
	patches []repository.DevicePatch
}

func (r *fakeRepo) FindByID(ctx context.Context, id string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
func (r *fakeRepo) FindEnabled(ctx context.Context) ([]device.Device, error) { return nil, nil }
func (r *fakeRepo) CountEnabled(ctx context.Context) (int, error)            { return 0, nil }
func (r *fakeRepo) UpdatePartial(ctx context.Context, id string, patch repository.DevicePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, patch)
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	puts []device.Reading
}

func (c *fakeCache) Put(r device.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, r)
}

type fakeHistory struct {
	mu      sync.Mutex
	written [][]HistoricalEntry
}

func (h *fakeHistory) WriteMany(ctx context.Context, entries []HistoricalEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, entries)
}

type fakePush struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePush) Emit(eventName string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventName)
}

type fakeSessions struct {
	tr  *fakeTransport
	err error
}

func (s *fakeSessions) Get(ctx context.Context, d device.Device) (*session.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	sess := session.New(d.ID, 1, s.tr, session.Policy{TimeoutMs: 1000, Retries: 1, RetryIntervalMs: 10}, zap.NewNop())
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func sampleDevice() device.Device {
	return device.Device{
		ID:        "dev1",
		Make:      "acme",
		Enabled:   true,
		Transport: device.TransportTCP,
		TCP:       &device.TCPConfig{Host: "10.0.0.1", Port: 502, UnitID: 1, TimeoutMs: 1000},
		DataPoints: []device.DataPoint{
			{FunctionCode: pdu.ReadHoldingRegisters, StartAddress: 0, Count: 2, Parameters: []device.Parameter{
				{Name: "temp", DataType: "FLOAT32", ByteOrder: "ABCD"},
			}},
		},
		Advanced: device.AdvancedSettings{TimeoutMs: 1000, Retries: 1, RetryIntervalMs: 10},
	}
}

func TestPollDeviceSuccessPublishesAndCaches(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": sampleDevice()}}
	c := &fakeCache{}
	h := &fakeHistory{}
	push := &fakePush{}
	sp := &fakeSessions{tr: &fakeTransport{}}
	p := New(repo, c, h, push, sp, zap.NewNop())

	reading, err := p.PollDevice(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("PollDevice() error = %v", err)
	}
	if len(reading.Entries) != 1 || reading.Entries[0].Error != "" {
		t.Fatalf("PollDevice() entries = %+v", reading.Entries)
	}
	if len(c.puts) != 1 {
		t.Fatalf("cache.Put called %d times, want 1", len(c.puts))
	}
	if len(h.written) != 1 || len(h.written[0]) != 1 {
		t.Fatalf("history.WriteMany = %+v", h.written)
	}
	if len(push.events) == 0 {
		t.Fatal("push.Emit was never called")
	}
	if len(repo.patches) != 1 || repo.patches[0].LastSeen == nil {
		t.Fatalf("repo.UpdatePartial patches = %+v", repo.patches)
	}
}

func TestPollDeviceReadFailureRecordsEntryErrorsAndSkipsPublish(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": sampleDevice()}}
	c := &fakeCache{}
	h := &fakeHistory{}
	sp := &fakeSessions{tr: &fakeTransport{sendErr: context.DeadlineExceeded}}
	p := New(repo, c, h, nil, sp, zap.NewNop())

	reading, err := p.PollDevice(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("PollDevice() error = %v, want nil (cycle itself succeeds, entries carry errors)", err)
	}
	if len(reading.Entries) != 1 || reading.Entries[0].Error == "" {
		t.Fatalf("PollDevice() entries = %+v, want one entry with Error set", reading.Entries)
	}
	if len(c.puts) != 0 {
		t.Fatalf("cache.Put called on a fully failed cycle, want 0 calls")
	}
	if p.backoff.ConsecutiveFailures("dev1") != 1 {
		t.Fatalf("ConsecutiveFailures() = %d, want 1", p.backoff.ConsecutiveFailures("dev1"))
	}
}

func TestPollDeviceUnknownDeviceErrors(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{}}
	p := New(repo, &fakeCache{}, nil, nil, &fakeSessions{tr: &fakeTransport{}}, zap.NewNop())
	if _, err := p.PollDevice(context.Background(), "nope"); err == nil {
		t.Fatal("PollDevice() error = nil, want not-found error")
	}
}

func TestPollDeviceDisabledDeviceErrors(t *testing.T) {
	d := sampleDevice()
	d.Enabled = false
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": d}}
	p := New(repo, &fakeCache{}, nil, nil, &fakeSessions{tr: &fakeTransport{}}, zap.NewNop())
	if _, err := p.PollDevice(context.Background(), "dev1"); err == nil {
		t.Fatal("PollDevice() error = nil, want disabled-device error")
	}
}

func TestBackoffTrackerGrowsAndCapsAndResets(t *testing.T) {
	b := newBackoffTracker()
	b.setConfiguredInterval("dev1", 10_000)

	if got := b.nextIntervalMs("dev1"); got != 10_000 {
		t.Fatalf("nextIntervalMs() with no failures = %d, want 10000", got)
	}

	for i := 0; i < 100; i++ {
		b.recordFailure("dev1")
	}
	if got := b.nextIntervalMs("dev1"); got != maxBackoffMs {
		t.Fatalf("nextIntervalMs() after many failures = %d, want capped at %d", got, maxBackoffMs)
	}

	b.recordSuccess("dev1")
	if got := b.nextIntervalMs("dev1"); got != 10_000 {
		t.Fatalf("nextIntervalMs() after recordSuccess = %d, want reset to 10000", got)
	}
}

// TestBackoffTrackerFourFailuresWaitsFourMinutes pins S4: a device with
// polling_interval_ms=10_000 that fails 4 consecutive polls must not be
// re-polled sooner than 4 minutes after the 4th failure.
func TestBackoffTrackerFourFailuresWaitsFourMinutes(t *testing.T) {
	b := newBackoffTracker()
	b.setConfiguredInterval("dev1", 10_000)

	for i := 0; i < 4; i++ {
		b.recordFailure("dev1")
	}

	const fourMinutesMs = 4 * 60 * 1000
	if got := b.nextIntervalMs("dev1"); got != fourMinutesMs {
		t.Fatalf("nextIntervalMs() after 4 failures = %d, want %d (4 minutes)", got, fourMinutesMs)
	}
}

// TestBackoffTrackerBelowThresholdAppliesRecentErrorFloor pins §4.5's
// "≥3 consecutive errors" threshold: 1 or 2 failures do not trigger the
// minutes-scale backoff, but the recent-error floor still raises the
// interval to 2 minutes.
func TestBackoffTrackerBelowThresholdAppliesRecentErrorFloor(t *testing.T) {
	b := newBackoffTracker()
	b.setConfiguredInterval("dev1", 10_000)

	b.recordFailure("dev1")
	b.recordFailure("dev1")
	if got := b.nextIntervalMs("dev1"); got != recentErrorFloorMs {
		t.Fatalf("nextIntervalMs() after 2 failures = %d, want %d (recent-error floor)", got, recentErrorFloorMs)
	}
}

// TestBackoffTrackerRepositoryErrorFloorsWithoutBumpingCounter pins §4.5's
// database-layer rule: a repository error floors the next delay to 2
// minutes but must not bump the adaptive failure counter.
func TestBackoffTrackerRepositoryErrorFloorsWithoutBumpingCounter(t *testing.T) {
	b := newBackoffTracker()
	b.setConfiguredInterval("dev1", 10_000)

	b.recordRepositoryError("dev1")

	const twoMinutesMs = 2 * 60 * 1000
	if got := b.nextIntervalMs("dev1"); got != twoMinutesMs {
		t.Fatalf("nextIntervalMs() after repository error = %d, want %d (2 minute floor)", got, twoMinutesMs)
	}
	if got := b.ConsecutiveFailures("dev1"); got != 0 {
		t.Fatalf("ConsecutiveFailures() after repository error = %d, want 0 (counter must not bump)", got)
	}
}

func TestScheduleDeviceClampsBelowFloor(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": sampleDevice()}}
	p := New(repo, &fakeCache{}, nil, nil, &fakeSessions{tr: &fakeTransport{}}, zap.NewNop())
	p.ScheduleDevice(context.Background(), "dev1", 500)
	if got := p.backoff.nextIntervalMs("dev1"); got != minPollIntervalMs {
		t.Fatalf("configured interval = %d, want clamped to %d", got, minPollIntervalMs)
	}
	p.StopAll()
}

func TestPollDeviceOutOfBandValueEmitsCriticalValueChanged(t *testing.T) {
	d := sampleDevice()
	max := 5.0
	d.DataPoints[0].Parameters[0].MaxValue = &max // decoded temp is 10.0, above max
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": d}}
	push := &fakePush{}
	sp := &fakeSessions{tr: &fakeTransport{}}
	p := New(repo, &fakeCache{}, nil, push, sp, zap.NewNop())

	if _, err := p.PollDevice(context.Background(), "dev1"); err != nil {
		t.Fatalf("PollDevice() error = %v", err)
	}

	found := false
	for _, name := range push.events {
		if name == "critical_value_changed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("push events = %v, want critical_value_changed", push.events)
	}
}

func TestPollDeviceRecordsHealthSnapshot(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": sampleDevice()}}
	sp := &fakeSessions{tr: &fakeTransport{}}
	p := New(repo, &fakeCache{}, nil, nil, sp, zap.NewNop())

	if _, err := p.PollDevice(context.Background(), "dev1"); err != nil {
		t.Fatalf("PollDevice() error = %v", err)
	}

	h := p.Health("dev1")
	if h.TotalPolls != 1 || h.SuccessfulPolls != 1 || h.SuccessRatio != 1.0 {
		t.Fatalf("Health() = %+v, want one successful poll", h)
	}
}

func TestStopDevicePreventsReArm(t *testing.T) {
	repo := &fakeRepo{devices: map[string]device.Device{"dev1": sampleDevice()}}
	p := New(repo, &fakeCache{}, nil, nil, &fakeSessions{tr: &fakeTransport{}}, zap.NewNop())
	p.timers.set("dev1", time.AfterFunc(time.Hour, func() {}))
	p.StopDevice("dev1")
	if p.timers.isScheduled("dev1") {
		t.Fatal("isScheduled() = true after StopDevice, want false")
	}
}
