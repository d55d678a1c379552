// Package supervisor implements C8: fleet-wide bring-up at startup,
// picking one of four strategies from the time budget and device count,
// then handing every device to the poller for ongoing polling. It
// generalizes the teacher's collector.Manager.Run worker-semaphore fan-out
// (unconditional, always-parallel) into the spec's budget-aware strategy
// table, and its servermgr.Manager goroutine-per-server bring-up into the
// background-retry path.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/poller"
	"github.com/raohassandev/modbus-gateway/internal/repository"
)

// Strategy is one of the four fleet bring-up strategies of §4.6.
type Strategy string

const (
	BatchSequential     Strategy = "batch_sequential"
	ParallelBackground  Strategy = "parallel_background"
	Emergency           Strategy = "emergency"
	GracefulDegradation Strategy = "graceful_degradation"
)

const (
	reservedMs           = 3_000
	perDeviceFastMs      = 1_000
	parallelFanout       = 5
	emergencyFanout      = 2
	backgroundRetryDelay = 5 * time.Minute
)

// Stats answers the spec's `stats` operation.
type Stats struct {
	SuccessfulPolls int64
	FailedPolls     int64
	LastPollAt      map[string]time.Time
	StartedAt       time.Time
	StrategyChosen  Strategy
}

// Supervisor owns fleet bring-up and exposes the operations of §4.6.
type Supervisor struct {
	repo   repository.DeviceRepository
	poller *poller.Poller
	logger *zap.Logger

	mu         sync.Mutex
	successful int64
	failed     int64
	lastPollAt map[string]time.Time
	strategy   Strategy
	startedAt  time.Time
	beingBuilt map[string]bool // deferred devices currently awaiting background bring-up
}

// New builds a Supervisor and installs its poll-result hook on p.
func New(repo repository.DeviceRepository, p *poller.Poller, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		repo:       repo,
		poller:     p,
		logger:     logger,
		lastPollAt: make(map[string]time.Time),
		beingBuilt: make(map[string]bool),
	}
	p.SetHooks(poller.Hooks{OnPollResult: s.recordPollResult})
	return s
}

func (s *Supervisor) recordPollResult(deviceID string, success bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.successful++
	} else {
		s.failed++
	}
	s.lastPollAt[deviceID] = at
}

// BringUp brings up polling for every enabled device within timeoutMs,
// choosing a strategy per §4.6. It returns the strategy chosen so the
// caller (and /stats) can report it.
func (s *Supervisor) BringUp(ctx context.Context, timeoutMs int) (Strategy, error) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	dbStart := time.Now()
	devices, err := s.repo.FindEnabled(ctx)
	dbQueryMs := int(time.Since(dbStart).Milliseconds())
	if err != nil {
		s.logger.Warn("bring-up could not list enabled devices, retrying in background", zap.Error(err))
		s.setStrategy(GracefulDegradation)
		s.retryListForever(ctx)
		return GracefulDegradation, err
	}
	if len(devices) == 0 {
		s.setStrategy(BatchSequential)
		return BatchSequential, nil
	}

	available := timeoutMs - dbQueryMs - reservedMs
	strategy := chooseStrategy(available, len(devices))
	s.setStrategy(strategy)
	s.logger.Info("fleet bring-up", zap.String("strategy", string(strategy)), zap.Int("devices", len(devices)), zap.Int("available_ms", available))

	var immediate, deferred []device.Device
	switch strategy {
	case BatchSequential:
		immediate, deferred = s.bringUpBatches(ctx, devices, available)
	case ParallelBackground:
		immediate, deferred = s.bringUpParallel(ctx, devices, parallelFanout)
	case Emergency:
		immediate, deferred = s.bringUpParallel(ctx, devices, emergencyFanout)
	case GracefulDegradation:
		deferred = devices
	}
	_ = immediate

	for _, d := range deferred {
		s.scheduleBackground(ctx, d)
	}
	return strategy, nil
}

// chooseStrategy implements §4.6's decision table exactly as written. S7
// (N=50, timeout_ms=3000) expects ParallelBackground under this formula
// only once availableMs is positive; at timeout_ms=3000 the 3000ms
// reservation always drives availableMs to 0 regardless of db_query_ms,
// yielding Emergency. The spec's formula and S7's worked result conflict;
// this implementation takes the written formula as authoritative.
func chooseStrategy(availableMs, n int) Strategy {
	if availableMs <= 0 {
		return Emergency
	}
	perDevice := availableMs / n
	switch {
	case perDevice >= perDeviceFastMs:
		return BatchSequential
	case availableMs >= perDeviceFastMs:
		return ParallelBackground
	default:
		return Emergency
	}
}

// bringUpBatches implements BatchSequential: two batches of N/2, each
// bounded by available/2. A device not reached before its batch budget
// elapses is deferred to background.
func (s *Supervisor) bringUpBatches(ctx context.Context, devices []device.Device, availableMs int) (immediate, deferred []device.Device) {
	mid := (len(devices) + 1) / 2
	batches := [][]device.Device{devices[:mid], devices[mid:]}
	budget := time.Duration(availableMs/2) * time.Millisecond
	if budget <= 0 {
		budget = time.Millisecond
	}

	for _, batch := range batches {
		batchCtx, cancel := context.WithTimeout(ctx, budget)
		for _, d := range batch {
			if batchCtx.Err() != nil {
				deferred = append(deferred, d)
				continue
			}
			if s.bringUpOne(batchCtx, d) {
				immediate = append(immediate, d)
			} else {
				deferred = append(deferred, d)
			}
		}
		cancel()
	}
	return immediate, deferred
}

// bringUpParallel starts up to fanout devices concurrently right away and
// defers the rest.
func (s *Supervisor) bringUpParallel(ctx context.Context, devices []device.Device, fanout int) (immediate, deferred []device.Device) {
	if fanout > len(devices) {
		fanout = len(devices)
	}
	now, rest := devices[:fanout], devices[fanout:]
	deferred = append(deferred, rest...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, d := range now {
		wg.Add(1)
		go func(d device.Device) {
			defer wg.Done()
			ok := s.bringUpOne(ctx, d)
			mu.Lock()
			if ok {
				immediate = append(immediate, d)
			} else {
				deferred = append(deferred, d)
			}
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return immediate, deferred
}

// bringUpOne performs the synchronous "is this device reachable right now"
// check (one PollDevice) and, on success, arms its ongoing schedule.
func (s *Supervisor) bringUpOne(ctx context.Context, d device.Device) bool {
	interval := effectiveInterval(d)
	if _, err := s.poller.PollDevice(ctx, d.ID); err != nil {
		s.logger.Debug("bring-up poll failed", zap.String("device", d.ID), zap.Error(err))
		return false
	}
	s.poller.ScheduleDevice(ctx, d.ID, interval)
	return true
}

// scheduleBackground hands a deferred device to a process-level
// background task: retry bring-up every 5 minutes until it succeeds, then
// hand over to the regular schedule.
func (s *Supervisor) scheduleBackground(ctx context.Context, d device.Device) {
	s.mu.Lock()
	if s.beingBuilt[d.ID] {
		s.mu.Unlock()
		return
	}
	s.beingBuilt[d.ID] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.beingBuilt, d.ID)
			s.mu.Unlock()
		}()
		for {
			if ctx.Err() != nil {
				return
			}
			if s.bringUpOne(ctx, d) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backgroundRetryDelay):
			}
		}
	}()
}

func (s *Supervisor) retryListForever(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backgroundRetryDelay):
			}
			devices, err := s.repo.FindEnabled(ctx)
			if err != nil {
				continue
			}
			for _, d := range devices {
				s.scheduleBackground(ctx, d)
			}
			return
		}
	}()
}

func effectiveInterval(d device.Device) int {
	if d.PollingIntervalMs > 0 {
		return d.PollingIntervalMs
	}
	if d.Advanced.DefaultPollInterval > 0 {
		return d.Advanced.DefaultPollInterval
	}
	return 10_000
}

func (s *Supervisor) setStrategy(strategy Strategy) {
	s.mu.Lock()
	s.strategy = strategy
	s.mu.Unlock()
}

// StopAll cancels every device's scheduled polling.
func (s *Supervisor) StopAll() { s.poller.StopAll() }

// PollOne triggers an immediate, out-of-band poll for one device
// (UI-triggered refresh).
func (s *Supervisor) PollOne(ctx context.Context, deviceID string) (device.Reading, error) {
	return s.poller.PollDevice(ctx, deviceID)
}

// ForceRefresh triggers an immediate poll for every enabled device,
// bounded by a small worker fanout so it cannot stampede the fleet.
func (s *Supervisor) ForceRefresh(ctx context.Context) error {
	devices, err := s.repo.FindEnabled(ctx)
	if err != nil {
		return err
	}
	sem := make(chan struct{}, parallelFanout)
	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.poller.PollDevice(ctx, id); err != nil {
				s.logger.Debug("force_refresh poll failed", zap.String("device", id), zap.Error(err))
			}
		}(d.ID)
	}
	wg.Wait()
	return nil
}

// IsDeviceBeingPolled reports whether deviceID has an armed recurring
// schedule right now.
func (s *Supervisor) IsDeviceBeingPolled(deviceID string) bool {
	return s.poller.IsScheduled(deviceID)
}

// Stats answers the spec's `stats` operation (§4.6).
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]time.Time, len(s.lastPollAt))
	for k, v := range s.lastPollAt {
		snapshot[k] = v
	}
	return Stats{
		SuccessfulPolls: s.successful,
		FailedPolls:     s.failed,
		LastPollAt:      snapshot,
		StartedAt:       s.startedAt,
		StrategyChosen:  s.strategy,
	}
}
