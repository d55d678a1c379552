// Package corestate composes the process-wide statics spec.md §9 calls out
// (port-busy registry, realtime cache, setpoint cache, active transitions,
// polling stats, supervisor handle) into one injected handle with an
// explicit init/shutdown lifecycle, rather than leaving them as scattered
// package-level globals. It generalizes the teacher's pattern of passing
// concrete *Collector/*Manager handles to cmd/ (see cmd/collector/main.go)
// into a single aggregate root every component depends on.
package corestate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/cache"
	"github.com/raohassandev/modbus-gateway/internal/poller"
	"github.com/raohassandev/modbus-gateway/internal/repository"
	"github.com/raohassandev/modbus-gateway/internal/schedule"
	"github.com/raohassandev/modbus-gateway/internal/setpoint"
	"github.com/raohassandev/modbus-gateway/internal/supervisor"
	"github.com/raohassandev/modbus-gateway/internal/transport"
)

// CoreState is the single handle injected into every component that used to
// reach for a package-level static. It owns the realtime cache, the poller,
// the supervisor, the schedule engine and the setpoint manager — the
// setpoint manager's own lastSetpoint/transitions maps are its "setpoint
// cache" and "active transitions" statics, kept private to that package
// since nothing outside it needs to mutate them directly.
type CoreState struct {
	Cache      *cache.Cache
	Poller     *poller.Poller
	Supervisor *supervisor.Supervisor
	Schedule   *schedule.Engine
	Setpoint   *setpoint.Manager

	logger       *zap.Logger
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Deps bundles the collaborators New needs to build every subsystem. All
// fields except DeviceRepo/ScheduleRepo are optional.
type Deps struct {
	DeviceRepo   repository.DeviceRepository
	ScheduleRepo repository.ScheduleRepository
	History      poller.HistorySink
	Push         poller.PushChannel
	EventLog     setpoint.EventLogSink
	Sessions     poller.SessionProvider
	Logger       *zap.Logger
}

// New wires every subsystem against a shared cache, the way init() used to
// wire package-level globals against each other by import order.
func New(d Deps) *CoreState {
	c := cache.New()
	p := poller.New(d.DeviceRepo, c, d.History, d.Push, d.Sessions, d.Logger)
	sup := supervisor.New(d.DeviceRepo, p, d.Logger)
	sp := setpoint.New(d.DeviceRepo, d.ScheduleRepo, c, d.Sessions, d.EventLog, d.Logger)
	eng := schedule.New(d.ScheduleRepo, sp, nil, d.Logger)

	return &CoreState{
		Cache:      c,
		Poller:     p,
		Supervisor: sup,
		Schedule:   eng,
		Setpoint:   sp,
		logger:     d.Logger,
	}
}

// Init starts the background loops every long-lived subsystem runs: fleet
// bring-up, the 60s schedule tick, and the setpoint transition re-write
// loop (§9 "lifecycle is init() at startup").
func (s *CoreState) Init(ctx context.Context, bringUpTimeoutMs int) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.Schedule.Run(ctx)
	go s.Setpoint.Run(ctx)

	_, err := s.Supervisor.BringUp(ctx, bringUpTimeoutMs)
	return err
}

// Shutdown stops every background loop and the supervisor's scheduled polls
// (§9 "shutdown() on exit"). Safe to call more than once; only the first
// call has any effect.
func (s *CoreState) Shutdown() {
	s.shutdownOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.Schedule.Stop()
		s.Supervisor.StopAll()
	})
}

// BusySerialPorts reports the process-wide serial port-busy registry (§9),
// for a diagnostics endpoint.
func (s *CoreState) BusySerialPorts() []string {
	return transport.BusyPorts()
}
