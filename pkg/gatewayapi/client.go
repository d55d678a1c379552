// Package gatewayapi is the stable facade a binary (cmd/gatewayd) or an
// embedder links against instead of reaching into internal/ directly. It
// mirrors the teacher's pkg/modbusdb split (a Client wrapping the internal
// db layer plus per-domain DTO files) generalized from a flat device/point
// store to this gateway's full device/reading/schedule/setpoint/event
// surface.
package gatewayapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/config"
	"github.com/raohassandev/modbus-gateway/internal/corestate"
	"github.com/raohassandev/modbus-gateway/internal/eventlog"
	"github.com/raohassandev/modbus-gateway/internal/history"
	"github.com/raohassandev/modbus-gateway/internal/metrics"
	"github.com/raohassandev/modbus-gateway/internal/poller"
	"github.com/raohassandev/modbus-gateway/internal/push/wshub"
	gormrepo "github.com/raohassandev/modbus-gateway/internal/repository/gorm"
	"github.com/raohassandev/modbus-gateway/internal/repository/yamlseed"
)

// Gateway is the composed, ready-to-run handle: every store is open, every
// subsystem is wired against corestate.CoreState, and the push hub is ready
// to be mounted on an http.ServeMux.
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	devices  *gormrepo.Store
	eventLog *eventlog.Store
	history  *history.Store

	core     *corestate.CoreState
	push     *wshub.Hub
	metrics  *metrics.Registry
	sessions poller.SessionProvider

	closeOnce sync.Once
}

// Open opens every backing store named in cfg, seeds the device repository
// from cfg.Devices.SeedPath on first run, and wires corestate.CoreState,
// the push hub and the metrics registry against them. It does not start
// any background loop; call Start for that.
func Open(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	devices, err := gormrepo.Open(cfg.Database.DevicesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("gatewayapi: open device store: %w", err)
	}

	evLog, err := eventlog.Open(cfg.Database.EventLogPath, logger)
	if err != nil {
		devices.Close()
		return nil, fmt.Errorf("gatewayapi: open event log: %w", err)
	}

	hist, err := history.Open(cfg.Database.HistoryPath, logger)
	if err != nil {
		devices.Close()
		evLog.Close()
		return nil, fmt.Errorf("gatewayapi: open history store: %w", err)
	}

	if cfg.Devices.SeedPath != "" {
		n, err := yamlseed.SeedInto(context.Background(), cfg.Devices.SeedPath, devices)
		if err != nil {
			logger.Warn("gatewayapi: device seed failed", zap.String("path", cfg.Devices.SeedPath), zap.Error(err))
		} else if n > 0 {
			logger.Info("gatewayapi: seeded devices", zap.Int("count", n), zap.String("path", cfg.Devices.SeedPath))
		}
	}

	hub := wshub.New(logger, nil)
	sessions := poller.NewSessionPool(logger)

	core := corestate.New(corestate.Deps{
		DeviceRepo:   devices,
		ScheduleRepo: devices,
		History:      hist,
		Push:         hub,
		EventLog:     evLog,
		Sessions:     sessions,
		Logger:       logger,
	})

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer, core.Poller, core.Supervisor)

	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		devices:  devices,
		eventLog: evLog,
		history:  hist,
		core:     core,
		push:     hub,
		metrics:  reg,
		sessions: sessions,
	}, nil
}

// Start brings the fleet up (supervisor.BringUp under cfg.BringUp.TimeoutMs)
// and launches the schedule and setpoint background loops. It blocks only
// for bring-up, not for the life of those loops.
func (g *Gateway) Start(ctx context.Context) error {
	return g.core.Init(ctx, g.cfg.BringUp.TimeoutMs)
}

// Close stops every background loop and closes every backing store. Safe
// to call more than once.
func (g *Gateway) Close() error {
	var closeErr error
	g.closeOnce.Do(func() {
		g.core.Shutdown()
		if err := g.history.Close(); err != nil {
			closeErr = err
		}
		if err := g.eventLog.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := g.devices.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}

// PushHub returns the websocket fan-out hub, for mounting on an http.ServeMux
// at cfg.HTTP.PushPath.
func (g *Gateway) PushHub() *wshub.Hub { return g.push }

// MetricsRegistry returns the Prometheus registry wrapper; call Refresh on
// it before each /metrics scrape.
func (g *Gateway) MetricsRegistry() *metrics.Registry { return g.metrics }

// BusySerialPorts reports which serial ports are currently held open by an
// RTU transport, for a diagnostics endpoint.
func (g *Gateway) BusySerialPorts() []string { return g.core.BusySerialPorts() }
