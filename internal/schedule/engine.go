// Package schedule implements C9: the 60-second tick engine that turns
// active DeviceSchedules into Start/End setpoint events. It generalizes
// the teacher's servermgr.Manager.Run ticker loop (applying one CSV row to
// simulated registers per tick) into rule-window matching against
// wall-clock time.
package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/repository"
)

// Action is the kind of setpoint event a tick can produce (§4.7).
type Action string

const (
	Start Action = "start"
	End   Action = "end"
)

// Event is handed to the setpoint manager (C10) for each rule transition a
// tick discovers.
type Event struct {
	DeviceID string
	Template device.ScheduleTemplate
	Schedule device.DeviceSchedule
	Rule     device.ScheduleRule
	Action   Action
	At       time.Time
}

// Sink consumes schedule events, one call per event, in emission order.
type Sink interface {
	HandleScheduleEvent(ctx context.Context, ev Event)
}

// tickInterval is the spec's fixed 60-second cadence.
const tickInterval = 60 * time.Second

// Engine runs the tick loop described in §4.7.
type Engine struct {
	repo   repository.ScheduleRepository
	sink   Sink
	loc    *time.Location
	logger *zap.Logger

	stop chan struct{}
}

// New builds an Engine. loc defaults to time.Local if nil (Open Question:
// §9 leaves the schedule engine's timezone unspecified; we take it as an
// explicit, injectable dependency rather than hardcoding wall-clock local
// time).
func New(repo repository.ScheduleRepository, sink Sink, loc *time.Location, logger *zap.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{repo: repo, sink: sink, loc: loc, logger: logger, stop: make(chan struct{})}
}

// Run blocks, ticking every 60s until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.Tick(ctx, time.Now())
		}
	}
}

// Stop ends a running Run loop.
func (e *Engine) Stop() { close(e.stop) }

// Tick performs one scan-and-emit cycle at wall-clock time `now`, exported
// so tests (and a manual "re-evaluate now" admin action) can drive it
// without waiting on the ticker.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	now = now.In(e.loc)
	active, err := e.repo.FindActiveSchedules(ctx, now)
	if err != nil {
		e.logger.Warn("schedule tick could not list active schedules", zap.Error(err))
		return
	}

	for _, as := range active {
		if !as.Schedule.Active || !as.Schedule.InDateRange(now) {
			continue
		}
		e.tickOne(ctx, as, now)
	}
}

func (e *Engine) tickOne(ctx context.Context, as repository.ActiveSchedule, now time.Time) {
	rules := device.EffectiveRules(as.Template, as.Schedule)
	for _, rule := range rules {
		if !rule.Enabled || !rule.AppliesOn(now.Weekday()) {
			continue
		}

		switch {
		case rule.IsStartMinute(now):
			e.emit(ctx, as, rule, Start, now)
		case rule.IsEndMinute(now) && rule.ReturnToDefault:
			e.emit(ctx, as, rule, End, now)
		default:
			e.maybeCorrectiveStart(ctx, as, rule, now)
		}
	}
}

// maybeCorrectiveStart handles service restarts mid-window (§4.7): a rule
// whose window currently contains `now` but that isn't recorded as the
// active rule for its parameter gets a corrective Start.
func (e *Engine) maybeCorrectiveStart(ctx context.Context, as repository.ActiveSchedule, rule device.ScheduleRule, now time.Time) {
	inWindow, err := rule.InWindow(now)
	if err != nil || !inWindow {
		return
	}
	current := as.Schedule.CurrentActiveRule[rule.Parameter]
	if current == rule.ID {
		return
	}
	e.emit(ctx, as, rule, Start, now)
}

func (e *Engine) emit(ctx context.Context, as repository.ActiveSchedule, rule device.ScheduleRule, action Action, now time.Time) {
	if e.sink == nil {
		return
	}
	e.sink.HandleScheduleEvent(ctx, Event{
		DeviceID: as.Schedule.DeviceID,
		Template: as.Template,
		Schedule: as.Schedule,
		Rule:     rule,
		Action:   action,
		At:       now,
	})
}
