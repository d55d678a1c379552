// Package repository defines the external collaborator interfaces the
// gateway core expects (§6.1): a Device store and a Schedule store. The core
// never depends on a concrete database; internal/repository/gorm supplies a
// gorm+sqlite reference implementation and internal/repository/yamlseed
// bootstraps it from a YAML device file, the way the teacher's
// collector.LoadYAML seeds its in-memory device list.
package repository

import (
	"context"
	"time"

	"github.com/raohassandev/modbus-gateway/internal/device"
)

// DevicePatch is a partial update applied by update_partial (§6.1): only
// non-nil fields are written.
type DevicePatch struct {
	LastSeen         *time.Time
	LastControlledAt *time.Time
	ActiveScheduleID *string
}

// DeviceRepository is the external Device store collaborator (§6.1).
type DeviceRepository interface {
	FindByID(ctx context.Context, id string) (*device.Device, error)
	FindEnabled(ctx context.Context) ([]device.Device, error)
	CountEnabled(ctx context.Context) (int, error)
	UpdatePartial(ctx context.Context, id string, patch DevicePatch) error
}

// ScheduleRepository is the external Schedule store collaborator (§6.1).
type ScheduleRepository interface {
	FindTemplateByID(ctx context.Context, id string) (*device.ScheduleTemplate, error)
	SaveTemplate(ctx context.Context, tmpl *device.ScheduleTemplate) error
	DeleteTemplate(ctx context.Context, id string) error

	FindScheduleByDeviceID(ctx context.Context, deviceID string) (*device.DeviceSchedule, error)
	SaveSchedule(ctx context.Context, ds *device.DeviceSchedule) error
	DeleteSchedule(ctx context.Context, deviceID string) error

	// FindActiveSchedules returns every DeviceSchedule whose Active flag is
	// set and whose date range includes now, each joined with its template
	// (§6.1 "populate template joined with device schedule").
	FindActiveSchedules(ctx context.Context, now time.Time) ([]ActiveSchedule, error)
}

// ActiveSchedule is one DeviceSchedule joined with the ScheduleTemplate it
// binds to, as returned by FindActiveSchedules.
type ActiveSchedule struct {
	Schedule device.DeviceSchedule
	Template device.ScheduleTemplate
}
