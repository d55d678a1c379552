package gorm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/repository"
)

// Store is the gorm+sqlite reference implementation of both
// repository.DeviceRepository and repository.ScheduleRepository, the way the
// teacher's internal/db package backs Server/Device/PointValue with a single
// *gorm.DB.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var (
	_ repository.DeviceRepository   = (*Store)(nil)
	_ repository.ScheduleRepository = (*Store)(nil)
)

// Open opens (creating if absent) a sqlite-backed Store at path and runs
// AutoMigrate, mirroring teacher's db.openORM/migrateORM.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "open", Cause: err}
	}
	if err := db.AutoMigrate(&deviceRecord{}, &templateRecord{}, &scheduleRecord{}); err != nil {
		return nil, &gwerrors.RepositoryError{Op: "migrate", Cause: err}
	}
	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying SQL connection, mirroring teacher's
// db.closeORM.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) FindByID(ctx context.Context, id string) (*device.Device, error) {
	var rec deviceRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "find_by_id", Cause: err}
	}
	d, usedShim := rec.toDevice()
	if usedShim {
		s.logger.Warn("device predates address_base field, applying legacy 1-based shim", zap.String("device", d.ID))
	}
	return &d, nil
}

func (s *Store) FindEnabled(ctx context.Context) ([]device.Device, error) {
	var recs []deviceRecord
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&recs).Error; err != nil {
		return nil, &gwerrors.RepositoryError{Op: "find_enabled", Cause: err}
	}
	out := make([]device.Device, 0, len(recs))
	for _, rec := range recs {
		d, usedShim := rec.toDevice()
		if usedShim {
			s.logger.Warn("device predates address_base field, applying legacy 1-based shim", zap.String("device", d.ID))
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) CountEnabled(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&deviceRecord{}).Where("enabled = ?", true).Count(&count).Error; err != nil {
		return 0, &gwerrors.RepositoryError{Op: "count_enabled", Cause: err}
	}
	return int(count), nil
}

func (s *Store) UpdatePartial(ctx context.Context, id string, patch repository.DevicePatch) error {
	updates := map[string]any{}
	if patch.LastSeen != nil {
		updates["last_seen"] = *patch.LastSeen
	}
	if patch.LastControlledAt != nil {
		updates["last_controlled_at"] = *patch.LastControlledAt
	}
	if patch.ActiveScheduleID != nil {
		updates["active_schedule_id"] = *patch.ActiveScheduleID
	}
	if len(updates) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&deviceRecord{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return &gwerrors.RepositoryError{Op: "update_partial", Cause: err}
	}
	return nil
}

// SaveDevice upserts a Device, for the YAML bootstrap seeder and any
// outer-layer write path. Not part of repository.DeviceRepository (§6.1 names
// only the read + partial-update surface the core itself calls).
func (s *Store) SaveDevice(ctx context.Context, d device.Device) error {
	rec := fromDevice(d)
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return &gwerrors.RepositoryError{Op: "save_device", Cause: err}
	}
	return nil
}

func (s *Store) FindTemplateByID(ctx context.Context, id string) (*device.ScheduleTemplate, error) {
	var rec templateRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "find_template_by_id", Cause: err}
	}
	t := rec.toTemplate()
	return &t, nil
}

func (s *Store) SaveTemplate(ctx context.Context, tmpl *device.ScheduleTemplate) error {
	rec := fromTemplate(*tmpl)
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return &gwerrors.RepositoryError{Op: "save_template", Cause: err}
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&templateRecord{}, "id = ?", id).Error; err != nil {
		return &gwerrors.RepositoryError{Op: "delete_template", Cause: err}
	}
	return nil
}

func (s *Store) FindScheduleByDeviceID(ctx context.Context, deviceID string) (*device.DeviceSchedule, error) {
	var rec scheduleRecord
	err := s.db.WithContext(ctx).First(&rec, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &gwerrors.RepositoryError{Op: "find_schedule_by_device_id", Cause: err}
	}
	ds := rec.toSchedule()
	return &ds, nil
}

func (s *Store) SaveSchedule(ctx context.Context, ds *device.DeviceSchedule) error {
	rec := fromSchedule(*ds)
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return &gwerrors.RepositoryError{Op: "save_schedule", Cause: err}
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, deviceID string) error {
	if err := s.db.WithContext(ctx).Delete(&scheduleRecord{}, "device_id = ?", deviceID).Error; err != nil {
		return &gwerrors.RepositoryError{Op: "delete_schedule", Cause: err}
	}
	return nil
}

// FindActiveSchedules returns every Active DeviceSchedule whose date range
// includes now, joined with its template (§6.1). Date-range filtering is
// done in Go rather than SQL since StartDate/EndDate are independently
// nullable open bounds.
func (s *Store) FindActiveSchedules(ctx context.Context, now time.Time) ([]repository.ActiveSchedule, error) {
	var recs []scheduleRecord
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&recs).Error; err != nil {
		return nil, &gwerrors.RepositoryError{Op: "find_active_schedules", Cause: err}
	}

	out := make([]repository.ActiveSchedule, 0, len(recs))
	for _, rec := range recs {
		ds := rec.toSchedule()
		if !ds.InDateRange(now) {
			continue
		}
		var tmplRec templateRecord
		err := s.db.WithContext(ctx).First(&tmplRec, "id = ?", ds.TemplateID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("device schedule references missing template", zap.String("device", ds.DeviceID), zap.String("template", ds.TemplateID))
			continue
		}
		if err != nil {
			return nil, &gwerrors.RepositoryError{Op: "find_active_schedules", Cause: err}
		}
		out = append(out, repository.ActiveSchedule{Schedule: ds, Template: tmplRec.toTemplate()})
	}
	return out, nil
}
