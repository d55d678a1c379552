// Package gorm is the reference DeviceRepository/ScheduleRepository
// implementation, backed by gorm+sqlite the way the teacher's
// internal/db/orm.go and internal/model/modbus.go back its Server/Device/
// PointValue tables. Record structs here carry the gorm tags; the
// persistence-agnostic internal/device types never do (§9 design note).
package gorm

import (
	"time"

	"github.com/raohassandev/modbus-gateway/internal/device"
)

type deviceRecord struct {
	ID      string `gorm:"column:id;primaryKey"`
	Name    string `gorm:"column:name"`
	Make    string `gorm:"column:make"`
	Enabled bool   `gorm:"column:enabled"`

	Transport string `gorm:"column:transport"`

	TCPHost      string `gorm:"column:tcp_host"`
	TCPPort      int    `gorm:"column:tcp_port"`
	TCPUnitID    int    `gorm:"column:tcp_unit_id"`
	TCPTimeoutMs int    `gorm:"column:tcp_timeout_ms"`

	RTUPath     string `gorm:"column:rtu_path"`
	RTUBaud     int    `gorm:"column:rtu_baud"`
	RTUDataBits int    `gorm:"column:rtu_data_bits"`
	RTUStopBits int    `gorm:"column:rtu_stop_bits"`
	RTUParity   string `gorm:"column:rtu_parity"`
	RTUUnitID   int    `gorm:"column:rtu_unit_id"`

	DataPoints        []device.DataPoint        `gorm:"column:data_points;type:json;serializer:json"`
	WritableRegisters []device.WritableRegister `gorm:"column:writable_registers;type:json;serializer:json"`
	ControlParameters []string                  `gorm:"column:control_parameters;type:json;serializer:json"`

	AdvancedTimeoutMs           int `gorm:"column:advanced_timeout_ms"`
	AdvancedRetries             int `gorm:"column:advanced_retries"`
	AdvancedRetryIntervalMs     int `gorm:"column:advanced_retry_interval_ms"`
	AdvancedDefaultPollInterval int `gorm:"column:advanced_default_poll_interval"`

	AddressBase       int `gorm:"column:address_base"`
	PollingIntervalMs int `gorm:"column:polling_interval_ms"`

	LastSeen         *time.Time `gorm:"column:last_seen"`
	LastControlledAt *time.Time `gorm:"column:last_controlled_at"`
	ActiveScheduleID string     `gorm:"column:active_schedule_id"`
}

func (deviceRecord) TableName() string { return "devices" }

func fromDevice(d device.Device) deviceRecord {
	r := deviceRecord{
		ID:                d.ID,
		Name:              d.Name,
		Make:              d.Make,
		Enabled:           d.Enabled,
		Transport:         string(d.Transport),
		DataPoints:        d.DataPoints,
		WritableRegisters: d.WritableRegisters,
		ControlParameters: d.ControlParameters,

		AdvancedTimeoutMs:           d.Advanced.TimeoutMs,
		AdvancedRetries:             d.Advanced.Retries,
		AdvancedRetryIntervalMs:     d.Advanced.RetryIntervalMs,
		AdvancedDefaultPollInterval: d.Advanced.DefaultPollInterval,

		AddressBase:       int(d.AddressBase),
		PollingIntervalMs: d.PollingIntervalMs,

		LastSeen:         d.LastSeen,
		LastControlledAt: d.LastControlledAt,
		ActiveScheduleID: d.ActiveScheduleID,
	}
	if d.TCP != nil {
		r.TCPHost = d.TCP.Host
		r.TCPPort = d.TCP.Port
		r.TCPUnitID = int(d.TCP.UnitID)
		r.TCPTimeoutMs = d.TCP.TimeoutMs
	}
	if d.RTU != nil {
		r.RTUPath = d.RTU.Path
		r.RTUBaud = d.RTU.Baud
		r.RTUDataBits = d.RTU.DataBits
		r.RTUStopBits = d.RTU.StopBits
		r.RTUParity = string(d.RTU.Parity)
		r.RTUUnitID = int(d.RTU.UnitID)
	}
	return r
}

// toDevice converts a stored record back to the domain type, applying the
// AddressBase legacy compatibility shim (SPEC_FULL §3) when the record
// predates the explicit field. usedShim is true when the shim fired, so the
// caller can log a compatibility warning.
func (r deviceRecord) toDevice() (d device.Device, usedShim bool) {
	d = device.Device{
		ID:                r.ID,
		Name:              r.Name,
		Make:              r.Make,
		Enabled:           r.Enabled,
		Transport:         device.TransportKind(r.Transport),
		DataPoints:        r.DataPoints,
		WritableRegisters: r.WritableRegisters,
		ControlParameters: r.ControlParameters,
		Advanced: device.AdvancedSettings{
			TimeoutMs:           r.AdvancedTimeoutMs,
			Retries:             r.AdvancedRetries,
			RetryIntervalMs:     r.AdvancedRetryIntervalMs,
			DefaultPollInterval: r.AdvancedDefaultPollInterval,
		},
		PollingIntervalMs: r.PollingIntervalMs,
		LastSeen:          r.LastSeen,
		LastControlledAt:  r.LastControlledAt,
		ActiveScheduleID:  r.ActiveScheduleID,
	}
	switch d.Transport {
	case device.TransportTCP:
		d.TCP = &device.TCPConfig{Host: r.TCPHost, Port: r.TCPPort, UnitID: byte(r.TCPUnitID), TimeoutMs: r.TCPTimeoutMs}
	case device.TransportRTU:
		d.RTU = &device.RTUConfig{Path: r.RTUPath, Baud: r.RTUBaud, DataBits: r.RTUDataBits, StopBits: r.RTUStopBits, Parity: device.Parity(r.RTUParity), UnitID: byte(r.RTUUnitID)}
	}

	var explicit *device.AddressBase
	if r.AddressBase != 0 {
		b := device.AddressBase(r.AddressBase)
		explicit = &b
	}
	base, usedLegacyShim := device.ResolveAddressBase(explicit, r.AdvancedRetries)
	d.AddressBase = base
	return d, usedLegacyShim
}

type templateRecord struct {
	ID      string                 `gorm:"column:id;primaryKey"`
	Name    string                 `gorm:"column:name"`
	Public  bool                   `gorm:"column:public"`
	OwnerID string                 `gorm:"column:owner_id"`
	Rules   []device.ScheduleRule  `gorm:"column:rules;type:json;serializer:json"`
}

func (templateRecord) TableName() string { return "schedule_templates" }

func fromTemplate(t device.ScheduleTemplate) templateRecord {
	return templateRecord{ID: t.ID, Name: t.Name, Public: t.Public, OwnerID: t.OwnerID, Rules: t.Rules}
}

func (r templateRecord) toTemplate() device.ScheduleTemplate {
	return device.ScheduleTemplate{ID: r.ID, Name: r.Name, Public: r.Public, OwnerID: r.OwnerID, Rules: r.Rules}
}

type scheduleRecord struct {
	DeviceID   string `gorm:"column:device_id;primaryKey"`
	TemplateID string `gorm:"column:template_id"`

	CustomRules []device.ScheduleRule `gorm:"column:custom_rules;type:json;serializer:json"`
	Active      bool                  `gorm:"column:active"`
	StartDate   *time.Time            `gorm:"column:start_date"`
	EndDate     *time.Time            `gorm:"column:end_date"`

	CurrentActiveRule map[string]string `gorm:"column:current_active_rule;type:json;serializer:json"`
	LastApplied       *time.Time        `gorm:"column:last_applied"`
}

func (scheduleRecord) TableName() string { return "device_schedules" }

func fromSchedule(ds device.DeviceSchedule) scheduleRecord {
	return scheduleRecord{
		DeviceID:          ds.DeviceID,
		TemplateID:        ds.TemplateID,
		CustomRules:       ds.CustomRules,
		Active:            ds.Active,
		StartDate:         ds.StartDate,
		EndDate:           ds.EndDate,
		CurrentActiveRule: ds.CurrentActiveRule,
		LastApplied:       ds.LastApplied,
	}
}

func (r scheduleRecord) toSchedule() device.DeviceSchedule {
	return device.DeviceSchedule{
		DeviceID:          r.DeviceID,
		TemplateID:        r.TemplateID,
		CustomRules:       r.CustomRules,
		Active:            r.Active,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		CurrentActiveRule: r.CurrentActiveRule,
		LastApplied:       r.LastApplied,
	}
}
