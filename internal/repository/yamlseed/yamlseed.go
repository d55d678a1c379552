// Package yamlseed loads Device definitions from a YAML file and writes
// them into a gorm.Store, the way the teacher's collector.LoadYAML reads a
// RootConfig to bootstrap its in-memory device list — generalized here to
// the full Device/DataPoint/Parameter shape and writing through to a real
// backing store instead of staying in memory.
package yamlseed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raohassandev/modbus-gateway/internal/device"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/codec"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
)

// fileDevice mirrors device.Device with yaml tags; fields are flattened to a
// shape convenient to author by hand, then converted to device.Device.
type fileDevice struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Make    string `yaml:"make"`
	Enabled bool   `yaml:"enabled"`

	Transport string `yaml:"transport"`
	TCP       *struct {
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		UnitID    int    `yaml:"unit_id"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"tcp"`
	RTU *struct {
		Path     string `yaml:"path"`
		Baud     int    `yaml:"baud"`
		DataBits int    `yaml:"data_bits"`
		StopBits int    `yaml:"stop_bits"`
		Parity   string `yaml:"parity"`
		UnitID   int    `yaml:"unit_id"`
	} `yaml:"rtu"`

	DataPoints []fileDataPoint `yaml:"data_points"`

	ControlParameters []string `yaml:"control_parameters"`

	Advanced struct {
		TimeoutMs           int `yaml:"timeout_ms"`
		Retries             int `yaml:"retries"`
		RetryIntervalMs     int `yaml:"retry_interval_ms"`
		DefaultPollInterval int `yaml:"default_poll_interval_ms"`
	} `yaml:"advanced"`

	AddressBase       *int `yaml:"address_base"`
	PollingIntervalMs int  `yaml:"polling_interval_ms"`
}

type fileDataPoint struct {
	FunctionCode int             `yaml:"function_code"`
	StartAddress int             `yaml:"start_address"`
	Count        int             `yaml:"count"`
	Parameters   []fileParameter `yaml:"parameters"`
}

type fileParameter struct {
	Name            string   `yaml:"name"`
	Unit            string   `yaml:"unit"`
	Description     string   `yaml:"description"`
	DataType        string   `yaml:"data_type"`
	RegisterIndex   int      `yaml:"register_index"`
	WordCount       int      `yaml:"word_count"`
	ByteOrder       string   `yaml:"byte_order"`
	ScalingFactor   *float64 `yaml:"scaling_factor"`
	ScalingEquation string   `yaml:"scaling_equation"`
	DecimalPoint    *int     `yaml:"decimal_point"`
	MinValue        *float64 `yaml:"min_value"`
	MaxValue        *float64 `yaml:"max_value"`
	DefaultValue    *float64 `yaml:"default_value"`
	BitPosition     *int     `yaml:"bit_position"`
}

// Load parses path into a slice of device.Device, validating each (§3
// invariants) before returning.
func Load(path string) ([]device.Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yamlseed: read %s: %w", path, err)
	}
	var fileDevices []fileDevice
	if err := yaml.Unmarshal(b, &fileDevices); err != nil {
		return nil, fmt.Errorf("yamlseed: parse %s: %w", path, err)
	}

	out := make([]device.Device, 0, len(fileDevices))
	for _, fd := range fileDevices {
		d, err := fd.toDevice()
		if err != nil {
			return nil, fmt.Errorf("yamlseed: device %s: %w", fd.ID, err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("yamlseed: device %s: %w", fd.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (fd fileDevice) toDevice() (device.Device, error) {
	d := device.Device{
		ID:                fd.ID,
		Name:              fd.Name,
		Make:              fd.Make,
		Enabled:           fd.Enabled,
		Transport:         device.TransportKind(fd.Transport),
		ControlParameters: fd.ControlParameters,
		Advanced: device.AdvancedSettings{
			TimeoutMs:           fd.Advanced.TimeoutMs,
			Retries:             fd.Advanced.Retries,
			RetryIntervalMs:     fd.Advanced.RetryIntervalMs,
			DefaultPollInterval: fd.Advanced.DefaultPollInterval,
		},
		PollingIntervalMs: fd.PollingIntervalMs,
	}
	if fd.AddressBase != nil {
		d.AddressBase = device.AddressBase(*fd.AddressBase)
	}
	if fd.TCP != nil {
		d.TCP = &device.TCPConfig{Host: fd.TCP.Host, Port: fd.TCP.Port, UnitID: byte(fd.TCP.UnitID), TimeoutMs: fd.TCP.TimeoutMs}
	}
	if fd.RTU != nil {
		d.RTU = &device.RTUConfig{Path: fd.RTU.Path, Baud: fd.RTU.Baud, DataBits: fd.RTU.DataBits, StopBits: fd.RTU.StopBits, Parity: device.Parity(fd.RTU.Parity), UnitID: byte(fd.RTU.UnitID)}
	}
	for _, fdp := range fd.DataPoints {
		dp := device.DataPoint{
			FunctionCode: pdu.FunctionCode(fdp.FunctionCode),
			StartAddress: uint16(fdp.StartAddress),
			Count:        fdp.Count,
		}
		for _, fp := range fdp.Parameters {
			dp.Parameters = append(dp.Parameters, device.Parameter{
				Name:            fp.Name,
				Unit:            fp.Unit,
				Description:     fp.Description,
				DataType:        codec.DataType(fp.DataType),
				RegisterIndex:   fp.RegisterIndex,
				WordCount:       fp.WordCount,
				ByteOrder:       codec.ByteOrder(fp.ByteOrder),
				ScalingFactor:   fp.ScalingFactor,
				ScalingEquation: fp.ScalingEquation,
				DecimalPoint:    fp.DecimalPoint,
				MinValue:        fp.MinValue,
				MaxValue:        fp.MaxValue,
				DefaultValue:    fp.DefaultValue,
				BitPosition:     fp.BitPosition,
			})
		}
		d.DataPoints = append(d.DataPoints, dp)
	}
	return d, nil
}

// Seeder writes Load'd devices into a store. It is a narrow interface so
// yamlseed doesn't depend on the gorm package directly.
type Seeder interface {
	SaveDevice(ctx context.Context, d device.Device) error
}

// SeedInto loads path and saves every device into dst, stopping at the first
// error.
func SeedInto(ctx context.Context, path string, dst Seeder) (int, error) {
	devices, err := Load(path)
	if err != nil {
		return 0, err
	}
	for _, d := range devices {
		if err := dst.SaveDevice(ctx, d); err != nil {
			return 0, fmt.Errorf("yamlseed: save device %s: %w", d.ID, err)
		}
	}
	return len(devices), nil
}
