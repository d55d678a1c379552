// Package device holds the gateway's domain model: devices, data points,
// parameters, schedule templates and readings. Types here are plain values;
// persistence mapping lives in internal/repository.
package device

import (
	"fmt"
	"time"

	"github.com/raohassandev/modbus-gateway/internal/modbusproto/codec"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
)

// TransportKind selects which wire variant a Device speaks.
type TransportKind string

const (
	TransportTCP TransportKind = "tcp"
	TransportRTU TransportKind = "rtu"
)

// Parity is the serial parity setting for an RTU transport.
type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// TCPConfig describes a TCP transport target.
type TCPConfig struct {
	Host      string
	Port      int
	UnitID    byte
	TimeoutMs int
}

// RTUConfig describes a serial transport target.
type RTUConfig struct {
	Path     string
	Baud     int
	DataBits int // 5,6,7,8
	StopBits int // 1,2
	Parity   Parity
	UnitID   byte
}

// AdvancedSettings holds per-device retry/timeout tuning (§3).
type AdvancedSettings struct {
	TimeoutMs           int
	Retries             int
	RetryIntervalMs     int
	DefaultPollInterval int
}

// AddressBase records whether a device's Parameter.RegisterIndex values are
// authored 0-based or 1-based. Legacy definitions signalled 1-based
// addressing by setting AdvancedSettings.Retries to 0 (an overloaded flag);
// AddressBase replaces that quirk with an explicit field. See
// ResolveAddressBase for the backward-compatible load-time shim.
type AddressBase int

const (
	AddressBaseZero AddressBase = 0
	AddressBaseOne  AddressBase = 1
)

// Device is the persistent description of one field device (§3).
type Device struct {
	ID      string
	Name    string
	Make    string
	Enabled bool

	Transport TransportKind
	TCP       *TCPConfig
	RTU       *RTUConfig

	DataPoints         []DataPoint
	WritableRegisters  []WritableRegister
	ControlParameters  []string

	Advanced          AdvancedSettings
	AddressBase       AddressBase
	PollingIntervalMs int // 0 means "use AdvancedSettings.DefaultPollInterval"

	LastSeen         *time.Time
	LastControlledAt *time.Time
	ActiveScheduleID string
}

// WritableRegister describes one legal write target outside of DataPoints.
type WritableRegister struct {
	Name         string
	FunctionCode pdu.FunctionCode
	Address      uint16
	DataType     codec.DataType
}

// DataPoint is one contiguous Modbus read range plus its parser (§3).
type DataPoint struct {
	FunctionCode pdu.FunctionCode
	StartAddress uint16
	Count        int
	Parameters   []Parameter
}

// Parameter is one named scalar decoded out of a DataPoint's range (§3).
type Parameter struct {
	Name        string
	Unit        string
	Description string

	DataType      codec.DataType
	RegisterIndex int // address or offset, resolved by ResolveOffset
	WordCount     int // 0 means "default from DataType"
	ByteOrder     codec.ByteOrder

	ScalingFactor    *float64
	ScalingEquation  string
	DecimalPoint     *int
	MinValue         *float64
	MaxValue         *float64
	DefaultValue     *float64
	BitPosition      *int

	FunctionCodeOverride *pdu.FunctionCode // write-path override (§4.1 value->registers)
}

func (p Parameter) scaleParams() codec.ScaleParams {
	return codec.ScaleParams{
		ScalingFactor:   p.ScalingFactor,
		ScalingEquation: p.ScalingEquation,
		DecimalPoint:    p.DecimalPoint,
		MinValue:        p.MinValue,
		MaxValue:        p.MaxValue,
	}
}

// ReadingEntry is one decoded Parameter's outcome within a Reading.
type ReadingEntry struct {
	Name     string
	Address  int
	Value    *float64
	Raw      any
	Unit     string
	DataType codec.DataType
	Error    string
}

// Reading is a complete poll's output for one device (§3).
type Reading struct {
	DeviceID  string
	Timestamp time.Time
	Entries   []ReadingEntry
}

// Validate checks a Device against §3's invariants, returning a
// *gwerrors.ConfigError-compatible message. It is called at repository
// write boundaries, not on every read.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}
	switch d.Transport {
	case TransportTCP:
		if d.TCP == nil {
			return fmt.Errorf("device %s: transport tcp requires tcp config", d.ID)
		}
	case TransportRTU:
		if d.RTU == nil {
			return fmt.Errorf("device %s: transport rtu requires rtu config", d.ID)
		}
		switch d.RTU.DataBits {
		case 5, 6, 7, 8:
		default:
			return fmt.Errorf("device %s: rtu data_bits %d invalid", d.ID, d.RTU.DataBits)
		}
		switch d.RTU.StopBits {
		case 1, 2:
		default:
			return fmt.Errorf("device %s: rtu stop_bits %d invalid", d.ID, d.RTU.StopBits)
		}
	default:
		return fmt.Errorf("device %s: unknown transport %q", d.ID, d.Transport)
	}
	for i, dp := range d.DataPoints {
		if err := dp.validate(); err != nil {
			return fmt.Errorf("device %s data_point[%d]: %w", d.ID, i, err)
		}
	}
	return nil
}

func (dp *DataPoint) validate() error {
	switch dp.FunctionCode {
	case pdu.ReadCoils, pdu.ReadDiscreteInputs, pdu.ReadHoldingRegisters, pdu.ReadInputRegisters:
	default:
		return fmt.Errorf("function_code %d is not a read function (§4.1 C1/C2 only models reads here)", dp.FunctionCode)
	}
	if err := pdu.ValidateQuantity(dp.FunctionCode, dp.Count); err != nil {
		return err
	}
	if int(dp.StartAddress)+dp.Count > 65536 {
		// I-1
		return fmt.Errorf("start_address %d + count %d exceeds 65536", dp.StartAddress, dp.Count)
	}
	for i := range dp.Parameters {
		p := &dp.Parameters[i]
		if p.BitPosition != nil {
			switch p.FunctionCodeOverride {
			case nil:
			default:
				switch *p.FunctionCodeOverride {
				case pdu.WriteSingleCoil, pdu.WriteSingleRegister, pdu.WriteMultipleCoils, pdu.WriteMultipleRegisters:
					return fmt.Errorf("parameter %s: bit_position is incompatible with write-only function_code override %d", p.Name, *p.FunctionCodeOverride)
				}
			}
		}
	}
	return nil
}
