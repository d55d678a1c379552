package device

import (
	"fmt"
	"time"

	"github.com/raohassandev/modbus-gateway/internal/modbusproto/codec"
)

// DecodeDataPoint turns one DataPoint's raw register read into Reading
// entries, per §4.5 step 2. registers must hold exactly dp.Count words.
// Parameter-level failures are captured as entry.Error; the function itself
// never fails (I-4: entries always match the parameter list one-to-one).
func DecodeDataPoint(dp DataPoint, registers []uint16, deviceMake string) []ReadingEntry {
	entries := make([]ReadingEntry, len(dp.Parameters))
	for i, p := range dp.Parameters {
		entries[i] = decodeParameter(dp, p, registers, deviceMake)
	}
	return entries
}

func decodeParameter(dp DataPoint, p Parameter, registers []uint16, deviceMake string) ReadingEntry {
	entry := ReadingEntry{
		Name:     p.Name,
		Unit:     p.Unit,
		DataType: p.DataType,
	}

	offset, warn := ResolveOffset(p.RegisterIndex, int(dp.StartAddress), dp.Count)
	entry.Address = int(dp.StartAddress) + offset
	_ = warn // logged by the caller (poller), which has a logger in scope

	wordCount := EffectiveWordCount(p)
	if offset < 0 || offset+wordCount > dp.Count {
		entry.Error = "index out of range"
		return entry
	}

	order := EffectiveByteOrder(p, deviceMake)
	raw, err := codec.Decode(registers[offset:offset+wordCount], p.DataType, order, p.BitPosition, wordCount)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.Raw = raw

	numeric, isNumeric := toNumeric(raw)
	if !isNumeric {
		// STRING, RAW, BOOL carry their native Go value with no scaling pipeline.
		return entry
	}

	value, ok := codec.ApplyScaling(numeric, p.scaleParams())
	if !ok {
		entry.Error = "non-finite after scaling"
		return entry
	}
	entry.Value = &value
	return entry
}

func toNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case uint16:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// NewReading assembles a Reading from per-DataPoint entries collected across
// one poll cycle.
func NewReading(deviceID string, at time.Time, entries []ReadingEntry) Reading {
	return Reading{DeviceID: deviceID, Timestamp: at, Entries: entries}
}

// ValidateWriteValue range-checks a value against a Parameter's declared
// min/max before it reaches the codec's own per-type range check (§4.1
// value->registers). It exists separately from codec.EncodeValue so the
// setpoint manager can reject out-of-band writes before touching the wire.
func ValidateWriteValue(p Parameter, value float64) error {
	if p.MinValue != nil && value < *p.MinValue {
		return fmt.Errorf("value %v below parameter %s min %v", value, p.Name, *p.MinValue)
	}
	if p.MaxValue != nil && value > *p.MaxValue {
		return fmt.Errorf("value %v above parameter %s max %v", value, p.Name, *p.MaxValue)
	}
	return nil
}
