// Package codec converts raw Modbus register words into typed engineering
// values and back, applying device-specific byte order and a scaling
// pipeline. It has no dependency on transport or device storage: every
// function here is pure.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DataType is the wire/engineering type a Parameter decodes to.
type DataType string

const (
	BOOL    DataType = "BOOL"
	INT16   DataType = "INT16"
	UINT16  DataType = "UINT16"
	INT32   DataType = "INT32"
	UINT32  DataType = "UINT32"
	FLOAT32 DataType = "FLOAT32"
	FLOAT64 DataType = "FLOAT64"
	STRING  DataType = "STRING"
	RAW     DataType = "RAW"
)

// ByteOrder selects the word/byte arrangement of multi-register values.
type ByteOrder string

const (
	ABCD ByteOrder = "ABCD"
	CDAB ByteOrder = "CDAB"
	BADC ByteOrder = "BADC"
	DCBA ByteOrder = "DCBA"
	AB   ByteOrder = "AB"
	BA   ByteOrder = "BA"
)

// DefaultByteOrder resolves a device's byte order from its make string, per
// the make-keyed default table (§4.1). make is matched case-insensitively.
func DefaultByteOrder(make string) ByteOrder {
	lower := strings.ToLower(make)
	switch {
	case strings.Contains(lower, "china"), strings.Contains(lower, "energy analyzer"):
		return CDAB
	case strings.Contains(lower, "schneider"):
		return ABCD
	case strings.Contains(lower, "siemens"):
		return BADC
	default:
		return ABCD
	}
}

// WordCount returns the number of 16-bit registers dt occupies. STRING and
// RAW have variable width; callers must supply it explicitly via the
// wordCount parameter to Decode/Encode and WordCount returns it unchanged.
func WordCount(dt DataType, declaredWordCount int) int {
	switch dt {
	case BOOL, INT16, UINT16:
		return 1
	case INT32, UINT32, FLOAT32:
		return 2
	case FLOAT64:
		return 4
	case STRING, RAW:
		if declaredWordCount > 0 {
			return declaredWordCount
		}
		return 1
	default:
		return 1
	}
}

// reorder lays out the bytes of a multi-word value according to order,
// following the word-swap/byte-swap table in §4.1: ABCD and CDAB read
// big-endian within each word, BADC and DCBA read little-endian. For
// FLOAT64's 4 registers the swap applies pairwise (§4.1: "pairs of words
// swap"), so each adjacent pair [w0,w1] and [w2,w3] swaps independently
// rather than reversing the whole register list.
func reorder(words []uint16, order ByteOrder) []byte {
	out := make([]byte, len(words)*2)
	switch order {
	case CDAB, DCBA:
		swapped := make([]uint16, len(words))
		copy(swapped, words)
		for i := 0; i+1 < len(swapped); i += 2 {
			swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		}
		words = swapped
	}
	littleEndian := order == BADC || order == DCBA
	for i, w := range words {
		if littleEndian {
			out[i*2] = byte(w)
			out[i*2+1] = byte(w >> 8)
		} else {
			out[i*2] = byte(w >> 8)
			out[i*2+1] = byte(w)
		}
	}
	return out
}

// Decode assembles registers into a typed Go value per the rules in §4.1.
// bitPosition is used only for BOOL and may be nil (defaults to bit 0).
func Decode(registers []uint16, dt DataType, order ByteOrder, bitPosition *int, declaredWordCount int) (any, error) {
	need := WordCount(dt, declaredWordCount)
	if len(registers) < need {
		return nil, fmt.Errorf("codec: need %d registers for %s, got %d", need, dt, len(registers))
	}
	switch dt {
	case BOOL:
		bit := 0
		if bitPosition != nil {
			bit = *bitPosition
		}
		if bit < 0 || bit > 15 {
			return nil, fmt.Errorf("codec: bit_position %d out of range [0,15]", bit)
		}
		return registers[0]&(1<<uint(bit)) != 0, nil
	case UINT16:
		if order == BA {
			return uint16(registers[0]>>8) | uint16(registers[0]<<8), nil
		}
		return registers[0], nil
	case INT16:
		v := registers[0]
		if order == BA {
			v = uint16(v>>8) | uint16(v<<8)
		}
		return int16(v), nil
	case UINT32:
		buf := reorder(registers[:2], order)
		return binary.BigEndian.Uint32(buf), nil
	case INT32:
		buf := reorder(registers[:2], order)
		return int32(binary.BigEndian.Uint32(buf)), nil
	case FLOAT32:
		buf := reorder(registers[:2], order)
		return math.Float32frombits(binary.BigEndian.Uint32(buf)), nil
	case FLOAT64:
		buf := reorder(registers[:4], order)
		return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
	case STRING:
		buf := make([]byte, 0, need*2)
		for _, w := range registers[:need] {
			buf = append(buf, byte(w>>8), byte(w))
		}
		if idx := indexByte(buf, 0); idx >= 0 {
			buf = buf[:idx]
		}
		return string(buf), nil
	case RAW:
		out := make([]uint16, need)
		copy(out, registers[:need])
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported data type %q", dt)
	}
}

func indexByte(b []byte, target byte) int {
	for i, c := range b {
		if c == target {
			return i
		}
	}
	return -1
}

// ScaleParams bundles the per-Parameter scaling configuration applied after
// Decode produces a numeric raw value.
type ScaleParams struct {
	ScalingFactor   *float64
	ScalingEquation string
	DecimalPoint    *int
	MinValue        *float64
	MaxValue        *float64
}

// ApplyScaling runs the four-step pipeline from §4.1 on a numeric raw value.
// ok is false when the value is null per the non-finite rule in step 1.
func ApplyScaling(raw float64, p ScaleParams) (value float64, ok bool) {
	v := raw

	if p.ScalingFactor != nil && *p.ScalingFactor != 1 && *p.ScalingFactor != 0 && !math.IsInf(*p.ScalingFactor, 0) && !math.IsNaN(*p.ScalingFactor) {
		next := v * *p.ScalingFactor
		if math.IsInf(next, 0) || math.IsNaN(next) {
			return 0, false
		}
		v = next
	}

	if p.ScalingEquation != "" {
		if next, err := evalEquation(p.ScalingEquation, v); err == nil && !math.IsInf(next, 0) && !math.IsNaN(next) {
			v = next
		}
	}

	if p.DecimalPoint != nil {
		threshold := math.Pow(10, -float64(*p.DecimalPoint))
		if math.Abs(v) >= threshold {
			v = roundTo(v, *p.DecimalPoint)
		}
	}

	if p.MinValue != nil && v < *p.MinValue {
		v = *p.MinValue
	}
	if p.MaxValue != nil && v > *p.MaxValue {
		v = *p.MaxValue
	}

	if math.Abs(v) < 1e-30 {
		v = 0
	}
	v = roundTo(v, 6)

	return v, true
}

func roundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// EncodeValue converts a typed engineering value back into registers for a
// write request, the inverse of Decode. It range-checks per type and
// reapplies byte order.
func EncodeValue(value any, dt DataType, order ByteOrder) ([]uint16, error) {
	switch dt {
	case BOOL:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("codec: BOOL encode expects bool, got %T", value)
		}
		if b {
			return []uint16{0xFF00}, nil
		}
		return []uint16{0x0000}, nil
	case UINT16:
		v, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if v < 0 || v > 65535 {
			return nil, fmt.Errorf("codec: UINT16 value %v out of range [0,65535]", v)
		}
		return []uint16{uint16(v)}, nil
	case INT16:
		v, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if v < -32768 || v > 32767 {
			return nil, fmt.Errorf("codec: INT16 value %v out of range [-32768,32767]", v)
		}
		return []uint16{uint16(int16(v))}, nil
	case UINT32:
		v, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("codec: UINT32 value %v out of range", v)
		}
		return wordsFromBytes(encode32(uint32(v), order)), nil
	case INT32:
		v, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("codec: INT32 value %v out of range", v)
		}
		return wordsFromBytes(encode32(uint32(int32(v)), order)), nil
	case FLOAT32:
		v, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("codec: FLOAT32 value must be finite")
		}
		return wordsFromBytes(encode32(math.Float32bits(float32(v)), order)), nil
	default:
		return nil, fmt.Errorf("codec: encode not supported for data type %q", dt)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("codec: cannot convert %T to a numeric value", value)
	}
}

func encode32(u uint32, order ByteOrder) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, u)
	w0 := binary.BigEndian.Uint16(buf[0:2])
	w1 := binary.BigEndian.Uint16(buf[2:4])
	out := make([]byte, 4)
	switch order {
	case ABCD:
		binary.BigEndian.PutUint16(out[0:2], w0)
		binary.BigEndian.PutUint16(out[2:4], w1)
	case CDAB:
		binary.BigEndian.PutUint16(out[0:2], w1)
		binary.BigEndian.PutUint16(out[2:4], w0)
	case BADC:
		binary.LittleEndian.PutUint16(out[0:2], w0)
		binary.LittleEndian.PutUint16(out[2:4], w1)
	case DCBA:
		binary.LittleEndian.PutUint16(out[0:2], w1)
		binary.LittleEndian.PutUint16(out[2:4], w0)
	default:
		binary.BigEndian.PutUint16(out[0:2], w0)
		binary.BigEndian.PutUint16(out[2:4], w1)
	}
	return out
}

func wordsFromBytes(buf []byte) []uint16 {
	out := make([]uint16, len(buf)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(buf[i*2 : i*2+2])
	}
	return out
}
