package device

import (
	"strings"

	"github.com/raohassandev/modbus-gateway/internal/modbusproto/codec"
)

// ResolveOffset implements the address-resolution rule of §4.1 for one
// Parameter within a DataPoint of the given start address and register
// count. It returns the offset into the DataPoint's registers and whether a
// warning should be logged for the relative-fallback case.
func ResolveOffset(registerIndex, startAddress, count int) (offset int, warn bool) {
	if registerIndex >= startAddress && registerIndex < startAddress+count {
		return registerIndex - startAddress, false // absolute
	}
	if registerIndex < count {
		return registerIndex, false // relative
	}
	// Neither interpretation lies in [0,count): fall back to relative and warn.
	return registerIndex, true
}

// EffectiveStartAddress applies the device-specific quirk (§4.1): when
// AddressBase is explicitly AddressBaseOne, the point's start address is
// decremented by one.
func EffectiveStartAddress(startAddress uint16, base AddressBase) uint16 {
	if base == AddressBaseOne && startAddress > 0 {
		return startAddress - 1
	}
	return startAddress
}

// ResolveAddressBase recovers AddressBase for device definitions written
// before the field existed, where `advanced.retries == 0` doubled as a
// 1-based-addressing marker (§4.1 "Device-specific quirks"). Call this once
// at load time; it logs nothing itself — the caller logs the compatibility
// warning (repository/gorm.Store does so on every load that applies the shim).
func ResolveAddressBase(explicit *AddressBase, retries int) (base AddressBase, usedLegacyShim bool) {
	if explicit != nil {
		return *explicit, false
	}
	if retries == 0 {
		return AddressBaseOne, true
	}
	return AddressBaseZero, false
}

// EffectiveByteOrder resolves a Parameter's byte order: explicit value wins,
// otherwise the device make-keyed default table (§4.1).
func EffectiveByteOrder(p Parameter, deviceMake string) codec.ByteOrder {
	if p.ByteOrder != "" {
		return p.ByteOrder
	}
	return codec.DefaultByteOrder(deviceMake)
}

// EffectiveWordCount resolves a Parameter's register width: explicit value
// wins, otherwise the data type's natural width.
func EffectiveWordCount(p Parameter) int {
	if p.WordCount > 0 {
		return p.WordCount
	}
	return codec.WordCount(p.DataType, 0)
}

// matchesControlSubstring reports whether a reading's parameter names
// contain the given case-insensitive substring and are truthy, used by the
// setpoint manager's control-bit gating (§4.8).
func matchesControlSubstring(entries []ReadingEntry, substring string) (found, value bool) {
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), substring) {
			if e.Value != nil {
				return true, *e.Value != 0
			}
			return true, false
		}
	}
	return false, false
}

// IsControlCentral reports the "is_control_central" bit from a Reading, by
// name-substring match on "control" (§4.8).
func IsControlCentral(r Reading) (found, value bool) {
	return matchesControlSubstring(r.Entries, "control")
}

// IsScheduleOn reports the "is_schedule_on" bit from a Reading, by
// name-substring match on "schedule" (§4.8).
func IsScheduleOn(r Reading) (found, value bool) {
	return matchesControlSubstring(r.Entries, "schedule")
}

// FindParameterByName looks up a DataPoint's parameter by case-insensitive
// name, falling back to one named literally "setpoint" (§4.8 step 1).
func FindParameterByName(points []DataPoint, name string) (*Parameter, *DataPoint, bool) {
	lower := strings.ToLower(name)
	for i := range points {
		for j := range points[i].Parameters {
			if strings.ToLower(points[i].Parameters[j].Name) == lower {
				return &points[i].Parameters[j], &points[i], true
			}
		}
	}
	for i := range points {
		for j := range points[i].Parameters {
			if strings.ToLower(points[i].Parameters[j].Name) == "setpoint" {
				return &points[i].Parameters[j], &points[i], true
			}
		}
	}
	return nil, nil, false
}
