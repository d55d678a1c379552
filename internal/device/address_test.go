package device

import "testing"

func TestResolveOffsetAbsolute(t *testing.T) {
	offset, warn := ResolveOffset(105, 100, 10)
	if offset != 5 || warn {
		t.Fatalf("ResolveOffset() = (%d, %v), want (5, false)", offset, warn)
	}
}

func TestResolveOffsetRelative(t *testing.T) {
	offset, warn := ResolveOffset(3, 100, 10)
	if offset != 3 || warn {
		t.Fatalf("ResolveOffset() = (%d, %v), want (3, false)", offset, warn)
	}
}

func TestResolveOffsetFallbackWarns(t *testing.T) {
	offset, warn := ResolveOffset(50, 100, 10)
	if offset != 50 || !warn {
		t.Fatalf("ResolveOffset() = (%d, %v), want (50, true)", offset, warn)
	}
}

func TestEffectiveStartAddressQuirk(t *testing.T) {
	if got := EffectiveStartAddress(10, AddressBaseOne); got != 9 {
		t.Fatalf("EffectiveStartAddress() = %d, want 9", got)
	}
	if got := EffectiveStartAddress(10, AddressBaseZero); got != 10 {
		t.Fatalf("EffectiveStartAddress() = %d, want 10", got)
	}
	if got := EffectiveStartAddress(0, AddressBaseOne); got != 0 {
		t.Fatalf("EffectiveStartAddress() = %d, want 0 (no underflow)", got)
	}
}

func TestResolveAddressBaseLegacyShim(t *testing.T) {
	base, used := ResolveAddressBase(nil, 0)
	if base != AddressBaseOne || !used {
		t.Fatalf("ResolveAddressBase() = (%v, %v), want (AddressBaseOne, true)", base, used)
	}
	base, used = ResolveAddressBase(nil, 3)
	if base != AddressBaseZero || used {
		t.Fatalf("ResolveAddressBase() = (%v, %v), want (AddressBaseZero, false)", base, used)
	}
	explicit := AddressBaseZero
	base, used = ResolveAddressBase(&explicit, 0)
	if base != AddressBaseZero || used {
		t.Fatalf("ResolveAddressBase() = (%v, %v), want (AddressBaseZero, false) when explicit", base, used)
	}
}

func TestEffectiveByteOrderFallsBackToMakeTable(t *testing.T) {
	p := Parameter{}
	if got := EffectiveByteOrder(p, "Siemens S7"); got != "BADC" {
		t.Fatalf("EffectiveByteOrder() = %v, want BADC", got)
	}
	p.ByteOrder = "DCBA"
	if got := EffectiveByteOrder(p, "Siemens S7"); got != "DCBA" {
		t.Fatalf("EffectiveByteOrder() = %v, want explicit DCBA", got)
	}
}

func TestFindParameterByNameCaseInsensitiveAndFallback(t *testing.T) {
	points := []DataPoint{
		{Parameters: []Parameter{{Name: "Temperature"}, {Name: "SetPoint"}}},
	}
	p, _, ok := FindParameterByName(points, "temperature")
	if !ok || p.Name != "Temperature" {
		t.Fatalf("FindParameterByName() = (%v, %v), want Temperature", p, ok)
	}
	p, _, ok = FindParameterByName(points, "nonexistent")
	if !ok || p.Name != "SetPoint" {
		t.Fatalf("FindParameterByName() fallback = (%v, %v), want SetPoint", p, ok)
	}
}

func TestIsControlCentralAndScheduleOn(t *testing.T) {
	one := 1.0
	zero := 0.0
	r := Reading{Entries: []ReadingEntry{
		{Name: "Is_Control_Central", Value: &one},
		{Name: "is_schedule_on", Value: &zero},
	}}
	if found, value := IsControlCentral(r); !found || !value {
		t.Fatalf("IsControlCentral() = (%v, %v), want (true, true)", found, value)
	}
	if found, value := IsScheduleOn(r); !found || value {
		t.Fatalf("IsScheduleOn() = (%v, %v), want (true, false)", found, value)
	}
}
