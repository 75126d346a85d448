package device_test

import (
	"testing"

	"github.com/wdzonar/zonar/device"
)

func TestZoneTypeString(t *testing.T) {
	cases := map[device.ZoneType]string{
		device.ZoneTypeConventional: "conventional",
		device.ZoneTypeSeqWriteReq:  "seq-write-required",
		device.ZoneTypeSeqWritePref: "seq-write-preferred",
		device.ZoneType(0xff):       "unknown",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("ZoneType(%d).String() = %q, want %q", in, got, want)
		}
	}
}

func TestZoneConditionString(t *testing.T) {
	cases := map[device.ZoneCondition]string{
		device.ConditionEmpty:        "empty",
		device.ConditionFull:         "full",
		device.ConditionActive:       "active",
		device.ZoneCondition(0xaa):   "unknown",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("ZoneCondition(%d).String() = %q, want %q", in, got, want)
		}
	}
}

func TestReportZonesRejectsStartIndexBeyondZoneCount(t *testing.T) {
	d := &device.Descriptor{ZoneCount: 4}
	out := make([]device.Zone, 1)
	if _, err := d.ReportZones(4, out); err == nil {
		t.Fatal("expected an error for start index equal to zone count")
	}
}

func TestReportZonesRejectsEmptyOutputSlice(t *testing.T) {
	d := &device.Descriptor{ZoneCount: 4}
	if _, err := d.ReportZones(0, nil); err == nil {
		t.Fatal("expected an error for a zero-length output slice")
	}
}
