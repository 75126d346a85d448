package blockgroup

import (
	"testing"

	"github.com/wdzonar/zonar/device"
)

func TestMapZonesToBlockgroupsSingleZonePerGroup(t *testing.T) {
	zones := []device.Zone{
		{Start: 0, Length: 256, WP: 100, Type: device.ZoneTypeSeqWriteReq},
		{Start: 256, Length: 256, WP: 356, Type: device.ZoneTypeSeqWriteReq},
	}
	bgs := []Blockgroup{
		{Sector: 0, NrSectors: 256},
		{Sector: 256, NrSectors: 256},
	}

	n, err := mapZonesToBlockgroups(zones, 0, bgs)
	if err != nil {
		t.Fatalf("mapZonesToBlockgroups: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
	if len(bgs[0].Zones) != 1 || bgs[0].Zones[0] != 0 {
		t.Errorf("bg 0 zones = %v, want [0]", bgs[0].Zones)
	}
	if bgs[0].WPSector != 100 {
		t.Errorf("bg 0 WPSector = %d, want 100", bgs[0].WPSector)
	}
	if len(bgs[1].Zones) != 1 || bgs[1].Zones[0] != 1 {
		t.Errorf("bg 1 zones = %v, want [1]", bgs[1].Zones)
	}
	if bgs[1].WPSector != 100 {
		t.Errorf("bg 1 WPSector = %d, want 100", bgs[1].WPSector)
	}
}

func TestMapZonesToBlockgroupsConventionalZoneSpansGroups(t *testing.T) {
	// Zone 0 is conventional and spans both blockgroups; zone 1 is a
	// sequential zone starting partway through the second blockgroup. The
	// cursor must back up by one zone at the start of the second
	// blockgroup to still catch zone 0.
	zones := []device.Zone{
		{Start: 0, Length: 150, Type: device.ZoneTypeConventional},
		{Start: 150, Length: 150, Type: device.ZoneTypeSeqWriteReq, WP: 200},
	}
	bgs := []Blockgroup{
		{Sector: 0, NrSectors: 100},
		{Sector: 100, NrSectors: 200},
	}

	n, err := mapZonesToBlockgroups(zones, 0, bgs)
	if err != nil {
		t.Fatalf("mapZonesToBlockgroups: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
	if len(bgs[0].Zones) != 1 || bgs[0].Zones[0] != 0 {
		t.Errorf("bg 0 zones = %v, want [0]", bgs[0].Zones)
	}
	if bgs[0].Flags != device.ZoneTypeConventional {
		t.Errorf("bg 0 flags = %v, want conventional", bgs[0].Flags)
	}
	if len(bgs[1].Zones) != 2 || bgs[1].Zones[0] != 0 || bgs[1].Zones[1] != 1 {
		t.Fatalf("bg 1 zones = %v, want [0 1]", bgs[1].Zones)
	}
	// The blockgroup's reported flags/WP come from the first zone it
	// overlaps, matching znr_bg_map_zones_to_blockgroups.
	if bgs[1].Flags != device.ZoneTypeConventional {
		t.Errorf("bg 1 flags = %v, want conventional (first overlapping zone)", bgs[1].Flags)
	}
}

func TestMapZonesToBlockgroupsNoOverlapIsError(t *testing.T) {
	zones := []device.Zone{
		{Start: 0, Length: 100, Type: device.ZoneTypeConventional},
	}
	bgs := []Blockgroup{
		{Sector: 200, NrSectors: 100},
	}

	if _, err := mapZonesToBlockgroups(zones, 0, bgs); err == nil {
		t.Fatal("expected an error when no zone overlaps a blockgroup")
	}
}

func TestRefreshRangeBeyondZoneCount(t *testing.T) {
	dev := &device.Descriptor{IsZoned: true, ZoneSectors: 256, ZoneCount: 2}
	bgs := []Blockgroup{
		{Sector: 0, NrSectors: 1024},
	}

	if _, err := Refresh(dev, nil, bgs); err == nil {
		t.Fatal("expected an error for a blockgroup range beyond the device's zone count")
	}
}
