package blockgroup_test

import (
	"testing"

	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/device"
)

func TestRefreshConventionalDevice(t *testing.T) {
	dev := &device.Descriptor{IsZoned: false}
	bgs := []blockgroup.Blockgroup{
		{Sector: 0, NrSectors: 1000},
		{Sector: 1000, NrSectors: 1000},
	}

	n, err := blockgroup.Refresh(dev, nil, bgs)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != len(bgs) {
		t.Fatalf("got %d refreshed, want %d", n, len(bgs))
	}
	for i, bg := range bgs {
		if bg.Flags != device.ZoneTypeConventional {
			t.Errorf("bg %d: flags = %v, want conventional", i, bg.Flags)
		}
		if bg.WPSector != 0 {
			t.Errorf("bg %d: WPSector = %d, want 0", i, bg.WPSector)
		}
	}
}

func TestMapZonesStoresAbsoluteIndices(t *testing.T) {
	// Two leading zones belong to an earlier, already-mapped blockgroup
	// range; the blockgroup under test only overlaps zones[2], which must
	// be recorded as absolute index 2, not 0.
	zones := []device.Zone{
		{Start: 0, Length: 100, Type: device.ZoneTypeConventional},
		{Start: 100, Length: 100, Type: device.ZoneTypeConventional},
		{Start: 200, Length: 100, Type: device.ZoneTypeSeqWriteReq, WP: 250},
	}
	bgs := []blockgroup.Blockgroup{
		{Sector: 200, NrSectors: 100},
	}

	if _, err := blockgroup.MapZones(zones, bgs); err != nil {
		t.Fatalf("MapZones: %v", err)
	}
	if len(bgs[0].Zones) != 1 || bgs[0].Zones[0] != 2 {
		t.Fatalf("bg zones = %v, want [2] (absolute index into zones)", bgs[0].Zones)
	}
	if bgs[0].WPSector != 50 {
		t.Errorf("bg WPSector = %d, want 50", bgs[0].WPSector)
	}
}

func TestRefreshEmptyBlockgroupList(t *testing.T) {
	dev := &device.Descriptor{IsZoned: true, ZoneSectors: 256, ZoneCount: 4}
	n, err := blockgroup.Refresh(dev, nil, nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}
