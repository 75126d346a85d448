package session_test

import (
	"context"
	"net"
	"testing"

	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/fsprovider"
	"github.com/wdzonar/zonar/session"
	"github.com/wdzonar/zonar/transport"
	"github.com/wdzonar/zonar/wire"
)

// fakeBackend serves a fixed, in-memory session over the wire so
// session.OpenClient can be exercised without a real device or filesystem.
type fakeBackend struct {
	mi    wire.MntdirInfoPayload
	di    wire.DevInfoPayload
	zones []wire.ZoneRecord
	bgs   []blockgroup.Blockgroup
}

func (f *fakeBackend) MntdirInfo() (wire.MntdirInfoPayload, error) { return f.mi, nil }
func (f *fakeBackend) DevInfo() (wire.DevInfoPayload, error)       { return f.di, nil }

func (f *fakeBackend) ReportZones(zoneNumber, zoneCount uint32) ([]wire.ZoneRecord, error) {
	return f.zones[zoneNumber : zoneNumber+zoneCount], nil
}

func (f *fakeBackend) FileExtents(path string) ([]fsprovider.Extent, error) { return nil, nil }

func (f *fakeBackend) ExtentsInRange(sector, sectorCount uint64) ([]fsprovider.Extent, error) {
	return nil, nil
}

func (f *fakeBackend) Blockgroups() ([]blockgroup.Blockgroup, error) { return f.bgs, nil }

func TestOpenClientPopulatesSessionFromWire(t *testing.T) {
	a, b := net.Pipe()
	serverConn, err := transport.NewConn(a)
	if err != nil {
		t.Fatalf("NewConn a: %v", err)
	}
	clientConn, err := transport.NewConn(b)
	if err != nil {
		t.Fatalf("NewConn b: %v", err)
	}

	backend := &fakeBackend{
		mi: wire.MntdirInfoPayload{FSType: 0x58465342, MountPath: "/mnt/zoned"},
		di: wire.DevInfoPayload{
			DevicePath: "/dev/sdz", Sectors: 2048, LogicalBlocks: 4, PhysicalBlocks: 4,
			ZoneSize: 1024, ZoneSectors: 1024, LogicalBlockSize: 512, PhysicalBlockSize: 4096,
			ZoneCount: 2, MaxOpenZones: 4, MaxActiveZones: 4, IsZoned: true,
		},
		zones: []wire.ZoneRecord{
			{Start: 0, Length: 1024, WP: 100, Capacity: 1024, Type: 2},
			{Start: 1024, Length: 1024, WP: 1124, Capacity: 1024, Type: 2},
		},
		bgs: []blockgroup.Blockgroup{
			{Sector: 0, NrSectors: 1024, WPSector: 100, Flags: 2},
			{Sector: 1024, NrSectors: 1024, WPSector: 100, Flags: 2},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx, serverConn, backend)

	s, err := session.OpenClient(clientConn)
	if err != nil {
		t.Fatalf("OpenClient: %v", err)
	}

	if s.MountPath != backend.mi.MountPath {
		t.Errorf("MountPath = %q, want %q", s.MountPath, backend.mi.MountPath)
	}
	if s.FSType != backend.mi.FSType {
		t.Errorf("FSType = %#x, want %#x", s.FSType, backend.mi.FSType)
	}
	if s.Device.Path != backend.di.DevicePath {
		t.Errorf("Device.Path = %q, want %q", s.Device.Path, backend.di.DevicePath)
	}
	if len(s.Zones) != 2 {
		t.Fatalf("got %d zones, want 2", len(s.Zones))
	}
	if s.Zones[1].WP != 1124 {
		t.Errorf("zone 1 WP = %d, want 1124", s.Zones[1].WP)
	}
	if len(s.Groups) != 2 {
		t.Fatalf("got %d blockgroups, want 2", len(s.Groups))
	}
	for i, bg := range s.Groups {
		if len(bg.Zones) != 1 || bg.Zones[0] != i {
			t.Errorf("bg %d Zones = %v, want [%d] (recomputed from the received zone array)", i, bg.Zones, i)
		}
	}
	if s.Groups[1].WPSector != 100 {
		t.Errorf("bg 1 WPSector = %d, want 100 (zones[1].WP - bg.Sector)", s.Groups[1].WPSector)
	}
	if s.ID == "" {
		t.Error("expected a non-empty session correlation id")
	}
}
