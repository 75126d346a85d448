package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/fsprovider"
	"github.com/wdzonar/zonar/transport"
	"github.com/wdzonar/zonar/wire"
	"github.com/wdzonar/zonar/zonarerr"
)

type fakeBackend struct {
	mi  wire.MntdirInfoPayload
	di  wire.DevInfoPayload
	bgs []blockgroup.Blockgroup
}

func (f *fakeBackend) MntdirInfo() (wire.MntdirInfoPayload, error) { return f.mi, nil }
func (f *fakeBackend) DevInfo() (wire.DevInfoPayload, error)       { return f.di, nil }

func (f *fakeBackend) ReportZones(zoneNumber, zoneCount uint32) ([]wire.ZoneRecord, error) {
	if zoneNumber+zoneCount > 2 {
		return nil, zonarerr.Invalid("out of range")
	}
	return []wire.ZoneRecord{
		{Start: 0, Length: 100, WP: 50, Capacity: 100, Type: 2},
		{Start: 100, Length: 100, WP: 150, Capacity: 100, Type: 2},
	}[zoneNumber : zoneNumber+zoneCount], nil
}

func (f *fakeBackend) FileExtents(path string) ([]fsprovider.Extent, error) {
	if path == "" {
		return nil, zonarerr.NotFound("empty path")
	}
	return []fsprovider.Extent{
		{Tag: fsprovider.TagFileExtent, Index: 0, Ino: 42, Sector: 10, NrSectors: 5, Info: "file:" + path},
	}, nil
}

func (f *fakeBackend) ExtentsInRange(sector, sectorCount uint64) ([]fsprovider.Extent, error) {
	return []fsprovider.Extent{
		{Tag: fsprovider.TagZoneExtent, Index: 0, Ino: 7, Sector: sector, NrSectors: sectorCount},
	}, nil
}

func (f *fakeBackend) Blockgroups() ([]blockgroup.Blockgroup, error) {
	return f.bgs, nil
}

func newFakePair(t *testing.T) (*transport.Conn, *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, err := transport.NewConn(a)
	if err != nil {
		t.Fatalf("NewConn a: %v", err)
	}
	cb, err := transport.NewConn(b)
	if err != nil {
		t.Fatalf("NewConn b: %v", err)
	}
	return ca, cb
}

func TestMntdirInfoRoundTrip(t *testing.T) {
	serverConn, clientConn := newFakePair(t)
	backend := &fakeBackend{mi: wire.MntdirInfoPayload{FSType: 0x58465342, MountPath: "/mnt/x"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transport.Serve(ctx, serverConn, backend) }()

	got, err := transport.CallMntdirInfo(clientConn)
	if err != nil {
		t.Fatalf("CallMntdirInfo: %v", err)
	}
	if got != backend.mi {
		t.Fatalf("got %+v, want %+v", got, backend.mi)
	}

	cancel()
	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestReportZonesRoundTrip(t *testing.T) {
	serverConn, clientConn := newFakePair(t)
	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx, serverConn, backend)

	zones, err := transport.CallReportZones(clientConn, 0, 2)
	if err != nil {
		t.Fatalf("CallReportZones: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("got %d zones, want 2", len(zones))
	}
	if zones[0].WP != 50 || zones[1].WP != 150 {
		t.Fatalf("unexpected zone contents: %+v", zones)
	}
}

func TestReportZonesErrorPropagates(t *testing.T) {
	serverConn, clientConn := newFakePair(t)
	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx, serverConn, backend)

	if _, err := transport.CallReportZones(clientConn, 0, 10); err == nil {
		t.Fatal("expected an error for an out-of-range zone request")
	}
}

func TestFileExtentsRoundTrip(t *testing.T) {
	serverConn, clientConn := newFakePair(t)
	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx, serverConn, backend)

	extents, err := transport.CallFileExtents(clientConn, "/mnt/x/file.bin")
	if err != nil {
		t.Fatalf("CallFileExtents: %v", err)
	}
	if len(extents) != 1 || extents[0].Ino != 42 {
		t.Fatalf("unexpected extents: %+v", extents)
	}
}

func TestBlockgroupsRoundTrip(t *testing.T) {
	serverConn, clientConn := newFakePair(t)
	backend := &fakeBackend{bgs: []blockgroup.Blockgroup{
		{Sector: 0, NrSectors: 100, WPSector: 10, Flags: 2, Zones: []int{0, 1}},
		{Sector: 100, NrSectors: 100, WPSector: 0, Flags: 1, Zones: []int{2}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx, serverConn, backend)

	recs, err := transport.CallBlockgroups(clientConn)
	if err != nil {
		t.Fatalf("CallBlockgroups: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d blockgroup records, want 2", len(recs))
	}
	if recs[0].NrZones != 2 || recs[1].NrZones != 1 {
		t.Fatalf("unexpected NrZones: %+v", recs)
	}
}
