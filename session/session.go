// Package session holds the process-wide inspection state: the device
// descriptor, zone array, blockgroup array, mount handle, and mode, and
// implements both open sequences (local and network client) with a
// scoped-acquisition discipline built on per-resource defer release.
package session

import (
	"os"

	"github.com/google/uuid"

	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/device"
	"github.com/wdzonar/zonar/fsprovider"
	"github.com/wdzonar/zonar/internal/zlog"
	"github.com/wdzonar/zonar/transport"
	"github.com/wdzonar/zonar/wire"
	"github.com/wdzonar/zonar/zonarerr"
)

// Mode replaces spec.md §3's four boolean mode flags with one enum, set once
// by Open, OpenClient or OpenServer. Refresh, FileExtents and ExtentsInRange
// check it on every call to route a NetClient session's queries over the
// wire (spec.md §4.6's remote adapter, §4.7).
type Mode int

const (
	// Local drives the device and filesystem providers in-process.
	Local Mode = iota
	// NetClient routes every query over a transport.Conn to a remote server.
	NetClient
	// NetServer accepts (or reverse-connects) one client and answers its
	// queries by driving the device and filesystem providers in-process.
	NetServer
)

// Session is the single process-wide record described by spec.md §3.
type Session struct {
	Mode Mode

	// ID correlates this session's log lines; it never crosses the wire,
	// it only tags the local process's diagnostics (SPEC_FULL.md §2's
	// per-session correlation id).
	ID string

	MountPath string
	FSType    uint32

	Device *device.Descriptor
	Zones  []device.Zone

	Provider fsprovider.Provider
	// Groups is the session's blockgroup array (spec.md §3's "blockgroup
	// array"), named to avoid colliding with the Blockgroups method below
	// that implements transport.Backend.
	Groups []blockgroup.Blockgroup

	mountDir *os.File
	conn     *transport.Conn
}

// cleanupStack unwinds acquisitions in reverse order on any later failure,
// generalizing per-resource defer release into a multi-step sequence for an
// open path with more than one acquisition.
type cleanupStack struct {
	fns []func() error
}

func (c *cleanupStack) push(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *cleanupStack) unwind() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			zlog.Err("cleanup step %d: %v", i, err)
		}
	}
}

// Open implements the local-mode open sequence of spec.md §4.6 for a mount
// path whose device path the caller has already resolved: open the mount
// dir, select and init the provider, open the device, read zones, read
// blockgroups, and refresh the correlator.
// Every step pushes its release function so a later failure unwinds
// everything acquired so far.
func Open(mountPath, devicePath string, magic uint32) (*Session, error) {
	cs := &cleanupStack{}
	ok := false
	defer func() {
		if !ok {
			cs.unwind()
		}
	}()

	mountDir, err := os.Open(mountPath)
	if err != nil {
		return nil, zonarerr.NotFound("open mount directory %s: %v", mountPath, err)
	}
	cs.push(mountDir.Close)

	ctor, err := fsprovider.Lookup(magic)
	if err != nil {
		return nil, err
	}
	provider := ctor()
	if err := provider.Init(int(mountDir.Fd())); err != nil {
		return nil, err
	}

	dev, err := device.Open(devicePath)
	if err != nil {
		return nil, err
	}
	cs.push(dev.Close)

	s := &Session{
		Mode:      Local,
		ID:        uuid.NewString(),
		MountPath: mountPath,
		FSType:    magic,
		Device:    dev,
		Provider:  provider,
		mountDir:  mountDir,
	}

	if dev.IsZoned {
		zones := make([]device.Zone, dev.ZoneCount)
		n, err := dev.ReportZones(0, zones)
		if err != nil {
			return nil, err
		}
		s.Zones = zones[:n]
	}

	bgs, err := provider.GetBlockgroups()
	if err != nil {
		return nil, err
	}
	s.Groups = bgs

	if _, err := blockgroup.Refresh(dev, s.Zones, s.Groups); err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

// OpenClient implements the client-mode open sequence of spec.md §4.6:
// MNTDIR_INFO, DEV_INFO, DEV_REP_ZONES(0, all), BLOCKGROUPS over the wire,
// populating the session from the replies instead of driving A/B/C locally.
func OpenClient(conn *transport.Conn) (*Session, error) {
	mi, err := transport.CallMntdirInfo(conn)
	if err != nil {
		return nil, err
	}

	di, err := transport.CallDevInfo(conn)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Mode:      NetClient,
		ID:        uuid.NewString(),
		MountPath: mi.MountPath,
		FSType:    mi.FSType,
		conn:      conn,
		Device: &device.Descriptor{
			Path:              di.DevicePath,
			VendorID:          di.VendorID,
			Sectors:           di.Sectors,
			LogicalBlocks:     di.LogicalBlocks,
			PhysicalBlocks:    di.PhysicalBlocks,
			ZoneSize:          di.ZoneSize,
			ZoneSectors:       di.ZoneSectors,
			LogicalBlockSize:  di.LogicalBlockSize,
			PhysicalBlockSize: di.PhysicalBlockSize,
			ZoneCount:         di.ZoneCount,
			MaxOpenZones:      di.MaxOpenZones,
			MaxActiveZones:    di.MaxActiveZones,
			IsZoned:           di.IsZoned,
		},
	}

	if s.Device.IsZoned {
		recs, err := transport.CallReportZones(conn, 0, s.Device.ZoneCount)
		if err != nil {
			return nil, err
		}
		s.Zones = make([]device.Zone, len(recs))
		for i, r := range recs {
			s.Zones[i] = device.Zone{
				Start:    r.Start,
				Length:   r.Length,
				Capacity: r.Capacity,
				WP:       r.WP,
				Type:     device.ZoneType(r.Type),
				Cond:     device.ZoneCondition(r.Cond),
				NonSeq:   r.NonSeq,
				Reset:    r.Reset,
			}
		}
	}

	bgRecs, err := transport.CallBlockgroups(conn)
	if err != nil {
		return nil, err
	}
	s.Groups = make([]blockgroup.Blockgroup, len(bgRecs))
	for i, r := range bgRecs {
		s.Groups[i] = blockgroup.Blockgroup{
			Sector:    r.Sector,
			NrSectors: r.NrSectors,
			WPSector:  r.WPSector,
			Flags:     device.ZoneType(r.Flags),
		}
	}

	// The wire's zone-pointer list is opaque/unused (BlockgroupRecord only
	// carries NrZones); the receiver recomputes the overlap from the zones
	// it just fetched, the same mapping Refresh runs locally, so a
	// net-client session's blockgroups satisfy the same nr_zones >= 1
	// invariant as a local session's.
	if s.Device.IsZoned {
		if _, err := blockgroup.MapZones(s.Zones, s.Groups); err != nil {
			return nil, err
		}
	} else {
		for i := range s.Groups {
			s.Groups[i].Flags = device.ZoneTypeConventional
			s.Groups[i].WPSector = 0
			s.Groups[i].Zones = nil
		}
	}

	return s, nil
}

// OpenServer performs the local-mode open sequence then marks the session
// for server-mode dispatch over conn.
func OpenServer(mountPath, devicePath string, magic uint32, conn *transport.Conn) (*Session, error) {
	s, err := Open(mountPath, devicePath, magic)
	if err != nil {
		return nil, err
	}
	s.Mode = NetServer
	s.conn = conn
	return s, nil
}

// Close releases every resource the session owns, in reverse acquisition
// order.
func (s *Session) Close() error {
	var first error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.Device != nil {
		if err := s.Device.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.mountDir != nil {
		if err := s.mountDir.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Refresh re-reads zones and blockgroups. In NetClient mode this reissues
// DEV_REP_ZONES and BLOCKGROUPS over the wire instead of touching the
// device locally — the remote adapter routes every operation by Mode,
// chosen once at Open (spec.md §4.7).
func (s *Session) Refresh() error {
	if s.Mode == NetClient {
		fresh, err := OpenClient(s.conn)
		if err != nil {
			return err
		}
		s.Zones = fresh.Zones
		s.Groups = fresh.Groups
		return nil
	}

	if s.Device.IsZoned {
		zones := make([]device.Zone, s.Device.ZoneCount)
		n, err := s.Device.ReportZones(0, zones)
		if err != nil {
			return err
		}
		s.Zones = zones[:n]
	}
	_, err := blockgroup.Refresh(s.Device, s.Zones, s.Groups)
	return err
}

// --- transport.Backend implementation (server mode) ---

// MntdirInfo implements transport.Backend.
func (s *Session) MntdirInfo() (wire.MntdirInfoPayload, error) {
	return wire.MntdirInfoPayload{FSType: s.FSType, MountPath: s.MountPath}, nil
}

// DevInfo implements transport.Backend.
func (s *Session) DevInfo() (wire.DevInfoPayload, error) {
	d := s.Device
	return wire.DevInfoPayload{
		DevicePath:        d.Path,
		VendorID:          d.VendorID,
		Sectors:           d.Sectors,
		LogicalBlocks:     d.LogicalBlocks,
		PhysicalBlocks:    d.PhysicalBlocks,
		ZoneSize:          d.ZoneSize,
		ZoneSectors:       d.ZoneSectors,
		LogicalBlockSize:  d.LogicalBlockSize,
		PhysicalBlockSize: d.PhysicalBlockSize,
		ZoneCount:         d.ZoneCount,
		MaxOpenZones:      d.MaxOpenZones,
		MaxActiveZones:    d.MaxActiveZones,
		IsZoned:           d.IsZoned,
	}, nil
}

// ReportZones implements transport.Backend, validating the requested range
// against the device before re-reading it (spec.md §4.5's dispatch table).
func (s *Session) ReportZones(zoneNumber, zoneCount uint32) ([]wire.ZoneRecord, error) {
	if uint64(zoneNumber)+uint64(zoneCount) > uint64(s.Device.ZoneCount) {
		return nil, zonarerr.Invalid("zone range [%d, %d) exceeds zone count %d", zoneNumber, zoneNumber+zoneCount, s.Device.ZoneCount)
	}

	out := make([]device.Zone, zoneCount)
	n, err := s.Device.ReportZones(zoneNumber, out)
	if err != nil {
		return nil, err
	}

	recs := make([]wire.ZoneRecord, n)
	for i := 0; i < n; i++ {
		z := out[i]
		recs[i] = wire.ZoneRecord{
			Start:    z.Start,
			Length:   z.Length,
			WP:       z.WP,
			Capacity: z.Capacity,
			Type:     uint8(z.Type),
			Cond:     uint8(z.Cond),
			NonSeq:   z.NonSeq,
			Reset:    z.Reset,
		}
	}
	return recs, nil
}

// FileExtents implements transport.Backend. In NetClient mode it routes the
// query to the remote server over the wire instead of opening path locally
// (the remote adapter of spec.md §4.7, mirroring ReportZones/Blockgroups).
func (s *Session) FileExtents(path string) ([]fsprovider.Extent, error) {
	if s.Mode == NetClient {
		recs, err := transport.CallFileExtents(s.conn, path)
		if err != nil {
			return nil, err
		}
		return extentsFromRecords(recs), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, zonarerr.NotFound("open %s: %v", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, zonarerr.IO(err, "stat %s", path)
	}
	ino := inodeOf(fi)

	return s.Provider.GetFileExtents(path, int(f.Fd()), ino)
}

// ExtentsInRange implements transport.Backend. In NetClient mode it routes
// the query over the wire; otherwise it validates the range against the
// device's sector count and calls the provider directly.
func (s *Session) ExtentsInRange(sector, sectorCount uint64) ([]fsprovider.Extent, error) {
	if s.Mode == NetClient {
		recs, err := transport.CallExtentsInRange(s.conn, sector, sectorCount)
		if err != nil {
			return nil, err
		}
		return extentsFromRecords(recs), nil
	}

	if sector+sectorCount > s.Device.Sectors {
		return nil, zonarerr.Invalid("range [%d, %d) exceeds device sector count %d", sector, sector+sectorCount, s.Device.Sectors)
	}
	return s.Provider.GetExtentsInRange(sector, sectorCount)
}

// extentsFromRecords converts decoded wire extent records into the
// fsprovider.Extent shape local callers and the provider interface share.
func extentsFromRecords(recs []wire.ExtentRecord) []fsprovider.Extent {
	out := make([]fsprovider.Extent, len(recs))
	for i, r := range recs {
		out[i] = fsprovider.Extent{
			Tag:       fsprovider.ExtentTag(r.Tag),
			Index:     r.Index,
			Ino:       r.Ino,
			Sector:    r.Sector,
			NrSectors: r.NrSectors,
			Info:      r.Info,
		}
	}
	return out
}

// Blockgroups implements transport.Backend.
func (s *Session) Blockgroups() ([]blockgroup.Blockgroup, error) {
	return s.Provider.GetBlockgroups()
}
