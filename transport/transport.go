// Package transport implements the blocking TCP connection lifecycle and
// request dispatch loop of spec.md §4.5, grounded on
// _examples/original_source/src/znr_net.c's znr_net_send/znr_net_recv
// short-I/O loops and its listen/connect duality.
package transport

import (
	"context"
	"io"
	"net"

	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/fsprovider"
	"github.com/wdzonar/zonar/wire"
	"github.com/wdzonar/zonar/zonarerr"
)

// SocketBufferSize is the send/receive buffer size spec.md §4.5 requires on
// the underlying TCP connection.
const SocketBufferSize = 1 << 20

// DefaultPort is the protocol's default TCP port, overrideable by the CLI.
const DefaultPort = 49152

// Conn wraps a net.Conn. SendExact and RecvExact loop over short writes and
// reads and report a zero-length transfer as ConnectionReset; Read and Write
// pass straight through to the underlying connection.
type Conn struct {
	nc net.Conn
}

// NewConn wraps an already-established connection, setting the wire
// protocol's 1 MiB socket buffers.
func NewConn(nc net.Conn) (*Conn, error) {
	if tc, ok := nc.(*net.TCPConn); ok {
		if err := tc.SetReadBuffer(SocketBufferSize); err != nil {
			return nil, zonarerr.IO(err, "set read buffer")
		}
		if err := tc.SetWriteBuffer(SocketBufferSize); err != nil {
			return nil, zonarerr.IO(err, "set write buffer")
		}
	}
	return &Conn{nc: nc}, nil
}

// Close releases the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Read implements io.Reader with a single read on the underlying connection;
// it may return fewer bytes than len(p).
func (c *Conn) Read(p []byte) (int, error) { return c.nc.Read(p) }

// Write implements io.Writer with a single write on the underlying
// connection.
func (c *Conn) Write(p []byte) (int, error) { return c.nc.Write(p) }

// SendExact writes all of buf, looping over short writes and reporting a
// zero-length write as ConnectionReset.
func (c *Conn) SendExact(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := c.nc.Write(buf[total:])
		if n == 0 && err == nil {
			return zonarerr.ConnectionReset("zero-length write")
		}
		if err != nil {
			return zonarerr.IO(err, "send")
		}
		total += n
	}
	return nil
}

// RecvExact reads exactly len(buf) bytes, looping over short reads and
// reporting a zero-length read (peer closed) as ConnectionReset.
func (c *Conn) RecvExact(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := c.nc.Read(buf[total:])
		if n == 0 && err == io.EOF {
			return zonarerr.ConnectionReset("connection closed by peer")
		}
		if err != nil && err != io.EOF {
			return zonarerr.IO(err, "recv")
		}
		total += n
	}
	return nil
}

// Listen opens a passive listener and accepts exactly one client connection
// (spec.md §4.5/§7: "no support for multiple concurrent clients").
func Listen(addr string) (*Conn, error) {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, zonarerr.IO(err, "listen on %s", addr)
	}
	defer ln.Close()

	nc, err := ln.Accept()
	if err != nil {
		return nil, zonarerr.IO(err, "accept on %s", addr)
	}
	return NewConn(nc)
}

// Dial actively connects to a listening server.
func Dial(addr string) (*Conn, error) {
	nc, err := net.Dial("tcp4", addr)
	if err != nil {
		return nil, zonarerr.IO(err, "dial %s", addr)
	}
	return NewConn(nc)
}

// ConnectReverse is the "reverse mode" counterpart of Listen: the caller
// (typically the server process) actively dials a client that is itself
// waiting in Listen, matching znr_net.c's znr_net_connect used from the
// server side.
func ConnectReverse(addr string) (*Conn, error) {
	return Dial(addr)
}

// Backend is the set of domain operations a dispatch loop invokes for each
// decoded request. session.Session implements this for server mode.
type Backend interface {
	MntdirInfo() (wire.MntdirInfoPayload, error)
	DevInfo() (wire.DevInfoPayload, error)
	ReportZones(zoneNumber, zoneCount uint32) ([]wire.ZoneRecord, error)
	FileExtents(path string) ([]fsprovider.Extent, error)
	ExtentsInRange(sector, sectorCount uint64) ([]fsprovider.Extent, error)
	Blockgroups() ([]blockgroup.Blockgroup, error)
}

// Serve runs the request/reply dispatch loop of spec.md §4.5's table,
// returning when ctx is cancelled (the idiomatic replacement for the
// original's signal-driven abort flag) or the connection is closed.
func Serve(ctx context.Context, conn *Conn, backend Backend) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var req wire.ReqHeader
		if err := req.Decode(conn); err != nil {
			if zonarerr.Is(err, zonarerr.KindConnectionReset) {
				return nil
			}
			return err
		}

		if err := dispatch(conn, &req, backend); err != nil {
			return err
		}
	}
}

func dispatch(conn *Conn, req *wire.ReqHeader, backend Backend) error {
	switch req.ID {
	case wire.ReqMntdirInfo:
		p, err := backend.MntdirInfo()
		return replyPayload(conn, req.ID, err, &p)

	case wire.ReqDevInfo:
		p, err := backend.DevInfo()
		return replyPayload(conn, req.ID, err, &p)

	case wire.ReqDevReportZones:
		zones, err := backend.ReportZones(req.ZoneNumber, req.ZoneCount)
		if err != nil {
			return sendErrorReply(conn, req.ID, err)
		}
		return sendZonesReply(conn, req.ID, zones)

	case wire.ReqFileExtents:
		extents, err := backend.FileExtents(req.Path)
		if err != nil {
			return sendErrorReply(conn, req.ID, err)
		}
		return sendExtentsReply(conn, req.ID, extents)

	case wire.ReqExtentsInRange:
		extents, err := backend.ExtentsInRange(req.Sector, req.SectorCount)
		if err != nil {
			return sendErrorReply(conn, req.ID, err)
		}
		return sendExtentsReply(conn, req.ID, extents)

	case wire.ReqBlockgroups:
		bgs, err := backend.Blockgroups()
		if err != nil {
			return sendErrorReply(conn, req.ID, err)
		}
		return sendBlockgroupsReply(conn, req.ID, bgs)

	default:
		return sendErrorReply(conn, req.ID, zonarerr.Protocol("unknown request id %d", req.ID))
	}
}

// errCode maps an error onto the wire's "positive errno-like code," using
// the zonarerr.Kind taxonomy rather than a single generic failure code so a
// client can distinguish e.g. Unsupported from IO.
func errCode(err error) uint32 {
	if err == nil {
		return 0
	}
	var ze *zonarerr.Error
	if e, ok := err.(*zonarerr.Error); ok {
		ze = e
	}
	if ze == nil {
		return 1
	}
	return uint32(ze.Kind) + 1
}

func sendErrorReply(conn *Conn, id uint32, err error) error {
	rep := wire.RepHeader{Magic: wire.Magic, ID: id, Err: errCode(err), DataSize: 0}
	return rep.Encode(conn)
}

type payload interface {
	Encode(w io.Writer) error
	Size() int
}

func replyPayload(conn *Conn, id uint32, err error, p payload) error {
	if err != nil {
		return sendErrorReply(conn, id, err)
	}
	rep := wire.RepHeader{Magic: wire.Magic, ID: id, Err: 0, DataSize: uint32(p.Size())}
	if err := rep.Encode(conn); err != nil {
		return err
	}
	return p.Encode(conn)
}

func sendZonesReply(conn *Conn, id uint32, zones []wire.ZoneRecord) error {
	rep := wire.RepHeader{Magic: wire.Magic, ID: id, Err: 0, DataSize: uint32(len(zones) * wire.ZoneRecordSize)}
	if err := rep.Encode(conn); err != nil {
		return err
	}
	for i := range zones {
		if err := zones[i].Encode(conn); err != nil {
			return err
		}
	}
	return nil
}

func sendExtentsReply(conn *Conn, id uint32, extents []fsprovider.Extent) error {
	rep := wire.RepHeader{Magic: wire.Magic, ID: id, Err: 0, DataSize: uint32(len(extents) * wire.ExtentRecordSize)}
	if err := rep.Encode(conn); err != nil {
		return err
	}
	for _, e := range extents {
		rec := wire.ExtentRecord{
			Tag:       uint8(e.Tag),
			Index:     e.Index,
			Ino:       e.Ino,
			Sector:    e.Sector,
			NrSectors: e.NrSectors,
			Info:      e.Info,
		}
		if err := rec.Encode(conn); err != nil {
			return err
		}
	}
	return nil
}

// --- client-side calls (spec.md §4.7's remote adapter) ---

func call(conn *Conn, req wire.ReqHeader) (wire.RepHeader, error) {
	req.Magic = wire.Magic
	if err := req.Encode(conn); err != nil {
		return wire.RepHeader{}, err
	}
	var rep wire.RepHeader
	if err := rep.Decode(conn); err != nil {
		return wire.RepHeader{}, err
	}
	if rep.ID != req.ID {
		return wire.RepHeader{}, zonarerr.Protocol("reply id %d does not match request id %d", rep.ID, req.ID)
	}
	if rep.Err != 0 {
		return rep, zonarerr.IO(nil, "remote call %d failed with code %d", req.ID, rep.Err)
	}
	return rep, nil
}

// CallMntdirInfo issues MNTDIR_INFO and decodes its reply.
func CallMntdirInfo(conn *Conn) (wire.MntdirInfoPayload, error) {
	if _, err := call(conn, wire.ReqHeader{ID: wire.ReqMntdirInfo}); err != nil {
		return wire.MntdirInfoPayload{}, err
	}
	var p wire.MntdirInfoPayload
	if err := p.Decode(conn); err != nil {
		return wire.MntdirInfoPayload{}, err
	}
	return p, nil
}

// CallDevInfo issues DEV_INFO and decodes its reply.
func CallDevInfo(conn *Conn) (wire.DevInfoPayload, error) {
	if _, err := call(conn, wire.ReqHeader{ID: wire.ReqDevInfo}); err != nil {
		return wire.DevInfoPayload{}, err
	}
	var p wire.DevInfoPayload
	if err := p.Decode(conn); err != nil {
		return wire.DevInfoPayload{}, err
	}
	return p, nil
}

// CallReportZones issues DEV_REP_ZONES and decodes into a freshly allocated
// slice, never in place over a caller-owned array (spec.md's Open Question
// decision #2).
func CallReportZones(conn *Conn, zoneNumber, zoneCount uint32) ([]wire.ZoneRecord, error) {
	rep, err := call(conn, wire.ReqHeader{ID: wire.ReqDevReportZones, ZoneNumber: zoneNumber, ZoneCount: zoneCount})
	if err != nil {
		return nil, err
	}
	if rep.DataSize%wire.ZoneRecordSize != 0 {
		return nil, zonarerr.Protocol("DEV_REP_ZONES payload size %d not a multiple of record size %d", rep.DataSize, wire.ZoneRecordSize)
	}
	n := int(rep.DataSize) / wire.ZoneRecordSize
	zones := make([]wire.ZoneRecord, n)
	for i := range zones {
		if err := zones[i].Decode(conn); err != nil {
			return nil, err
		}
	}
	return zones, nil
}

// CallFileExtents issues FILE_EXTENTS for path and decodes its reply.
func CallFileExtents(conn *Conn, path string) ([]wire.ExtentRecord, error) {
	return callExtents(conn, wire.ReqHeader{ID: wire.ReqFileExtents, Path: path})
}

// CallExtentsInRange issues EXTENTS_IN_RANGE and decodes its reply.
func CallExtentsInRange(conn *Conn, sector, sectorCount uint64) ([]wire.ExtentRecord, error) {
	return callExtents(conn, wire.ReqHeader{ID: wire.ReqExtentsInRange, Sector: sector, SectorCount: sectorCount})
}

func callExtents(conn *Conn, req wire.ReqHeader) ([]wire.ExtentRecord, error) {
	rep, err := call(conn, req)
	if err != nil {
		return nil, err
	}
	if rep.DataSize%wire.ExtentRecordSize != 0 {
		return nil, zonarerr.Protocol("extent payload size %d not a multiple of record size %d", rep.DataSize, wire.ExtentRecordSize)
	}
	n := int(rep.DataSize) / wire.ExtentRecordSize
	extents := make([]wire.ExtentRecord, n)
	for i := range extents {
		if err := extents[i].Decode(conn); err != nil {
			return nil, err
		}
	}
	return extents, nil
}

// CallBlockgroups issues BLOCKGROUPS, reading the count reply followed by
// the data reply, per spec.md §4.4.
func CallBlockgroups(conn *Conn) ([]wire.BlockgroupRecord, error) {
	if _, err := call(conn, wire.ReqHeader{ID: wire.ReqBlockgroups}); err != nil {
		return nil, err
	}

	count, err := wire.ReadBlockgroupCount(conn)
	if err != nil {
		return nil, err
	}

	var dataRep wire.RepHeader
	if err := dataRep.Decode(conn); err != nil {
		return nil, err
	}
	if dataRep.ID != wire.ReqBlockgroups {
		return nil, zonarerr.Protocol("blockgroups data reply id %d mismatch", dataRep.ID)
	}
	if dataRep.DataSize != count*wire.BlockgroupRecordSize {
		return nil, zonarerr.Protocol("blockgroups data size %d does not match count %d", dataRep.DataSize, count)
	}

	bgs := make([]wire.BlockgroupRecord, count)
	for i := range bgs {
		if err := bgs[i].Decode(conn); err != nil {
			return nil, err
		}
	}
	return bgs, nil
}

func sendBlockgroupsReply(conn *Conn, id uint32, bgs []blockgroup.Blockgroup) error {
	rep := wire.RepHeader{Magic: wire.Magic, ID: id, Err: 0, DataSize: 0}
	if err := rep.Encode(conn); err != nil {
		return err
	}
	if err := wire.WriteBlockgroupCount(conn, uint32(len(bgs))); err != nil {
		return err
	}

	dataRep := wire.RepHeader{Magic: wire.Magic, ID: id, Err: 0, DataSize: uint32(len(bgs) * wire.BlockgroupRecordSize)}
	if err := dataRep.Encode(conn); err != nil {
		return err
	}
	for i := range bgs {
		rec := wire.BlockgroupRecord{
			Sector:    bgs[i].Sector,
			NrSectors: bgs[i].NrSectors,
			WPSector:  bgs[i].WPSector,
			Flags:     uint32(bgs[i].Flags),
			NrZones:   uint64(len(bgs[i].Zones)),
		}
		if err := rec.Encode(conn); err != nil {
			return err
		}
	}
	return nil
}
