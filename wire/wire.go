// Package wire implements the fixed-shape, big-endian binary protocol that
// makes every local query available remotely, grounded on
// _examples/original_source/src/znr_net.c. Every structure is encoded and
// decoded field by field with encoding/binary rather than via binary.Write
// over the whole struct, because Go struct padding would otherwise violate
// the wire format's "no padding between fields" rule.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/wdzonar/zonar/zonarerr"
)

// Magic is the fixed protocol tag, the ASCII bytes 'z','o','n','e' read as a
// big-endian u32.
const Magic uint32 = 0x7A6F6E65

// PathMax bounds the NUL-padded path fields carried on the wire, matching
// the kernel's own PATH_MAX.
const PathMax = 4096

// VendorIDWireLen is the DEV_INFO vendor-id field width: one byte longer
// than device.VendorIDLen to guarantee room for a NUL terminator.
const VendorIDWireLen = 33

// Request identifiers, matching spec.md §4.4 verbatim.
const (
	ReqMntdirInfo     uint32 = 1
	ReqDevInfo        uint32 = 2
	ReqDevReportZones uint32 = 3
	ReqFileExtents    uint32 = 4
	ReqExtentsInRange uint32 = 5
	ReqBlockgroups    uint32 = 6
)

// ReqHeader is the fixed-size request envelope preceding every call.
type ReqHeader struct {
	Magic       uint32
	ID          uint32
	ZoneNumber  uint32
	ZoneCount   uint32
	Sector      uint64
	SectorCount uint64
	Path        string // decoded/encoded as PathMax NUL-padded bytes
}

// Encode writes the header field by field in big-endian order.
func (h *ReqHeader) Encode(w io.Writer) error {
	var buf [16 + 16]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.ID)
	binary.BigEndian.PutUint32(buf[8:12], h.ZoneNumber)
	binary.BigEndian.PutUint32(buf[12:16], h.ZoneCount)
	binary.BigEndian.PutUint64(buf[16:24], h.Sector)
	binary.BigEndian.PutUint64(buf[24:32], h.SectorCount)
	if _, err := w.Write(buf[:]); err != nil {
		return zonarerr.IO(err, "write request header")
	}
	return writeFixedPath(w, h.Path)
}

// Decode reads a request header, validating the magic on the spot.
func (h *ReqHeader) Decode(r io.Reader) error {
	var buf [32]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return zonarerr.IO(err, "read request header")
	}
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	if h.Magic != Magic {
		return zonarerr.Protocol("bad request magic 0x%x", h.Magic)
	}
	h.ID = binary.BigEndian.Uint32(buf[4:8])
	h.ZoneNumber = binary.BigEndian.Uint32(buf[8:12])
	h.ZoneCount = binary.BigEndian.Uint32(buf[12:16])
	h.Sector = binary.BigEndian.Uint64(buf[16:24])
	h.SectorCount = binary.BigEndian.Uint64(buf[24:32])

	path, err := readFixedPath(r)
	if err != nil {
		return err
	}
	h.Path = path
	return nil
}

// RepHeader is the fixed-size reply envelope preceding every payload.
type RepHeader struct {
	Magic    uint32
	ID       uint32
	Err      uint32
	DataSize uint32
}

func (h *RepHeader) Encode(w io.Writer) error {
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.ID)
	binary.BigEndian.PutUint32(buf[8:12], h.Err)
	binary.BigEndian.PutUint32(buf[12:16], h.DataSize)
	if _, err := w.Write(buf[:]); err != nil {
		return zonarerr.IO(err, "write reply header")
	}
	return nil
}

func (h *RepHeader) Decode(r io.Reader) error {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return zonarerr.IO(err, "read reply header")
	}
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	if h.Magic != Magic {
		return zonarerr.Protocol("bad reply magic 0x%x", h.Magic)
	}
	h.ID = binary.BigEndian.Uint32(buf[4:8])
	h.Err = binary.BigEndian.Uint32(buf[8:12])
	h.DataSize = binary.BigEndian.Uint32(buf[12:16])
	return nil
}

func writeFixedPath(w io.Writer, path string) error {
	buf := make([]byte, PathMax)
	copy(buf, path)
	if _, err := w.Write(buf); err != nil {
		return zonarerr.IO(err, "write path field")
	}
	return nil
}

func readFixedPath(r io.Reader) (string, error) {
	buf := make([]byte, PathMax)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", zonarerr.IO(err, "read path field")
	}
	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}
	return string(buf[:end]), nil
}

func writeFixedString(w io.Writer, s string, width int) error {
	buf := make([]byte, width)
	copy(buf, s)
	if _, err := w.Write(buf); err != nil {
		return zonarerr.IO(err, "write fixed string field")
	}
	return nil
}

func readFixedString(r io.Reader, width int) (string, error) {
	buf := make([]byte, width)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", zonarerr.IO(err, "read fixed string field")
	}
	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}
	return string(buf[:end]), nil
}

// MntdirInfoPayload is the MNTDIR_INFO reply payload.
type MntdirInfoPayload struct {
	FSType    uint32
	MountPath string
}

func (p *MntdirInfoPayload) Encode(w io.Writer) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], p.FSType)
	if _, err := w.Write(buf[:]); err != nil {
		return zonarerr.IO(err, "write fs-type")
	}
	return writeFixedPath(w, p.MountPath)
}

func (p *MntdirInfoPayload) Decode(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return zonarerr.IO(err, "read fs-type")
	}
	p.FSType = binary.BigEndian.Uint32(buf[:])
	path, err := readFixedPath(r)
	if err != nil {
		return err
	}
	p.MountPath = path
	return nil
}

// Size returns the encoded byte length of a MntdirInfoPayload.
func (p *MntdirInfoPayload) Size() int { return 4 + PathMax }

// DevInfoPayload is the DEV_INFO reply payload, matching spec.md §4.4
// verbatim field order.
type DevInfoPayload struct {
	DevicePath        string
	VendorID          string
	Sectors           uint64
	LogicalBlocks     uint64
	PhysicalBlocks    uint64
	ZoneSize          uint64
	ZoneSectors       uint32
	LogicalBlockSize  uint32
	PhysicalBlockSize uint32
	ZoneCount         uint32
	MaxOpenZones      uint32
	MaxActiveZones    uint32
	IsZoned           bool
}

// Size returns the encoded byte length of a DevInfoPayload: the path and
// vendor-id fields, 4 u64 fields (Sectors, LogicalBlocks, PhysicalBlocks,
// ZoneSize), 6 u32 fields, and the 1-byte is-zoned flag.
func (p *DevInfoPayload) Size() int {
	return PathMax + VendorIDWireLen + 8*4 + 4*6 + 1
}

func (p *DevInfoPayload) Encode(w io.Writer) error {
	if err := writeFixedPath(w, p.DevicePath); err != nil {
		return err
	}
	if err := writeFixedString(w, p.VendorID, VendorIDWireLen); err != nil {
		return err
	}
	var buf8 [8]byte
	for _, v := range []uint64{p.Sectors, p.LogicalBlocks, p.PhysicalBlocks, p.ZoneSize} {
		binary.BigEndian.PutUint64(buf8[:], v)
		if _, err := w.Write(buf8[:]); err != nil {
			return zonarerr.IO(err, "write dev-info u64 field")
		}
	}
	var buf4 [4]byte
	for _, v := range []uint32{p.ZoneSectors, p.LogicalBlockSize, p.PhysicalBlockSize, p.ZoneCount, p.MaxOpenZones, p.MaxActiveZones} {
		binary.BigEndian.PutUint32(buf4[:], v)
		if _, err := w.Write(buf4[:]); err != nil {
			return zonarerr.IO(err, "write dev-info u32 field")
		}
	}
	var isZoned byte
	if p.IsZoned {
		isZoned = 1
	}
	if _, err := w.Write([]byte{isZoned}); err != nil {
		return zonarerr.IO(err, "write dev-info is-zoned field")
	}
	return nil
}

func (p *DevInfoPayload) Decode(r io.Reader) error {
	path, err := readFixedPath(r)
	if err != nil {
		return err
	}
	p.DevicePath = path

	vid, err := readFixedString(r, VendorIDWireLen)
	if err != nil {
		return err
	}
	p.VendorID = vid

	var buf8 [8]byte
	u64fields := []*uint64{&p.Sectors, &p.LogicalBlocks, &p.PhysicalBlocks, &p.ZoneSize}
	for _, f := range u64fields {
		if _, err := io.ReadFull(r, buf8[:]); err != nil {
			return zonarerr.IO(err, "read dev-info u64 field")
		}
		*f = binary.BigEndian.Uint64(buf8[:])
	}

	var buf4 [4]byte
	u32fields := []*uint32{&p.ZoneSectors, &p.LogicalBlockSize, &p.PhysicalBlockSize, &p.ZoneCount, &p.MaxOpenZones, &p.MaxActiveZones}
	for _, f := range u32fields {
		if _, err := io.ReadFull(r, buf4[:]); err != nil {
			return zonarerr.IO(err, "read dev-info u32 field")
		}
		*f = binary.BigEndian.Uint32(buf4[:])
	}

	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return zonarerr.IO(err, "read dev-info is-zoned field")
	}
	p.IsZoned = flag[0] != 0
	return nil
}

// ZoneRecord carries the fields of the kernel zone-report record for
// spec.md §4.4's DEV_REP_ZONES payload. It is not the kernel's byte layout:
// the four u64 fields come first, then the four byte fields, with none of
// the kernel struct's padding or reserved bytes (ZoneRecordSize bytes).
type ZoneRecord struct {
	Start    uint64
	Length   uint64
	WP       uint64
	Capacity uint64
	Type     uint8
	Cond     uint8
	NonSeq   uint8
	Reset    uint8
}

// ZoneRecordSize is the encoded byte length of one ZoneRecord.
const ZoneRecordSize = 8*4 + 4

func (z *ZoneRecord) Encode(w io.Writer) error {
	var buf [ZoneRecordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], z.Start)
	binary.BigEndian.PutUint64(buf[8:16], z.Length)
	binary.BigEndian.PutUint64(buf[16:24], z.WP)
	binary.BigEndian.PutUint64(buf[24:32], z.Capacity)
	buf[32] = z.Type
	buf[33] = z.Cond
	buf[34] = z.NonSeq
	buf[35] = z.Reset
	if _, err := w.Write(buf[:]); err != nil {
		return zonarerr.IO(err, "write zone record")
	}
	return nil
}

func (z *ZoneRecord) Decode(r io.Reader) error {
	var buf [ZoneRecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return zonarerr.IO(err, "read zone record")
	}
	z.Start = binary.BigEndian.Uint64(buf[0:8])
	z.Length = binary.BigEndian.Uint64(buf[8:16])
	z.WP = binary.BigEndian.Uint64(buf[16:24])
	z.Capacity = binary.BigEndian.Uint64(buf[24:32])
	z.Type = buf[32]
	z.Cond = buf[33]
	z.NonSeq = buf[34]
	z.Reset = buf[35]
	return nil
}

// ExtentInfoLen matches fsprovider.ExtentInfoMaxLen, kept as its own
// constant so wire has no import-time dependency on fsprovider.
const ExtentInfoLen = 352

// ExtentRecord is the wire form of a fsprovider.Extent.
type ExtentRecord struct {
	Tag       uint8
	Index     uint32
	Ino       uint64
	Sector    uint64
	NrSectors uint64
	Info      string
}

// ExtentRecordSize is the encoded byte length of one ExtentRecord.
const ExtentRecordSize = 1 + 4 + 8*3 + ExtentInfoLen

func (e *ExtentRecord) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{e.Tag}); err != nil {
		return zonarerr.IO(err, "write extent tag")
	}
	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], e.Index)
	if _, err := w.Write(buf4[:]); err != nil {
		return zonarerr.IO(err, "write extent index")
	}
	var buf8 [8]byte
	for _, v := range []uint64{e.Ino, e.Sector, e.NrSectors} {
		binary.BigEndian.PutUint64(buf8[:], v)
		if _, err := w.Write(buf8[:]); err != nil {
			return zonarerr.IO(err, "write extent u64 field")
		}
	}
	return writeFixedString(w, e.Info, ExtentInfoLen)
}

func (e *ExtentRecord) Decode(r io.Reader) error {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return zonarerr.IO(err, "read extent tag")
	}
	e.Tag = tag[0]

	var buf4 [4]byte
	if _, err := io.ReadFull(r, buf4[:]); err != nil {
		return zonarerr.IO(err, "read extent index")
	}
	e.Index = binary.BigEndian.Uint32(buf4[:])

	var buf8 [8]byte
	u64fields := []*uint64{&e.Ino, &e.Sector, &e.NrSectors}
	for _, f := range u64fields {
		if _, err := io.ReadFull(r, buf8[:]); err != nil {
			return zonarerr.IO(err, "read extent u64 field")
		}
		*f = binary.BigEndian.Uint64(buf8[:])
	}

	info, err := readFixedString(r, ExtentInfoLen)
	if err != nil {
		return err
	}
	e.Info = info
	return nil
}

// BlockgroupRecord is the wire form of a blockgroup.Blockgroup. The Zones
// index array is not transmitted (spec.md §4.4: "transmitted but
// opaque/unused"); instead only NrZones is sent, and the receiver
// recomputes its zone list locally from its own zone array.
type BlockgroupRecord struct {
	Sector    uint64
	NrSectors uint64
	WPSector  uint64
	Flags     uint32
	NrZones   uint64
}

// BlockgroupRecordSize is the encoded byte length of one BlockgroupRecord.
const BlockgroupRecordSize = 8*3 + 4 + 8

func (b *BlockgroupRecord) Encode(w io.Writer) error {
	var buf8 [8]byte
	for _, v := range []uint64{b.Sector, b.NrSectors, b.WPSector} {
		binary.BigEndian.PutUint64(buf8[:], v)
		if _, err := w.Write(buf8[:]); err != nil {
			return zonarerr.IO(err, "write blockgroup u64 field")
		}
	}
	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], b.Flags)
	if _, err := w.Write(buf4[:]); err != nil {
		return zonarerr.IO(err, "write blockgroup flags")
	}
	binary.BigEndian.PutUint64(buf8[:], b.NrZones)
	if _, err := w.Write(buf8[:]); err != nil {
		return zonarerr.IO(err, "write blockgroup nr-zones")
	}
	return nil
}

func (b *BlockgroupRecord) Decode(r io.Reader) error {
	var buf8 [8]byte
	u64fields := []*uint64{&b.Sector, &b.NrSectors, &b.WPSector}
	for _, f := range u64fields {
		if _, err := io.ReadFull(r, buf8[:]); err != nil {
			return zonarerr.IO(err, "read blockgroup u64 field")
		}
		*f = binary.BigEndian.Uint64(buf8[:])
	}
	var buf4 [4]byte
	if _, err := io.ReadFull(r, buf4[:]); err != nil {
		return zonarerr.IO(err, "read blockgroup flags")
	}
	b.Flags = binary.BigEndian.Uint32(buf4[:])
	if _, err := io.ReadFull(r, buf8[:]); err != nil {
		return zonarerr.IO(err, "read blockgroup nr-zones")
	}
	b.NrZones = binary.BigEndian.Uint64(buf8[:])
	return nil
}

// WriteBlockgroupCount writes the 4-byte big-endian count that precedes a
// BLOCKGROUPS reply's data, per spec.md §4.4.
func WriteBlockgroupCount(w io.Writer, count uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], count)
	if _, err := w.Write(buf[:]); err != nil {
		return zonarerr.IO(err, "write blockgroup count")
	}
	return nil
}

// ReadBlockgroupCount reads the count preceding a BLOCKGROUPS reply's data.
func ReadBlockgroupCount(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, zonarerr.IO(err, "read blockgroup count")
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
