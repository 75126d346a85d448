//go:build linux
// +build linux

package xfs

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/fsprovider"
	"github.com/wdzonar/zonar/zonarerr"
)

var le = binary.LittleEndian

const (
	xfsIOCType = 'X'

	geomSize    = 256
	fsxattrSize = 32
	bmapxSize   = 48
	fsmapSize   = 64
	fsmapHdrSize = 16 + 8*6 + fsmapSize*2

	xfsIOCFSGeometry  = 126
	xfsIOCFSGetXattr  = 31
	xfsIOCGetBmapX    = 56
	fsIOCGetFSMap     = 59

	fsXflagRealtime = 0x00000001

	fmrOfSpecialOwner = 0x0010
	fmrOfLast         = 0x0020

	xfsDevData = 0
	xfsDevRT   = 1
)

func ior(t uint32, nr uint32, size uintptr) uint32 {
	const dirRead = 2
	return uint32(dirRead<<30) | (t << 8) | nr | uint32(size<<16)
}

func iowr(t uint32, nr uint32, size uintptr) uint32 {
	const dirReadWrite = 3
	return uint32(dirReadWrite<<30) | (t << 8) | nr | uint32(size<<16)
}

func doIoctl(fd int, req uint32, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// Init fetches XFS filesystem geometry once via XFS_IOC_FSGEOMETRY, grounded
// on znr_xfs_init_fs.
func (p *Provider) Init(mountFD int) error {
	p.mountFD = mountFD
	buf := make([]byte, geomSize)
	req := ior(xfsIOCType, xfsIOCFSGeometry, geomSize)
	if err := doIoctl(mountFD, req, buf); err != nil {
		return zonarerr.IO(err, "ioctl XFS_IOC_FSGEOMETRY")
	}

	p.geom = geometry{
		blockSize:         le.Uint32(buf[0:4]),
		agBlocks:          le.Uint32(buf[8:12]),
		agCount:           le.Uint32(buf[12:16]),
		rtStart:           le.Uint64(buf[120:128]),
		rtGroupCount:      le.Uint32(buf[136:140]),
		rtExtentsPerGroup: le.Uint32(buf[140:144]),
		rtExtentSize:      le.Uint32(buf[4:8]),
	}
	if p.geom.blockSize == 0 {
		return zonarerr.Invalid("XFS geometry reported a zero block size")
	}
	return nil
}

type fsxattr struct {
	xflags   uint32
	nextents uint32
}

func getFSXattr(fd int) (fsxattr, error) {
	buf := make([]byte, fsxattrSize)
	req := ior(xfsIOCType, xfsIOCFSGetXattr, fsxattrSize)
	if err := doIoctl(fd, req, buf); err != nil {
		return fsxattr{}, zonarerr.IO(err, "ioctl XFS_IOC_FSGETXATTR")
	}
	return fsxattr{
		xflags:   le.Uint32(buf[0:4]),
		nextents: le.Uint32(buf[8:12]),
	}, nil
}

type bmapxEntry struct {
	offset  int64
	block   int64
	length  int64
}

// getBmapx performs the two-pass extent-map query of znr_xfs_get_file_extents_map:
// a first call sized from the FSGETXATTR extent count, doubled once and
// retried if the kernel reports it filled the buffer completely.
func getBmapx(fd int, nextents uint32) ([]bmapxEntry, error) {
	if nextents == 0 {
		return nil, nil
	}

	count := int(nextents)*2 + 1
	for attempt := 0; attempt < 2; attempt++ {
		buf := make([]byte, bmapxSize*(count+1))
		putBmapxHeader(buf, -1, int32(count+1), 0)

		// The ioctl number's size field encodes sizeof(struct getbmapx),
		// the fixed header/first-entry shape — never the full variable
		// buffer length, or the driver's command switch won't match it.
		req := iowr(xfsIOCType, xfsIOCGetBmapX, bmapxSize)
		if err := doIoctl(fd, req, buf); err != nil {
			return nil, zonarerr.IO(err, "ioctl XFS_IOC_GETBMAPX")
		}

		entries := int(int32(le.Uint32(buf[28:32])))
		if entries >= count {
			count *= 2
			continue
		}
		if entries <= 0 {
			return nil, nil
		}

		out := make([]bmapxEntry, 0, entries)
		for i := 0; i < entries; i++ {
			e := readBmapxEntry(buf, i+1)
			out = append(out, e)
		}
		return out, nil
	}

	return nil, zonarerr.IO(nil, "failed to get all extents after retry")
}

func putBmapxHeader(buf []byte, length int64, count, iflags int32) {
	le.PutUint64(buf[0:8], 0)
	le.PutUint64(buf[8:16], uint64(length))
	le.PutUint64(buf[16:24], uint64(length))
	le.PutUint32(buf[24:28], uint32(count))
	le.PutUint32(buf[28:32], 0)
	le.PutUint32(buf[32:36], uint32(iflags))
}

func readBmapxEntry(buf []byte, idx int) bmapxEntry {
	base := idx * bmapxSize
	b := buf[base : base+bmapxSize]
	return bmapxEntry{
		offset: int64(le.Uint64(b[0:8])),
		block:  int64(le.Uint64(b[8:16])),
		length: int64(le.Uint64(b[16:24])),
	}
}

// GetFileExtents queries the extent map of an open file and filters the hole
// (-1) and delayed-allocation (-2) sentinel block numbers, grounded on
// znr_xfs_get_file_extents.
func (p *Provider) GetFileExtents(path string, fd int, ino uint64) ([]fsprovider.Extent, error) {
	fsx, err := getFSXattr(fd)
	if err != nil {
		return nil, err
	}

	raw, err := getBmapx(fd, fsx.nextents)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	isRT := fsx.xflags&fsXflagRealtime != 0
	var bstart, bbperag int64
	if isRT {
		bstart = int64(p.geom.rtStart) * int64(p.geom.blockSize/blockSectors512)
		bbperag = int64(p.geom.bytesPerRTGroup() / blockSectors512)
	} else {
		bstart = 0
		bbperag = int64(p.geom.agBlocks) * int64(p.geom.blockSize) / blockSectors512
	}

	hint := readAGHint(fd)
	ftimes := readFileTimes(fd)

	out := make([]fsprovider.Extent, 0, len(raw))
	for _, e := range raw {
		if e.block == -1 || e.block == -2 {
			continue
		}

		var offStart, offEnd int64
		if bbperag > 0 {
			bno := e.block - bstart
			offStart = bno % bbperag
			offEnd = offStart + e.length - 1
		}

		groupLabel := "AG"
		if isRT {
			groupLabel = "RG"
		}

		idx := uint32(len(out))
		info := fmt.Sprintf(
			"extent %d: file offset [%d..%d], length %d, %s range [%d..%d], sector range [%d..%d]%s%s",
			idx, e.offset, e.offset+e.length-1, e.length,
			groupLabel, offStart, offEnd,
			e.block, e.block+e.length-1,
			hint, ftimes,
		)
		if len(info) > fsprovider.ExtentInfoMaxLen {
			info = info[:fsprovider.ExtentInfoMaxLen]
		}

		out = append(out, fsprovider.Extent{
			Tag:       fsprovider.TagFileExtent,
			Index:     idx,
			Ino:       ino,
			Sector:    uint64(e.block),
			NrSectors: uint64(e.length),
			Info:      info,
		})
	}

	return out, nil
}

type fsmapKey struct {
	device   uint32
	flags    uint32
	physical uint64
	owner    uint64
	offset   uint64
	length   uint64
}

func putFSMapHead(buf []byte, count uint32, low, high fsmapKey) {
	le.PutUint32(buf[0:4], 0)
	le.PutUint32(buf[4:8], 0)
	le.PutUint32(buf[8:12], count)
	le.PutUint32(buf[12:16], 0)

	putFSMapKey(buf[64:64+fsmapSize], low)
	putFSMapKey(buf[64+fsmapSize:64+2*fsmapSize], high)
}

func putFSMapKey(b []byte, k fsmapKey) {
	le.PutUint32(b[0:4], k.device)
	le.PutUint32(b[4:8], k.flags)
	le.PutUint64(b[8:16], k.physical)
	le.PutUint64(b[16:24], k.owner)
	le.PutUint64(b[24:32], k.offset)
	le.PutUint64(b[32:40], k.length)
}

func readFSMapHead(buf []byte) (count, entries uint32) {
	return le.Uint32(buf[8:12]), le.Uint32(buf[12:16])
}

func readFSMapRec(buf []byte, idx int) fsmapKey {
	base := fsmapHdrSize + idx*fsmapSize
	b := buf[base : base+fsmapSize]
	return fsmapKey{
		device:   le.Uint32(b[0:4]),
		flags:    le.Uint32(b[4:8]),
		physical: le.Uint64(b[8:16]),
		owner:    le.Uint64(b[16:24]),
		offset:   le.Uint64(b[24:32]),
		length:   le.Uint64(b[32:40]),
	}
}

// GetExtentsInRange pages FS_IOC_GETFSMAP over [startSector, startSector+sectorCount)
// and reverse-maps the owning inode, skipping past special-owner and
// out-of-range records rather than treating them as a fatal error.
func (p *Provider) GetExtentsInRange(startSector, sectorCount uint64) ([]fsprovider.Extent, error) {
	if p.geom.blockSize == 0 {
		return nil, zonarerr.Invalid("provider not initialized")
	}

	endSector := startSector + sectorCount
	maxExtents := sectorCount * blockSectors512 / uint64(p.geom.blockSize)
	if maxExtents == 0 {
		return nil, nil
	}

	bperag := uint64(p.geom.agBlocks) * uint64(p.geom.blockSize)
	bperrtg := p.geom.bytesPerRTGroup()

	dev := uint32(xfsDevData)
	if p.geom.rtGroupCount > 0 && startSector >= p.geom.rtStart*uint64(p.geom.blockSize)/blockSectors512 {
		dev = xfsDevRT
	}

	low := fsmapKey{device: dev, physical: startSector * blockSectors512}
	high := fsmapKey{device: dev, physical: endSector * blockSectors512, owner: ^uint64(0), flags: ^uint32(0), offset: ^uint64(0)}

	count := uint32(512)
	out := make([]fsprovider.Extent, 0, maxExtents)

	for {
		buf := make([]byte, fsmapHdrSize+int(count)*fsmapSize)
		putFSMapHead(buf, count, low, high)

		// As with GETBMAPX, the ioctl number's size field is
		// sizeof(struct fsmap_head) — the fixed header plus the two
		// embedded low/high keys, not the trailing variable records
		// array appended after it in buf.
		req := iowr(xfsIOCType, fsIOCGetFSMap, fsmapHdrSize)
		if err := doIoctl(p.mountFD, req, buf); err != nil {
			return nil, zonarerr.IO(err, "ioctl FS_IOC_GETFSMAP")
		}

		_, entries := readFSMapHead(buf)
		if entries == 0 {
			break
		}

		var last fsmapKey
		for i := uint32(0); i < entries; i++ {
			rec := readFSMapRec(buf, int(i))
			last = rec

			if rec.flags&fmrOfSpecialOwner != 0 {
				continue
			}
			physSector := rec.physical / blockSectors512
			if physSector < startSector || physSector >= endSector {
				continue
			}

			var groupLabel string
			var agoff int64
			switch rec.device {
			case xfsDevData:
				agno := int64(rec.physical / bperag)
				agoff = int64(rec.physical) - agno*int64(bperag)
				groupLabel = "AG"
			case xfsDevRT:
				if bperrtg == 0 {
					continue
				}
				start := int64(rec.physical) - int64(p.geom.rtStart)*int64(p.geom.blockSize)
				agoff = start % int64(bperrtg)
				groupLabel = "RG"
			default:
				continue
			}

			if uint64(len(out)) >= maxExtents {
				return nil, zonarerr.IO(nil, "too many extents in range %d+%d (max %d)", startSector, sectorCount, maxExtents)
			}

			idx := uint32(len(out))
			lengthSectors := rec.length / blockSectors512
			info := fmt.Sprintf(
				"extent %d: inode %d, file offset [%d..%d], length %d, %s offset [%d..%d), sector range [%d..%d]",
				idx, rec.owner,
				rec.offset/blockSectors512, (rec.offset+rec.length)/blockSectors512-1, lengthSectors,
				groupLabel, agoff/blockSectors512, (agoff+int64(rec.length))/blockSectors512,
				physSector, physSector+lengthSectors-1,
			)
			if len(info) > fsprovider.ExtentInfoMaxLen {
				info = info[:fsprovider.ExtentInfoMaxLen]
			}

			out = append(out, fsprovider.Extent{
				Tag:       fsprovider.TagZoneExtent,
				Index:     idx,
				Ino:       rec.owner,
				Sector:    physSector,
				NrSectors: lengthSectors,
				Info:      info,
			})
		}

		if last.flags&fmrOfLast != 0 {
			break
		}
		low.physical = last.physical + last.length
		low.owner = last.owner + 1
	}

	return out, nil
}

// GetBlockgroups enumerates XFS's allocation groups followed by its realtime
// groups as a contiguous blockgroup list, grounded on
// znr_xfs_get_blockgroups.
func (p *Provider) GetBlockgroups() ([]blockgroup.Blockgroup, error) {
	if p.geom.blockSize == 0 {
		return nil, zonarerr.Invalid("provider not initialized")
	}

	bbperag := uint64(p.geom.agBlocks) * uint64(p.geom.blockSize) / blockSectors512
	bbperrg := p.geom.bytesPerRTGroup() / blockSectors512
	rtStartSectors := p.geom.rtStart * uint64(p.geom.blockSize) / blockSectors512

	total := int(p.geom.agCount) + int(p.geom.rtGroupCount)
	bgs := make([]blockgroup.Blockgroup, 0, total)

	for ag := uint32(0); ag < p.geom.agCount; ag++ {
		bgs = append(bgs, blockgroup.Blockgroup{
			Sector:    uint64(ag) * bbperag,
			NrSectors: bbperag,
		})
	}
	for rg := uint32(0); rg < p.geom.rtGroupCount; rg++ {
		bgs = append(bgs, blockgroup.Blockgroup{
			Sector:    rtStartSectors + uint64(rg)*bbperrg,
			NrSectors: bbperrg,
		})
	}

	return bgs, nil
}
