// Package device probes a zoned or conventional block device: its geometry,
// read via a sysfs-like attribute namespace and a handful of block ioctls,
// and its per-zone state, read via the kernel zone-report ioctl.
//
// The package is modeled on github.com/diskfs/go-diskfs's disk package: a
// Descriptor plays the role of disk.Disk, and the platform-specific ioctl
// plumbing lives in its own build-tagged file the way disk/disk_unix.go
// isolates BLKRRPART behind a unix build tag.
package device

import (
	"fmt"

	"github.com/wdzonar/zonar/zonarerr"
)

// VendorIDLen is the maximum length, in bytes, of the vendor/model/revision
// string reported for a device.
const VendorIDLen = 32

// ReportMaxZones bounds how many zone records a single ReportZones call will
// request from the kernel in one ioctl, matching the original tool's
// ZNR_DEV_REPORT_MAX_NR_ZONES.
const ReportMaxZones = 8192

// SectorSize is the fixed 512-byte unit all sector fields are expressed in,
// independent of the device's logical/physical block size.
const SectorSize = 512

// ZoneType classifies how a zone must be written.
type ZoneType uint8

// Zone type values, matching the Linux kernel's enum blk_zone_type exactly
// so that wire records and ioctl results need no translation.
const (
	ZoneTypeConventional ZoneType = 0x1
	ZoneTypeSeqWriteReq  ZoneType = 0x2
	ZoneTypeSeqWritePref ZoneType = 0x3
)

// String renders the zone type the way znr_dev_zone_type_str does.
func (t ZoneType) String() string {
	switch t {
	case ZoneTypeConventional:
		return "conventional"
	case ZoneTypeSeqWriteReq:
		return "seq-write-required"
	case ZoneTypeSeqWritePref:
		return "seq-write-preferred"
	default:
		return "unknown"
	}
}

// ZoneCondition reports a zone's write-pointer state.
type ZoneCondition uint8

// Zone condition values, matching enum blk_zone_cond. ConditionActive is not
// a kernel-reported value on older kernels; it is a sentinel the original
// tool defines itself when BLKZONEREPORTV2 is unavailable, kept here for the
// same reason.
const (
	ConditionNotWP        ZoneCondition = 0x0
	ConditionEmpty        ZoneCondition = 0x1
	ConditionImplicitOpen ZoneCondition = 0x2
	ConditionExplicitOpen ZoneCondition = 0x3
	ConditionClosed       ZoneCondition = 0x4
	ConditionReadOnly     ZoneCondition = 0xd
	ConditionFull         ZoneCondition = 0xe
	ConditionOffline      ZoneCondition = 0xf
	ConditionActive       ZoneCondition = 0xff
)

// String renders the zone condition the way znr_dev_zone_cond_str does.
func (c ZoneCondition) String() string {
	switch c {
	case ConditionNotWP:
		return "not-write-pointer"
	case ConditionEmpty:
		return "empty"
	case ConditionImplicitOpen:
		return "open-implicit"
	case ConditionExplicitOpen:
		return "open-explicit"
	case ConditionClosed:
		return "closed"
	case ConditionReadOnly:
		return "read-only"
	case ConditionFull:
		return "full"
	case ConditionOffline:
		return "offline"
	case ConditionActive:
		return "active"
	default:
		return "unknown"
	}
}

// Zone is one entry of a device's zone report. All fields except Type/Cond
// are expressed in 512-byte sectors.
type Zone struct {
	Start    uint64
	Length   uint64
	Capacity uint64
	WP       uint64
	Type     ZoneType
	Cond     ZoneCondition
	NonSeq   uint8
	Reset    uint8
}

// Descriptor identifies one zoned or conventional block device.
type Descriptor struct {
	Path              string
	VendorID          string
	Sectors           uint64
	LogicalBlocks     uint64
	PhysicalBlocks    uint64
	LogicalBlockSize  uint32
	PhysicalBlockSize uint32
	ZoneSize          uint64
	ZoneSectors       uint32
	ZoneCount         uint32
	MaxOpenZones      uint32
	MaxActiveZones    uint32
	IsZoned           bool

	fd int
}

// Close releases the descriptor's open file handle.
func (d *Descriptor) Close() error {
	if d == nil || d.fd <= 0 {
		return nil
	}
	return closeFd(d.fd)
}

func validateGeometry(d *Descriptor) error {
	if d.LogicalBlockSize == 0 || d.PhysicalBlockSize == 0 {
		return zonarerr.Invalid("logical and physical block sizes must be positive")
	}
	if d.Sectors == 0 || d.LogicalBlocks == 0 || d.PhysicalBlocks == 0 {
		return zonarerr.Invalid("device capacities must be non-zero")
	}
	if d.IsZoned {
		if d.ZoneSectors == 0 || d.ZoneCount == 0 {
			return zonarerr.Invalid("zoned device must report non-zero zone size and zone count")
		}
		total := uint64(d.ZoneSectors) * uint64(d.ZoneCount)
		if d.Sectors > uint64(d.ZoneSectors) && total < d.Sectors-uint64(d.ZoneSectors) {
			return zonarerr.Invalid("zone_sectors*zone_count (%d) too small for total_sectors (%d)", total, d.Sectors)
		}
	}
	return nil
}

// ReportZones validates bounds and delegates to the platform-specific ioctl
// loop. See device_linux.go.
func (d *Descriptor) ReportZones(startZoneIndex uint32, out []Zone) (int, error) {
	if startZoneIndex >= d.ZoneCount {
		return 0, zonarerr.Invalid("start zone index %d >= zone count %d", startZoneIndex, d.ZoneCount)
	}
	if len(out) == 0 {
		return 0, zonarerr.Invalid("count must be non-zero")
	}
	return d.reportZones(startZoneIndex, out)
}

// String renders a one-line human summary, used by verbose logging.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (%s): %d sectors, %d zones of %d sectors, zoned=%v",
		d.Path, d.VendorID, d.Sectors, d.ZoneCount, d.ZoneSectors, d.IsZoned)
}
