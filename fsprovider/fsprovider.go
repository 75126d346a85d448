// Package fsprovider defines the pluggable filesystem back-end interface the
// inspection core queries for per-file extent maps, sector-range reverse
// maps, and blockgroup layout: a narrow interface with one concrete
// implementation per filesystem, selected by probing a magic number rather
// than by explicit configuration (mirroring a try-each-type probe, but keyed
// by magic instead of tried linearly).
package fsprovider

import (
	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/zonarerr"
)

// ExtentTag distinguishes a file extent from a reverse-mapped zone extent.
type ExtentTag uint8

const (
	// TagFileExtent is produced by GetFileExtents.
	TagFileExtent ExtentTag = iota
	// TagZoneExtent is produced by GetExtentsInRange.
	TagZoneExtent
)

// ExtentInfoMaxLen bounds the free-form annotation string carried by an
// Extent, matching ZNR_FS_EXT_INFO_SIZE.
const ExtentInfoMaxLen = 352

// Extent is one contiguous run of sectors belonging to a file or reported by
// a reverse-map query.
type Extent struct {
	Tag       ExtentTag
	Index     uint32
	Ino       uint64
	Sector    uint64
	NrSectors uint64
	Info      string
}

// Geometry is the filesystem-wide information fetched once at Init time. The
// field names follow an extent-based allocation-group filesystem (spec.md
// §4.2); a provider for a different kind of filesystem leaves the fields it
// has no concept of at zero.
type Geometry struct {
	BlockSize         uint32
	AGCount           uint32
	AGBlocks          uint32
	RTStart           uint64
	RTGroupCount      uint32
	RTExtentsPerGroup uint32
	RTExtentSize      uint32
}

// Provider is the capability set a filesystem back-end offers: init,
// per-file extent query, sector-range reverse map, and blockgroup
// enumeration. Exactly one Provider is selected per mounted filesystem, by
// magic number, at session-open time.
type Provider interface {
	// Init fetches filesystem-wide geometry once, given an open handle to
	// the mount directory (or, in future providers, any file on the
	// filesystem that ioctls can be issued against).
	Init(mountFD int) error
	// Geometry returns the filesystem-wide information Init fetched.
	Geometry() Geometry
	// GetFileExtents returns the extents backing one open file.
	GetFileExtents(path string, fd int, ino uint64) ([]Extent, error)
	// GetExtentsInRange reverse-maps a device sector range to the
	// extents (and owning inodes) that occupy it.
	GetExtentsInRange(startSector, sectorCount uint64) ([]Extent, error)
	// GetBlockgroups returns the filesystem's allocation groups followed
	// by its realtime groups. Sector/NrSectors are filled; WPSector,
	// Flags and Zones are left zero for the correlator to fill in.
	GetBlockgroups() ([]blockgroup.Blockgroup, error)
}

// ErrUnsupportedByInode is the Unsupported error for inode-path file lookup,
// which is not implemented: the Provider interface has no such operation,
// and no provider returns this value.
var ErrUnsupportedByInode = zonarerr.Unsupported("get_file_by_inode is not implemented")

// Constructor builds a fresh Provider instance for a newly opened mount.
type Constructor func() Provider

var registry = map[uint32]Constructor{}

// Register adds a provider constructor to the compiled-in registry, keyed by
// the filesystem's magic number (as read from statfs). Called from each
// provider sub-package's init().
func Register(magic uint32, ctor Constructor) {
	registry[magic] = ctor
}

// Lookup finds the provider constructor for a magic number. Returns
// KindUnsupported if no provider is registered for it, per spec.md §4.2.
func Lookup(magic uint32) (Constructor, error) {
	ctor, ok := registry[magic]
	if !ok {
		return nil, zonarerr.Unsupported("no provider registered for filesystem magic 0x%x", magic)
	}
	return ctor, nil
}
