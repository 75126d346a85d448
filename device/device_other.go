//go:build !linux
// +build !linux

package device

import "github.com/wdzonar/zonar/zonarerr"

// Open is unsupported outside Linux: the zone-report and block-size ioctls
// this package depends on (BLKREPORTZONE, BLKSSZGET, BLKPBSZGET,
// BLKGETSIZE64) are Linux-specific, matching spec.md §6's ioctl list.
func Open(devicePath string) (*Descriptor, error) {
	return nil, zonarerr.Unsupported("device probing requires linux (BLKREPORTZONE and friends)")
}

func closeFd(fd int) error {
	return nil
}

func (d *Descriptor) reportZones(startZoneIndex uint32, out []Zone) (int, error) {
	return 0, zonarerr.Unsupported("device probing requires linux")
}
