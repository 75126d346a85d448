//go:build !linux
// +build !linux

package xfs

import (
	"github.com/wdzonar/zonar/blockgroup"
	"github.com/wdzonar/zonar/fsprovider"
	"github.com/wdzonar/zonar/zonarerr"
)

func (p *Provider) Init(mountFD int) error {
	return zonarerr.Unsupported("XFS provider requires linux (XFS_IOC_FSGEOMETRY and friends)")
}

func (p *Provider) GetFileExtents(path string, fd int, ino uint64) ([]fsprovider.Extent, error) {
	return nil, zonarerr.Unsupported("XFS provider requires linux")
}

func (p *Provider) GetExtentsInRange(startSector, sectorCount uint64) ([]fsprovider.Extent, error) {
	return nil, zonarerr.Unsupported("XFS provider requires linux")
}

func (p *Provider) GetBlockgroups() ([]blockgroup.Blockgroup, error) {
	return nil, zonarerr.Unsupported("XFS provider requires linux")
}
