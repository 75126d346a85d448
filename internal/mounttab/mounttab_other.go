//go:build !linux
// +build !linux

package mounttab

import "github.com/wdzonar/zonar/zonarerr"

// Entry is one resolved mount-table line.
type Entry struct {
	Device     string
	MountPoint string
	FSType     string
}

// Resolve is unsupported outside Linux; the zoned-block-device ioctls this
// module inspects are Linux-only to begin with.
func Resolve(mountPath string) (Entry, error) {
	return Entry{}, zonarerr.Unsupported("mount table resolution requires linux")
}

// Magic is unsupported outside Linux.
func Magic(fd int) (uint32, error) {
	return 0, zonarerr.Unsupported("filesystem magic probing requires linux")
}
