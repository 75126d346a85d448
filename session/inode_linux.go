//go:build linux
// +build linux

package session

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number backing fi, used to tag extents with
// their owning file per spec.md §3's "owning inode number."
func inodeOf(fi os.FileInfo) uint64 {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return st.Ino
}
