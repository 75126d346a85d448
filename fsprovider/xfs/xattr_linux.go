//go:build linux
// +build linux

package xfs

import (
	"fmt"
	"os"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
	times "gopkg.in/djherbis/times.v1"
)

// asFile wraps a duplicate of an already-open fd owned by the caller as an
// *os.File for the xattr/times APIs, which want a *os.File rather than a raw
// descriptor. The wrapper owns only the duplicate, so closing or
// garbage-collecting it never closes the caller's fd. Returns nil if the
// descriptor cannot be duplicated.
func asFile(fd int) *os.File {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil
	}
	return os.NewFile(uintptr(dup), "")
}

// aghintAttr is the POSIX extended attribute namespace this provider reads
// an optional allocation-group hint from. The original tool has no
// equivalent to this: it is an enrichment this module adds on top of the
// ioctl-derived extent data, distinct from XFS_IOC_FSGETXATTR in xfs_linux.go, which
// reads kernel-maintained inode flags rather than a user-settable xattr.
const aghintAttr = "user.zonar.aghint"

// readAGHint fetches the optional allocation-group hint xattr off an open
// file descriptor, returning an empty annotation when it is absent.
func readAGHint(fd int) string {
	f := asFile(fd)
	if f == nil {
		return ""
	}
	defer f.Close()
	names, err := xattr.FList(f)
	if err != nil {
		return ""
	}
	for _, n := range names {
		if n != aghintAttr {
			continue
		}
		v, err := xattr.FGet(f, aghintAttr)
		if err != nil || len(v) == 0 {
			return ""
		}
		return fmt.Sprintf(", hint %q", string(v))
	}
	return ""
}

// readFileTimes annotates an extent with the file's modification time, and
// its birth time where the platform exposes one, via
// gopkg.in/djherbis/times.v1 (the kernel extent ioctls carry no timestamp
// fields at all).
func readFileTimes(fd int) string {
	f := asFile(fd)
	if f == nil {
		return ""
	}
	defer f.Close()
	ts, err := times.StatFile(f)
	if err != nil {
		return ""
	}
	s := fmt.Sprintf(", mtime %s", ts.ModTime().UTC().Format("2006-01-02T15:04:05Z"))
	if ts.HasBirthTime() {
		s += fmt.Sprintf(", btime %s", ts.BirthTime().UTC().Format("2006-01-02T15:04:05Z"))
	}
	return s
}
