//go:build linux
// +build linux

// Package mounttab resolves a mount directory to its backing block-device
// path and filesystem magic number. spec.md §1 names this lookup a
// deliberately out-of-scope external collaborator — the core only consumes
// the device path and magic it produces — so this package is kept out of
// the inspection core and lives alongside the CLI entry points that need it.
//
// The /proc/mounts scan follows the same field-splitting approach as
// _examples/other_examples' tdu_linux.go scanMount helper; the magic number
// comes from a raw statfs call, mirroring how the original tool's znr_fs.c
// reads f_type off the mount directory.
package mounttab

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/wdzonar/zonar/zonarerr"
)

// Entry is one resolved /proc/mounts line.
type Entry struct {
	Device     string
	MountPoint string
	FSType     string
}

// Resolve finds the device backing mountPath by matching the longest mount
// point prefix in /proc/mounts, the way `df` and `findmnt` do it.
func Resolve(mountPath string) (Entry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return Entry{}, zonarerr.NotFound("open /proc/mounts: %v", err)
	}
	defer f.Close()

	var best Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		dev, mnt, fstype := fields[0], fields[1], fields[2]
		if !withinMount(mountPath, mnt) {
			continue
		}
		if len(mnt) > len(best.MountPoint) {
			best = Entry{Device: dev, MountPoint: mnt, FSType: fstype}
		}
	}
	if err := sc.Err(); err != nil {
		return Entry{}, zonarerr.IO(err, "scan /proc/mounts")
	}
	if best.MountPoint == "" {
		return Entry{}, zonarerr.NotFound("no mount entry covers %s", mountPath)
	}
	return best, nil
}

func withinMount(path, mnt string) bool {
	if path == mnt {
		return true
	}
	if mnt == "/" {
		return true
	}
	return strings.HasPrefix(path, mnt+"/")
}

// Magic reads the filesystem magic number off an open mount-directory
// handle via statfs, the portable equivalent of the original tool's f_type
// read.
func Magic(fd int) (uint32, error) {
	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil {
		return 0, zonarerr.IO(err, "fstatfs")
	}
	return uint32(st.Type), nil
}
