// Command zonar is the client/local front end: it either opens a mounted
// filesystem in-process, or connects to a zonar-srv instance and drives the
// same queries over the wire. Flag parsing uses the standard library's
// flag package (one function building the session from parsed values)
// rather than a third-party CLI framework.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wdzonar/zonar/internal/mounttab"
	"github.com/wdzonar/zonar/internal/zlog"
	"github.com/wdzonar/zonar/session"
	"github.com/wdzonar/zonar/transport"
	"github.com/wdzonar/zonar/zonarerr"
)

// version is the banner printed by -V/--version, a supplemented feature
// (SPEC_FULL.md §5) absent from the original tool's getopt table.
const version = "zonar 1.0.0"

type options struct {
	verbose  bool
	showVer  bool
	connect  string
	listen   bool
	port     int
	mountDir string
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("zonar", flag.ContinueOnError)
	var o options
	fs.BoolVar(&o.verbose, "verbose", false, "enable verbose diagnostic output")
	fs.BoolVar(&o.verbose, "v", false, "enable verbose diagnostic output (shorthand)")
	fs.BoolVar(&o.showVer, "version", false, "print version and exit")
	fs.BoolVar(&o.showVer, "V", false, "print version and exit (shorthand)")
	fs.StringVar(&o.connect, "connect", "", "connect to server at ADDR")
	fs.StringVar(&o.connect, "c", "", "connect to server at ADDR (shorthand)")
	fs.BoolVar(&o.listen, "listen", false, "wait for server to connect in reverse mode")
	fs.BoolVar(&o.listen, "l", false, "wait for server to connect in reverse mode (shorthand)")
	fs.IntVar(&o.port, "port", transport.DefaultPort, "TCP port")
	fs.IntVar(&o.port, "p", transport.DefaultPort, "TCP port (shorthand)")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 1 {
		return o, zonarerr.Invalid("unexpected extra arguments: %v", fs.Args()[1:])
	}
	if fs.NArg() == 1 {
		o.mountDir = fs.Arg(0)
	}
	return o, nil
}

func validate(o options) error {
	if o.port <= 0 || o.port >= 65535 {
		return zonarerr.Invalid("port %d out of range", o.port)
	}
	if o.connect != "" && o.listen {
		return zonarerr.Invalid("--connect and --listen are mutually exclusive")
	}
	if o.connect != "" && o.mountDir != "" {
		return zonarerr.Invalid("--connect takes no mount_dir argument")
	}
	if o.listen && o.mountDir != "" {
		return zonarerr.Invalid("--listen takes no mount_dir argument")
	}
	if o.connect == "" && !o.listen && o.mountDir == "" {
		return zonarerr.Invalid("mount_dir is required when not connecting to a server")
	}
	return nil
}

func openSession(o options) (*session.Session, error) {
	if o.connect != "" {
		conn, err := transport.Dial(fmt.Sprintf("%s:%d", o.connect, o.port))
		if err != nil {
			return nil, err
		}
		return session.OpenClient(conn)
	}
	if o.listen {
		conn, err := transport.Listen(fmt.Sprintf(":%d", o.port))
		if err != nil {
			return nil, err
		}
		return session.OpenClient(conn)
	}

	entry, err := mounttab.Resolve(o.mountDir)
	if err != nil {
		return nil, err
	}
	mountDir, err := os.Open(o.mountDir)
	if err != nil {
		return nil, zonarerr.NotFound("open mount directory %s: %v", o.mountDir, err)
	}
	magic, err := mounttab.Magic(int(mountDir.Fd()))
	mountDir.Close()
	if err != nil {
		return nil, err
	}
	return session.Open(o.mountDir, entry.Device, magic)
}

func run(args []string) int {
	o, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if o.showVer {
		fmt.Println(version)
		return 0
	}

	zlog.SetVerbose(o.verbose)

	if err := validate(o); err != nil {
		zlog.Err("%v", err)
		return 1
	}

	s, err := openSession(o)
	if err != nil {
		zlog.Err("open failed: %v", err)
		return 1
	}
	defer s.Close()

	zlog.WithField("session", s.ID).Debugf("opened session: mount=%s device=%s zoned=%v zones=%d blockgroups=%d",
		s.MountPath, s.Device.Path, s.Device.IsZoned, len(s.Zones), len(s.Groups))

	fmt.Printf("mount: %s\n", s.MountPath)
	fmt.Printf("device: %s\n", s.Device)
	fmt.Printf("zones: %d\n", len(s.Zones))
	fmt.Printf("blockgroups: %d\n", len(s.Groups))
	if s.Provider != nil {
		geo := s.Provider.Geometry()
		fmt.Printf("fs geometry: block_size=%d ag_count=%d ag_blocks=%d rt_group_count=%d\n",
			geo.BlockSize, geo.AGCount, geo.AGBlocks, geo.RTGroupCount)
	}

	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
