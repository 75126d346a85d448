// Command zonar-srv is the server front end: it opens a mounted filesystem
// in-process and answers a single remote client's queries over the wire
// protocol, driving transport.Serve with a context cancelled by the
// signal-driven abort flag of spec.md §5 (expressed idiomatically as a
// context instead of a polled global, per SPEC_FULL.md §5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flag"

	"github.com/wdzonar/zonar/internal/mounttab"
	"github.com/wdzonar/zonar/internal/zlog"
	"github.com/wdzonar/zonar/session"
	"github.com/wdzonar/zonar/transport"
	"github.com/wdzonar/zonar/zonarerr"
)

const version = "zonar-srv 1.0.0"

type options struct {
	verbose  bool
	showVer  bool
	connect  string
	port     int
	mountDir string
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("zonar-srv", flag.ContinueOnError)
	var o options
	fs.BoolVar(&o.verbose, "verbose", false, "enable verbose diagnostic output")
	fs.BoolVar(&o.verbose, "v", false, "enable verbose diagnostic output (shorthand)")
	fs.BoolVar(&o.showVer, "version", false, "print version and exit")
	fs.BoolVar(&o.showVer, "V", false, "print version and exit (shorthand)")
	fs.StringVar(&o.connect, "connect", "", "connect to waiting client at ADDR (reverse mode)")
	fs.StringVar(&o.connect, "c", "", "connect to waiting client at ADDR (shorthand)")
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
	if o.connect == "" && o.mountDir == "" {
		return zonarerr.Invalid("mount_dir is required unless --connect is given")
	}
	return nil
}

func openServerSession(o options, conn *transport.Conn) (*session.Session, error) {
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
	return session.OpenServer(o.mountDir, entry.Device, magic, conn)
}

// abortContext returns a context cancelled the first time the process
// receives INT, TERM, or PIPE, replacing the original's polled abort flag
// with the idiomatic Go equivalent.
func abortContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	go func() {
		<-sigc
		cancel()
	}()
	return ctx, func() {
		signal.Stop(sigc)
		cancel()
	}
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

	var conn *transport.Conn
	if o.connect != "" {
		conn, err = transport.ConnectReverse(fmt.Sprintf("%s:%d", o.connect, o.port))
	} else {
		conn, err = transport.Listen(fmt.Sprintf(":%d", o.port))
	}
	if err != nil {
		zlog.Err("connection setup failed: %v", err)
		return 1
	}
	defer conn.Close()

	s, err := openServerSession(o, conn)
	if err != nil {
		zlog.Err("open failed: %v", err)
		return 1
	}
	defer s.Close()

	zlog.WithField("session", s.ID).Debugf("serving mount=%s device=%s on port %d", s.MountPath, s.Device.Path, o.port)

	ctx, stop := abortContext()
	defer stop()

	if err := transport.Serve(ctx, conn, s); err != nil && err != context.Canceled {
		zlog.Err("serve: %v", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
