// Package zlog wraps a package-level logrus logger with the two verbosity
// levels the inspection core needs: a one-line error surfaced regardless of
// verbosity, and a diagnostic line gated behind verbose mode. This mirrors
// the znr_err/znr_verbose macro pair of the original tool, expressed as
// logrus fields instead of stream prefixes.
package zlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}()

// SetVerbose toggles debug-level diagnostics on or off for the process.
func SetVerbose(verbose bool) {
	if verbose {
		log.SetLevel(logrus.DebugLevel)
		return
	}
	log.SetLevel(logrus.InfoLevel)
}

// Verbose logs a debug-level diagnostic, visible only when verbose mode is on.
func Verbose(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Err logs a one-line error, always visible.
func Err(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// WithField returns an entry pre-populated with a correlation field, used by
// the CLI entry points to tag their session log lines with the session id.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}
