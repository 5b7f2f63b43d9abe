// Package logging builds the process logger and forwards errors to Sentry.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

func init() {
	// Print the stacks recorded by errors.WithStack when an event calls Stack().
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// New returns a logger at level writing to w. Debug output is human-readable.
func New(w io.Writer, level string, debug bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", level)
	}
	if level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		if lvl > zerolog.DebugLevel {
			lvl = zerolog.DebugLevel
		}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Stderr is New writing to os.Stderr.
func Stderr(level string, debug bool) (zerolog.Logger, error) {
	return New(os.Stderr, level, debug)
}

// SetupSentry points error reports at dsn. An empty dsn disables reporting.
func SetupSentry(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	if err := raven.SetDSN(dsn); err != nil {
		return errors.Wrap(err, "sentry dsn")
	}
	raven.SetRelease(release)
	return nil
}

// Report sends err to Sentry without waiting. It does nothing until SetupSentry
// has been given a DSN.
func Report(err error, tags map[string]string) {
	raven.CaptureError(err, tags)
}

// Level maps a client-supplied level name to a zerolog level. Anything
// unrecognised is logged at info.
func Level(name string) zerolog.Level {
	switch name {
	case "error":
		return zerolog.ErrorLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
