// Package stream delivers frames from a framebus to connected clients, one
// session per connection, and records how long each delivery took.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/scrivy/scam/internal/framebus"
)

const (
	DefaultWarnThreshold = 200 * time.Millisecond
	DefaultLogInterval   = 2 * time.Second
)

// Options configures delay warnings.
type Options struct {
	// WarnThreshold is the delay above which a warning is logged.
	WarnThreshold time.Duration
	// LogInterval is the minimum gap between two warnings for one session.
	LogInterval time.Duration
}

func DefaultOptions() Options {
	return Options{WarnThreshold: DefaultWarnThreshold, LogInterval: DefaultLogInterval}
}

// ClientIOError means writing to the client failed, usually because it went away.
type ClientIOError struct {
	ClientID string
	Err      error
}

func (e *ClientIOError) Error() string {
	return fmt.Sprintf("client %s: %v", e.ClientID, e.Err)
}

func (e *ClientIOError) Unwrap() error { return e.Err }

// Session serves one connection. Its fields belong to the goroutine running it.
type Session struct {
	ID       string
	ClientID string

	// Delay is the most recent wait-plus-write time.
	Delay     time.Duration
	Delivered uint64

	registry *Registry
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

func NewSession(clientID string, registry *Registry, opts Options, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		ClientID: clientID,
		registry: registry,
		opts:     opts,
		log:      log.With().Str("client", clientID).Str("session", id).Logger(),
		now:      time.Now,
	}
}

// Run delivers frames from cursor to w until ctx ends, the bus closes, or a
// write fails. It never panics; the returned error says why it stopped.
func (s *Session) Run(ctx context.Context, cursor *framebus.Cursor, w Framer) error {
	s.log.Info().Msg("client connected")
	for {
		err := s.deliver(ctx, cursor, w)
		if err == nil {
			continue
		}

		var (
			ev    *zerolog.Event
			ioErr *ClientIOError
		)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			ev = s.log.Info().Str("reason", "disconnected")
		case errors.Is(err, framebus.ErrClosed):
			ev = s.log.Info().Str("reason", "stream stopped")
		case errors.As(err, &ioErr):
			ev = s.log.Info().Str("reason", "write failed").AnErr("cause", ioErr.Err)
		default:
			ev = s.log.Error().Stack().Err(err)
		}
		ev.Uint64("delivered", s.Delivered).Uint64("last_seq", cursor.Last()).
			Dur("delay", s.Delay).Msg("session ended")
		return err
	}
}

func (s *Session) deliver(ctx context.Context, cursor *framebus.Cursor, w Framer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic delivering frame: %v", r)
		}
	}()

	waitStart := s.now()
	f, err := cursor.Next(ctx)
	if err != nil {
		return err
	}
	if err := w.WriteFrame(f); err != nil {
		return &ClientIOError{ClientID: s.ClientID, Err: err}
	}
	done := s.now()

	s.Delay = done.Sub(waitStart)
	s.Delivered++
	s.registry.Record(s.ClientID, s.Delay)

	if s.Delay > s.opts.WarnThreshold && s.registry.AllowWarning(s.ClientID, done, s.opts.LogInterval) {
		s.log.Warn().Dur("delay", s.Delay).Uint64("seq", f.Seq).Msg("client delay")
	}
	return nil
}
