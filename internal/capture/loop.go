// Package capture drives a camera continuously and publishes JPEG frames to a
// framebus, riding out camera failures with a fixed backoff.
package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/scrivy/scam/internal/camera"
	"github.com/scrivy/scam/internal/framebus"
)

const (
	DefaultBackoff  = 5 * time.Second
	DefaultInterval = 10 * time.Millisecond
)

// Options configures a Loop.
type Options struct {
	// Backoff is the pause after a failed open or read before reopening.
	Backoff time.Duration
	// Interval is the pause after each published frame.
	Interval time.Duration

	Quality     int
	MaxWidth    int
	Passthrough bool

	// Report receives camera errors for out-of-band reporting. May be nil.
	Report func(err error, tags map[string]string)
	// OnTransition observes every state change. Called from the loop goroutine.
	OnTransition func(from, to State, ev Event)
}

// DefaultOptions returns the reference timings and quality.
func DefaultOptions() Options {
	return Options{
		Backoff:  DefaultBackoff,
		Interval: DefaultInterval,
		Quality:  DefaultQuality,
	}
}

// Loop owns the camera device for the duration of Run. Only one Run may be
// active at a time.
type Loop struct {
	src  camera.Source
	bus  *framebus.Bus
	opts Options
	log  zerolog.Logger

	state atomic.Int32
}

func New(src camera.Source, bus *framebus.Bus, opts Options, log zerolog.Logger) *Loop {
	return &Loop{
		src:  src,
		bus:  bus,
		opts: opts,
		log:  log.With().Str("component", "capture").Logger(),
	}
}

// State may be called from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) fire(ev Event) {
	from := l.State()
	to := Next(from, ev)
	if to == from {
		return
	}
	l.state.Store(int32(to))
	l.log.Debug().Stringer("from", from).Stringer("to", to).Stringer("event", ev).Msg("state")
	if l.opts.OnTransition != nil {
		l.opts.OnTransition(from, to, ev)
	}
}

// Run captures from the device at index until ctx is cancelled. Sequence
// numbers start again from 1 on every call. The device is released before
// Run returns.
func (l *Loop) Run(ctx context.Context, index int) {
	log := l.log.With().Int("camera", index).Logger()
	enc := &Encoder{Quality: l.opts.Quality, MaxWidth: l.opts.MaxWidth, Passthrough: l.opts.Passthrough}

	var (
		dev camera.Device
		seq uint64
	)
	l.fire(EventStart)
	defer func() {
		if dev != nil {
			dev.Release()
		}
		if l.State() == Retrying {
			log.Warn().Msg("stopped while camera was failing, retries abandoned")
		}
		l.fire(EventStop)
		l.fire(EventReleased)
		log.Info().Uint64("frames", seq).Msg("capture stopped")
	}()

	for ctx.Err() == nil {
		if dev == nil {
			d, err := l.open(index)
			if err != nil {
				l.fire(EventOpenFailed)
				l.failure(log, err, "open")
				if !sleep(ctx, l.opts.Backoff) {
					return
				}
				l.fire(EventBackoffElapsed)
				continue
			}
			dev = d
			l.fire(EventOpened)
			log.Info().Msg("camera opened")
		}

		raw, err := l.read(dev)
		if err != nil {
			dev.Release()
			dev = nil
			l.fire(EventReadFailed)
			l.failure(log, err, "read")
			if !sleep(ctx, l.opts.Backoff) {
				return
			}
			l.fire(EventBackoffElapsed)
			continue
		}
		captured := time.Now()

		data, err := l.encode(enc, raw)
		if err != nil {
			log.Warn().Err(err).Msg("dropping frame")
			if !sleep(ctx, l.opts.Interval) {
				return
			}
			continue
		}

		seq++
		l.bus.Publish(&framebus.Frame{Data: data, Seq: seq, Timestamp: captured})
		if l.State() != Streaming {
			log.Info().Uint64("seq", seq).Msg("streaming")
		}
		l.fire(EventFrameRead)

		if !sleep(ctx, l.opts.Interval) {
			return
		}
	}
}

func (l *Loop) failure(log zerolog.Logger, err error, op string) {
	kind, _ := camera.KindOf(err)
	log.Error().Stack().Err(err).Str("op", op).Stringer("kind", kind).
		Dur("backoff", l.opts.Backoff).Msg("camera failure, retrying")
	if l.opts.Report != nil {
		l.opts.Report(err, map[string]string{"op": op, "kind": kind.String()})
	}
}

func (l *Loop) open(index int) (dev camera.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = errors.WithStack(&camera.Error{Kind: camera.DeviceUnavailable, Index: index, Err: errors.Errorf("panic: %v", r)})
		}
	}()
	return l.src.Open(index)
}

func (l *Loop) read(dev camera.Device) (raw camera.RawImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithStack(&camera.Error{Kind: camera.ReadFailed, Err: errors.Errorf("panic: %v", r)})
		}
	}()
	return dev.ReadFrame()
}

func (l *Loop) encode(enc *Encoder, raw camera.RawImage) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EncodingError{Format: raw.Format, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	return enc.Encode(raw)
}

// sleep waits for d or until ctx ends, reporting whether the loop should go on.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
