// Package engine owns the capture loop, the frame bus and the delay registry,
// and switches streaming on and off as a unit.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/scrivy/scam/internal/camera"
	"github.com/scrivy/scam/internal/capture"
	"github.com/scrivy/scam/internal/framebus"
	"github.com/scrivy/scam/internal/stream"
)

// DefaultStatsInterval is how often ReportDelays logs the delay table.
const DefaultStatsInterval = 5 * time.Second

type Options struct {
	Capture       capture.Options
	Stream        stream.Options
	StatsInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		Capture:       capture.DefaultOptions(),
		Stream:        stream.DefaultOptions(),
		StatsInterval: DefaultStatsInterval,
	}
}

// Engine is created idle. Start and Stop may be called any number of times
// until Shutdown.
type Engine struct {
	src      camera.Source
	bus      *framebus.Bus
	loop     *capture.Loop
	registry *stream.Registry
	opts     Options
	log      zerolog.Logger

	// mu serializes Start, Stop and Shutdown.
	mu       sync.Mutex
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	running  atomic.Bool
	index    atomic.Int64
	sessions atomic.Int64
}

func New(src camera.Source, opts Options, log zerolog.Logger) *Engine {
	bus := framebus.New()
	bus.Close()
	return &Engine{
		src:      src,
		bus:      bus,
		loop:     capture.New(src, bus, opts.Capture, log),
		registry: stream.NewRegistry(),
		opts:     opts,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// Start checks that the camera at index can be opened, then begins capturing.
// Camera problems are returned as *StartupError.
func (e *Engine) Start(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrShutdown
	}
	if e.running.Load() {
		return ErrAlreadyRunning
	}
	if err := e.probe(index); err != nil {
		e.log.Error().Err(err).Int("camera", index).Msg("cannot start")
		return err
	}

	e.bus.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.loop.Run(ctx, index)
	}()

	e.cancel, e.done = cancel, done
	e.index.Store(int64(index))
	e.running.Store(true)
	e.log.Info().Int("camera", index).Msg("streaming started")
	return nil
}

func (e *Engine) probe(index int) error {
	if index < 0 {
		return &StartupError{Kind: CameraIndexInvalid, Err: errors.Errorf("negative camera index %d", index)}
	}
	dev, err := e.src.Open(index)
	if err != nil {
		switch {
		case errors.Is(err, camera.ErrNoDevice):
			return &StartupError{Kind: CameraIndexInvalid, Err: err}
		case errors.Is(err, camera.ErrBusy):
			return &StartupError{Kind: CameraBusy, Err: err}
		default:
			return &StartupError{Kind: CameraUnavailable, Err: err}
		}
	}
	dev.Release()
	return nil
}

// Stop ends capture and every session. It returns once the camera is
// released. Calling it while stopped does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	e.cancel()
	e.bus.Close()
	<-e.done
	e.cancel, e.done = nil, nil
	e.log.Info().Msg("streaming stopped")
}

// Shutdown stops the engine for good; later Starts fail with ErrShutdown.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.closed = true
}

// Serve streams to one client through w until ctx ends, the engine stops or
// a write fails.
func (e *Engine) Serve(ctx context.Context, clientID string, w stream.Framer) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	e.sessions.Add(1)
	defer e.sessions.Add(-1)

	s := stream.NewSession(clientID, e.registry, e.opts.Stream, e.log)
	return s.Run(ctx, e.bus.Cursor(), w)
}

func (e *Engine) Running() bool { return e.running.Load() }

// CameraIndex is the index of the last successful Start.
func (e *Engine) CameraIndex() int { return int(e.index.Load()) }

func (e *Engine) State() capture.State { return e.loop.State() }

// Sessions is the number of clients currently being served.
func (e *Engine) Sessions() int { return int(e.sessions.Load()) }

// Latest returns the current frame, or nil before the first frame of a run.
func (e *Engine) Latest() *framebus.Frame { return e.bus.Current() }

// Delays returns a copy of the per-client delay table.
func (e *Engine) Delays() map[string]time.Duration { return e.registry.Snapshot() }

// WatchDelays calls fn with a delay snapshot every interval until ctx ends.
func (e *Engine) WatchDelays(ctx context.Context, interval time.Duration, fn func(map[string]time.Duration)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(e.registry.Snapshot())
		}
	}
}

// ReportDelays logs the delay table every StatsInterval while clients are known.
func (e *Engine) ReportDelays(ctx context.Context) {
	interval := e.opts.StatsInterval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	e.WatchDelays(ctx, interval, func(delays map[string]time.Duration) {
		if len(delays) == 0 {
			return
		}
		d := zerolog.Dict()
		for client, delay := range delays {
			d.Float64(client, float64(delay)/float64(time.Millisecond))
		}
		e.log.Info().Dict("delay_ms", d).Int("sessions", e.Sessions()).
			Stringer("state", e.State()).Msg("client delays")
	})
}
