package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/scrivy/scam/internal/camera"
	"github.com/scrivy/scam/internal/camera/camtest"
	"github.com/scrivy/scam/internal/capture"
	"github.com/scrivy/scam/internal/framebus"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Capture.Backoff = 20 * time.Millisecond
	opts.Capture.Interval = time.Millisecond
	return opts
}

type chanFramer chan *framebus.Frame

func (c chanFramer) WriteFrame(f *framebus.Frame) error {
	select {
	case c <- f:
	default:
	}
	return nil
}

func TestStartupErrors(t *testing.T) {
	tests := []struct {
		name  string
		index int
		open  error
		want  StartupKind
	}{
		{"negative index", -1, nil, CameraIndexInvalid},
		{"no device", 3, camtest.Unavailable(camera.ErrNoDevice), CameraIndexInvalid},
		{"busy", 0, camtest.Unavailable(errors.Wrap(camera.ErrBusy, "EBUSY")), CameraBusy},
		{"other", 0, camtest.Unavailable(errors.New("permission denied")), CameraUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &camtest.Fake{OpenErr: func(int) error { return tt.open }}
			e := New(fake, testOptions(), zerolog.Nop())
			err := e.Start(tt.index)
			kind, ok := StartupKindOf(err)
			if !ok || kind != tt.want {
				t.Fatalf("Start() = %v, want %v", err, tt.want)
			}
			if e.Running() {
				t.Error("engine running after failed start")
			}
		})
	}
}

func TestStartDetectsHeldCamera(t *testing.T) {
	fake := &camtest.Fake{}
	other, err := fake.Open(0)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Release()

	e := New(fake, testOptions(), zerolog.Nop())
	if kind, _ := StartupKindOf(e.Start(0)); kind != CameraBusy {
		t.Errorf("Start() kind = %v, want camera_busy", kind)
	}
}

func TestStreamStopRestart(t *testing.T) {
	fake := &camtest.Fake{}
	e := New(fake, testOptions(), zerolog.Nop())
	defer e.Shutdown()

	if err := e.Serve(context.Background(), "early", chanFramer(make(chan *framebus.Frame))); err != ErrNotRunning {
		t.Errorf("Serve before Start = %v, want ErrNotRunning", err)
	}

	if err := e.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(0); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	frames := make(chanFramer, 1)
	served := make(chan error, 1)
	go func() { served <- e.Serve(context.Background(), "10.0.0.7", frames) }()

	select {
	case f := <-frames:
		if f.Seq == 0 || len(f.Data) == 0 {
			t.Errorf("bad frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client received no frame")
	}

	deadline := time.Now().Add(3 * time.Second)
	for f := e.Latest(); f == nil || f.Seq < 200; f = e.Latest() {
		if time.Now().After(deadline) {
			t.Fatal("capture too slow")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Stop()
	select {
	case err := <-served:
		if err != framebus.ErrClosed {
			t.Errorf("Serve after Stop = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session outlived Stop")
	}
	if e.State() != capture.Idle {
		t.Errorf("state = %v, want idle", e.State())
	}
	if fake.Held() {
		t.Error("camera held after Stop")
	}
	if _, ok := e.Delays()["10.0.0.7"]; !ok {
		t.Error("delay not recorded for client")
	}

	e.Stop() // idempotent

	if err := e.Start(0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	frames = make(chanFramer, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Serve(ctx, "10.0.0.7", frames)
	select {
	case f := <-frames:
		if f.Seq >= 200 {
			t.Errorf("first seq after restart = %d, sequence was not reset", f.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after restart")
	}
}

// TestStopDuringRetryIsBounded validates Stop returns within one backoff
// when the camera vanished after the startup probe.
func TestStopDuringRetryIsBounded(t *testing.T) {
	fake := &camtest.Fake{
		OpenErr: func(n int) error {
			if n == 1 {
				return nil
			}
			return camtest.Unavailable(camera.ErrNoDevice)
		},
	}
	opts := testOptions()
	opts.Capture.Backoff = 300 * time.Millisecond
	e := New(fake, opts, zerolog.Nop())
	if err := e.Start(0); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.State() != capture.Retrying {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, never retried", e.State())
		}
		time.Sleep(time.Millisecond)
	}

	begin := time.Now()
	e.Stop()
	if took := time.Since(begin); took > opts.Capture.Backoff {
		t.Errorf("Stop took %v, longer than one backoff", took)
	}
	if e.State() != capture.Idle || fake.Held() {
		t.Errorf("state = %v, held = %v", e.State(), fake.Held())
	}
}

func TestShutdownRefusesStart(t *testing.T) {
	e := New(&camtest.Fake{}, testOptions(), zerolog.Nop())
	if err := e.Start(0); err != nil {
		t.Fatal(err)
	}
	e.Shutdown()
	if e.Running() {
		t.Error("running after Shutdown")
	}
	if err := e.Start(0); err != ErrShutdown {
		t.Errorf("Start after Shutdown = %v, want ErrShutdown", err)
	}
}

func TestWatchDelays(t *testing.T) {
	e := New(&camtest.Fake{}, testOptions(), zerolog.Nop())
	e.registry.Record("a", 42*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan map[string]time.Duration, 1)
	go e.WatchDelays(ctx, 5*time.Millisecond, func(m map[string]time.Duration) {
		select {
		case got <- m:
		default:
		}
	})
	defer cancel()

	select {
	case m := <-got:
		if m["a"] != 42*time.Millisecond {
			t.Errorf("snapshot = %v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("WatchDelays never fired")
	}
}
