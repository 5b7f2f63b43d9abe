package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestDecode(t *testing.T) {
	in := `
debug: true
port: 8081
camera_index: 2
pixel_format: YUYV
jpeg_quality: 50
retry_backoff: 1500ms
delay_warn_threshold: 300ms
sentry_dsn: https://key@sentry.example/1
`
	cfg, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !cfg.Debug || cfg.Port != 8081 || cfg.CameraIndex != 2 || cfg.PixelFormat != "YUYV" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.RetryBackoff != 1500*time.Millisecond {
		t.Errorf("RetryBackoff = %v", cfg.RetryBackoff)
	}

	opts := cfg.Engine()
	if opts.Capture.Quality != 50 || opts.Stream.WarnThreshold != 300*time.Millisecond {
		t.Errorf("engine options %+v", opts)
	}
	// untouched keys keep their defaults
	if opts.Capture.Interval != 10*time.Millisecond || opts.Stream.LogInterval != 2*time.Second {
		t.Errorf("defaults lost: %+v", opts)
	}
	if cfg.Addr() != ":8081" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestDecodeEmptyUsesDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}
	if cfg.RetryBackoff != 5*time.Second || cfg.JPEGQuality != 30 {
		t.Errorf("reference defaults changed: %+v", cfg)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown key", "prot: 5000\n"},
		{"low port", "port: 80\n"},
		{"high port", "port: 70000\n"},
		{"quality", "jpeg_quality: 0\n"},
		{"pixel format", "pixel_format: RGB3\n"},
		{"zero backoff", "retry_backoff: 0s\n"},
		{"bad duration", "retry_backoff: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.in)); err == nil {
				t.Error("Decode succeeded, want error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 6000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 6000 {
		t.Errorf("Port = %d", cfg.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want not-exist", err)
	}
}
