// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/scrivy/scam/internal/camera"
	"github.com/scrivy/scam/internal/capture"
	"github.com/scrivy/scam/internal/engine"
	"github.com/scrivy/scam/internal/stream"
)

type Config struct {
	Debug    bool
	LogLevel string `yaml:"log_level"`

	Port        int
	CameraIndex int    `yaml:"camera_index"`
	PixelFormat string `yaml:"pixel_format"`
	Width       int
	Height      int

	JPEGQuality int  `yaml:"jpeg_quality"`
	Passthrough bool `yaml:"passthrough"`
	MaxWidth    int  `yaml:"max_width"`

	ReadTimeout        time.Duration `yaml:"read_timeout"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	FrameInterval      time.Duration `yaml:"frame_interval"`
	DelayWarnThreshold time.Duration `yaml:"delay_warn_threshold"`
	DelayLogInterval   time.Duration `yaml:"delay_log_interval"`
	StatsInterval      time.Duration `yaml:"stats_interval"`

	SentryDSN string `yaml:"sentry_dsn"`
}

// Default holds the values used for anything the file leaves out.
func Default() Config {
	cam := camera.DefaultOptions()
	return Config{
		LogLevel:           "info",
		Port:               5000,
		CameraIndex:        0,
		PixelFormat:        cam.PixelFormat,
		Width:              cam.Width,
		Height:             cam.Height,
		JPEGQuality:        capture.DefaultQuality,
		ReadTimeout:        cam.ReadTimeout,
		RetryBackoff:       capture.DefaultBackoff,
		FrameInterval:      capture.DefaultInterval,
		DelayWarnThreshold: stream.DefaultWarnThreshold,
		DelayLogInterval:   stream.DefaultLogInterval,
		StatsInterval:      engine.DefaultStatsInterval,
	}
}

// Load reads path strictly: unknown keys are an error.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return errors.Errorf("port must be between 1024 and 65535, got %d", c.Port)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.PixelFormat != "MJPG" && c.PixelFormat != "YUYV" {
		return errors.Errorf("pixel_format must be MJPG or YUYV, got %q", c.PixelFormat)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.MaxWidth < 0 {
		return errors.Errorf("max_width must not be negative, got %d", c.MaxWidth)
	}
	durations := map[string]time.Duration{
		"read_timeout":         c.ReadTimeout,
		"retry_backoff":        c.RetryBackoff,
		"delay_warn_threshold": c.DelayWarnThreshold,
		"delay_log_interval":   c.DelayLogInterval,
		"stats_interval":       c.StatsInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.FrameInterval < 0 {
		return errors.Errorf("frame_interval must not be negative, got %s", c.FrameInterval)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) Camera() camera.Options {
	return camera.Options{
		PixelFormat: c.PixelFormat,
		Width:       c.Width,
		Height:      c.Height,
		ReadTimeout: c.ReadTimeout,
	}
}

func (c Config) Engine() engine.Options {
	return engine.Options{
		Capture: capture.Options{
			Backoff:     c.RetryBackoff,
			Interval:    c.FrameInterval,
			Quality:     c.JPEGQuality,
			MaxWidth:    c.MaxWidth,
			Passthrough: c.Passthrough,
		},
		Stream: stream.Options{
			WarnThreshold: c.DelayWarnThreshold,
			LogInterval:   c.DelayLogInterval,
		},
		StatsInterval: c.StatsInterval,
	}
}
