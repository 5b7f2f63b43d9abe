// Package camera opens a capture device by index and reads raw frames from it.
package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Format is the layout of RawImage.Data.
type Format int

const (
	FormatMJPEG Format = iota // Data holds one JPEG image
	FormatYUYV                // Data holds packed YUYV 4:2:2
	FormatImage               // Image is set, Data is unused
)

func (f Format) String() string {
	switch f {
	case FormatMJPEG:
		return "MJPG"
	case FormatYUYV:
		return "YUYV"
	case FormatImage:
		return "image"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// RawImage is one frame as delivered by the device, before JPEG encoding.
type RawImage struct {
	Format Format
	Width  int
	Height int
	Data   []byte
	Image  image.Image
}

// Source opens capture devices.
type Source interface {
	Open(index int) (Device, error)
}

// Device is an open capture device. Release must be safe to call more than once.
type Device interface {
	ReadFrame() (RawImage, error)
	Release()
}

// Options configures the hardware backends.
type Options struct {
	PixelFormat string // "MJPG" or "YUYV"
	Width       int
	Height      int
	ReadTimeout time.Duration
}

// DefaultOptions matches a typical USB webcam.
func DefaultOptions() Options {
	return Options{
		PixelFormat: "MJPG",
		Width:       640,
		Height:      480,
		ReadTimeout: 2 * time.Second,
	}
}

// ErrorKind classifies a camera failure.
type ErrorKind int

const (
	DeviceUnavailable ErrorKind = iota
	ReadFailed
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device unavailable"
	case ReadFailed:
		return "read failed"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

var (
	// ErrNoDevice means nothing exists at the requested index.
	ErrNoDevice = errors.New("no such device")
	// ErrBusy means the device is held by this or another process.
	ErrBusy = errors.New("device busy")
)

// Error is returned by Open and ReadFrame.
type Error struct {
	Kind  ErrorKind
	Index int
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %d: %s", e.Index, e.Kind)
	}
	return fmt.Sprintf("camera %d: %s: %v", e.Index, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, index int, err error) error {
	return errors.WithStack(&Error{Kind: kind, Index: index, Err: err})
}

// KindOf reports the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// holds tracks which indexes are open in this process. OS drivers do not all
// refuse a second open, so exclusivity is enforced here as well.
type holds struct {
	mu   sync.Mutex
	held map[int]bool
}

func (h *holds) acquire(index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held == nil {
		h.held = make(map[int]bool)
	}
	if h.held[index] {
		return newError(DeviceUnavailable, index, ErrBusy)
	}
	h.held[index] = true
	return nil
}

func (h *holds) release(index int) {
	h.mu.Lock()
	delete(h.held, index)
	h.mu.Unlock()
}
