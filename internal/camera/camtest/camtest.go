// Package camtest provides a scriptable in-memory camera.Source for tests.
package camtest

import (
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"

	"github.com/scrivy/scam/internal/camera"
)

// Fake is a camera.Source. Scripts are called with a 1-based attempt counter
// that spans the whole lifetime of the Fake.
type Fake struct {
	// OpenErr returns the error for the nth Open call, or nil to succeed.
	OpenErr func(n int) error
	// ReadErr returns the error for the nth ReadFrame call, or nil to succeed.
	ReadErr func(n int) error
	// Frame builds the nth successful frame. Defaults to Gradient.
	Frame func(n int) camera.RawImage

	mu       sync.Mutex
	opens    int
	reads    int
	releases int
	held     bool
}

func (f *Fake) Open(index int) (camera.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.OpenErr != nil {
		if err := f.OpenErr(f.opens); err != nil {
			return nil, err
		}
	}
	if f.held {
		return nil, &camera.Error{Kind: camera.DeviceUnavailable, Index: index, Err: camera.ErrBusy}
	}
	f.held = true
	return &device{fake: f}, nil
}

// Opens is the number of Open calls, successful or not.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Reads is the number of ReadFrame calls.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Releases is the number of devices released.
func (f *Fake) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

// Held reports whether a device is currently open.
func (f *Fake) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

type device struct {
	fake     *Fake
	released bool
}

func (d *device) ReadFrame() (camera.RawImage, error) {
	f := d.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.released {
		return camera.RawImage{}, errors.New("read after release")
	}
	f.reads++
	if f.ReadErr != nil {
		if err := f.ReadErr(f.reads); err != nil {
			return camera.RawImage{}, err
		}
	}
	if f.Frame != nil {
		return f.Frame(f.reads), nil
	}
	return Gradient(f.reads), nil
}

func (d *device) Release() {
	f := d.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	f.held = false
	f.releases++
}

// Gradient is a small decoded image whose pixels vary with n.
func Gradient(n int) camera.RawImage {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: uint8(n), A: 255})
		}
	}
	return camera.RawImage{Format: camera.FormatImage, Width: 32, Height: 24, Image: img}
}

// Unavailable is a DeviceUnavailable error for use in scripts.
func Unavailable(cause error) error {
	return &camera.Error{Kind: camera.DeviceUnavailable, Err: cause}
}

// ReadFailure is a ReadFailed error for use in scripts.
func ReadFailure() error {
	return &camera.Error{Kind: camera.ReadFailed, Err: errors.New("unplugged")}
}

// ReadTimeout is a Timeout error for use in scripts.
func ReadTimeout() error {
	return &camera.Error{Kind: camera.Timeout, Err: errors.New("no frame within 2s")}
}
