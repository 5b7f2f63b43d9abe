//go:build gocv

package camera

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCV opens devices through gocv's VideoCapture, which takes the index directly.
type OpenCV struct {
	opts  Options
	holds holds
}

// NewSource returns the OpenCV backend.
func NewSource(opts Options) Source {
	return &OpenCV{opts: opts}
}

func (s *OpenCV) Open(index int) (Device, error) {
	if index < 0 {
		return nil, newError(DeviceUnavailable, index, ErrNoDevice)
	}
	if err := s.holds.acquire(index); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		s.holds.release(index)
		return nil, newError(DeviceUnavailable, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		s.holds.release(index)
		return nil, newError(DeviceUnavailable, index, ErrNoDevice)
	}
	if s.opts.Width > 0 && s.opts.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))
	}

	return &opencvDevice{vc: vc, index: index, source: s, timeout: s.opts.ReadTimeout}, nil
}

type readResult struct {
	raw RawImage
	err error
}

type opencvDevice struct {
	vc      *gocv.VideoCapture
	index   int
	source  *OpenCV
	timeout time.Duration

	mu      sync.Mutex
	pending chan readResult // non-nil while a read outlives its timeout
	closed  bool
}

func (d *opencvDevice) ReadFrame() (RawImage, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return RawImage{}, newError(ReadFailed, d.index, errors.New("device released"))
	}
	ch := d.pending
	if ch == nil {
		ch = make(chan readResult, 1)
		go d.read(ch)
	}
	d.pending = nil
	d.mu.Unlock()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.raw, res.err
	case <-timer.C:
		d.mu.Lock()
		d.pending = ch
		d.mu.Unlock()
		return RawImage{}, newError(Timeout, d.index, errors.Errorf("no frame within %s", d.timeout))
	}
}

func (d *opencvDevice) read(ch chan<- readResult) {
	mat := gocv.NewMat()
	defer mat.Close()

	if ok := d.vc.Read(&mat); !ok || mat.Empty() {
		ch <- readResult{err: newError(ReadFailed, d.index, errors.New("capture returned no frame"))}
		return
	}
	img, err := mat.ToImage()
	if err != nil {
		ch <- readResult{err: newError(ReadFailed, d.index, err)}
		return
	}
	b := img.Bounds()
	ch <- readResult{raw: RawImage{Format: FormatImage, Width: b.Dx(), Height: b.Dy(), Image: img}}
}

func (d *opencvDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	if ch := d.pending; ch != nil {
		// Closing the capture under a running read is unsafe; let the read finish first.
		go func() {
			<-ch
			d.vc.Close()
			d.source.holds.release(d.index)
		}()
		return
	}
	d.vc.Close()
	d.source.holds.release(d.index)
}
