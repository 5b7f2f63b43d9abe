//go:build linux && !gocv

package camera

import (
	"fmt"
	"math"
	"os"
	"sync"
	"syscall"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

const devicePathFormat = "/dev/video%d"

var (
	pixelFormatMJPG = fourcc('M', 'J', 'P', 'G')
	pixelFormatYUYV = fourcc('Y', 'U', 'Y', 'V')
)

func fourcc(a, b, c, d byte) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// V4L2 opens /dev/videoN devices.
type V4L2 struct {
	opts  Options
	holds holds
}

// NewSource returns the V4L2 backend.
func NewSource(opts Options) Source {
	return &V4L2{opts: opts}
}

func (s *V4L2) Open(index int) (Device, error) {
	if index < 0 {
		return nil, newError(DeviceUnavailable, index, ErrNoDevice)
	}
	path := fmt.Sprintf(devicePathFormat, index)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, newError(DeviceUnavailable, index, ErrNoDevice)
		}
		return nil, newError(DeviceUnavailable, index, err)
	}

	if err := s.holds.acquire(index); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(path)
	if err != nil {
		s.holds.release(index)
		return nil, newError(DeviceUnavailable, index, classify(err))
	}

	dev := &v4l2Device{cam: cam, index: index, source: s}
	if err := dev.configure(s.opts); err != nil {
		dev.Release()
		return nil, newError(DeviceUnavailable, index, classify(err))
	}
	return dev, nil
}

func classify(err error) error {
	if errors.Is(err, syscall.EBUSY) {
		return errors.Wrap(ErrBusy, err.Error())
	}
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENODEV) {
		return errors.Wrap(ErrNoDevice, err.Error())
	}
	return err
}

type v4l2Device struct {
	cam     *webcam.Webcam
	index   int
	source  *V4L2
	format  Format
	width   int
	height  int
	timeout uint32
	once    sync.Once
}

func (d *v4l2Device) configure(opts Options) error {
	want := pixelFormatMJPG
	if opts.PixelFormat == "YUYV" {
		want = pixelFormatYUYV
	}
	if _, ok := d.cam.GetSupportedFormats()[want]; !ok {
		return errors.Errorf("pixel format %s not supported", opts.PixelFormat)
	}

	pf, w, h, err := d.cam.SetImageFormat(want, uint32(opts.Width), uint32(opts.Height))
	if err != nil {
		return errors.WithStack(err)
	}
	switch pf {
	case pixelFormatMJPG:
		d.format = FormatMJPEG
	case pixelFormatYUYV:
		d.format = FormatYUYV
	default:
		return errors.Errorf("driver selected unsupported pixel format %v", pf)
	}
	d.width, d.height = int(w), int(h)

	// WaitForFrame takes whole seconds.
	d.timeout = uint32(math.Ceil(opts.ReadTimeout.Seconds()))
	if d.timeout == 0 {
		d.timeout = 1
	}

	return errors.WithStack(d.cam.StartStreaming())
}

func (d *v4l2Device) ReadFrame() (RawImage, error) {
	err := d.cam.WaitForFrame(d.timeout)
	if err != nil {
		switch err.(type) {
		case *webcam.Timeout:
			return RawImage{}, newError(Timeout, d.index, err)
		default:
			return RawImage{}, newError(ReadFailed, d.index, err)
		}
	}

	frame, err := d.cam.ReadFrame()
	if err != nil {
		return RawImage{}, newError(ReadFailed, d.index, err)
	}
	if len(frame) == 0 {
		return RawImage{}, newError(ReadFailed, d.index, errors.New("empty frame"))
	}

	// frame points into the driver's mmap buffer, which is requeued on the next read.
	data := make([]byte, len(frame))
	copy(data, frame)

	return RawImage{Format: d.format, Width: d.width, Height: d.height, Data: data}, nil
}

func (d *v4l2Device) Release() {
	d.once.Do(func() {
		d.cam.StopStreaming()
		d.cam.Close()
		d.source.holds.release(d.index)
	})
}
