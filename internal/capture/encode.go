package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/scrivy/scam/internal/camera"
)

// DefaultQuality trades fidelity for latency and bandwidth.
const DefaultQuality = 30

// EncodingError means a raw frame could not be turned into a JPEG. The frame
// is dropped; capture carries on.
type EncodingError struct {
	Format camera.Format
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s frame: %v", e.Format, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Encoder turns raw camera frames into JPEG bytes.
type Encoder struct {
	Quality int
	// MaxWidth downscales wider frames, preserving aspect ratio. Zero disables scaling.
	MaxWidth int
	// Passthrough forwards MJPEG frames untouched when no scaling applies.
	Passthrough bool

	buf bytes.Buffer
}

// Encode returns a slice the Encoder never touches again.
func (e *Encoder) Encode(raw camera.RawImage) ([]byte, error) {
	if raw.Format == camera.FormatMJPEG && e.Passthrough && e.MaxWidth == 0 {
		if !validJPEG(raw.Data) {
			return nil, &EncodingError{Format: raw.Format, Err: errors.New("missing SOI/EOI markers")}
		}
		return raw.Data, nil
	}

	img, err := decode(raw)
	if err != nil {
		return nil, &EncodingError{Format: raw.Format, Err: err}
	}
	img = e.scale(img)

	quality := e.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &EncodingError{Format: raw.Format, Err: err}
	}

	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

func (e *Encoder) scale(img image.Image) image.Image {
	b := img.Bounds()
	if e.MaxWidth <= 0 || b.Dx() <= e.MaxWidth {
		return img
	}
	h := b.Dy() * e.MaxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, e.MaxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func decode(raw camera.RawImage) (image.Image, error) {
	switch raw.Format {
	case camera.FormatImage:
		if raw.Image == nil {
			return nil, errors.New("no image")
		}
		return raw.Image, nil
	case camera.FormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw.Data))
		return img, errors.WithStack(err)
	case camera.FormatYUYV:
		return yuyvToYCbCr(raw.Data, raw.Width, raw.Height)
	}
	return nil, errors.Errorf("unsupported format %s", raw.Format)
}

// yuyvToYCbCr unpacks Y0 U Y1 V macropixels into a 4:2:2 YCbCr image.
func yuyvToYCbCr(data []byte, w, h int) (image.Image, error) {
	if w <= 0 || h <= 0 || w%2 != 0 {
		return nil, errors.Errorf("bad YUYV geometry %dx%d", w, h)
	}
	if len(data) < w*h*2 {
		return nil, errors.Errorf("short YUYV buffer: %d bytes for %dx%d", len(data), w, h)
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		row := data[y*w*2 : (y+1)*w*2]
		for x := 0; x < w; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = row[i+1]
			img.Cr[ci] = row[i+3]
		}
	}
	return img, nil
}

func validJPEG(data []byte) bool {
	n := len(data)
	return n >= 4 && data[0] == 0xFF && data[1] == 0xD8 && data[n-2] == 0xFF && data[n-1] == 0xD9
}
