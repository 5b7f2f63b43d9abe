//go:build !linux && !gocv

package camera

import "github.com/pkg/errors"

type unsupported struct{}

// NewSource returns a backend whose devices are never available. Build with
// -tags gocv to capture through OpenCV on this platform.
func NewSource(Options) Source { return unsupported{} }

func (unsupported) Open(index int) (Device, error) {
	return nil, newError(DeviceUnavailable, index, errors.New("no capture backend for this platform"))
}
