package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
	ErrShutdown       = errors.New("engine shut down")
)

// StartupKind says why streaming could not begin.
type StartupKind int

const (
	PortInUse StartupKind = iota
	CameraIndexInvalid
	CameraUnavailable
	CameraBusy
)

func (k StartupKind) String() string {
	switch k {
	case PortInUse:
		return "port_in_use"
	case CameraIndexInvalid:
		return "camera_index_invalid"
	case CameraUnavailable:
		return "camera_unavailable"
	case CameraBusy:
		return "camera_busy"
	}
	return fmt.Sprintf("StartupKind(%d)", int(k))
}

// StartupError is returned synchronously before any streaming starts.
type StartupError struct {
	Kind StartupKind
	Err  error
}

func (e *StartupError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// StartupKindOf extracts the kind from err, if it is a StartupError.
func StartupKindOf(err error) (StartupKind, bool) {
	var se *StartupError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
