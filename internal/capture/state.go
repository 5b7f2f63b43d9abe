package capture

import "fmt"

// State is the capture loop's lifecycle state.
type State int32

const (
	Idle State = iota
	Opening
	Streaming
	Retrying
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Streaming:
		return "streaming"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Event drives Next.
type Event int

const (
	EventStart Event = iota
	EventOpened
	EventFrameRead
	EventOpenFailed
	EventReadFailed
	EventBackoffElapsed
	EventStop
	EventReleased
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventOpened:
		return "opened"
	case EventFrameRead:
		return "frame read"
	case EventOpenFailed:
		return "open failed"
	case EventReadFailed:
		return "read failed"
	case EventBackoffElapsed:
		return "backoff elapsed"
	case EventStop:
		return "stop"
	case EventReleased:
		return "released"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Next is the capture transition function. Events that do not apply to the
// current state leave it unchanged.
//
// Opened alone keeps the loop in Opening; it reaches Streaming only once the
// first frame is read. Stop while Retrying abandons the retries and reports
// Failed until the handle is released.
func Next(s State, e Event) State {
	if e == EventStop {
		if s == Retrying {
			return Failed
		}
		return Idle
	}

	switch s {
	case Idle:
		if e == EventStart {
			return Opening
		}
	case Opening:
		switch e {
		case EventFrameRead:
			return Streaming
		case EventOpenFailed, EventReadFailed:
			return Retrying
		}
	case Streaming:
		if e == EventReadFailed {
			return Retrying
		}
	case Retrying:
		if e == EventBackoffElapsed {
			return Opening
		}
	case Failed:
		switch e {
		case EventReleased:
			return Idle
		case EventStart:
			return Opening
		}
	}
	return s
}
