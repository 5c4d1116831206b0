package capture

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrShutdown is returned by Start once the controller has been shut down.
	ErrShutdown = errors.New("capture controller is shut down")
)

// EventType identifies an Event.
type EventType int

const (
	FrameCaptured EventType = iota
	SpeechStarted
	SpeechEnded
	Error
	SessionStarted
	SessionStopped
	NoiseProfileReady
)

func (t EventType) String() string {
	switch t {
	case FrameCaptured:
		return "frame_captured"
	case SpeechStarted:
		return "speech_started"
	case SpeechEnded:
		return "speech_ended"
	case Error:
		return "error"
	case SessionStarted:
		return "session_started"
	case SessionStopped:
		return "session_stopped"
	case NoiseProfileReady:
		return "noise_profile_ready"
	default:
		return "unknown"
	}
}

// ErrorKind classifies capture faults.
type ErrorKind int

const (
	// DeviceUnavailable: no capture device could be opened. Fatal to Start.
	DeviceUnavailable ErrorKind = iota
	// ReadError: frame reads kept failing. Fatal to the session.
	ReadError
	// ClassifierError: one frame could not be classified and was treated as
	// silence.
	ClassifierError
	// TransformError: a sub-block was passed through unsuppressed.
	TransformError
)

func (k ErrorKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device_unavailable"
	case ReadError:
		return "read_error"
	case ClassifierError:
		return "classifier_error"
	case TransformError:
		return "transform_error"
	default:
		return "unknown"
	}
}

// Event is a notification from a session. Fields beyond Type and SessionID
// are only set for the types that need them.
type Event struct {
	Type      EventType
	SessionID string

	// Seq and Offset identify the frame for frame and speech events.
	Seq    uint64
	Offset time.Duration

	// Level is the RMS of the captured frame before suppression, in [0, 1].
	Level float64

	// Kind and Message describe Error events.
	Kind    ErrorKind
	Message string

	// Fatal is set on an Error event that ended the session.
	Fatal bool
}

// EventSink receives events on the controller's dispatch goroutine. Emit must
// not call back into the Controller's Start, Stop or Shutdown.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// SessionError is a fault that ended a session or prevented one from starting.
type SessionError struct {
	Kind ErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
