// Package audio owns the capture side of the pipeline: the Frame type, the
// Source contract every backend satisfies, and the PortAudio and WAV file
// backends.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrDeviceUnavailable means no usable capture device could be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrRead wraps a failed frame read.
	ErrRead = errors.New("frame read failed")

	// ErrClosed is returned by ReadFrame after Close.
	ErrClosed = errors.New("source closed")
)

// Format is fixed when a Source is opened.
type Format struct {
	SampleRate  int
	FrameLength int // samples per frame
	Channels    int
}

// FramePeriod is the wall-clock duration of one frame.
func (f Format) FramePeriod() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameLength) * time.Second / time.Duration(f.SampleRate)
}

// Frame is one block of mono 16-bit PCM. Samples alias the Source's reusable
// buffer and are only valid until the next ReadFrame.
type Frame struct {
	Samples    []int16
	SampleRate int

	// Seq is the 1-based index of the frame within the current session.
	Seq uint64

	// Offset is the capture time relative to the start of the session.
	Offset time.Duration
}

// Duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Level returns the RMS of the frame normalised to [0, 1].
func (f Frame) Level() float64 {
	return RMS(f.Samples)
}

// RMS of 16-bit samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Source delivers frames from one opened device.
type Source interface {
	// ReadFrame blocks for at most about one frame period. Errors wrap ErrRead,
	// or io.EOF when a finite source is exhausted.
	ReadFrame() (Frame, error)

	// Format reports the fixed format negotiated at open time.
	Format() Format

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Opener opens Sources. Failures to find a device wrap ErrDeviceUnavailable.
type Opener interface {
	Open(ctx context.Context, device string, format Format) (Source, error)
}

// Device represents an audio input device
type Device struct {
	ID                string
	Name              string
	Default           bool
	MaxInputChannels  int
	DefaultSampleRate float64
}

// DeviceLister enumerates input devices.
type DeviceLister interface {
	ListDevices() ([]Device, error)
}

// DeviceError reports which selector failed to resolve.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("open device %q: %v", name, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	return []error{ErrDeviceUnavailable, e.Err}
}
