// Package utterance assembles retained frames into utterances.
package utterance

import (
	"fmt"
	"io"
	"time"

	"github.com/petems/voxgate/internal/audio"
)

// MimeType of Utterance samples: raw little-endian signed 16-bit mono PCM.
const MimeType = "audio/pcm"

// Reason says why an utterance was finalised.
type Reason int

const (
	// EndOfSpeech: the gate went back to idle after a hangover.
	EndOfSpeech Reason = iota
	// Stopped: the session was stopped by its owner.
	Stopped
	// Failed: the session died on a fatal capture error.
	Failed
	// Replaced: a new session was started over this one.
	Replaced
)

func (r Reason) String() string {
	switch r {
	case EndOfSpeech:
		return "end_of_speech"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Utterance is one finalised span of retained audio. The caller owns Samples.
type Utterance struct {
	SessionID  string
	Index      int
	Samples    []int16
	SampleRate int
	Channels   int
	Duration   time.Duration
	MimeType   string

	// StartedAt is the session offset of the first retained frame.
	StartedAt time.Duration

	Reason Reason
}

// Empty reports whether the utterance holds no audio.
func (u Utterance) Empty() bool { return len(u.Samples) == 0 }

// WriteWAV encodes the utterance as a 16-bit WAV stream.
func (u Utterance) WriteWAV(w io.WriteSeeker) error {
	if u.Channels > 1 {
		return fmt.Errorf("cannot encode %d channels", u.Channels)
	}
	return audio.WriteWAV(w, u.Samples, u.SampleRate)
}

// Assembler collects retained frames for one session. It is owned by the
// capture loop and is not safe for concurrent use.
type Assembler struct {
	sampleRate int
	buf        []int16
	frames     int
	started    time.Duration
}

// NewAssembler returns an Assembler whose buffer starts with room for
// capacity samples.
func NewAssembler(sampleRate, capacity int) *Assembler {
	return &Assembler{
		sampleRate: sampleRate,
		buf:        make([]int16, 0, capacity),
	}
}

// Push appends a copy of frame's samples if retain is set. Frames must be
// pushed in capture order.
func (a *Assembler) Push(frame audio.Frame, retain bool) {
	if !retain {
		return
	}
	if a.frames == 0 {
		a.started = frame.Offset
	}
	a.buf = append(a.buf, frame.Samples...)
	a.frames++
}

// Frames is the number of frames buffered since the last Finalize.
func (a *Assembler) Frames() int { return a.frames }

// Len is the number of samples buffered since the last Finalize.
func (a *Assembler) Len() int { return len(a.buf) }

// Finalize hands over the buffered samples and starts a fresh buffer. With
// nothing buffered it returns an empty, non-nil slice.
func (a *Assembler) Finalize() []int16 {
	out := a.buf
	if out == nil {
		out = []int16{}
	}
	a.buf = make([]int16, 0, cap(out))
	a.frames = 0
	a.started = 0
	return out
}

// Utterance finalises the buffer into an Utterance.
func (a *Assembler) Utterance(sessionID string, index int, reason Reason) Utterance {
	started := a.started
	samples := a.Finalize()

	var d time.Duration
	if a.sampleRate > 0 {
		d = time.Duration(len(samples)) * time.Second / time.Duration(a.sampleRate)
	}

	return Utterance{
		SessionID:  sessionID,
		Index:      index,
		Samples:    samples,
		SampleRate: a.sampleRate,
		Channels:   1,
		Duration:   d,
		MimeType:   MimeType,
		StartedAt:  started,
		Reason:     reason,
	}
}
