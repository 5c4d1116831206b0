// Package transcribe defines the speech-to-text boundary utterances are handed
// to once they leave the capture loop.
package transcribe

import (
	"context"
	"errors"
)

// ErrEmpty is returned for a request without samples.
var ErrEmpty = errors.New("no audio to transcribe")

// Request is one finalised utterance.
type Request struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Result of a transcription. Confidence is in [0, 1], or negative when the
// backend does not report one.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber turns speech into text. Implementations must be safe for use by
// one goroutine at a time; the app runs a single transcription worker.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}

// Float32 converts 16-bit PCM to float32 in [-1, 1], averaging channels into
// mono.
func Float32(samples []int16, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		for i, s := range samples {
			out[i] = float32(s) / 32768.0
		}
		return out
	}

	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(samples[i*channels+ch]) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
