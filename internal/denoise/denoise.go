// Package denoise implements spectral-subtraction noise suppression.
//
// A Suppressor first learns the average magnitude spectrum of the background
// from the opening sub-blocks of a session, passing audio through unchanged
// while it does so. Every later sub-block has that profile subtracted bin by
// bin, keeping the original phase, before being transformed back.
//
// A Suppressor belongs to one session and is not safe for concurrent use.
package denoise

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DefaultEstimationBlocks is how many sub-blocks feed the noise profile.
const DefaultEstimationBlocks = 100

// ErrTransformSize is returned for a sub-block whose length differs from the
// transform size.
var ErrTransformSize = errors.New("sub-block length does not match transform size")

// Suppressor removes stationary noise from 16-bit PCM frames in place.
type Suppressor struct {
	n   int
	k   int
	fft *fourier.FFT

	profile   []float64 // n/2+1 bins
	estimated int       // sub-blocks accumulated into profile
	ready     bool

	block []float64
	coeff []complex128
	seq   []float64
}

// Stats describes what one Process call did.
type Stats struct {
	// Blocks is the number of full sub-blocks handled.
	Blocks int

	// Remainder is the count of trailing samples passed through untouched.
	Remainder int

	// ProfileReady is set when the noise profile was finalised during the call.
	ProfileReady bool

	// Errors counts sub-blocks passed through because of a transform fault.
	Errors int
}

// New returns a Suppressor working on sub-blocks of transformSize samples
// that estimates noise from the first estimationBlocks of them.
func New(transformSize, estimationBlocks int) (*Suppressor, error) {
	if transformSize < 2 {
		return nil, fmt.Errorf("transform size must be at least 2, got %d", transformSize)
	}
	if estimationBlocks <= 0 {
		return nil, fmt.Errorf("estimation blocks must be positive, got %d", estimationBlocks)
	}

	bins := transformSize/2 + 1
	return &Suppressor{
		n:       transformSize,
		k:       estimationBlocks,
		fft:     fourier.NewFFT(transformSize),
		profile: make([]float64, bins),
		block:   make([]float64, transformSize),
		coeff:   make([]complex128, bins),
		seq:     make([]float64, transformSize),
	}, nil
}

// TransformSize is the sub-block length.
func (s *Suppressor) TransformSize() int { return s.n }

// Estimating reports whether the noise profile is still being learned.
func (s *Suppressor) Estimating() bool { return !s.ready }

// Profile returns a copy of the finalised noise profile, or nil while
// estimating.
func (s *Suppressor) Profile() []float64 {
	if !s.ready {
		return nil
	}
	out := make([]float64, len(s.profile))
	copy(out, s.profile)
	return out
}

// ResetNoiseProfile discards the profile and starts estimating again.
func (s *Suppressor) ResetNoiseProfile() {
	for i := range s.profile {
		s.profile[i] = 0
	}
	s.estimated = 0
	s.ready = false
}

// Process suppresses noise in samples in place. Samples are cut into
// consecutive sub-blocks of the transform size; a shorter remainder is left
// as is.
func (s *Suppressor) Process(samples []int16) Stats {
	var st Stats
	full := len(samples) / s.n
	st.Remainder = len(samples) - full*s.n

	for b := 0; b < full; b++ {
		sub := samples[b*s.n : (b+1)*s.n]
		for i, v := range sub {
			s.block[i] = float64(v)
		}

		wasEstimating := !s.ready
		if err := s.ProcessFloat(s.block); err != nil {
			st.Errors++
			continue
		}
		st.Blocks++

		if wasEstimating {
			if s.ready {
				st.ProfileReady = true
			}
			continue
		}

		for i, v := range s.block {
			sub[i] = toPCM(v)
		}
	}
	return st
}

// ProcessFloat runs one sub-block through the suppressor in place. During
// estimation block is left unchanged. A block of the wrong length is left
// unchanged and ErrTransformSize is returned.
func (s *Suppressor) ProcessFloat(block []float64) error {
	if len(block) != s.n {
		return fmt.Errorf("%w: got %d, want %d", ErrTransformSize, len(block), s.n)
	}

	copy(s.seq, block)
	s.coeff = s.fft.Coefficients(s.coeff, s.seq)

	if !s.ready {
		for i, c := range s.coeff {
			s.profile[i] += cmplx.Abs(c)
		}
		s.estimated++
		if s.estimated == s.k {
			for i := range s.profile {
				s.profile[i] /= float64(s.k)
			}
			s.ready = true
		}
		return nil
	}

	for i, c := range s.coeff {
		mag := math.Hypot(real(c), imag(c))
		phase := math.Atan2(imag(c), real(c))
		mag = math.Max(0, mag-s.profile[i])
		s.coeff[i] = cmplx.Rect(mag, phase)
	}

	// The real inverse treats coeff as the lower half of a Hermitian spectrum,
	// so the mirrored upper half never has to be built explicitly.
	s.seq = s.fft.Sequence(s.seq, s.coeff)
	scale := 1 / float64(s.n)
	for i, v := range s.seq {
		block[i] = v * scale
	}
	return nil
}

func toPCM(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
