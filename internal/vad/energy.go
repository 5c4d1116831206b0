package vad

import (
	"fmt"
	"strings"

	"github.com/petems/voxgate/internal/audio"
)

// Mode sets how eagerly the energy classifier calls a frame silence. Higher
// modes need louder frames before they count as voice.
type Mode int

const (
	Normal Mode = iota
	LowBitrate
	Aggressive
	VeryAggressive
)

var modeNames = map[Mode]string{
	Normal:         "normal",
	LowBitrate:     "low_bitrate",
	Aggressive:     "aggressive",
	VeryAggressive: "very_aggressive",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Threshold is the normalised RMS a frame must reach to count as voice.
func (m Mode) Threshold() float64 {
	switch m {
	case LowBitrate:
		return 0.015
	case Aggressive:
		return 0.02
	case VeryAggressive:
		return 0.03
	default:
		return 0.01
	}
}

// ParseMode accepts the names printed by Mode.String, case-insensitively.
// Hyphens and underscores are interchangeable. An empty string is Normal.
func ParseMode(s string) (Mode, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if s == "" {
		return Normal, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Normal, fmt.Errorf("unknown vad mode %q", s)
}

// EnergyClassifier calls a frame voice when its RMS energy reaches the
// threshold.
type EnergyClassifier struct {
	Threshold float64
}

// NewEnergyClassifier returns a classifier using the mode's threshold.
func NewEnergyClassifier(mode Mode) *EnergyClassifier {
	return &EnergyClassifier{Threshold: mode.Threshold()}
}

func (c *EnergyClassifier) Classify(samples []int16, sampleRate int) (Decision, error) {
	if sampleRate <= 0 {
		return Silence, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(samples) == 0 {
		return Silence, nil
	}
	if audio.RMS(samples) >= c.Threshold {
		return Voice, nil
	}
	return Silence, nil
}
