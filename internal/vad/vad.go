// Package vad gates frames on voice activity. A Gate runs the
// idle/speech/hangover state machine over one classification per frame and
// decides whether each frame is retained for the current utterance.
package vad

import (
	"errors"
)

// ErrClassifierTimeout marks a classification that overran its time budget.
var ErrClassifierTimeout = errors.New("classifier exceeded time budget")

// Decision is the classifier's verdict for one frame.
type Decision int

const (
	Silence Decision = iota
	Voice
)

func (d Decision) String() string {
	if d == Voice {
		return "voice"
	}
	return "silence"
}

// Classifier labels a frame of mono PCM as voice or silence. A non-nil error
// is the ERROR verdict; the gate then treats the frame as silence.
type Classifier interface {
	Classify(samples []int16, sampleRate int) (Decision, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(samples []int16, sampleRate int) (Decision, error)

func (f ClassifierFunc) Classify(samples []int16, sampleRate int) (Decision, error) {
	return f(samples, sampleRate)
}

// State of the gate.
type State int

const (
	Idle State = iota
	Speech
	Hangover
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speech:
		return "speech"
	case Hangover:
		return "hangover"
	default:
		return "unknown"
	}
}

// Transition reports a state change worth telling anyone about.
type Transition int

const (
	NoTransition Transition = iota
	SpeechStarted
	SpeechEnded
)

// Step is the gate's verdict for one frame.
type Step struct {
	State      State
	Retain     bool
	Transition Transition

	// Decision is what the state machine acted on. It is Silence whenever Err
	// is set.
	Decision Decision

	// Err is the classifier failure, if any.
	Err error
}

// EndOfUtterance reports whether this frame closed an utterance.
func (s Step) EndOfUtterance() bool {
	return s.Transition == SpeechEnded
}

// Gate is the per-session voice activity state machine. It is not safe for
// concurrent use.
type Gate struct {
	classifier     Classifier
	hangoverFrames int

	state    State
	hangover int // frames spent in Hangover, counting the entering frame
}

// NewGate returns a Gate in the Idle state. hangoverFrames is how many
// consecutive silent frames are retained after speech before the utterance
// ends. Negative values are treated as zero.
func NewGate(classifier Classifier, hangoverFrames int) *Gate {
	if hangoverFrames < 0 {
		hangoverFrames = 0
	}
	return &Gate{classifier: classifier, hangoverFrames: hangoverFrames}
}

// State returns the current state.
func (g *Gate) State() State { return g.state }

// Reset returns the gate to Idle.
func (g *Gate) Reset() {
	g.state = Idle
	g.hangover = 0
}

// Step classifies samples and advances the state machine.
func (g *Gate) Step(samples []int16, sampleRate int) Step {
	d, err := g.classifier.Classify(samples, sampleRate)
	if err != nil {
		d = Silence
	}
	st := g.Advance(d)
	st.Err = err
	return st
}

// Advance moves the state machine on an already made decision.
func (g *Gate) Advance(d Decision) Step {
	st := Step{Decision: d}

	switch g.state {
	case Idle:
		if d == Voice {
			g.state = Speech
			st.Retain = true
			st.Transition = SpeechStarted
		}

	case Speech:
		st.Retain = true
		if d == Silence {
			g.state = Hangover
			g.hangover = 1
		}

	case Hangover:
		switch {
		case d == Voice:
			g.state = Speech
			g.hangover = 0
			st.Retain = true
		case g.hangover >= g.hangoverFrames:
			g.state = Idle
			g.hangover = 0
			st.Transition = SpeechEnded
		default:
			g.hangover++
			st.Retain = true
		}
	}

	st.State = g.state
	return st
}
