package vad

import (
	"fmt"
	"time"
)

// Budgeted wraps a Classifier so that a verdict arriving later than Budget is
// discarded and reported as ErrClassifierTimeout. The call itself is not
// interrupted; the capture loop is single threaded and a late verdict has
// already cost the time.
type Budgeted struct {
	Classifier Classifier
	Budget     time.Duration

	now func() time.Time
}

// WithBudget wraps c. A zero or negative budget disables the check.
func WithBudget(c Classifier, budget time.Duration) Classifier {
	if budget <= 0 {
		return c
	}
	return &Budgeted{Classifier: c, Budget: budget, now: time.Now}
}

func (b *Budgeted) Classify(samples []int16, sampleRate int) (Decision, error) {
	now := b.now
	if now == nil {
		now = time.Now
	}

	start := now()
	d, err := b.Classifier.Classify(samples, sampleRate)
	if err != nil {
		return Silence, err
	}
	if elapsed := now().Sub(start); elapsed > b.Budget {
		return Silence, fmt.Errorf("%w: took %s, budget %s", ErrClassifierTimeout, elapsed, b.Budget)
	}
	return d, nil
}
