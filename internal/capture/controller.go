// Package capture runs capture sessions: it reads frames from an audio
// Source, suppresses noise, gates on voice activity and assembles utterances.
//
// Each session has two goroutines. The capture goroutine owns the suppressor,
// gate and assembler and runs at the device cadence. The dispatch goroutine
// drains a mailbox and hands events and end-of-speech utterances to the
// caller. The capture goroutine never waits on it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petems/voxgate/internal/audio"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/denoise"
	"github.com/petems/voxgate/internal/observe"
	"github.com/petems/voxgate/internal/utterance"
	"github.com/petems/voxgate/internal/vad"
	"github.com/rs/zerolog"
)

// Options configures a Controller. Opener is required.
type Options struct {
	Opener audio.Opener

	// Classifier overrides the energy classifier picked from the session's
	// vad_mode.
	Classifier vad.Classifier

	Events EventSink

	// OnUtterance receives utterances finalised without a Stop call: end of
	// speech mid-session, and the partial utterance of a session that was
	// replaced or shut down. It runs on the dispatch goroutine or, for
	// replaced and shut down sessions, on the caller's goroutine.
	OnUtterance func(utterance.Utterance)

	Logger  zerolog.Logger
	Metrics *observe.Metrics

	// DrainTimeout bounds how long Stop waits for the sink and OnUtterance to
	// take what the session already produced. Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration

	// NewSessionID defaults to random UUIDs.
	NewSessionID func() string
}

// DefaultDrainTimeout is used when Options.DrainTimeout is zero.
const DefaultDrainTimeout = 2 * time.Second

// Controller owns the capture device and at most one session on it.
type Controller struct {
	opener      audio.Opener
	classifier  vad.Classifier
	events      EventSink
	onUtterance func(utterance.Utterance)
	log         zerolog.Logger
	metrics     *observe.Metrics
	newID       func() string
	drain       time.Duration

	mu       sync.Mutex // serialises Start, Stop and Shutdown
	source   audio.Source
	srcKey   sourceKey
	shutdown bool
	sess     *session

	current atomic.Pointer[session]
}

type sourceKey struct {
	device      string
	sampleRate  int
	frameLength int
}

// New returns an idle Controller. The device is opened by the first Start.
func New(opts Options) (*Controller, error) {
	if opts.Opener == nil {
		return nil, errors.New("capture: an Opener is required")
	}

	c := &Controller{
		opener:      opts.Opener,
		classifier:  opts.Classifier,
		events:      opts.Events,
		onUtterance: opts.OnUtterance,
		log:         opts.Logger.With().Str("component", "capture").Logger(),
		metrics:     opts.Metrics,
		newID:       opts.NewSessionID,
		drain:       opts.DrainTimeout,
	}
	if c.drain <= 0 {
		c.drain = DefaultDrainTimeout
	}
	if c.events == nil {
		c.events = nopSink{}
	}
	if c.onUtterance == nil {
		c.onUtterance = func(utterance.Utterance) {}
	}
	if c.metrics == nil {
		c.metrics = observe.Nop()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

// Start begins a new session with cfg, replacing any running one. ctx bounds
// opening the device. The device is opened on first use and kept open across
// sessions while the selector and format stay the same.
func (c *Controller) Start(ctx context.Context, cfg config.CaptureConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid capture config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ErrShutdown
	}

	if c.sess != nil {
		c.log.Info().Str("session", c.sess.id).Msg("Replacing active session")
		u, err := c.endLocked(utterance.Replaced)
		if err != nil {
			c.log.Warn().Err(err).Msg("Replaced session had failed")
		}
		if !u.Empty() {
			c.onUtterance(u)
		}
	}

	src, err := c.sourceLocked(ctx, cfg)
	if err != nil {
		c.metrics.RecordCaptureError(context.Background(), DeviceUnavailable.String())
		c.events.Emit(Event{Type: Error, Kind: DeviceUnavailable, Message: err.Error(), Fatal: true})
		return &SessionError{Kind: DeviceUnavailable, Err: err}
	}

	s, err := c.newSession(cfg, src)
	if err != nil {
		return err
	}

	c.sess = s
	c.current.Store(s)
	c.metrics.ActiveSessions.Add(context.Background(), 1)

	s.log.Info().
		Str("device", cfg.DeviceID).
		Int("sample_rate", src.Format().SampleRate).
		Int("frame_length", src.Format().FrameLength).
		Int("transform_size", cfg.TransformSize).
		Int("hangover_frames", cfg.HangoverFrames).
		Msg("Session started")

	go c.dispatch(s)
	go s.run()
	return nil
}

func (c *Controller) sourceLocked(ctx context.Context, cfg config.CaptureConfig) (audio.Source, error) {
	key := sourceKey{device: cfg.DeviceID, sampleRate: cfg.SampleRate, frameLength: cfg.FrameLength}
	if c.source != nil && c.srcKey == key {
		return c.source, nil
	}
	c.closeSourceLocked()

	src, err := c.opener.Open(ctx, cfg.DeviceID, audio.Format{
		SampleRate:  cfg.SampleRate,
		FrameLength: cfg.FrameLength,
		Channels:    1,
	})
	if err != nil {
		return nil, err
	}
	c.source = src
	c.srcKey = key
	return src, nil
}

func (c *Controller) closeSourceLocked() error {
	if c.source == nil {
		return nil
	}
	err := c.source.Close()
	if err != nil {
		c.log.Warn().Err(err).Msg("Closing capture source")
	}
	c.source = nil
	return err
}

func (c *Controller) newSession(cfg config.CaptureConfig, src audio.Source) (*session, error) {
	supp, err := denoise.New(cfg.TransformSize, cfg.EstimationFrames)
	if err != nil {
		return nil, err
	}

	classifier := c.classifier
	if classifier == nil {
		mode, err := vad.ParseMode(cfg.VADMode)
		if err != nil {
			return nil, err
		}
		classifier = vad.NewEnergyClassifier(mode)
	}
	classifier = vad.WithBudget(classifier, cfg.Budget())

	format := src.Format()
	id := c.newID()
	log := c.log.With().Str("session", id).Logger()

	return &session{
		id:         id,
		cfg:        cfg,
		src:        src,
		format:     format,
		log:        log,
		metrics:    c.metrics,
		supp:       supp,
		gate:       vad.NewGate(classifier, cfg.HangoverFrames),
		asm:        utterance.NewAssembler(format.SampleRate, format.SampleRate*5),
		box:        newMailbox(cfg.QueueSize),
		stop:       make(chan struct{}),
		reset:      make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
		dispatched: make(chan struct{}),
	}, nil
}

// Stop halts the running session after its current frame, waits up to the
// drain timeout for pending events and utterances to be delivered, and
// returns what was assembled
// since the last end of speech. If the session had already died on a fatal
// error, the utterance captured before the fault is returned with that error.
// Without a session Stop returns an empty utterance and nil. The device stays
// open.
func (c *Controller) Stop() (utterance.Utterance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return utterance.Utterance{Samples: []int16{}, Channels: 1, MimeType: utterance.MimeType}, nil
	}
	return c.endLocked(utterance.Stopped)
}

func (c *Controller) endLocked(reason utterance.Reason) (utterance.Utterance, error) {
	s := c.sess
	c.sess = nil
	c.current.Store(nil)

	s.halt(reason)
	<-s.loopDone

	timer := time.NewTimer(c.drain)
	select {
	case <-s.dispatched:
		timer.Stop()
	case <-timer.C:
		// The dispatcher keeps delivering in the background.
		s.log.Warn().Dur("waited", c.drain).Msg("Event sink still busy, not waiting for delivery")
	}

	if s.sourceSpent {
		c.closeSourceLocked()
	}

	s.log.Info().
		Str("reason", s.result.Reason.String()).
		Int("samples", len(s.result.Samples)).
		Dur("duration", s.result.Duration).
		Err(s.err).
		Msg("Session ended")

	return s.result, s.err
}

// Shutdown ends any running session, handing its partial utterance to
// OnUtterance, and closes the device for good.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return nil
	}
	c.shutdown = true

	if c.sess != nil {
		u, err := c.endLocked(utterance.Stopped)
		if err != nil {
			c.log.Warn().Err(err).Msg("Session had failed before shutdown")
		}
		if !u.Empty() {
			c.onUtterance(u)
		}
	}
	return c.closeSourceLocked()
}

// ResetNoiseProfile asks the running session to start estimating noise again.
// It does not interrupt capture.
func (c *Controller) ResetNoiseProfile() {
	s := c.current.Load()
	if s == nil {
		return
	}
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Active reports whether a session is running or has ended on its own but
// not yet been stopped.
func (c *Controller) Active() bool {
	return c.current.Load() != nil
}

// SessionID of the current session, or "".
func (c *Controller) SessionID() string {
	if s := c.current.Load(); s != nil {
		return s.id
	}
	return ""
}

// Done is closed when the current session's capture loop exits, whether by
// Stop, end of input or a fatal error. With no session it returns a closed
// channel.
func (c *Controller) Done() <-chan struct{} {
	if s := c.current.Load(); s != nil {
		return s.loopDone
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (c *Controller) dispatch(s *session) {
	defer close(s.dispatched)

	var spare []message
	for {
		batch, ok := s.box.next(spare)
		if !ok {
			return
		}
		for _, m := range batch {
			if m.utterance != nil {
				c.onUtterance(*m.utterance)
				continue
			}
			c.events.Emit(m.event)
		}
		clear(batch)
		spare = batch
	}
}

// isEOF reports a finite source running dry.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
