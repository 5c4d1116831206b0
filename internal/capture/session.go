package capture

import (
	"context"
	"sync"
	"time"

	"github.com/petems/voxgate/internal/audio"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/denoise"
	"github.com/petems/voxgate/internal/logging"
	"github.com/petems/voxgate/internal/observe"
	"github.com/petems/voxgate/internal/utterance"
	"github.com/petems/voxgate/internal/vad"
	"github.com/rs/zerolog"
)

// message crosses from the capture goroutine to the dispatcher. Exactly one
// of event or utterance is meaningful.
type message struct {
	event     Event
	utterance *utterance.Utterance
}

type session struct {
	id      string
	cfg     config.CaptureConfig
	src     audio.Source
	format  audio.Format
	log     zerolog.Logger
	metrics *observe.Metrics

	// Owned by run.
	supp  *denoise.Suppressor
	gate  *vad.Gate
	asm   *utterance.Assembler
	index int

	box   *mailbox
	reset chan struct{}

	stop       chan struct{}
	stopOnce   sync.Once
	stopReason utterance.Reason

	loopDone   chan struct{}
	dispatched chan struct{}

	// Written by run before loopDone is closed.
	result      utterance.Utterance
	err         error
	sourceSpent bool
}

// halt asks run to finish. reason is stored before the channel is closed so
// run sees it once it observes the close.
func (s *session) halt(reason utterance.Reason) {
	s.stopOnce.Do(func() {
		s.stopReason = reason
		close(s.stop)
	})
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// emit queues an event. When queue_size events are already waiting it is
// dropped and counted.
func (s *session) emit(ev Event) {
	ev.SessionID = s.id
	if !s.box.push(message{event: ev}, true) {
		s.metrics.EventsDropped.Add(context.Background(), 1)
	}
}

// deliver queues a message that must not be lost. Neither call waits on the
// dispatcher.
func (s *session) deliver(m message) {
	m.event.SessionID = s.id
	s.box.push(m, false)
}

func (s *session) run() {
	ctx := context.Background()
	hot := logging.Sampled(s.log, 5, time.Second)
	period := s.format.FramePeriod()

	defer close(s.loopDone)
	defer s.box.close()
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	s.deliver(message{event: Event{Type: SessionStarted}})

	reason := utterance.Stopped
	var (
		seq      uint64
		failures int
	)

loop:
	for {
		if s.stopped() {
			reason = s.stopReason
			break
		}
		select {
		case <-s.reset:
			s.supp.ResetNoiseProfile()
			s.log.Info().Msg("Noise profile reset, re-estimating")
		default:
		}

		frame, err := s.src.ReadFrame()
		if err != nil {
			if isEOF(err) {
				s.log.Info().Uint64("frames", seq).Msg("End of input")
				s.sourceSpent = true
				break loop
			}

			failures++
			s.metrics.RecordCaptureError(ctx, ReadError.String())
			if failures <= s.cfg.ReadRetries {
				hot.Warn().Err(err).Int("attempt", failures).Msg("Frame read failed, retrying")
				continue
			}

			s.log.Error().Err(err).Int("attempts", failures).Msg("Frame read failed, ending session")
			s.err = &SessionError{Kind: ReadError, Err: err}
			s.sourceSpent = true
			reason = utterance.Failed
			s.deliver(message{event: Event{Type: Error, Kind: ReadError, Message: err.Error(), Fatal: true}})
			break loop
		}
		failures = 0

		seq++
		frame.Seq = seq
		frame.Offset = time.Duration(seq-1) * period
		s.process(ctx, frame, hot)
	}

	s.result = s.asm.Utterance(s.id, s.index, reason)
	s.metrics.RecordUtterance(ctx, reason.String(), s.result.Duration.Seconds())
	s.deliver(message{event: Event{Type: SessionStopped, Seq: seq, Offset: time.Duration(seq) * period}})
}

func (s *session) process(ctx context.Context, frame audio.Frame, hot zerolog.Logger) {
	level := frame.Level()
	start := time.Now()

	st := s.supp.Process(frame.Samples)
	if st.Errors > 0 {
		s.metrics.RecordCaptureError(ctx, TransformError.String())
		hot.Warn().Int("sub_blocks", st.Errors).Uint64("seq", frame.Seq).Msg("Sub-blocks passed through unsuppressed")
		s.emit(Event{Type: Error, Kind: TransformError, Seq: frame.Seq, Message: denoise.ErrTransformSize.Error()})
	}
	if st.ProfileReady {
		s.log.Info().Uint64("seq", frame.Seq).Msg("Noise profile ready")
		s.emit(Event{Type: NoiseProfileReady, Seq: frame.Seq, Offset: frame.Offset})
	}

	step := s.gate.Step(frame.Samples, frame.SampleRate)
	if step.Err != nil {
		s.metrics.RecordCaptureError(ctx, ClassifierError.String())
		hot.Warn().Err(step.Err).Uint64("seq", frame.Seq).Msg("Classifier failed, treating frame as silence")
		s.emit(Event{Type: Error, Kind: ClassifierError, Seq: frame.Seq, Message: step.Err.Error()})
	}

	s.asm.Push(frame, step.Retain)

	s.metrics.FrameProcessing.Record(ctx, time.Since(start).Seconds())
	s.metrics.FramesCaptured.Add(ctx, 1)
	if step.Retain {
		s.metrics.FramesRetained.Add(ctx, 1)
	}

	s.emit(Event{Type: FrameCaptured, Seq: frame.Seq, Offset: frame.Offset, Level: level})

	switch step.Transition {
	case vad.SpeechStarted:
		s.emit(Event{Type: SpeechStarted, Seq: frame.Seq, Offset: frame.Offset})
	case vad.SpeechEnded:
		s.emit(Event{Type: SpeechEnded, Seq: frame.Seq, Offset: frame.Offset})
		u := s.asm.Utterance(s.id, s.index, utterance.EndOfSpeech)
		s.index++
		s.metrics.RecordUtterance(ctx, u.Reason.String(), u.Duration.Seconds())
		s.log.Info().Int("index", u.Index).Dur("duration", u.Duration).Msg("Utterance complete")
		s.deliver(message{utterance: &u})
	}
}
