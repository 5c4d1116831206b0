package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/voxgate/internal/audio"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/observe"
	"github.com/petems/voxgate/internal/utterance"
	"github.com/petems/voxgate/internal/vad"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const frameLen = 128

// fakeSource replays scripted frames, then returns io.EOF or, when forever is
// set, keeps producing silent frames at roughly 1 ms intervals.
type fakeSource struct {
	frames  [][]int16
	errAt   map[int]error // keyed by 1-based read count
	forever bool

	reads  int
	served int
	buf    []int16
	closed atomic.Int32
}

func (s *fakeSource) ReadFrame() (audio.Frame, error) {
	s.reads++
	if err, ok := s.errAt[s.reads]; ok {
		return audio.Frame{}, err
	}
	if s.served >= len(s.frames) {
		if !s.forever {
			return audio.Frame{}, io.EOF
		}
		time.Sleep(time.Millisecond)
		for i := range s.buf {
			s.buf[i] = 0
		}
		return audio.Frame{Samples: s.buf, SampleRate: 16000}, nil
	}
	copy(s.buf, s.frames[s.served])
	s.served++
	return audio.Frame{Samples: s.buf, SampleRate: 16000}, nil
}

func (s *fakeSource) Format() audio.Format {
	return audio.Format{SampleRate: 16000, FrameLength: frameLen, Channels: 1}
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeOpener struct {
	src   *fakeSource
	err   error
	opens atomic.Int32
}

func (o *fakeOpener) Open(ctx context.Context, device string, format audio.Format) (audio.Source, error) {
	o.opens.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	o.src.buf = make([]int16, frameLen)
	return o.src, nil
}

type recorder struct {
	mu         sync.Mutex
	events     []Event
	utterances []utterance.Utterance
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) handle(u utterance.Utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, u)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) got() []utterance.Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]utterance.Utterance(nil), r.utterances...)
}

// script builds frames: silent frames are zero, voice frames hold their
// 1-based sequence number in every sample.
type span struct {
	voice bool
	n     int
}

func script(spans ...span) ([][]int16, []vad.Decision) {
	var frames [][]int16
	var decisions []vad.Decision
	for _, sp := range spans {
		for i := 0; i < sp.n; i++ {
			f := make([]int16, frameLen)
			d := vad.Silence
			if sp.voice {
				for j := range f {
					f[j] = int16(len(frames) + 1)
				}
				d = vad.Voice
			}
			frames = append(frames, f)
			decisions = append(decisions, d)
		}
	}
	return frames, decisions
}

// byCall answers from decisions in call order, then says silence. The gate
// classifies each frame exactly once, so call order is frame order.
func byCall(decisions []vad.Decision) vad.Classifier {
	var n int
	return vad.ClassifierFunc(func([]int16, int) (vad.Decision, error) {
		i := n
		n++
		if i < len(decisions) {
			return decisions[i], nil
		}
		return vad.Silence, nil
	})
}

func testConfig() config.CaptureConfig {
	cfg := config.DefaultCapture()
	cfg.FrameLength = frameLen
	cfg.TransformSize = frameLen
	cfg.QueueSize = 1024
	cfg.ClassifierBudget = config.Duration(time.Minute)
	return cfg
}

func newController(t *testing.T, opener audio.Opener, classifier vad.Classifier, rec *recorder) *Controller {
	t.Helper()
	return newControllerWith(t, Options{
		Opener:      opener,
		Classifier:  classifier,
		Events:      rec,
		OnUtterance: rec.handle,
	})
}

func newControllerWith(t *testing.T, opts Options) *Controller {
	t.Helper()
	var ids atomic.Int32
	opts.Logger = zerolog.Nop()
	opts.NewSessionID = func() string {
		return fmt.Sprintf("s%d", ids.Add(1))
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestScenarioSilenceOnly(t *testing.T) {
	frames, decisions := script(span{false, 50})
	rec := &recorder{}
	c := newController(t, &fakeOpener{src: &fakeSource{frames: frames}}, byCall(decisions), rec)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	waitDone(t, c)

	u, err := c.Stop()
	require.NoError(t, err)
	assert.Empty(t, u.Samples)
	assert.NotNil(t, u.Samples)
	assert.Empty(t, rec.got())
	assert.Empty(t, rec.ofType(SpeechStarted))
	assert.Len(t, rec.ofType(FrameCaptured), 50)
}

func TestScenarioSpeechWithHangover(t *testing.T) {
	frames, decisions := script(span{false, 20}, span{true, 30}, span{false, 15})
	rec := &recorder{}
	c := newController(t, &fakeOpener{src: &fakeSource{frames: frames}}, byCall(decisions), rec)

	cfg := testConfig()
	cfg.EstimationFrames = 20
	cfg.HangoverFrames = 10
	require.NoError(t, c.Start(context.Background(), cfg))
	waitDone(t, c)

	rest, err := c.Stop()
	require.NoError(t, err)
	assert.Empty(t, rest.Samples)

	started := rec.ofType(SpeechStarted)
	require.Len(t, started, 1)
	assert.EqualValues(t, 21, started[0].Seq)

	ended := rec.ofType(SpeechEnded)
	require.Len(t, ended, 1)
	assert.EqualValues(t, 61, ended[0].Seq)

	assert.Len(t, rec.ofType(NoiseProfileReady), 1)

	got := rec.got()
	require.Len(t, got, 1)
	u := got[0]
	assert.Equal(t, utterance.EndOfSpeech, u.Reason)
	assert.Equal(t, "s1", u.SessionID)
	assert.Equal(t, 0, u.Index)
	assert.Equal(t, 16000, u.SampleRate)
	assert.Equal(t, 1, u.Channels)
	assert.Equal(t, 20*8*time.Millisecond, u.StartedAt)
	require.Len(t, u.Samples, 40*frameLen)

	// Frames 21-50 carry their sequence number; 51-60 are the silent
	// hangover frames. The zero noise profile leaves both unchanged.
	var want []int16
	for _, f := range frames[20:60] {
		want = append(want, f...)
	}
	assert.Equal(t, want, u.Samples)
}

func TestScenarioReadErrorEndsSession(t *testing.T) {
	frames, decisions := script(span{false, 3}, span{true, 10})
	readErr := fmt.Errorf("%w: device unplugged", audio.ErrRead)
	src := &fakeSource{frames: frames, errAt: map[int]error{10: readErr}}
	rec := &recorder{}
	c := newController(t, &fakeOpener{src: src}, byCall(decisions), rec)

	cfg := testConfig()
	cfg.ReadRetries = 0
	require.NoError(t, c.Start(context.Background(), cfg))
	waitDone(t, c)

	u, err := c.Stop()
	require.Error(t, err)

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReadError, se.Kind)
	assert.ErrorIs(t, err, audio.ErrRead)

	assert.Equal(t, utterance.Failed, u.Reason)
	var want []int16
	for _, f := range frames[3:9] {
		want = append(want, f...)
	}
	assert.Equal(t, want, u.Samples)

	errs := rec.ofType(Error)
	require.Len(t, errs, 1)
	assert.Equal(t, ReadError, errs[0].Kind)
	assert.True(t, errs[0].Fatal)
	assert.Len(t, rec.ofType(FrameCaptured), 9)
	assert.EqualValues(t, 1, src.closed.Load(), "a failed device is released")

	// The error is reported once.
	u, err = c.Stop()
	assert.NoError(t, err)
	assert.Empty(t, u.Samples)
}

func TestReadErrorRetried(t *testing.T) {
	frames, decisions := script(span{false, 12})
	src := &fakeSource{frames: frames, errAt: map[int]error{5: audio.ErrRead}}
	rec := &recorder{}
	c := newController(t, &fakeOpener{src: src}, byCall(decisions), rec)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	waitDone(t, c)

	_, err := c.Stop()
	require.NoError(t, err)
	assert.Len(t, rec.ofType(FrameCaptured), 12)
	assert.Empty(t, rec.ofType(Error))
}

func TestClassifierErrorIsNotFatal(t *testing.T) {
	frames, _ := script(span{false, 10})
	var calls int
	classifier := vad.ClassifierFunc(func([]int16, int) (vad.Decision, error) {
		calls++
		if calls == 5 {
			return vad.Voice, errors.New("model hiccup")
		}
		return vad.Silence, nil
	})
	rec := &recorder{}
	c := newController(t, &fakeOpener{src: &fakeSource{frames: frames}}, classifier, rec)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	waitDone(t, c)

	u, err := c.Stop()
	require.NoError(t, err)
	assert.Empty(t, u.Samples)

	errs := rec.ofType(Error)
	require.Len(t, errs, 1)
	assert.Equal(t, ClassifierError, errs[0].Kind)
	assert.EqualValues(t, 5, errs[0].Seq)
	assert.False(t, errs[0].Fatal)
	assert.Len(t, rec.ofType(FrameCaptured), 10)
}

func TestStopReturnsPartialAndKeepsDeviceOpen(t *testing.T) {
	src := &fakeSource{forever: true}
	opener := &fakeOpener{src: src}
	rec := &recorder{}
	voice := vad.ClassifierFunc(func([]int16, int) (vad.Decision, error) { return vad.Voice, nil })
	c := newController(t, opener, voice, rec)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	assert.True(t, c.Active())
	assert.Equal(t, "s1", c.SessionID())

	require.Eventually(t, func() bool { return len(rec.ofType(FrameCaptured)) >= 5 }, 5*time.Second, time.Millisecond)

	u, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, utterance.Stopped, u.Reason)
	assert.NotEmpty(t, u.Samples)
	assert.Zero(t, len(u.Samples)%frameLen)
	assert.Equal(t, time.Duration(len(u.Samples))*time.Second/16000, u.Duration)
	assert.Equal(t, utterance.MimeType, u.MimeType)
	assert.False(t, c.Active())
	assert.Empty(t, c.SessionID())
	assert.Zero(t, src.closed.Load())

	stopped := rec.ofType(SessionStopped)
	require.Len(t, stopped, 1)

	// Stop is idempotent.
	u, err = c.Stop()
	require.NoError(t, err)
	assert.Empty(t, u.Samples)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	assert.EqualValues(t, 1, opener.opens.Load())
	_, err = c.Stop()
	require.NoError(t, err)
}

func TestStartReplacesActiveSession(t *testing.T) {
	opener := &fakeOpener{src: &fakeSource{forever: true}}
	rec := &recorder{}
	voice := vad.ClassifierFunc(func([]int16, int) (vad.Decision, error) { return vad.Voice, nil })
	c := newController(t, opener, voice, rec)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	require.Eventually(t, func() bool { return len(rec.ofType(FrameCaptured)) >= 3 }, 5*time.Second, time.Millisecond)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	assert.Equal(t, "s2", c.SessionID())

	got := rec.got()
	require.Len(t, got, 1)
	assert.Equal(t, utterance.Replaced, got[0].Reason)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.NotEmpty(t, got[0].Samples)
	assert.EqualValues(t, 1, opener.opens.Load())

	_, err := c.Stop()
	require.NoError(t, err)
}

func TestShutdownIsFinal(t *testing.T) {
	src := &fakeSource{forever: true}
	rec := &recorder{}
	voice := vad.ClassifierFunc(func([]int16, int) (vad.Decision, error) { return vad.Voice, nil })
	c := newController(t, &fakeOpener{src: src}, voice, rec)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	require.Eventually(t, func() bool { return len(rec.ofType(FrameCaptured)) >= 3 }, 5*time.Second, time.Millisecond)

	require.NoError(t, c.Shutdown())
	assert.EqualValues(t, 1, src.closed.Load())
	require.Len(t, rec.got(), 1, "partial utterance handed over on shutdown")

	err := c.Start(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrShutdown)
	assert.NoError(t, c.Shutdown())
}

func TestStartDeviceUnavailable(t *testing.T) {
	opener := &fakeOpener{err: &audio.DeviceError{Device: "USB Mic", Err: errors.New("not found")}}
	rec := &recorder{}
	c := newController(t, opener, nil, rec)

	err := c.Start(context.Background(), testConfig())
	require.Error(t, err)

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, DeviceUnavailable, se.Kind)
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.False(t, c.Active())

	errs := rec.ofType(Error)
	require.Len(t, errs, 1)
	assert.Equal(t, DeviceUnavailable, errs[0].Kind)
}

func TestResetNoiseProfileRestartsEstimation(t *testing.T) {
	rec := &recorder{}
	c := newController(t, &fakeOpener{src: &fakeSource{forever: true}}, nil, rec)

	cfg := testConfig()
	cfg.EstimationFrames = 2
	require.NoError(t, c.Start(context.Background(), cfg))
	require.Eventually(t, func() bool { return len(rec.ofType(NoiseProfileReady)) == 1 }, 5*time.Second, time.Millisecond)

	c.ResetNoiseProfile()
	require.Eventually(t, func() bool { return len(rec.ofType(NoiseProfileReady)) == 2 }, 5*time.Second, time.Millisecond)

	_, err := c.Stop()
	require.NoError(t, err)
	assert.Empty(t, rec.ofType(Error))
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	c := newController(t, &fakeOpener{src: &fakeSource{}}, nil, &recorder{})
	cfg := testConfig()
	cfg.TransformSize = 0
	assert.Error(t, c.Start(context.Background(), cfg))
	assert.False(t, c.Active())
}

func TestNewRequiresOpener(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestDoneWithoutSession(t *testing.T) {
	c := newController(t, &fakeOpener{src: &fakeSource{}}, nil, &recorder{})
	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed without a session")
	}
	c.ResetNoiseProfile()
}

// gatedSink holds every Emit until release is closed.
type gatedSink struct {
	rec     *recorder
	release chan struct{}
}

func (g *gatedSink) Emit(e Event) {
	<-g.release
	g.rec.Emit(e)
}

func droppedEvents(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxgate.capture.events_dropped" {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestSlowEventSinkDropsEventsButKeepsUtterances(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	frames, decisions := script(span{false, 20}, span{true, 30}, span{false, 15})
	src := &fakeSource{frames: frames}
	rec := &recorder{}
	sink := &gatedSink{rec: rec, release: make(chan struct{})}
	c := newControllerWith(t, Options{
		Opener:      &fakeOpener{src: src},
		Classifier:  byCall(decisions),
		Events:      sink,
		OnUtterance: rec.handle,
		Metrics:     metrics,
	})

	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.HangoverFrames = 10
	require.NoError(t, c.Start(context.Background(), cfg))

	// The sink has not returned once, yet the whole input is read.
	waitDone(t, c)
	assert.Equal(t, len(frames), src.served)
	assert.Positive(t, droppedEvents(t, reader))

	close(sink.release)
	_, err = c.Stop()
	require.NoError(t, err)

	got := rec.got()
	require.Len(t, got, 1)
	assert.Len(t, got[0].Samples, 40*frameLen)
	assert.Len(t, rec.ofType(SessionStarted), 1)
	assert.Len(t, rec.ofType(SessionStopped), 1)
}

func TestStopReturnsWhileUtteranceHandlerBlocked(t *testing.T) {
	var spans []span
	for i := 0; i < 6; i++ {
		spans = append(spans, span{true, 3}, span{false, 5})
	}
	frames, decisions := script(spans...)

	rec := &recorder{}
	release := make(chan struct{})
	c := newControllerWith(t, Options{
		Opener:     &fakeOpener{src: &fakeSource{frames: frames}},
		Classifier: byCall(decisions),
		Events:     rec,
		OnUtterance: func(u utterance.Utterance) {
			<-release
			rec.handle(u)
		},
		DrainTimeout: 20 * time.Millisecond,
	})

	cfg := testConfig()
	cfg.QueueSize = 4
	cfg.HangoverFrames = 1
	require.NoError(t, c.Start(context.Background(), cfg))
	waitDone(t, c)

	stopped := make(chan error, 1)
	go func() {
		_, err := c.Stop()
		stopped <- err
	}()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on the utterance handler")
	}

	close(release)
	assert.Eventually(t, func() bool { return len(rec.got()) == 6 }, 5*time.Second, time.Millisecond)
	for i, u := range rec.got() {
		assert.Equal(t, i, u.Index)
		assert.Len(t, u.Samples, 4*frameLen)
	}
}

func TestMailboxKeepsOrderAndDropsOnlyDroppable(t *testing.T) {
	b := newMailbox(2)
	assert.True(t, b.push(message{event: Event{Seq: 1}}, true))
	assert.True(t, b.push(message{event: Event{Seq: 2}}, true))
	assert.False(t, b.push(message{event: Event{Seq: 3}}, true))
	assert.True(t, b.push(message{event: Event{Seq: 4}}, false))

	batch, ok := b.next(nil)
	require.True(t, ok)
	require.Len(t, batch, 3)
	for i, want := range []uint64{1, 2, 4} {
		assert.Equal(t, want, batch[i].event.Seq)
	}

	// Taking the batch frees room for droppable messages again.
	assert.True(t, b.push(message{event: Event{Seq: 5}}, true))
	b.close()
	assert.False(t, b.push(message{event: Event{Seq: 6}}, false))

	batch, ok = b.next(batch)
	require.True(t, ok)
	require.Len(t, batch, 1)
	assert.EqualValues(t, 5, batch[0].event.Seq)

	_, ok = b.next(batch)
	assert.False(t, ok)
}
