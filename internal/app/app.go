package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/voxgate/internal/audio"
	"github.com/petems/voxgate/internal/capture"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/inject"
	"github.com/petems/voxgate/internal/observe"
	"github.com/petems/voxgate/internal/transcribe"
	"github.com/petems/voxgate/internal/utterance"
	"github.com/petems/voxgate/internal/vad"
	"github.com/rs/zerolog"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetListening()
	SetSpeaking()
	SetProcessing()
	SetError()
}

// Transcript is one transcribed utterance.
type Transcript struct {
	SessionID  string
	Index      int
	Text       string
	Confidence float64
	Duration   time.Duration
	Reason     utterance.Reason
}

type Config struct {
	Opener        audio.Opener
	Devices       audio.DeviceLister     // Optional
	Classifier    vad.Classifier         // Optional - energy classifier from config when nil
	Transcriber   transcribe.Transcriber // Optional - utterances are only dumped when nil
	Sink          inject.Sink            // Optional
	Preflight     func() error           // Optional - runs before every capture session
	OnTranscript  func(Transcript)       // Optional
	Config        *config.Config
	Logger        zerolog.Logger
	Metrics       *observe.Metrics // Optional
	StatusUpdater StatusUpdater    // Optional - can be nil
}

type App struct {
	capture      *capture.Controller
	devices      audio.DeviceLister
	stt          transcribe.Transcriber
	sink         inject.Sink
	preflight    func() error
	onTranscript func(Transcript)
	cfg          *config.Config
	log          zerolog.Logger
	metrics      *observe.Metrics
	status       StatusUpdater

	mu        sync.Mutex // serialises starting and stopping
	listening atomic.Bool

	// Utterances waiting for the worker. enqueue never blocks.
	pmu     sync.Mutex
	pending []utterance.Utterance
	wake    chan struct{}

	closed     chan struct{}
	closeOnce  sync.Once
	workerDone chan struct{}
	workerOnce sync.Once
}

// backlogWarn is the queue depth at which transcription is reported as
// falling behind.
const backlogWarn = 8

func New(cfg Config) (*App, error) {
	a := &App{
		devices:      cfg.Devices,
		stt:          cfg.Transcriber,
		sink:         cfg.Sink,
		preflight:    cfg.Preflight,
		onTranscript: cfg.OnTranscript,
		cfg:          cfg.Config,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		status:       cfg.StatusUpdater,
		wake:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	if a.metrics == nil {
		a.metrics = observe.Nop()
	}

	ctrl, err := capture.New(capture.Options{
		Opener:      cfg.Opener,
		Classifier:  cfg.Classifier,
		Events:      capture.EventSinkFunc(a.onEvent),
		OnUtterance: a.enqueue,
		Logger:      cfg.Logger,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.capture = ctrl
	return a, nil
}

// SetStatusUpdater attaches the tray after construction. Call it before
// listening starts.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.status = s
}

// Toggle starts listening when idle and stops otherwise.
func (a *App) Toggle(ctx context.Context) error {
	if a.IsListening() {
		return a.StopListening()
	}
	return a.StartListening(ctx)
}

// OnHotkey handles the global hotkey. In push-to-talk mode a press starts
// listening and the release stops it; in toggle mode each press flips it.
func (a *App) OnHotkey(pressed bool) {
	ctx := context.Background()

	var err error
	switch {
	case a.cfg.Hotkey.Mode == config.HotkeyToggle:
		if pressed {
			err = a.Toggle(ctx)
		}
	case pressed:
		err = a.StartListening(ctx)
	default:
		err = a.StopListening()
	}
	if err != nil {
		a.log.Error().Err(err).Bool("pressed", pressed).Msg("Hotkey action failed")
	}
}

func (a *App) StartListening(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listening.Load() {
		return nil
	}

	if a.preflight != nil {
		if err := a.preflight(); err != nil {
			a.log.Error().Err(err).Msg("Microphone not available")
			a.setStatus(StatusUpdater.SetError)
			return err
		}
	}

	a.log.Info().Str("device", a.cfg.Capture.DeviceID).Msg("Starting listening")
	if err := a.capture.Start(ctx, a.cfg.Capture); err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		a.setStatus(StatusUpdater.SetError)
		return err
	}
	a.listening.Store(true)
	a.setStatus(StatusUpdater.SetListening)

	id := a.capture.SessionID()
	done := a.capture.Done()
	go func() {
		<-done
		a.sessionEnded(id)
	}()
	return nil
}

// sessionEnded collects a session whose capture loop stopped by itself,
// at end of input or on a fatal error.
func (a *App) sessionEnded(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.listening.Load() || a.capture.SessionID() != id {
		return
	}
	if err := a.stopLocked(); err != nil {
		a.log.Error().Err(err).Msg("Capture session failed")
	}
}

func (a *App) StopListening() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

func (a *App) stopLocked() error {
	if !a.listening.Load() {
		return nil
	}

	a.log.Info().Msg("Stopping listening")
	a.listening.Store(false)

	u, err := a.capture.Stop()
	if !u.Empty() {
		a.setStatus(StatusUpdater.SetProcessing)
		a.enqueue(u)
	}

	if err != nil {
		a.setStatus(StatusUpdater.SetError)
		var se *capture.SessionError
		if errors.As(err, &se) {
			return fmt.Errorf("capture stopped with %s: %w", se.Kind, err)
		}
		return err
	}
	if u.Empty() {
		a.setStatus(StatusUpdater.SetIdle)
	}
	return nil
}

func (a *App) IsListening() bool {
	return a.listening.Load()
}

// SessionDone is closed when the current capture loop exits.
func (a *App) SessionDone() <-chan struct{} {
	return a.capture.Done()
}

// ResetNoise re-estimates the background noise without stopping capture.
func (a *App) ResetNoise() {
	a.log.Info().Msg("Re-estimating noise profile")
	a.capture.ResetNoiseProfile()
}

func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listening.Load() {
		return fmt.Errorf("cannot change device while listening")
	}

	a.cfg.Capture.DeviceID = id
	return a.cfg.Save()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	if a.devices == nil {
		return nil, errors.New("device listing not supported")
	}
	return a.devices.ListDevices()
}

// Run transcribes utterances until ctx ends or Shutdown has drained the
// queue.
func (a *App) Run(ctx context.Context) error {
	defer a.workerOnce.Do(func() { close(a.workerDone) })
	for {
		a.drain(ctx)
		select {
		case <-a.wake:
		case <-a.closed:
			a.drain(ctx)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) drain(ctx context.Context) {
	for {
		u, ok := a.next()
		if !ok {
			return
		}
		a.process(ctx, u)
	}
}

func (a *App) next() (utterance.Utterance, bool) {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	if len(a.pending) == 0 {
		return utterance.Utterance{}, false
	}
	u := a.pending[0]
	a.pending[0] = utterance.Utterance{}
	a.pending = a.pending[1:]
	return u, true
}

// Shutdown stops listening, releases the device and lets Run finish the
// utterances already queued. It gives up when ctx ends.
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		a.mu.Lock()
		stopErr := a.stopLocked()
		a.mu.Unlock()
		done <- errors.Join(stopErr, a.capture.Shutdown())
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("capture shutdown: %w", ctx.Err())
	}
	a.closeOnce.Do(func() { close(a.closed) })
	return err
}

func (a *App) enqueue(u utterance.Utterance) {
	if u.Empty() {
		return
	}
	select {
	case <-a.workerDone:
		a.log.Warn().Int("index", u.Index).Msg("Dropping utterance, transcription worker has stopped")
		return
	default:
	}

	a.pmu.Lock()
	a.pending = append(a.pending, u)
	depth := len(a.pending)
	a.pmu.Unlock()

	if depth >= backlogWarn {
		a.log.Warn().Int("pending", depth).Msg("Transcription is falling behind")
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *App) process(ctx context.Context, u utterance.Utterance) {
	log := a.log.With().Str("session", u.SessionID).Int("index", u.Index).Logger()

	if dir := a.cfg.Output.DumpDir; dir != "" {
		if err := dumpWAV(dir, u); err != nil {
			log.Warn().Err(err).Msg("Failed to dump utterance")
		}
	}

	if a.stt == nil {
		a.finishProcessing()
		return
	}

	start := time.Now()
	res, err := a.stt.Transcribe(ctx, transcribe.Request{
		Samples:    u.Samples,
		SampleRate: u.SampleRate,
		Channels:   u.Channels,
	})
	a.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.TranscribeErrors.Add(ctx, 1)
		log.Error().Err(err).Msg("Transcription failed")
		a.setStatus(StatusUpdater.SetError)
		return
	}

	text := inject.Tidy(res.Text)
	if text == "" {
		log.Info().Dur("duration", u.Duration).Msg("No speech recognised")
		a.finishProcessing()
		return
	}

	log.Info().
		Str("text", text).
		Float64("confidence", res.Confidence).
		Dur("duration", u.Duration).
		Dur("latency", time.Since(start)).
		Msg("Transcribed")

	if a.onTranscript != nil {
		a.onTranscript(Transcript{
			SessionID:  u.SessionID,
			Index:      u.Index,
			Text:       text,
			Confidence: res.Confidence,
			Duration:   u.Duration,
			Reason:     u.Reason,
		})
	}

	if a.sink != nil && a.cfg.Output.Clipboard {
		if err := a.sink.Deliver(ctx, text); err != nil {
			log.Error().Err(err).Msg("Failed to deliver transcript")
			a.setStatus(StatusUpdater.SetError)
			return
		}
	}
	a.finishProcessing()
}

func (a *App) finishProcessing() {
	if a.IsListening() {
		a.setStatus(StatusUpdater.SetListening)
	} else {
		a.setStatus(StatusUpdater.SetIdle)
	}
}

func (a *App) onEvent(ev capture.Event) {
	switch ev.Type {
	case capture.SpeechStarted:
		a.log.Debug().Uint64("seq", ev.Seq).Msg("Speech started")
		a.setStatus(StatusUpdater.SetSpeaking)
	case capture.SpeechEnded:
		a.log.Debug().Uint64("seq", ev.Seq).Msg("Speech ended")
		a.setStatus(StatusUpdater.SetProcessing)
	case capture.NoiseProfileReady:
		a.log.Debug().Msg("Noise profile ready")
	case capture.Error:
		if ev.Fatal {
			a.log.Error().Str("kind", ev.Kind.String()).Str("error", ev.Message).Msg("Capture failed")
			a.setStatus(StatusUpdater.SetError)
		}
	}
}

// setStatus calls fn on the status updater if there is one. The updater is
// only replaced before capture starts, so it is read without locking.
func (a *App) setStatus(fn func(StatusUpdater)) {
	if s := a.status; s != nil {
		fn(s)
	}
}

func dumpWAV(dir string, u utterance.Utterance) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%03d-%s.wav", u.SessionID, u.Index, u.Reason)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := u.WriteWAV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
