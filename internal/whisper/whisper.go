// Package whisper transcribes utterances with a local whisper.cpp model.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/transcribe"
	"github.com/rs/zerolog"
)

// SampleRate is the only rate whisper.cpp accepts.
const SampleRate = whisperlib.SampleRate

type Transcriber struct {
	log      zerolog.Logger
	language string
	threads  int

	mu    sync.Mutex
	model whisperlib.Model
}

// New loads the configured model, downloading it first if it is missing.
func New(ctx context.Context, cfg config.TranscribeConfig, log zerolog.Logger) (*Transcriber, error) {
	log = log.With().Str("component", "whisper").Logger()
	modelPath := filepath.Join(cfg.ModelsPath(), cfg.Model+".bin")

	if _, err := os.Stat(modelPath); errors.Is(err, os.ErrNotExist) {
		if err := Download(ctx, cfg.Model, modelPath, log); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	log.Info().Str("model", cfg.Model).Str("path", modelPath).Msg("Whisper model loaded")

	return &Transcriber{
		log:      log,
		language: cfg.Language,
		threads:  cfg.Threads,
		model:    model,
	}, nil
}

// Transcribe runs one utterance through a fresh whisper context. The context
// is checked before inference starts; whisper.cpp itself cannot be
// interrupted.
func (w *Transcriber) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if len(req.Samples) == 0 {
		return transcribe.Result{}, transcribe.ErrEmpty
	}
	if req.SampleRate != SampleRate {
		return transcribe.Result{}, fmt.Errorf("whisper needs %d Hz audio, got %d", SampleRate, req.SampleRate)
	}
	if err := ctx.Err(); err != nil {
		return transcribe.Result{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == nil {
		return transcribe.Result{}, errors.New("whisper model is closed")
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("failed to create context: %w", err)
	}

	if w.threads > 0 {
		wctx.SetThreads(uint(w.threads))
	}
	if w.language != "" && w.language != "auto" {
		if err := wctx.SetLanguage(w.language); err != nil {
			w.log.Warn().Err(err).Str("language", w.language).Msg("Failed to set language, using default")
		}
	}
	wctx.SetTranslate(false)

	samples := transcribe.Float32(req.Samples, req.Channels)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper process failed: %w", err)
	}

	var (
		parts  []string
		pSum   float64
		tokens int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcribe.Result{}, fmt.Errorf("failed to read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			pSum += float64(tok.P)
			tokens++
		}
	}

	res := transcribe.Result{Text: strings.Join(parts, " "), Confidence: -1}
	if tokens > 0 {
		res.Confidence = pSum / float64(tokens)
	}
	return res, nil
}

// Close releases the model.
func (w *Transcriber) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model != nil {
		err := w.model.Close()
		w.model = nil
		return err
	}
	return nil
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
