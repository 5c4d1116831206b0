package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/voxgate/internal/app"
	"github.com/petems/voxgate/internal/audio"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/hotkey"
	"github.com/petems/voxgate/internal/inject"
	"github.com/petems/voxgate/internal/logging"
	"github.com/petems/voxgate/internal/observe"
	"github.com/petems/voxgate/internal/permissions"
	"github.com/petems/voxgate/internal/tray"
	"github.com/petems/voxgate/internal/whisper"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath  string
	input       string
	listDevices bool
	headless    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file (default: platform config dir)")
	flag.StringVar(&opts.input, "input", "", "transcribe a 16-bit mono WAV file instead of a microphone")
	flag.BoolVar(&opts.listDevices, "list-devices", false, "list input devices and exit")
	flag.BoolVar(&opts.headless, "headless", false, "capture without the tray until interrupted")
	flag.Parse()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.Log.Level, cfg.Log.File)

	if err := run(log, cfg, opts); err != nil {
		log.Fatal().Err(err).Msg("voxgate failed")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(log zerolog.Logger, cfg *config.Config, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observe.NewProvider("voxgate", Version)
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	defer shutdownWithTimeout(log, "metrics provider", provider.Shutdown)

	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	appCfg := app.Config{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics,
	}

	if opts.input != "" {
		appCfg.Opener = audio.WAVOpener{}
		cfg.Capture.DeviceID = opts.input
		appCfg.OnTranscript = printTranscript
	} else {
		pa, err := audio.NewPortAudio(log)
		if err != nil {
			return fmt.Errorf("failed to initialize audio: %w", err)
		}
		defer pa.Close()

		if opts.listDevices {
			return printDevices(pa)
		}

		appCfg.Opener = pa
		appCfg.Devices = pa
		// macOS requires explicit microphone approval before capture works
		appCfg.Preflight = permissions.EnsureMicrophone
		if opts.headless {
			appCfg.OnTranscript = printTranscript
		}
	}

	transcriber, err := whisper.New(ctx, cfg.Transcribe, log)
	if err != nil {
		return fmt.Errorf("failed to initialize whisper: %w", err)
	}
	defer transcriber.Close()
	appCfg.Transcriber = transcriber

	if cfg.Output.Clipboard {
		appCfg.Sink = inject.NewClipboard()
	}

	var trayUI *tray.UI
	if opts.input == "" && !opts.headless {
		trayUI = tray.New(cfg, Version, Commit, log, stop)
		appCfg.StatusUpdater = trayUI
	}

	application, err := app.New(appCfg)
	if err != nil {
		return err
	}
	if trayUI != nil {
		trayUI.SetApp(application)
		if closeHotkey := registerHotkey(log, cfg.Hotkey, application); closeHotkey != nil {
			defer closeHotkey()
		}
	}

	log.Info().Str("version", Version).Msg("voxgate starting...")

	// The worker outlives the signal context so queued utterances still get
	// transcribed after an interrupt.
	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		// Only Shutdown ends the worker.
		return application.Run(context.WithoutCancel(gctx))
	})

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := observe.NewServer(addr, provider.Handler(), log)
		g.Go(func() error {
			if err := srv.Start(); err != nil {
				stop()
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-gctx.Done():
			}
			return shutdownWithTimeout(log, "metrics server", srv.Shutdown)
		})
	}

	var runErr error
	switch {
	case opts.input != "":
		runErr = runOnce(ctx, application)
	case opts.headless:
		runErr = runHeadless(ctx, application)
	default:
		go func() {
			<-ctx.Done()
			trayUI.Quit()
		}()
		// Start tray UI - MUST run on main thread
		runErr = trayUI.Run(ctx)
	}

	log.Info().Msg("Shutting down...")
	stop()
	shutdownErr := shutdownWithTimeout(log, "app", application.Shutdown)
	return errors.Join(runErr, shutdownErr, g.Wait())
}

// runOnce captures the whole input file and returns once its last utterance
// has been handed to the worker.
func runOnce(ctx context.Context, application *app.App) error {
	if err := application.StartListening(ctx); err != nil {
		return err
	}
	select {
	case <-application.SessionDone():
	case <-ctx.Done():
	}
	return application.StopListening()
}

func runHeadless(ctx context.Context, application *app.App) error {
	if err := application.StartListening(ctx); err != nil {
		return err
	}
	select {
	case <-application.SessionDone():
		return errors.New("capture ended unexpectedly")
	case <-ctx.Done():
		return nil
	}
}

// registerHotkey binds the configured chord to the app and returns its
// cleanup, or nil when no hotkey is active. The tray works without one.
func registerHotkey(log zerolog.Logger, hk config.HotkeyConfig, application *app.App) func() {
	accel := hk.Platform()
	if accel == "" {
		return nil
	}

	// macOS requires accessibility approval before hotkeys work
	if err := permissions.EnsureAccessibility(); err != nil {
		log.Warn().Err(err).Msg("Hotkey disabled")
		return nil
	}

	mgr, err := hotkey.New()
	if err != nil {
		log.Warn().Err(err).Msg("Hotkey disabled")
		return nil
	}
	if err := mgr.Register(accel, application.OnHotkey); err != nil {
		mgr.Close()
		log.Warn().Err(err).Str("hotkey", accel).Msg("Failed to register hotkey")
		return nil
	}

	log.Info().Str("hotkey", accel).Str("mode", hk.Mode).Msg("Hotkey registered")
	return func() {
		if err := mgr.Close(); err != nil {
			log.Warn().Err(err).Msg("Releasing hotkey")
		}
	}
}

func shutdownWithTimeout(log zerolog.Logger, what string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Str("component", what).Msg("Shutdown error")
		return err
	}
	return nil
}

func printTranscript(t app.Transcript) {
	fmt.Printf("[%s #%d %s %.2fs] %s\n", shortID(t.SessionID), t.Index, t.Reason, t.Duration.Seconds(), t.Text)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printDevices(lister audio.DeviceLister) error {
	devices, err := lister.ListDevices()
	if err != nil {
		return err
	}
	for i, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s #%d %s (%d ch, %.0f Hz)\n", marker, i, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}
