package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/getlantern/systray"
	"github.com/petems/voxgate/internal/audio"
	"github.com/petems/voxgate/internal/config"
	"github.com/petems/voxgate/internal/logging"
	"github.com/rs/zerolog"
)

// Controls is what the menu drives.
type Controls interface {
	Toggle(ctx context.Context) error
	IsListening() bool
	ResetNoise()
	ListDevices() ([]audio.Device, error)
	SetDevice(id string) error
}

type UI struct {
	app     Controls
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	mu     sync.Mutex
	status string

	// Menu items
	mStartStop *systray.MenuItem
	mReset     *systray.MenuItem
	mDevices   *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetListening() {
	u.updateStatus("listening")
}

func (u *UI) SetSpeaking() {
	u.updateStatus("speaking")
}

func (u *UI) SetProcessing() {
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// New builds the tray. onQuit runs when Quit is chosen, before the tray exits.
func New(cfg *config.Config, version, commit string, log zerolog.Logger, onQuit func()) *UI {
	return &UI{
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
		onQuit:  onQuit,
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application Controls) {
	u.app = application
}

// Run blocks on the tray event loop. It must be called from the main
// goroutine.
func (u *UI) Run(ctx context.Context) error {
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

// Quit ends Run.
func (u *UI) Quit() {
	systray.Quit()
}

func (u *UI) onReady(ctx context.Context) {
	u.updateStatus("idle")
	systray.SetTooltip("Voice capture")

	// Build menu
	u.mStartStop = systray.AddMenuItem(startStopLabel(false), "Start or stop capturing")
	u.mReset = systray.AddMenuItem("Re-estimate Noise", "Learn the background noise again")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	mModel := systray.AddMenuItem("Model: "+u.cfg.Transcribe.Model, "Whisper model from config")
	mModel.Disable()

	if accel := u.cfg.Hotkey.Platform(); accel != "" {
		mHotkey := systray.AddMenuItem(hotkeyLabel(accel, u.cfg.Hotkey.Mode), "Global hotkey from config")
		mHotkey.Disable()
	}

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "Show log file location")
	mAbout := systray.AddMenuItem("About", "About voxgate")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(ctx, mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(ctx context.Context, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.mStartStop.ClickedCh:
			if err := u.app.Toggle(ctx); err != nil {
				u.log.Error().Err(err).Msg("Toggle failed")
			}
			u.mStartStop.SetTitle(startStopLabel(u.app.IsListening()))
		case <-u.mReset.ClickedCh:
			u.app.ResetNoise()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			if u.onQuit != nil {
				u.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	var mu sync.Mutex
	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if selected(dev, u.cfg.Capture.DeviceID) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to change audio device")
					continue
				}
				mu.Lock()
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				mu.Unlock()
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

// selected reports whether dev is the configured device. An empty selector
// means the system default.
func selected(dev audio.Device, configured string) bool {
	if configured == "" {
		return dev.Default
	}
	return dev.ID == configured
}

func (u *UI) openLogs() {
	fmt.Println("Logs:", logging.Path())
}

func (u *UI) showAbout() {
	fmt.Printf("voxgate %s (%s)\nLocal voice capture\n", u.version, u.commit)
}

func (u *UI) onExit() {
	u.log.Debug().Msg("Tray exited")
}

// Status returns the last status shown.
func (u *UI) Status() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	if u.status == status {
		u.mu.Unlock()
		return
	}
	u.status = status
	u.mu.Unlock()

	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForStatus(status)))
}

func hotkeyLabel(accel, mode string) string {
	if mode == config.HotkeyToggle {
		return "Hotkey: " + accel + " (toggle)"
	}
	return "Hotkey: " + accel + " (hold to talk)"
}

func startStopLabel(listening bool) string {
	if listening {
		return "Stop Listening"
	}
	return "Start Listening"
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "listening":
		return "🟢" // Green - listening, no speech yet
	case "speaking":
		return "🔴" // Red - speech detected
	case "processing":
		return "🟡" // Yellow - processing transcription
	case "idle":
		return "⚫️" // Black - not capturing
	case "error":
		return "⚪️" // White - error
	default:
		return "⚫️"
	}
}
