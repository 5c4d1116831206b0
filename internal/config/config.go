package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/petems/voxgate/internal/vad"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Capture    CaptureConfig    `json:"capture" yaml:"capture"`
	Hotkey     HotkeyConfig     `json:"hotkey" yaml:"hotkey"`
	Transcribe TranscribeConfig `json:"transcribe" yaml:"transcribe"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Log        LogConfig        `json:"log" yaml:"log"`

	path string
}

// CaptureConfig holds everything a capture session needs. It is copied into
// the session at Start, so later edits only affect the next session.
type CaptureConfig struct {
	DeviceID         string   `json:"device_id" yaml:"device_id"`
	SampleRate       int      `json:"sample_rate" yaml:"sample_rate"`
	FrameLength      int      `json:"frame_length" yaml:"frame_length"`
	TransformSize    int      `json:"transform_size" yaml:"transform_size"`
	HangoverFrames   int      `json:"hangover_frames" yaml:"hangover_frames"`
	EstimationFrames int      `json:"estimation_frames" yaml:"estimation_frames"`
	ReadRetries      int      `json:"read_retries" yaml:"read_retries"`
	QueueSize        int      `json:"queue_size" yaml:"queue_size"`
	VADMode          string   `json:"vad_mode" yaml:"vad_mode"` // "normal", "low_bitrate", "aggressive", "very_aggressive"
	ClassifierBudget Duration `json:"classifier_budget" yaml:"classifier_budget"`
}

// Hotkey modes.
const (
	HotkeyPushToTalk = "push_to_talk"
	HotkeyToggle     = "toggle"
)

// HotkeyConfig binds a global key chord to listening. An empty Key disables it.
type HotkeyConfig struct {
	Key       string `json:"key" yaml:"key"`               // e.g. "Alt+Space"
	KeyDarwin string `json:"key_darwin" yaml:"key_darwin"` // overrides Key on macOS
	Mode      string `json:"mode" yaml:"mode"`             // "push_to_talk" or "toggle"
}

// Platform returns the chord for the current OS.
func (h HotkeyConfig) Platform() string {
	if runtime.GOOS == "darwin" && h.KeyDarwin != "" {
		return h.KeyDarwin
	}
	return h.Key
}

type TranscribeConfig struct {
	Model     string `json:"model" yaml:"model"`       // "base.en", "small", etc.
	Language  string `json:"language" yaml:"language"` // "auto", "en", etc.
	Threads   int    `json:"threads" yaml:"threads"`
	ModelsDir string `json:"models_dir" yaml:"models_dir"`
}

type OutputConfig struct {
	Clipboard bool   `json:"clipboard" yaml:"clipboard"`
	DumpDir   string `json:"dump_dir" yaml:"dump_dir"`
}

type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  bool   `json:"file" yaml:"file"`
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Capture: DefaultCapture(),
		Hotkey: HotkeyConfig{
			Key:       "Alt+Space",
			KeyDarwin: "Alt+Space", // Option+Space
			Mode:      HotkeyPushToTalk,
		},
		Transcribe: TranscribeConfig{
			Model:    "base.en",
			Language: "auto",
			Threads:  0, // Auto-detect
		},
		Output: OutputConfig{
			Clipboard: true,
		},
		Log: LogConfig{
			Level: "info",
			File:  true,
		},
	}
}

// DefaultCapture is 16 kHz mono with 32 ms frames.
func DefaultCapture() CaptureConfig {
	return CaptureConfig{
		SampleRate:       16000,
		FrameLength:      512,
		TransformSize:    128,
		HangoverFrames:   10,
		EstimationFrames: 100,
		ReadRetries:      1,
		QueueSize:        64,
		VADMode:          "normal",
	}
}

// FramePeriod is the capture cadence.
func (c CaptureConfig) FramePeriod() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameLength) * time.Second / time.Duration(c.SampleRate)
}

// Budget is how long the classifier may take per frame before its result is
// discarded. Defaults to one frame period.
func (c CaptureConfig) Budget() time.Duration {
	if c.ClassifierBudget > 0 {
		return time.Duration(c.ClassifierBudget)
	}
	return c.FramePeriod()
}

// Validate reports every invalid field at once.
func (c CaptureConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_length must be positive, got %d", c.FrameLength))
	}
	if c.TransformSize < 2 {
		errs = append(errs, fmt.Errorf("capture.transform_size must be at least 2, got %d", c.TransformSize))
	}
	if c.FrameLength > 0 && c.TransformSize > c.FrameLength {
		// Every frame would be a remainder and noise suppression would never run.
		errs = append(errs, fmt.Errorf("capture.transform_size %d exceeds capture.frame_length %d", c.TransformSize, c.FrameLength))
	}
	if c.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("capture.hangover_frames must not be negative, got %d", c.HangoverFrames))
	}
	if c.EstimationFrames <= 0 {
		errs = append(errs, fmt.Errorf("capture.estimation_frames must be positive, got %d", c.EstimationFrames))
	}
	if c.ReadRetries < 0 {
		errs = append(errs, fmt.Errorf("capture.read_retries must not be negative, got %d", c.ReadRetries))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size must be positive, got %d", c.QueueSize))
	}
	if _, err := vad.ParseMode(c.VADMode); err != nil {
		errs = append(errs, fmt.Errorf("capture.vad_mode: %w", err))
	}
	if c.ClassifierBudget < 0 {
		errs = append(errs, errors.New("capture.classifier_budget must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Capture.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Hotkey.Mode {
	case HotkeyPushToTalk, HotkeyToggle:
	default:
		errs = append(errs, fmt.Errorf("hotkey.mode must be %q or %q, got %q", HotkeyPushToTalk, HotkeyToggle, c.Hotkey.Mode))
	}
	if c.Transcribe.Threads < 0 {
		errs = append(errs, fmt.Errorf("transcribe.threads must not be negative, got %d", c.Transcribe.Threads))
	}
	return errors.Join(errs...)
}

// Load reads the config from the default location or returns defaults.
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads the config at path. A missing file yields defaults bound to
// that path so Save creates it. Files ending in .yaml or .yml are parsed as
// YAML with environment variables expanded; everything else is JSON.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if isYAML(path) {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "voxgate", "config.json")
}

// ModelsPath returns the directory whisper models are stored in.
func (c TranscribeConfig) ModelsPath() string {
	if c.ModelsDir != "" {
		return c.ModelsDir
	}

	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "voxgate", "models")
}
