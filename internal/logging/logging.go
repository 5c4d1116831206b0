package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates a new zerolog logger with console and file output at info level.
func New() zerolog.Logger {
	return NewWithLevel("info", true)
}

// NewWithLevel creates a logger writing to the console and, when toFile is
// set, to the platform log file. Unknown levels fall back to info.
func NewWithLevel(level string, toFile bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	}

	if toFile {
		logPath := Path()

		// Ensure directory exists
		os.MkdirAll(filepath.Dir(logPath), 0755)

		// Open log file
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open log file")
		}
		writers = append(writers, logFile)
	}

	// Multi-writer: console + file
	multi := zerolog.MultiLevelWriter(writers...)

	return zerolog.New(multi).Level(lvl).With().Timestamp().Caller().Logger()
}

// Sampled wraps logger so that at most burst messages per period get through.
// The capture loop logs per-frame faults through it.
func Sampled(logger zerolog.Logger, burst uint32, period time.Duration) zerolog.Logger {
	return logger.Sample(&zerolog.BurstSampler{
		Burst:  burst,
		Period: period,
	})
}

// Path returns the platform-specific log file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "voxgate", "voxgate.log")
}
