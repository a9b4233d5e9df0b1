package internal

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu   sync.RWMutex
	baseLogger = newConsoleLogger(zerolog.InfoLevel)
)

func newConsoleLogger(level zerolog.Level) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// InitLogger configures the global logger from the given configuration.
// With LOG_FILE set, entries are written as JSON to the file; otherwise a
// console writer targets stderr so CLI output on stdout stays clean.
func InitLogger(cfg *Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	level := parseLogLevel(cfg.LogLevel)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return NewValidationError("log_file", "failed to open log file").
				WithSuggestion("Check file permissions and path validity")
		}
		out = file
	}

	baseLogger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// Log returns the global base logger.
func Log() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return baseLogger
}

// LogWith returns a child logger annotated with the given component name.
func LogWith(component string) zerolog.Logger {
	return Log().With().Str("component", component).Logger()
}

// parseLogLevel converts a config string to a zerolog level.
func parseLogLevel(level string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(level))
	if s == "warning" {
		s = "warn"
	}
	if parsed, err := zerolog.ParseLevel(s); err == nil && s != "" {
		return parsed
	}
	return zerolog.InfoLevel
}

// RedactToken shortens session artifacts (jsToken, bdstoken, cookie values)
// before they reach log output.
func RedactToken(s string) string {
	if len(s) <= 8 {
		return "[REDACTED]"
	}
	return s[:6] + "..."
}

// RedactURL is the logging counterpart of error redaction: query strings may
// carry sign/jsToken values and are never logged verbatim.
func RedactURL(url string) string {
	return redactSensitiveURL(url)
}
