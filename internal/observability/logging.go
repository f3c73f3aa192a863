package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured logger on stdout tagged with the component
// name. COVER_LOG_LEVEL sets the level (default info) and
// COVER_LOG_FORMAT=console switches to human-readable output for local runs.
func NewLogger(component string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("COVER_LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewLoggerTo(out, component, ParseLogLevel(os.Getenv("COVER_LOG_LEVEL")))
}

// NewLoggerTo writes to out at an explicit level.
func NewLoggerTo(out io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a level name to a zerolog level. Unknown names fall
// back to info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel
	case "off":
		return zerolog.Disabled
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// ForCommand tags a logger with the command being processed.
func ForCommand(l zerolog.Logger, eventType, key string) zerolog.Logger {
	return l.With().Str("event_type", eventType).Str("key", key).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
