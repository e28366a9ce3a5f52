package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the process-wide logging defaults and returns the root
// logger. Console output goes to stderr so stdout stays clean for piped
// plan output.
func Setup(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// ForRun returns a child logger tagged with the review run ID. Every
// component logs through a run-scoped logger so concurrent runs stay
// distinguishable.
func ForRun(base zerolog.Logger, runID string) zerolog.Logger {
	return base.With().Str("run_id", runID).Logger()
}

// Nop returns a disabled logger for tests and library callers that do not
// want output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
