package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Kernel packages derive child
// loggers from it; before Init it is a no-op, so library use without a
// configured logger stays silent instead of panicking.
var Logger = zerolog.Nop()

// Config holds logging configuration.
type Config struct {
	// Level is a zerolog level name (trace, debug, info, warn, error).
	// Empty or unknown names fall back to info.
	Level string
	// JSON selects machine-readable output; the default is a console
	// writer for interactive runs.
	JSON bool
	// Output defaults to stdout.
	Output io.Writer
}

// Init builds the root logger. The level is scoped to this logger
// rather than zerolog's global state, so embedding applications keep
// their own logging untouched.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with a kernel component
// (machine, metronome, coexec, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithExecutive derives a child logger tagged with an executive's name.
// Parallel executives log from their own OS threads; this field is what
// keeps their interleaved output separable.
func WithExecutive(name string) zerolog.Logger {
	return Logger.With().Str("executive", name).Logger()
}

// WithRun derives a child logger tagged with a run identity, for
// harnesses that post-process multi-run output.
func WithRun(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}
