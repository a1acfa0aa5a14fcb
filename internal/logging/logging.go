// Package logging sets up zerolog as the process-wide logger and hands out
// component-scoped child loggers.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	base    = zerolog.New(defaultWriter()).With().Timestamp().Logger()
	verbose bool
)

func defaultWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// Init configures the base logger level. Called once from main before any
// component logger is requested.
func Init(isVerbose bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = isVerbose
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	base = base.Level(level)
}

// WithComponent returns a logger tagged with the given component name, so
// each package gets its own sub-logger rather than sharing one
// undifferentiated stream.
func WithComponent(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", component).Logger()
}

// WithTenant further tags a component logger with the tenant it is
// currently operating on, so a round's log lines can be grep'd together.
func WithTenant(l zerolog.Logger, tenant, correlationID string) zerolog.Logger {
	return l.With().Str("tenant", tenant).Str("round_id", correlationID).Logger()
}
