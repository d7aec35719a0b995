// Package log configures the process-wide zerolog logger.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional level name ("debug", "info", ...)
	Output  io.Writer // defaults to os.Stderr
	Service string    // attached to every entry
}

var (
	mu         sync.Mutex
	configured bool
	base       = zerolog.Nop()
)

// Configure installs the global logger. Only the first call has an effect.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if configured {
		return
	}
	configured = true

	level := zerolog.InfoLevel
	name := cfg.Level
	if name == "" {
		name = os.Getenv("TRAFSIM_LOG_LEVEL")
	}
	if name != "" {
		if parsed, err := zerolog.ParseLevel(name); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	service := cfg.Service
	if service == "" {
		service = "trafsim"
	}
	base = zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Base returns the configured logger, or a no-op logger before Configure.
func Base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}
