// Package log configures the process-wide zerolog logger and provides
// component-scoped child loggers.
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
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
}

var (
	once sync.Once
	base zerolog.Logger
)

// envOrDefault returns explicit if non-empty, else the named environment
// variable if set, else fallback.
func envOrDefault(explicit, envKey, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return fallback
}

func resolveLevel(explicit string) zerolog.Level {
	raw := envOrDefault(explicit, "NHKREC_LOG_LEVEL", "")
	if raw == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

// Configure initialises the global zerolog logger on its first call, which
// is this package's init (environment only). Writer and service are fixed
// by that first call; a later call with a non-empty Level re-applies the
// global level, which is how the daemon's --log-level/--verbose flags take
// effect.
func Configure(cfg Config) {
	defer func() {
		if cfg.Level != "" {
			zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
		}
	}()
	once.Do(func() {
		zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stdout
		}

		service := envOrDefault(cfg.Service, "NHKREC_LOG_SERVICE", "nhkrecd")

		base = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Int("pid", os.Getpid()).
			Logger()
	})
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}

func init() {
	Configure(Config{})
}
