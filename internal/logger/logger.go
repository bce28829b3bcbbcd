// Package logger builds the process-wide zerolog root logger. Everything
// logs JSON to stdout; routing is the collector's job.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns the root logger for the named service. The level defaults to
// info; CONNECT_LOG_LEVEL overrides it. The env var is read directly
// because the logger must exist before the config layer can report its own
// parse failures.
func New(service string) zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("CONNECT_LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Str("service", service).
		Timestamp().
		Logger()
}
