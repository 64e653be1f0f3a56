// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
	File   string // when set, log here instead of stderr (daemon mode)
}

// New builds the root logger. A file target stays open for the life of
// the process; the daemon exits with it.
func New(opt Options) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	if opt.File != "" {
		f, err := os.OpenFile(opt.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
	}
	if strings.ToLower(opt.Format) == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp().Logger()
	return log, nil
}

// Named returns a child logger with a component field.
func Named(log zerolog.Logger, component string) zerolog.Logger {
	if component == "" {
		return log
	}
	return log.With().Str("component", component).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
