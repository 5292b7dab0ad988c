// Package logging configures the process-wide zerolog logger.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets up the global logger. "development" gets a console writer,
// anything else gets JSON lines with timestamps and callers. Logs go to
// stderr so command output on stdout stays clean.
func Init(service, env, level string) zerolog.Logger {
	return InitWriter(os.Stderr, service, env, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service, env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().
			Timestamp().
			Str("service", service).
			Logger()
	} else {
		log.Logger = zerolog.New(w).
			With().
			Timestamp().
			Caller().
			Str("service", service).
			Logger()
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(lvl)
	return log.Logger
}

// WithContext attaches the global logger to ctx, so zerolog.Ctx finds it.
func WithContext(ctx context.Context) context.Context {
	return log.Logger.WithContext(ctx)
}
