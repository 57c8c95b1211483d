// Package logger holds the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	Log = build(os.Getenv("APP_ENV"), zerolog.InfoLevel)
}

// Configure rebuilds the global logger once configuration has been loaded.
// Any env other than "production" gets the human readable console output.
func Configure(level, env string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	Log = build(env, lvl)
}

func build(env string, lvl zerolog.Level) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// Nop swaps the global logger for a disabled one and returns a restore func.
// Tests use it to keep output quiet.
func Nop() func() {
	prev := Log
	Log = zerolog.Nop()
	return func() { Log = prev }
}
