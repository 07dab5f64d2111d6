// Package logging wraps zerolog configuration used across binaries.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets console output and global level.
func Setup(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: zerolog.TimeFieldFormat})
}

// NoID is the connection identifier used for log lines that have no
// connection context (startup, accept failures).
const NoID = "(no-id)"

// ForConnection returns a logger that stamps every line with the given
// connection id, so call sites don't repeat Str("connection_id", ...)
// the way the teacher's cacheproxy package did at every log call.
func ForConnection(id string) zerolog.Logger {
	if id == "" {
		id = NoID
	}
	return log.With().Str("id", id).Logger()
}
