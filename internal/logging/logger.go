// Package logging configures the global zerolog logger and emits the
// startup summary of each binary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	LevelEnv  = "RESTYLE_LOG_LEVEL"
	FormatEnv = "RESTYLE_LOG_FORMAT"
)

// Init initializes the global logger from the environment.
// RESTYLE_LOG_LEVEL: debug, info, warn, error (default: info).
// RESTYLE_LOG_FORMAT: console (default) or json.
func Init() {
	InitWith(os.Getenv(LevelEnv), os.Getenv(FormatEnv), os.Stderr)
}

// InitWith configures the global logger explicitly.
func InitWith(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
