package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. level is one of debug, info,
// warn, error (default info). format "console" forces human-readable output,
// "json" forces JSON; empty picks console only when stderr is a terminal.
func Init(level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if useConsole(format) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

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

func useConsole(format string) bool {
	switch strings.ToLower(format) {
	case "console":
		return true
	case "json":
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd())
}
