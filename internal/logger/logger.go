package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the root zerolog logger. Components derive their own loggers
// from it via log.With().Str("component", ...).
//   - level: trace, debug, info, warn, error, fatal, panic (default info)
//   - format: "pretty" for human-readable dev output, anything else is JSON
func Setup(level, format string) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if strings.EqualFold(format, "pretty") {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}
