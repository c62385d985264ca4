// Package logger builds the zerolog loggers both commands share.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"example.com/h3probe/internal/config"
)

// Options configure a logger.
type Options struct {
	// Level is the minimum severity. Unknown values fall back to info.
	Level config.LogLevel
	// Format selects JSON or console output.
	Format config.LogFormat
	// Out is the destination. Nil means stderr.
	Out io.Writer
}

// New creates a configured zerolog.Logger with timestamps attached.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Format == config.LogFormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
}

// FromConfig builds a logger from a loaded configuration.
func FromConfig(cfg *config.Config, out io.Writer) zerolog.Logger {
	return New(Options{
		Level:  *cfg.Logging.Level,
		Format: *cfg.Logging.Format,
		Out:    out,
	})
}

func parseLevel(lvl config.LogLevel) zerolog.Level {
	switch lvl {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarn:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
