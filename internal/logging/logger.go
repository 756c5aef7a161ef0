package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Logs go to stderr so command output on
// stdout stays machine readable; the local environment gets console output.
func New(environment, level string) (zerolog.Logger, error) {
	return newWithWriter(os.Stderr, environment, level)
}

func newWithWriter(out io.Writer, environment, level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}
	if parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "linkwire").
		Logger(), nil
}

// Component returns a child logger tagged with a pipeline component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
