// Package logging builds the structured logger shared by every lspadapter component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum level to output ("trace", "debug", "info", "warn", "error").
	Level string
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// JSON selects the JSON formatter instead of the text formatter.
	JSON bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: os.Stderr,
	}
}

// ParseLevel parses a logrus level name. Unknown names fall back to info.
func ParseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// New creates a logger with the given configuration.
func New(cfg Config) *logrus.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(cfg.Output)
	l.SetLevel(ParseLevel(cfg.Level))
	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000",
		})
	}
	return l
}

// Discard returns a logger that drops everything. Used as the default when
// a caller passes no logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// WithComponent scopes a logger to a component.
func WithComponent(l logrus.FieldLogger, component string) logrus.FieldLogger {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", component)
}
