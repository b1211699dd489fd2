package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// CharmLogger writes leveled, timestamped entries through charmbracelet/log.
// It is the default backend of the daemon and the demo runner.
type CharmLogger struct {
	logger *log.Logger
}

// NewCharmLogger creates a CharmLogger writing to w (os.Stderr when nil)
// at the given level. Unknown level names fall back to info.
func NewCharmLogger(w io.Writer, level string) *CharmLogger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "warpmaster",
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	return &CharmLogger{logger: l}
}

// Info logs at info level.
func (c *CharmLogger) Info(format string, args ...interface{}) {
	c.logger.Infof(format, args...)
}

// Warning logs at warn level.
func (c *CharmLogger) Warning(format string, args ...interface{}) {
	c.logger.Warnf(format, args...)
}

// Error logs at error level.
func (c *CharmLogger) Error(format string, args ...interface{}) {
	c.logger.Errorf(format, args...)
}

// WithFields returns a child logger carrying the key/value pairs.
func (c *CharmLogger) WithFields(kv ...interface{}) Logger {
	return &CharmLogger{logger: c.logger.With(kv...)}
}

// Close is a no-op; the writer is owned by the caller.
func (c *CharmLogger) Close() error {
	return nil
}

var _ Logger = (*CharmLogger)(nil)
