package postgres

import (
	"fmt"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the logging interface used by this module. Fields added with
// WithField and WithFields are attached to every subsequent message.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
}

// LoggerConfig configures the logger returned by NewLogger.
type LoggerConfig struct {
	Output io.Writer
	Level  string // debug, info, warn or error
	JSON   bool
}

// NewLogger returns a Logger backed by charmbracelet/log.
//
//nolint:ireturn // Returns interface so callers can swap implementations
func NewLogger(cfg LoggerConfig) (Logger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := charmlog.InfoLevel

	if cfg.Level != "" {
		var err error

		level, err = charmlog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	l := charmlog.NewWithOptions(cfg.Output, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		Level:           level,
	})

	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	}

	return &charmLogger{l: l}, nil
}

type charmLogger struct {
	l *charmlog.Logger
}

//nolint:ireturn // Must return interface to implement Logger
func (c *charmLogger) WithField(key string, value any) Logger {
	return &charmLogger{l: c.l.With(key, value)}
}

//nolint:ireturn // Must return interface to implement Logger
func (c *charmLogger) WithFields(fields map[string]any) Logger {
	keyvals := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		keyvals = append(keyvals, k, v)
	}

	return &charmLogger{l: c.l.With(keyvals...)}
}

func (c *charmLogger) Debug(msg string)                  { c.l.Debug(msg) }
func (c *charmLogger) Debugf(format string, args ...any) { c.l.Debugf(format, args...) }
func (c *charmLogger) Info(msg string)                   { c.l.Info(msg) }
func (c *charmLogger) Infof(format string, args ...any)  { c.l.Infof(format, args...) }
func (c *charmLogger) Warn(msg string)                   { c.l.Warn(msg) }
func (c *charmLogger) Warnf(format string, args ...any)  { c.l.Warnf(format, args...) }
func (c *charmLogger) Error(msg string)                  { c.l.Error(msg) }
func (c *charmLogger) Errorf(format string, args ...any) { c.l.Errorf(format, args...) }

// NopLogger returns a Logger that discards everything.
//
//nolint:ireturn // Returns interface so callers can swap implementations
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

//nolint:ireturn // Must return interface to implement Logger
func (n nopLogger) WithField(_ string, _ any) Logger { return n }

//nolint:ireturn // Must return interface to implement Logger
func (n nopLogger) WithFields(_ map[string]any) Logger { return n }
func (nopLogger) Debug(_ string)                       {}
func (nopLogger) Debugf(_ string, _ ...any)            {}
func (nopLogger) Info(_ string)                        {}
func (nopLogger) Infof(_ string, _ ...any)             {}
func (nopLogger) Warn(_ string)                        {}
func (nopLogger) Warnf(_ string, _ ...any)             {}
func (nopLogger) Error(_ string)                       {}
func (nopLogger) Errorf(_ string, _ ...any)            {}
