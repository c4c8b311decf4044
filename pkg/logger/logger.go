// Package logger provides the structured logging wrapper used by every
// service in the module. It is a thin layer over logrus that pins the
// component name onto each entry.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry carrying the component field.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named component at the given level.
func New(component string, level string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		base.SetLevel(parsed)
	}
	return &Logger{entry: base.WithField("component", component)}
}

// NewDefault creates a logger for the named component at info level.
func NewDefault(component string) *Logger {
	return New(component, "info")
}

// SetOutput redirects the underlying logger output.
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// WithField returns a logger with an extra field attached.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with extra fields attached.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
