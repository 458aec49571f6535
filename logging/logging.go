// Package logging is a thin wrapper around logrus, grounded on the
// teacher's log package: a narrow Logger interface plus a package-level
// global so components can log through the interface instead of
// reaching for fmt.Println or the standard log package.
package logging

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// Fields aliases logrus.Fields.
type Fields = logrus.Fields

// Entry aliases logrus.Entry.
type Entry = logrus.Entry

// Logger is the interface every GroundDB component logs through.
type Logger interface {
	Debug(...interface{})
	Debugf(string, ...interface{})
	Info(...interface{})
	Infof(string, ...interface{})
	Warn(...interface{})
	Warnf(string, ...interface{})
	Error(...interface{})
	Errorf(string, ...interface{})

	WithField(key string, value interface{}) *Entry
	WithFields(Fields) *Entry
	WithContext(context.Context) Logger

	SetLevel(string) error
	SetOutput(io.Writer)
	SetJSONFormatter()
}

type logger struct {
	entry *logrus.Entry
}

// New creates a standalone logger, independent of the package-level global.
func New() Logger {
	l := logrus.New()
	return logger{entry: logrus.NewEntry(l)}
}

func (l logger) WithContext(ctx context.Context) Logger {
	return logger{l.entry.WithContext(ctx)}
}

func (l logger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l logger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l logger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l logger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l logger) WithField(key string, value interface{}) *Entry {
	return l.entry.WithField(key, value)
}

func (l logger) WithFields(fields Fields) *Entry {
	return l.entry.WithFields(fields)
}

func (l logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.entry.Logger.SetLevel(lvl)
	return nil
}

func (l logger) SetOutput(w io.Writer) { l.entry.Logger.SetOutput(w) }

func (l logger) SetJSONFormatter() {
	l.entry.Logger.SetFormatter(&logrus.JSONFormatter{})
}

var (
	origLogger   = logrus.New()
	globalLogger = logger{entry: logrus.NewEntry(origLogger)}
)

// Global returns the package-level default logger.
func Global() Logger { return globalLogger }

// WithField adds a field to the global logger.
func WithField(key string, value interface{}) *Entry {
	return globalLogger.entry.WithField(key, value)
}

// WithFields adds a map of fields to the global logger.
func WithFields(fields Fields) *Entry {
	return globalLogger.entry.WithFields(fields)
}

// SetLevel sets the level of the global logger.
func SetLevel(level string) error { return globalLogger.SetLevel(level) }

// SetOutput sets the output of the global logger.
func SetOutput(w io.Writer) { globalLogger.SetOutput(w) }

// Debug logs at Debug level on the global logger.
func Debug(args ...interface{}) { globalLogger.entry.Debug(args...) }

// Info logs at Info level on the global logger.
func Info(args ...interface{}) { globalLogger.entry.Info(args...) }

// Warn logs at Warn level on the global logger.
func Warn(args ...interface{}) { globalLogger.entry.Warn(args...) }

// Error logs at Error level on the global logger.
func Error(args ...interface{}) { globalLogger.entry.Error(args...) }
