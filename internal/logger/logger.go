// Package logger provides the leveled logging sink used across the proxy.
// The cluster core takes a Logger so callers control where output goes.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal leveled interface the proxy components depend on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type logrusLogger struct {
	l *logrus.Logger
}

// New returns a logrus-backed Logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(level string) Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &logrusLogger{l: l}
}

// NewWithOutput is like New but writes to out. Tests use it to capture
// or silence output.
func NewWithOutput(level string, out io.Writer) Logger {
	lg := New(level).(*logrusLogger)
	lg.l.SetOutput(out)
	return lg
}

func (lg *logrusLogger) Debugf(format string, v ...interface{}) { lg.l.Debugf(format, v...) }
func (lg *logrusLogger) Infof(format string, v ...interface{})  { lg.l.Infof(format, v...) }
func (lg *logrusLogger) Warnf(format string, v ...interface{})  { lg.l.Warnf(format, v...) }
func (lg *logrusLogger) Errorf(format string, v ...interface{}) { lg.l.Errorf(format, v...) }

// Discard drops everything. Used as the default when no logger is injected.
var Discard Logger = discard{}

type discard struct{}

func (discard) Debugf(string, ...interface{}) {}
func (discard) Infof(string, ...interface{})  {}
func (discard) Warnf(string, ...interface{})  {}
func (discard) Errorf(string, ...interface{}) {}
