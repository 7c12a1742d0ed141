// Package tlog provides the leveled, instance-tagged logger threaded
// through every generator subsystem. There is no global logger: each
// Generator invocation builds its own, seeded from its run id, so that
// concurrent invocations in the same process never interleave fields.
package tlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors the CLI's --verbosity values.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps a --verbosity flag value to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarning:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger wraps a *logrus.Entry carrying a fixed "instance" field so every
// line emitted by one Generator run can be told apart from another's.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger tagged with instanceID, writing to out (os.Stderr
// if nil) at the given level.
func New(instanceID string, level Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level.logrusLevel())
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: false})
	return &Logger{entry: base.WithField("instance", instanceID)}
}

// Noop returns a Logger that discards everything, for tests that don't
// care about log output.
func Noop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: base.WithField("instance", "noop")}
}

// With returns a derived Logger carrying additional structured fields.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
