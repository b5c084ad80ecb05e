package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	l *logrus.Logger
}

func New(out io.Writer, level string) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true}) //nolint:exhaustruct

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	l.SetLevel(lvl)

	return &Logger{l: l}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(io.Discard, "panic")
}

func (l *Logger) LogErrorf(format string, v ...any) {
	l.l.Errorf(format, v...)
}

func (l *Logger) LogWarnf(format string, v ...any) {
	l.l.Warnf(format, v...)
}

func (l *Logger) LogInfo(format string, v ...any) {
	l.l.Infof(format, v...)
}

func (l *Logger) LogDebugf(format string, v ...any) {
	l.l.Debugf(format, v...)
}
