// Package log provides logging services. All logging goes through this layer so that we can
// easily change the logging implementation. Currently backed by logrus.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (level LogLevel) String() string {
	if level < TraceLevel || level > FatalLevel {
		return "unknown"
	}
	return [...]string{"trace", "debug", "info", "warn", "error", "fatal"}[level]
}

// Fields is an alias so callers don't need to import logrus.
type Fields = logrus.Fields

// Logger writes trace/debug/info to one writer and warn/error/fatal to another.
type Logger struct {
	logLevel LogLevel
	info     *logrus.Entry
	errs     *logrus.Entry
}

func newBackend(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// Level filtering is done by us, the backend lets everything through.
	l.SetLevel(logrus.TraceLevel)
	return l
}

func NewLogger(infoOutput, errorOutput io.Writer) *Logger {
	return &Logger{
		logLevel: InfoLevel,
		info:     logrus.NewEntry(newBackend(infoOutput)),
		errs:     logrus.NewEntry(newBackend(errorOutput)),
	}
}

func NewWithPrefix(infoOutput, errorOutput io.Writer, prefix string) *Logger {
	l := NewLogger(infoOutput, errorOutput)
	l.info = l.info.WithField("module", prefix)
	l.errs = l.errs.WithField("module", prefix)
	l.logLevel = defaultLogger.logLevel
	return l
}

var defaultLogger = NewLogger(os.Stdout, os.Stderr)

// WithField returns a copy of the logger that adds key=value to every line.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logLevel: l.logLevel,
		info:     l.info.WithField(key, value),
		errs:     l.errs.WithField(key, value),
	}
}

func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{
		logLevel: l.logLevel,
		info:     l.info.WithFields(fields),
		errs:     l.errs.WithFields(fields),
	}
}

func Trace(v ...interface{}) {
	defaultLogger.Trace(v...)
}

func Debug(v ...interface{}) {
	defaultLogger.Debug(v...)
}

func Info(v ...interface{}) {
	defaultLogger.Info(v...)
}

func Warn(v ...interface{}) {
	defaultLogger.Warn(v...)
}

func Error(v ...interface{}) {
	defaultLogger.Error(v...)
}

func Fatal(v ...interface{}) {
	defaultLogger.Fatal(v...)
}

func Tracef(format string, v ...interface{}) {
	defaultLogger.Tracef(format, v...)
}

func Debugf(format string, v ...interface{}) {
	defaultLogger.Debugf(format, v...)
}

func Infof(format string, v ...interface{}) {
	defaultLogger.Infof(format, v...)
}

func Warnf(format string, v ...interface{}) {
	defaultLogger.Warnf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	defaultLogger.Errorf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	defaultLogger.Fatalf(format, v...)
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.info.Infof(format, v...)
}

func (l *Logger) Tracef(format string, v ...interface{}) {
	if l.logLevel <= TraceLevel {
		l.info.Tracef(format, v...)
	}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.logLevel <= DebugLevel {
		l.info.Debugf(format, v...)
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.logLevel <= InfoLevel {
		l.info.Infof(format, v...)
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.logLevel <= WarnLevel {
		l.errs.Warnf(format, v...)
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.logLevel <= ErrorLevel {
		l.errs.Errorf(format, v...)
	}
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.errs.Fatalf(format, v...)
}

func (l *Logger) Trace(v ...interface{}) {
	if l.logLevel <= TraceLevel {
		l.info.Trace(v...)
	}
}

func (l *Logger) Debug(v ...interface{}) {
	if l.logLevel <= DebugLevel {
		l.info.Debug(v...)
	}
}

func (l *Logger) Info(v ...interface{}) {
	if l.logLevel <= InfoLevel {
		l.info.Info(v...)
	}
}

func (l *Logger) Warn(v ...interface{}) {
	if l.logLevel <= WarnLevel {
		l.errs.Warn(v...)
	}
}

func (l *Logger) Error(v ...interface{}) {
	if l.logLevel <= ErrorLevel {
		l.errs.Error(v...)
	}
}

func (l *Logger) Fatal(v ...interface{}) {
	l.errs.Fatal(v...)
}

// ParseLevel maps the textual level used in config to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "": // Default choice.
		return InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown loglevel: %s", level)
	}
}

func (l *Logger) SetLevelFromString(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	return nil
}

func (l *Logger) SetLevel(level LogLevel) {
	l.logLevel = level
}

func (l *Logger) Level() LogLevel {
	return l.logLevel
}

func SetLevelFromString(level string) error {
	return defaultLogger.SetLevelFromString(level)
}

// SetLevel sets the level of the default logger. Loggers created with NewWithPrefix
// afterwards inherit it.
func SetLevel(level LogLevel) {
	defaultLogger.SetLevel(level)
}

func GetLevel() LogLevel {
	return defaultLogger.logLevel
}
