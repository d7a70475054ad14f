// Package logger - Structured logging shared by every component of an evaluation run.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers do not import logrus directly.
type Fields = logrus.Fields

// RunIDKey is the field that tags every line of one evaluation run.
const RunIDKey = "run_id"

// Options configures the process logger.
type Options struct {
	// Level is a logrus level name; empty means info.
	Level string
	// File enables rotated file output in addition to stderr.
	File string
	// JSON switches to the JSON formatter.
	JSON bool
	// Output overrides stderr, mostly for tests.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "02 Jan 06 - 15:04:05"})
	return l
}

// Init replaces the process logger.
//
// Arguments:
//   - opts: The logger options.
//
// Returns:
//   - *logrus.Logger: The configured logger.
//   - error: When the level cannot be parsed.
func Init(opts Options) (*logrus.Logger, error) {
	l := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	l.SetLevel(level)

	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "02 Jan 06 - 15:04:05"})
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{out}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	mu.Lock()
	logger = l
	mu.Unlock()
	return l, nil
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}

// WithRunID returns an entry tagged with a fresh run identifier.
func WithRunID() (*logrus.Entry, string) {
	id := uuid.NewString()
	return Logger().WithField(RunIDKey, id), id
}

// Info logs msg with fields at info level.
func Info(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	Logger().WithFields(fields).Info(msg)
}

// Warn logs msg with fields at warning level.
func Warn(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	Logger().WithFields(fields).Warn(msg)
}

// Error logs msg with fields at error level.
func Error(fields Fields, msg string) {
	if fields == nil {
		fields = Fields{}
	}
	Logger().WithFields(fields).Error(msg)
}
