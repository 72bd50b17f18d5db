// Package logging provides leveled, contextual logging for the urpc runtime.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// Logger wraps a structured leveled logger, optionally carrying fields
// bound by With* (channel, queue, task, error context).
type Logger struct {
	logger *charmlog.Logger
	level  LogLevel
	mu     *sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) charm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Format string // "text" (default) or "json"
	Output io.Writer
	Sync   bool // not read by NewLogger; every call already writes to Output directly
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	opts := charmlog.Options{
		ReportTimestamp: true,
		Level:           config.Level.charm(),
	}
	if config.Format == "json" {
		opts.Formatter = charmlog.JSONFormatter
	}
	cl := charmlog.NewWithOptions(output, opts)
	if config.NoColor {
		cl.SetColorProfile(termenv.Ascii)
	}
	return &Logger{
		logger: cl,
		level:  config.Level,
		mu:     &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) withFields(kv ...any) *Logger {
	return &Logger{
		logger: l.logger.With(kv...),
		level:  l.level,
		mu:     l.mu,
	}
}

// WithChannel binds a channel identifier to every subsequent log line.
func (l *Logger) WithChannel(channelID uint32) *Logger {
	return l.withFields("channel_id", channelID)
}

// WithDevice is kept for callers still thinking in single-device terms;
// it binds the identifier under the "device_id" key rather than
// WithChannel's "channel_id".
func (l *Logger) WithDevice(id uint32) *Logger {
	return l.withFields("device_id", id)
}

// WithQueue binds a queue identifier.
func (l *Logger) WithQueue(queueID uint32) *Logger {
	return l.withFields("queue_id", queueID)
}

// WithTask binds a task identifier and the workflow step it's running.
func (l *Logger) WithTask(taskID uint32, workflow string) *Logger {
	return l.withFields("task_id", taskID, "workflow", workflow)
}

// WithRequest binds a request tag and opcode, kept from the block-I/O
// ancestor for request-scoped tracing (tag/op apply equally to a queue
// work-request slot).
func (l *Logger) WithRequest(tag int, op string) *Logger {
	return l.withFields("tag", tag, "op", op)
}

// WithError binds an error to the log context.
func (l *Logger) WithError(err error) *Logger {
	return l.withFields("error", err)
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch level {
	case LevelDebug:
		l.logger.Debug(msg, args...)
	case LevelWarn:
		l.logger.Warn(msg, args...)
	case LevelError:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Printf-style logging, kept for call sites that build their own message.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Printf for compatibility with code expecting a plain Printf-style sink.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
