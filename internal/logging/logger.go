package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

// String returns the upper-case level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name such as "debug" into a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	for level, levelName := range levelNames {
		if strings.EqualFold(name, levelName) {
			return level, true
		}
	}
	return LevelInfo, false
}

// zapLevel maps our level onto the minimum zap level that must be enabled.
// TRACE has no zap counterpart and is written at debug level.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// levelState is shared between a logger and every logger derived from it
// with WithPrefix, so SetLevel on the root affects all of them.
type levelState struct {
	mu    sync.RWMutex
	level LogLevel
	atom  zap.AtomicLevel
}

// Logger provides structured logging capabilities
type Logger struct {
	prefix string
	state  *levelState
	sugar  *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("VMOUNTFS")

		// Set initial log level from environment
		if name := os.Getenv("LOG_LEVEL"); name != "" {
			if level, ok := ParseLevel(name); ok {
				defaultLogger.SetLevel(level)
			}
		}

		// Enable debug logging if FUSE_DEBUG is set
		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix writing to stdout.
func NewLogger(prefix string) *Logger {
	return newLogger(prefix, zapcore.Lock(os.Stdout))
}

func newLogger(prefix string, out zapcore.WriteSyncer) *Logger {
	state := &levelState{
		level: LevelInfo, // Default to INFO level
		atom:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	caller := zap.AddCaller()
	if os.Getenv("LOG_LONGFILE") != "" {
		encCfg.EncodeCaller = zapcore.FullCallerEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, state.atom)
	base := zap.New(core, caller, zap.AddCallerSkip(2)).Named(prefix)

	return &Logger{
		prefix: prefix,
		state:  state,
		sugar:  base.Sugar(),
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.level = level
	l.state.atom.SetLevel(level.zapLevel())
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	l.state.mu.RLock()
	defer l.state.mu.RUnlock()
	return l.state.level
}

// shouldLog determines if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	return level <= l.Level()
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	switch level {
	case LevelError:
		l.sugar.Errorf(format, args...)
	case LevelWarn:
		l.sugar.Warnf(format, args...)
	case LevelInfo:
		l.sugar.Infof(format, args...)
	case LevelDebug:
		l.sugar.Debugf(format, args...)
	default:
		l.sugar.Debugf("[TRACE] "+format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger with an additional prefix. The new logger
// shares its level with the parent.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		prefix: l.prefix + "." + prefix,
		state:  l.state,
		sugar:  l.sugar.Named(prefix),
	}
}

// Prefix returns the dotted prefix of this logger
func (l *Logger) Prefix() string {
	return l.prefix
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
