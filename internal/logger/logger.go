// Package logger provides leveled, module-tagged logging for the Gestalyze processes.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[Level]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[Level]string{
		DEBUG: "\033[36m",
		INFO:  "\033[32m",
		WARN:  "\033[33m",
		ERROR: "\033[31m",
	}

	resetColor = "\033[0m"
)

// Logger writes leveled messages tagged with the emitting module.
type Logger struct {
	mu       sync.Mutex
	level    Level
	useColor bool
	out      *log.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(INFO, os.Stderr, false)
)

// Init replaces the process-wide logger. Call once at startup.
func Init(level Level, output io.Writer, useColor bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = New(level, output, useColor)
}

// New creates a new Logger writing to output (stderr when nil).
func New(level Level, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		level:    level,
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current log level.
func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) log(level Level, module string, format string, args ...any) {
	l.mu.Lock()
	current := l.level
	l.mu.Unlock()

	if level < current || level == SILENT {
		return
	}

	prefix := "[" + levelNames[level] + "]"
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func (l *Logger) Debug(module string, format string, args ...any) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(module string, format string, args ...any) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(module string, format string, args ...any) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(module string, format string, args ...any) {
	l.log(ERROR, module, format, args...)
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message using the process-wide logger.
func Debug(module string, format string, args ...any) {
	current().Debug(module, format, args...)
}

// Info logs an info message using the process-wide logger.
func Info(module string, format string, args ...any) {
	current().Info(module, format, args...)
}

// Warn logs a warning message using the process-wide logger.
func Warn(module string, format string, args ...any) {
	current().Warn(module, format, args...)
}

// Error logs an error message using the process-wide logger.
func Error(module string, format string, args ...any) {
	current().Error(module, format, args...)
}

// ParseLevel parses a log level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
