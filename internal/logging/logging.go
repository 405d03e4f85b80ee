// Package logging provides global logging functions for reportbot.
// Use dot import to access L_info, L_error, etc. directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	mu     sync.Mutex
	logger *log.Logger

	// current Level constant; trace is filtered here since charm has no trace level
	level atomic.Int32

	// rotating file sink, nil when logging only to stderr
	fileSink *lumberjack.Logger

	shuttingDown atomic.Bool
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level      int
	TimeFormat string
	ShowCaller bool

	// File enables a rotated log file next to stderr output.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// DefaultLogConfig returns sensible defaults
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: true,
		MaxSizeMB:  20,
		MaxBackups: 5,
	}
}

// ParseLevel maps a level name to one of the Level constants.
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Init (re)configures the global logger. Lines logged before the first Init
// go to stderr with the defaults.
func Init(cfg *LogConfig) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	mu.Lock()
	defer mu.Unlock()

	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		fileSink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, fileSink)
	}

	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // Skip two frames (logMsg -> L_* -> caller)
	})
	applyLevel(l, cfg.Level)
	logger = l
}

func applyLevel(l *log.Logger, lvl int) {
	level.Store(int32(lvl))
	switch lvl {
	case LevelTrace, LevelDebug:
		l.SetLevel(log.DebugLevel)
	case LevelInfo:
		l.SetLevel(log.InfoLevel)
	case LevelWarn:
		l.SetLevel(log.WarnLevel)
	case LevelError, LevelFatal:
		l.SetLevel(log.ErrorLevel)
	}
}

// current returns the logger, initializing it with defaults on first use.
func current() *log.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		Init(nil)
		mu.Lock()
		l = logger
		mu.Unlock()
	}
	return l
}

// hasFmtVerb checks if a string contains printf-style format verbs
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

// logMsg handles the flexible logging format:
// - logMsg(level, "message") -> simple
// - logMsg(level, "value is %d", 42) -> printf
// - logMsg(level, "loaded", "key", val, ...) -> structured
func logMsg(lvl log.Level, msg string, args ...interface{}) {
	l := current()

	var finalMsg string
	var keyvals []interface{}

	switch {
	case len(args) == 0:
		finalMsg = msg
	case hasFmtVerb(msg):
		finalMsg = fmt.Sprintf(msg, args...)
	default:
		finalMsg = msg
		keyvals = args
	}

	switch lvl {
	case log.DebugLevel:
		l.Debug(finalMsg, keyvals...)
	case log.InfoLevel:
		l.Info(finalMsg, keyvals...)
	case log.WarnLevel:
		l.Warn(finalMsg, keyvals...)
	case log.ErrorLevel:
		l.Error(finalMsg, keyvals...)
	}
}

// L_trace logs at debug level, only when the configured level is trace.
// whatsmeow's protocol chatter goes here.
func L_trace(msg string, args ...interface{}) {
	if level.Load() < LevelTrace {
		return
	}
	logMsg(log.DebugLevel, msg, args...)
}

// L_debug logs at debug level
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}

// SetLevel changes the log level at runtime
func SetLevel(lvl int) {
	l := current()
	mu.Lock()
	defer mu.Unlock()
	applyLevel(l, lvl)
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	return err
}

// SetShuttingDown marks the application as shutting down
func SetShuttingDown() {
	shuttingDown.Store(true)
	L_info("application shutting down")
}

// IsShuttingDown returns true if application is shutting down
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
