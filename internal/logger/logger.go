package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root hclog.Logger
)

func init() {
	root = hclog.New(&hclog.LoggerOptions{
		Name:   "velocut",
		Level:  levelFromEnv(),
		Output: os.Stderr,
	})
}

func levelFromEnv() hclog.Level {
	switch strings.ToLower(os.Getenv("VELOCUT_LOG_LEVEL")) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}

// SetLogger replaces the process logger. Used by tests and by embedders that
// already own an hclog hierarchy.
func SetLogger(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// Named returns a component-scoped sub-logger.
func Named(name string) hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// Info logs informational messages
func Info(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Debug(msg, args...)
}
