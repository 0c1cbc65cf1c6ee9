// Package log provides the process-wide structured logger.
//
// One logger is initialized once at process startup and retrieved
// everywhere else; it writes to a single truncate-on-start debug log file.
package log

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envLogLevel = "GOFILESEARCH_LOG_LEVEL"

var (
	globalLogger     *zap.Logger
	globalLoggerInit sync.Once
	globalSync       func() error
)

// Init opens (truncating) <dataDir>/file_search_app.log and installs it as
// the process-wide logger. It must be called once, from main(). Subsequent
// calls panic.
func Init(dataDir string) (sync func() error, err error) {
	if IsInitialized() {
		panic("log.Init called multiple times")
	}

	logPath := filepath.Join(dataDir, "file_search_app.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(parseLevel(os.Getenv(envLogLevel)))
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(f), level)

	globalLoggerInit.Do(func() {
		globalLogger = zap.New(core, zap.AddCaller())
		globalSync = func() error {
			_ = globalLogger.Sync()
			return f.Close()
		}
	})
	return globalSync, nil
}

// Get retrieves the global logger. If Init was never called (e.g. in tests
// or library use), it lazily falls back to a stderr logger rather than
// panicking, since the core packages must remain usable as a library.
func Get() *zap.Logger {
	if globalLogger == nil {
		return fallback()
	}
	return globalLogger
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	return globalLogger != nil
}

func fallback() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
