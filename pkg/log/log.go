package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevel = zapcore.InfoLevel

func init() {
	logger := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(config()),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(logLevel),
	))

	zap.ReplaceGlobals(logger)
}

func config() zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return encoderCfg
}

// Debug logs a debug message with optional key/value
// pairs. Refer to https://godoc.org/go.uber.org/zap
// for more details.
func Debug(msg string, kv ...interface{}) {
	if logLevel <= zapcore.DebugLevel {
		zap.S().Debugw(msg, kv...)
	}
}

// Info logs an info message with optional key/value
// pairs. Refer to https://godoc.org/go.uber.org/zap
// for more details.
func Info(msg string, kv ...interface{}) {
	if logLevel <= zapcore.InfoLevel {
		zap.S().Infow(msg, kv...)
	}
}

// Warn logs a warning message with optional key/value
// pairs. Refer to https://godoc.org/go.uber.org/zap
// for more details.
func Warn(msg string, kv ...interface{}) {
	if logLevel <= zapcore.WarnLevel {
		zap.S().Warnw(msg, kv...)
	}
}

// Error logs an error message with optional key/value
// pairs. Refer to https://godoc.org/go.uber.org/zap
// for more details.
func Error(msg string, kv ...interface{}) {
	if logLevel <= zapcore.ErrorLevel {
		zap.S().Errorw(msg, kv...)
	}
}

// Panic logs a message at panic level and then panics.
func Panic(msg string, kv ...interface{}) {
	zap.S().Panicw(msg, kv...)
}

// Fatal logs a fatal message and exits the process.
func Fatal(msg string, kv ...interface{}) {
	zap.S().Fatalw(msg, kv...)
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return logLevel
}

// SetLevel sets the log level by specifying a string
// which can be any of:
// ["debug", "info", "warn", "warning", "error",
// "panic", "fatal"], case-insensitive.
func SetLevel(level string) error {
	switch Clean(level) {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "info":
		logLevel = zapcore.InfoLevel
	case "warn", "warning":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	case "panic":
		logLevel = zapcore.PanicLevel
	case "fatal":
		logLevel = zapcore.FatalLevel
	default:
		return fmt.Errorf("invalid log level string: %v", level)
	}

	return nil
}

// Clean normalizes free-form text for logging, trimming
// whitespace and lowering the case.
func Clean(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}
