package logger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

func init() {
	l, err := build("info", "json")
	if err != nil {
		panic(err)
	}
	log = l
}

// Configure rebuilds the process logger. Encoding is "json" or "console".
func Configure(level, encoding string) error {
	l, err := build(level, encoding)
	if err != nil {
		return err
	}
	mu.Lock()
	old := log
	log = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// Silence replaces the logger with a no-op one. Used by tests and quiet CLI runs.
func Silence() {
	mu.Lock()
	log = zap.NewNop().Sugar()
	mu.Unlock()
}

// L returns the current sugared logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func build(level, encoding string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if encoding != "json" && encoding != "console" {
		return nil, fmt.Errorf("invalid log encoding %q (must be 'json' or 'console')", encoding)
	}

	config := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(lvl),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}

	zapLogger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapLogger.Sugar(), nil
}

// Convenience functions

func Infof(template string, args ...interface{}) {
	L().Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	L().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	L().Errorf(template, args...)
}

func Debugf(template string, args ...interface{}) {
	L().Debugf(template, args...)
}

// Event logs a structured event for a component, e.g.
// Event("signal", "decision_fired", map[string]interface{}{"state": "GREEN"}).
func Event(component, eventType string, data map[string]interface{}) {
	kv := make([]interface{}, 0, len(data)*2+6)
	kv = append(kv, "component", component, "event_type", eventType, "timestamp", time.Now().UTC().Format(time.RFC3339))
	for k, v := range data {
		kv = append(kv, k, v)
	}
	L().Infow(eventType, kv...)
}
