// Package logger provides structured logging for every component in this
// module behind a component-tagged call convention
// (InfoC/InfoCF/DebugC/WarnCF/ErrorCF: component name plus optional
// structured fields), backed by go.uber.org/zap.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

func init() {
	log = build("console", "info")
}

// Format selects the encoder; ARBOR_LOGFMT is one of
// "console" or "json".
func build(format, level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core)
}

// Configure rebuilds the global logger from ARBOR_LOGFMT/level settings
// (pkg/config.EnvConfig). Safe to call once at runtime.Start.
func Configure(format, level string) {
	mu.Lock()
	defer mu.Unlock()
	if old := log; old != nil {
		_ = old.Sync()
	}
	log = build(format, level)
}

func fieldsToZap(f map[string]interface{}) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// DebugC logs a debug-level message tagged with a component name.
func DebugC(component, msg string) {
	current().Debug(msg, zap.String("component", component))
}

// DebugCF logs a debug-level message with a component name and fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// InfoC logs an info-level message tagged with a component name.
func InfoC(component, msg string) {
	current().Info(msg, zap.String("component", component))
}

// InfoCF logs an info-level message with a component name and fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// WarnC logs a warning-level message tagged with a component name.
func WarnC(component, msg string) {
	current().Warn(msg, zap.String("component", component))
}

// WarnCF logs a warning-level message with a component name and fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// ErrorC logs an error-level message tagged with a component name.
func ErrorC(component, msg string) {
	current().Error(msg, zap.String("component", component))
}

// ErrorCF logs an error-level message with a component name and fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, append([]zap.Field{zap.String("component", component)}, fieldsToZap(fields)...)...)
}

// Sync flushes any buffered log entries; called from runtime.Stop.
func Sync() error {
	return current().Sync()
}
