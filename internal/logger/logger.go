// Package logger builds the zap loggers used for operational logs.
// Domain events go through package events; this is for process-level
// diagnostics (engine console output, startup, shutdown).
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Component names passed to For.
const (
	ComponentEngine     = "engine"
	ComponentConsole    = "engine.console"
	ComponentStateSpace = "statespace"
	ComponentModelCheck = "modelcheck"
	ComponentReplay     = "replay"
	ComponentAPI        = "api"
	ComponentMQTT       = "mqtt"
	ComponentStorage    = "storage"
)

var (
	once   sync.Once
	global *zap.Logger
)

// ParseLevel converts a level name to a zapcore level. Unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a logger writing to stderr. Stdout is left for command output.
func New(level string, format Format) *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	}

	var encoder zapcore.Encoder
	if format == FormatConsole {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zap.NewAtomicLevelAt(ParseLevel(level)))
	return zap.New(core, zap.AddCaller())
}

// Init installs the global logger. Later calls are ignored.
func Init(level string, format Format) {
	once.Do(func() {
		global = New(level, format)
		zap.ReplaceGlobals(global)
	})
}

// For returns a named sugared logger for a component, initializing the
// global logger from LOG_LEVEL and LOG_FORMAT if needed.
func For(component string) *zap.SugaredLogger {
	Init(os.Getenv("LOG_LEVEL"), Format(strings.ToLower(os.Getenv("LOG_FORMAT"))))
	return global.Sugar().Named(component)
}

// Sync flushes the global logger.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
