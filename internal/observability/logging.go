package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a sugared logger with the given level: debug|info|warn|error.
// sink selects the destinations: "console", "file" or "both"; filePath is the
// log file used by the file-backed sinks.
func NewLogger(level, sink, filePath string) (*zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	var paths []string
	switch strings.ToLower(sink) {
	case "console":
		paths = []string{"stdout"}
	case "file":
		paths = []string{filePath}
	case "both", "":
		paths = []string{"stdout", filePath}
	default:
		return nil, fmt.Errorf("unknown log sink %q", sink)
	}
	for _, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("log sink %q needs a file path", sink)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      paths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// EnvLogLevel returns log level from LOG_LEVEL or default if unset.
func EnvLogLevel(def string) string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return def
}
