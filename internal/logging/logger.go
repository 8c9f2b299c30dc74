package logging

import (
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger configured for structured production logging.
// When filePath is non-empty the stream goes to that file with rotation
// instead of stderr.
func NewLogger(level, filePath string) (*zap.Logger, error) {
	atomicLevel := parseLevel(level)

	if strings.TrimSpace(filePath) == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = atomicLevel
		return cfg.Build()
	}

	rotator := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 7,
		MaxAge:     28, // days
		Compress:   true,
	}
	sink := zapcore.AddSync(rotator)
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		atomicLevel,
	)
	return zap.New(core, zap.ErrorOutput(sink)), nil
}

func parseLevel(level string) zap.AtomicLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}
