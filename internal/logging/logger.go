package logging

import (
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON logger at the given level (debug, info, warn, error).
// The returned func flushes buffered entries.
func New(level string) (*slog.Logger, func() error, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return slog.New(zapslog.NewHandler(zapLogger.Core())), zapLogger.Sync, nil
}

// NewWriter builds a JSON logger that writes to w.
func NewWriter(w io.Writer, level zapcore.Level) *slog.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level)
	return slog.New(zapslog.NewHandler(core))
}
