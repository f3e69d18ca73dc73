// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Throttled emits at most one warning per interval and drops the rest.
type Throttled struct {
	logger *zap.Logger
	gate   *rate.Sometimes
}

// NewThrottled wraps logger with a per-interval gate.
func NewThrottled(logger *zap.Logger, interval time.Duration) *Throttled {
	return &Throttled{
		logger: OrNop(logger),
		gate:   &rate.Sometimes{First: 1, Interval: interval},
	}
}

// Warn logs msg unless another warning was emitted within the interval.
func (t *Throttled) Warn(msg string, fields ...zap.Field) {
	t.gate.Do(func() {
		t.logger.Warn(msg, fields...)
	})
}
