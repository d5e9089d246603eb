package utils

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "partnersync"

type contextKey string

const correlationIDKey contextKey = "correlation_id"

type Logger struct {
	component string
	base      *zap.Logger
}

// InitLogger builds the process-wide zap logger and installs it as zap.L().
func InitLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
	}

	lvl := zapcore.InfoLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// NewLogger returns a component logger backed by the current global zap logger.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// NewLoggerWith is used where a specific zap logger must be injected, mostly tests.
func NewLoggerWith(base *zap.Logger, component string) *Logger {
	return &Logger{component: component, base: base}
}

func (l *Logger) entry() *zap.Logger {
	base := l.base
	if base == nil {
		base = zap.L()
	}
	return base.With(zap.String("component", l.component))
}

func (l *Logger) Debug(ctx context.Context, message string, fields ...zap.Field) {
	l.entry().Debug(message, withContext(ctx, fields)...)
}

func (l *Logger) Info(ctx context.Context, message string, fields ...zap.Field) {
	l.entry().Info(message, withContext(ctx, fields)...)
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...zap.Field) {
	l.entry().Warn(message, withContext(ctx, fields)...)
}

func (l *Logger) Error(ctx context.Context, message string, fields ...zap.Field) {
	l.entry().Error(message, withContext(ctx, fields)...)
}

func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if id := GetCorrelationID(ctx); id != "" {
		return append(fields, zap.String("correlation_id", id))
	}
	return fields
}

func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}
