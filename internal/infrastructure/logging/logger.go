// Package logging implements domain/service.Logger on top of zap,
// following the same JSON-everywhere, ISO8601-timestamped configuration
// as the logger package of the wider example corpus, adapted to carry
// loosely-typed key/value pairs the way the application layer's
// Logger.Debug(msg string, args ...any) signature expects.
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/tenant"
)

// Config configures the underlying zap logger.
type Config struct {
	Level       string
	Development bool
	OutputPaths []string
}

func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if len(c.OutputPaths) == 0 {
		c.OutputPaths = []string{"stdout"}
	}
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a service.Logger backed by zap, configured for JSON output
// with ISO8601 timestamps and short caller locations (consistent across
// environments so log aggregation can parse every deployment the same
// way).
func New(cfg Config) (service.Logger, error) {
	cfg.setDefaults()

	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zapCfg.OutputPaths = cfg.OutputPaths
	if cfg.Development {
		zapCfg.Sampling = nil
	}

	z, err := zapCfg.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return &zapLogger{sugar: z.Sugar()}, nil
}

// Must builds a Logger and panics if it fails, for use at process
// start-up where a broken logging configuration should be fatal.
func Must(cfg Config) service.Logger {
	l, err := New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	return l
}

func parseLevel(level string) zapcore.Level {
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

func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

func (l *zapLogger) With(args ...any) service.Logger {
	return &zapLogger{sugar: l.sugar.With(args...)}
}

// WithContext attaches the tenant id carried on ctx, if any, so every
// subsequent entry from the returned logger is tenant-scoped without
// callers needing to pass it explicitly at every log call site.
func (l *zapLogger) WithContext(ctx context.Context) service.Logger {
	tenantID, ok := tenant.FromContext(ctx)
	if !ok {
		return l
	}
	return &zapLogger{sugar: l.sugar.With("tenant_id", tenantID.String())}
}
