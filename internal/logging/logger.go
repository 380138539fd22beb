// Package logging provides SARK's structured logging contract. The
// interface shape (component-aware, context-aware, structured fields) is
// grounded on the teacher's core/interfaces.go Logger/ComponentAwareLogger;
// the backing implementation uses go.uber.org/zap instead of the teacher's
// hand-rolled JSON writer (see DESIGN.md).
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal structured logging contract used throughout SARK.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with component scoping so logs can be
// filtered by subsystem (cache, policy, siem, ...), matching the teacher's
// "framework/<module>" / "agent/<name>" naming convention.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) ComponentAwareLogger
}

// Config mirrors the teacher's LoggingConfig shape.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

type traceKey struct{}

// WithTraceID stashes a trace/correlation id in the context for log correlation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func traceIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceKey{}).(string)
	return v, ok && v != ""
}

type zapLogger struct {
	z         *zap.Logger
	component string
}

// New builds a production ComponentAwareLogger backed by zap.
func New(cfg Config, component string) (ComponentAwareLogger, error) {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	z, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z.With(zap.String("component", component)), component: component}, nil
}

// NoOp returns a logger that discards everything, for tests and defaults.
func NoOp() ComponentAwareLogger {
	return &zapLogger{z: zap.NewNop(), component: ""}
}

func toFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields map[string]interface{}) { l.z.Debug(msg, toFields(fields)...) }
func (l *zapLogger) Info(msg string, fields map[string]interface{})  { l.z.Info(msg, toFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields map[string]interface{})  { l.z.Warn(msg, toFields(fields)...) }
func (l *zapLogger) Error(msg string, fields map[string]interface{}) { l.z.Error(msg, toFields(fields)...) }

func (l *zapLogger) withTrace(ctx context.Context, fields map[string]interface{}) []zap.Field {
	zf := toFields(fields)
	if tid, ok := traceIDFrom(ctx); ok {
		zf = append(zf, zap.String("trace_id", tid))
	}
	return zf
}

func (l *zapLogger) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.z.Debug(msg, l.withTrace(ctx, fields)...)
}
func (l *zapLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.z.Info(msg, l.withTrace(ctx, fields)...)
}
func (l *zapLogger) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.z.Warn(msg, l.withTrace(ctx, fields)...)
}
func (l *zapLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.z.Error(msg, l.withTrace(ctx, fields)...)
}

func (l *zapLogger) WithComponent(component string) ComponentAwareLogger {
	return &zapLogger{z: l.z.With(zap.String("component", component)), component: component}
}
