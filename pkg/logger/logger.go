// Package logger 提供结构化日志功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ContextKey 用于从 context 中提取值的键类型
type ContextKey string

// 预定义的 context 键
const (
	TraceIDKey   ContextKey = "trace_id"
	SpanIDKey    ContextKey = "span_id"
	TenantIDKey  ContextKey = "tenant_id"
	RunIDKey     ContextKey = "run_id"
	StageKey     ContextKey = "stage"
	RequestIDKey ContextKey = "request_id"
)

// contextKeys 日志字段的输出顺序
var contextKeys = []ContextKey{TraceIDKey, SpanIDKey, TenantIDKey, RunIDKey, StageKey, RequestIDKey}

// sensitiveKeys 字段名包含这些片段时输出掩码
var sensitiveKeys = []string{"secret", "api_key", "apikey", "password", "signature", "authorization", "token"}

const redacted = "[REDACTED]"

var defaultLogger *slog.Logger

// Init 初始化日志器
func Init(level string, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter 初始化输出到指定 writer 的日志器
func InitWithWriter(w io.Writer, level string, format string) {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		AddSource:   true,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// redact 屏蔽租户密钥、投递签名等字段
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	// token 用量类字段（prompt_tokens 等）不是凭据
	if strings.HasSuffix(key, "_tokens") {
		return a
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default 返回默认日志器
func Default() *slog.Logger {
	if defaultLogger == nil {
		Init("info", "json")
	}
	return defaultLogger
}

// FromContext 从 Context 提取租户、运行和追踪信息创建带上下文的 Logger
//
// context 中没有显式的 trace_id 时，回退到当前活动 Span 的标识。
func FromContext(ctx context.Context) *slog.Logger {
	l := Default()

	var args []any
	for _, k := range contextKeys {
		if v := ctx.Value(k); v != nil {
			args = append(args, string(k), v)
		}
	}
	if ctx.Value(TraceIDKey) == nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			args = append(args, string(TraceIDKey), sc.TraceID().String(), string(SpanIDKey), sc.SpanID().String())
		}
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// WithContext 将日志上下文信息注入到 context
func WithContext(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// WithRun 注入租户与运行标识，供流水线各阶段日志使用
func WithRun(ctx context.Context, tenantID, runID string) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithStage 注入当前流水线阶段
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

// Info 记录 INFO 级别日志
func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// Debug 记录 DEBUG 级别日志
func Debug(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}

// Warn 记录 WARN 级别日志
func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// Error 记录 ERROR 级别日志
func Error(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	FromContext(ctx).Error(msg, args...)
}

// Fatal 记录错误并退出进程
func Fatal(ctx context.Context, msg string, err error, args ...any) {
	Error(ctx, msg, err, args...)
	os.Exit(1)
}
