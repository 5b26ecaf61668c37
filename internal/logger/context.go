package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	sessionIDKey
	principalKey
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, sessionIDKey)
}

// WithPrincipal records who the request is metered against. Empty is ignored.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	if principal == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey, principal)
}

func GetPrincipal(ctx context.Context) string {
	return stringValue(ctx, principalKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// From returns the default logger annotated with whatever request identity ctx carries.
func From(ctx context.Context) *slog.Logger {
	l := slog.Default()
	for _, f := range []struct {
		name string
		key  ctxKey
	}{
		{"trace_id", traceIDKey},
		{"session_id", sessionIDKey},
		{"principal", principalKey},
	} {
		if v := stringValue(ctx, f.key); v != "" {
			l = l.With(f.name, v)
		}
	}
	return l
}
