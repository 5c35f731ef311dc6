// Package wxlog provides the structured logger used across the scheduler,
// build pipeline, and API. It mirrors the call shape the teacher codebase
// used against its internal go.airbusds-geo.com/log wrapper (Structured,
// Logger(ctx), Sugar(ctx)) backed directly by zap.
package wxlog

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

var base = zap.NewNop()

// Structured switches the package logger to a production JSON encoder.
// Call once at process startup, matching cmd/tiler's PersistentPreRunE.
func Structured() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// Development switches the package logger to a human-readable console encoder.
func Development() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// WithLogger returns a context carrying l, retrievable with Logger.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Logger returns the logger attached to ctx, or the package-level default.
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return base
}

// Sugar is a convenience wrapper around Logger(ctx).Sugar().
func Sugar(ctx context.Context) *zap.SugaredLogger {
	return Logger(ctx).Sugar()
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	return base.Sync()
}
