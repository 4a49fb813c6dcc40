package domain

import (
	"context"
)

// Logger defines the interface for logging within the application.
// Implementations handle structured logging (JSON with Zap).
// All logging methods accept a context.Context as the first argument so request,
// event and account identifiers stored in it end up on every line.
// The variadic `fields` argument carries structured key-value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // Fatal will call os.Exit(1) after logging

	// With creates a child logger with the provided structured context fields.
	With(fields ...any) Logger
}

// NopLogger discards everything. Used where a logger is optional and in tests.
type NopLogger struct{}

func (NopLogger) Debug(ctx context.Context, msg string, fields ...any) {}
func (NopLogger) Info(ctx context.Context, msg string, fields ...any)  {}
func (NopLogger) Warn(ctx context.Context, msg string, fields ...any)  {}
func (NopLogger) Error(ctx context.Context, msg string, fields ...any) {}
func (NopLogger) Fatal(ctx context.Context, msg string, fields ...any) {}
func (n NopLogger) With(fields ...any) Logger                          { return n }
