// Package logging adapts cdr.dev/slog to the autoscaler.Logger interface.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"github.com/camwatch/frameparser-autoscaler"
)

// Logger implements autoscaler.Logger on top of a slog.Logger.
type Logger struct {
	log slog.Logger
}

// Compile-time check that Logger implements autoscaler.Logger.
var _ autoscaler.Logger = (*Logger)(nil)

// New creates a human-readable logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	return Wrap(slog.Make(sloghuman.Sink(w)).Leveled(level))
}

// Wrap adapts an existing slog.Logger.
func Wrap(log slog.Logger) *Logger {
	return &Logger{log: log}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() slog.Logger {
	return l.log
}

// Named returns a logger with name appended to its name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{log: l.log.Named(name)}
}

func (l *Logger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log.Debug(ctx, msg, fields(keyvals)...)
}

func (l *Logger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log.Info(ctx, msg, fields(keyvals)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log.Warn(ctx, msg, fields(keyvals)...)
}

func (l *Logger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.log.Error(ctx, msg, fields(keyvals)...)
}

// fields turns alternating key/value pairs into slog fields.
// A trailing key without a value is logged under "!BADKEY".
func fields(keyvals []interface{}) []slog.Field {
	out := make([]slog.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			out = append(out, slog.F("!BADKEY", keyvals[i]))
			break
		}

		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if err, isErr := keyvals[i+1].(error); isErr && key == "error" {
			out = append(out, slog.Error(err))
			continue
		}
		out = append(out, slog.F(key, keyvals[i+1]))
	}
	return out
}

// ParseLevel maps a level name to a slog.Level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", autoscaler.ErrInvalidConfig, s)
}
