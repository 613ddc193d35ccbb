// Package logging wraps log/slog behind a small context-first Logger. The
// gRPC and REST layers stamp every request with an id and park a request
// logger on the context; core services pull it back out with FromContext.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field is one key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field                 { return Field{Key: key, Value: value} }
func Int(key string, value int) Field                { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field        { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field                { return Field{Key: key, Value: value} }

// Err logs err under "error"; nil becomes "".
func Err(err error) Field {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Field{Key: "error", Value: msg}
}

type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config mirrors LOG_LEVEL and LOG_FORMAT. Output defaults to stdout.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New builds a slog-backed Logger. Unknown levels fall back to info and
// anything other than "json" produces text output.
func New(cfg Config) Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	level, ok := levels[strings.ToLower(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	return &slogger{l: slog.New(h)}
}

// Noop discards everything.
func Noop() Logger { return noop{} }

type slogger struct {
	l *slog.Logger
}

func (s *slogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	s.l.LogAttrs(ctx, level, msg, attrs(fields)...)
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelDebug, msg, fields)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelInfo, msg, fields)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelWarn, msg, fields)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelError, msg, fields)
}

func (s *slogger) With(fields ...Field) Logger {
	as := attrs(fields)
	args := make([]any, len(as))
	for i, a := range as {
		args[i] = a
	}
	return &slogger{l: s.l.With(args...)}
}

type noop struct{}

func (noop) Debug(context.Context, string, ...Field) {}
func (noop) Info(context.Context, string, ...Field)  {}
func (noop) Warn(context.Context, string, ...Field)  {}
func (noop) Error(context.Context, string, ...Field) {}
func (noop) With(...Field) Logger                    { return noop{} }

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// ContextWithRequestID records the id the façades echo back as x-request-id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns "" when ctx carries no request id.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// EnsureRequestID keeps an existing request id or mints a UUID.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return ContextWithRequestID(ctx, id), id
}

// WithRequestLogger returns ctx with a request id and base tagged with it.
func WithRequestLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx, id := EnsureRequestID(ctx)
	return ctx, base.With(String("request_id", id))
}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext prefers the request logger on ctx, then fallback, then Noop.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(Logger); ok {
			return l
		}
	}
	if fallback != nil {
		return fallback
	}
	return Noop()
}
