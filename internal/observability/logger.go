// Package observability provides the structured logger and tracer shared by
// all components.
package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Logger logs a message with a set of structured fields.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	WithPrefix(prefix string) Logger
}

type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger returns a JSON logger writing to stderr at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(service, level string) Logger {
	return NewLoggerTo(os.Stderr, service, level)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, service, level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
	return &zeroLogger{zl: zl}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *zeroLogger) Info(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l *zeroLogger) Warn(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l *zeroLogger) Error(msg string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}

func (l *zeroLogger) WithPrefix(prefix string) Logger {
	return &zeroLogger{zl: l.zl.With().Str("component", prefix).Logger()}
}

// Tracer returns the named tracer from the global provider. Spans are no-ops
// until an SDK provider is installed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
