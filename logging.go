package bbq

import (
	"fmt"
	"log/slog"
	"os"
)

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Logger is the out-of-scope "logging facility" collaborator: the core only
// ever formats and emits lines through it, never inspects structured fields.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger discards everything. It is the default when Log is false, so the
// hot dispatch path never pays for formatting disabled log lines.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}

// slogLogger adapts *slog.Logger to the Logger interface, tagging every line
// with a fixed "component" attribute. Modeled on the teacher pack's
// pkg/logger factory, narrowed to the four levels the core needs.
type slogLogger struct {
	base      *slog.Logger // without the component attribute
	inner     *slog.Logger
	component string
}

// NewSlogLogger builds a Logger backed by log/slog. handler defaults to a
// JSON handler over os.Stderr when nil.
func NewSlogLogger(handler slog.Handler, component string) Logger {
	if handler == nil {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	base := slog.New(handler)
	return &slogLogger{
		base:      base,
		inner:     base.With(slog.String("component", component)),
		component: component,
	}
}

func (l *slogLogger) Debugf(format string, args ...any) { l.inner.Debug(sprintf(format, args...)) }
func (l *slogLogger) Infof(format string, args ...any)  { l.inner.Info(sprintf(format, args...)) }
func (l *slogLogger) Warnf(format string, args ...any)  { l.inner.Warn(sprintf(format, args...)) }
func (l *slogLogger) Errorf(format string, args ...any) { l.inner.Error(sprintf(format, args...)) }

// withComponent returns a copy of a *slogLogger tagged for a different
// component, or the logger unchanged if it isn't a *slogLogger (e.g. NopLogger
// or a caller-supplied implementation).
func withComponent(l Logger, component string) Logger {
	if sl, ok := l.(*slogLogger); ok {
		return &slogLogger{base: sl.base, inner: sl.base.With(slog.String("component", component)), component: component}
	}
	return l
}
