// Package logging configures the daemon's structured logger. It mirrors the
// split stdout/stderr-by-level handler composition used across the rest of
// the corpus: trace/debug/info go to stdout, warn/error go to stderr, unless
// a single log file is requested, in which case everything funnels there.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is a custom level below slog.LevelDebug, for the highest-volume
// wire-level tracing (raw HID report bytes in and out).
const LevelTrace slog.Level = slog.LevelDebug - 4

// ParseLevel converts a case-insensitive level name into a slog.Level,
// recognizing "trace" in addition to the standard four.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// MultiHandler fans a record out to every wrapped handler that accepts it.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler builds a MultiHandler over the given handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}

// LevelFilter wraps a handler, only forwarding records whose level passes
// the predicate.
type LevelFilter struct {
	handler slog.Handler
	pass    func(slog.Level) bool
}

// NewLevelFilter wraps handler so it only sees records where pass(level) is true.
func NewLevelFilter(handler slog.Handler, pass func(slog.Level) bool) *LevelFilter {
	return &LevelFilter{handler: handler, pass: pass}
}

func (f *LevelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.pass(level) && f.handler.Enabled(ctx, level)
}

func (f *LevelFilter) Handle(ctx context.Context, r slog.Record) error {
	return f.handler.Handle(ctx, r)
}

func (f *LevelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelFilter{handler: f.handler.WithAttrs(attrs), pass: f.pass}
}

func (f *LevelFilter) WithGroup(name string) slog.Handler {
	return &LevelFilter{handler: f.handler.WithGroup(name), pass: f.pass}
}

// SetupLogger builds the daemon's root logger. When logFile is empty, trace
// through info go to stdout and warn/error go to stderr; otherwise
// everything is written to logFile. Returns the logger and any io.Closer
// that must be closed on shutdown.
func SetupLogger(level slog.Level, logFile string) (*slog.Logger, []io.Closer, error) {
	opts := &slog.HandlerOptions{Level: level}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open log file: %w", err)
		}
		return slog.New(slog.NewTextHandler(f, opts)), []io.Closer{f}, nil
	}

	outHandler := NewLevelFilter(slog.NewTextHandler(os.Stdout, opts), func(l slog.Level) bool {
		return l < slog.LevelWarn
	})
	errHandler := NewLevelFilter(slog.NewTextHandler(os.Stderr, opts), func(l slog.Level) bool {
		return l >= slog.LevelWarn
	})

	return slog.New(NewMultiHandler(outHandler, errHandler)), nil, nil
}
