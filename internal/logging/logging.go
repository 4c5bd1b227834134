package logging

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	disabled atomic.Bool
	base     atomic.Pointer[slog.Logger]
)

func init() {
	base.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

// SetLogger replaces the logger components are derived from.
func SetLogger(l *slog.Logger) {
	if l != nil {
		base.Store(l)
	}
}

// Component returns a logger tagged with the given component name.
// Loggers obtained here respect Disable/Enable even after creation.
func Component(name string) *slog.Logger {
	return slog.New(gate{base.Load().Handler()}).With("component", name)
}

// gate drops every record while logging is disabled.
type gate struct {
	next slog.Handler
}

func (g gate) Enabled(ctx context.Context, level slog.Level) bool {
	if disabled.Load() {
		return false
	}
	return g.next.Enabled(ctx, level)
}

func (g gate) Handle(ctx context.Context, r slog.Record) error {
	return g.next.Handle(ctx, r)
}

func (g gate) WithAttrs(attrs []slog.Attr) slog.Handler {
	return gate{g.next.WithAttrs(attrs)}
}

func (g gate) WithGroup(name string) slog.Handler {
	return gate{g.next.WithGroup(name)}
}
