package fstitchlog

import (
	"io"
	"log/slog"
)

// New returns a structured logger writing level-filtered text lines to w.
// It adds no attributes of its own; a record carries only what its call
// site (or a Logger.With on the caller's side) supplies.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Nop returns a logger that discards every record, for tests and library
// callers that have not wired up their own.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a CLI-facing level name to a slog.Level. Unrecognized
// names (including the empty string) default to slog.LevelInfo.
func ParseLevel(name string) slog.Level {
	switch name {
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
