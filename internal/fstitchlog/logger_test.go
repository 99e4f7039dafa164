package fstitchlog_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/internal/fstitchlog"
)

func TestNewFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := fstitchlog.New(&buf, slog.LevelWarn)
	logger.Debug("should not appear")
	logger.Warn("should appear", "component", "engine")

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.Contains(t, out, "should appear")
	require.Contains(t, out, "component=engine")
}

func TestNopDiscardsEverything(t *testing.T) {
	logger := fstitchlog.Nop()
	logger.Error("this goes nowhere")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}

	for name, want := range cases {
		name := name

		t.Run(strings.TrimSpace("level_"+name), func(t *testing.T) {
			require.Equal(t, want, fstitchlog.ParseLevel(name))
		})
	}
}
