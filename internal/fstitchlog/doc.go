// Package fstitchlog is a thin log/slog wrapper shared by cmd/fstitchd and
// cmd/patchctl.
//
// No third-party structured-logging library is wired into this module's
// dependency stack, so logging is the one ambient concern kept on the
// standard library rather than the usual "reach for a dependency" pattern
// applied elsewhere (see DESIGN.md).
package fstitchlog
