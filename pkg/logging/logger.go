// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for Snappy services.
//
// Every process logs through log/slog. This package owns the one decision
// each binary makes at startup: which handler backs the default logger.
// Services emit JSON for log collectors; an interactive terminal gets the
// text handler instead.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls how the process logger is built.
type Config struct {
	// Service is stamped onto every record so aggregated logs from
	// multiple services stay attributable.
	Service string

	// Level is the minimum level as a string: debug, info, warn, error.
	// Unknown or empty values mean info.
	Level string

	// ForceJSON emits JSON even on a terminal. Services set this; the
	// CLI leaves it false and lets the terminal check decide.
	ForceJSON bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// ParseLevel maps a level name onto a slog level, defaulting to info.
// Unrecognized values are not an error: a stale LOG_LEVEL in a container
// environment must never stop the process from starting.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// =============================================================================
// Setup
// =============================================================================

// Setup builds the process logger and installs it as the slog default.
//
// # Description
//
// JSON output is used when ForceJSON is set or when the output is not a
// terminal, so piped and collected logs are always machine-parseable while
// a developer running the binary by hand still gets readable text.
//
// # Outputs
//
//   - *slog.Logger: the installed logger, for callers that want to hold a
//     reference instead of using the package-level slog functions.
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.ForceJSON || !isTerminal(out) {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", cfg.Service),
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// isTerminal reports whether the writer is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
