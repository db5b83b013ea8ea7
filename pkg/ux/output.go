// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Snappy CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Snappy color palette - warm ambers over charcoal
var (
	ColorAmberBright  = lipgloss.Color("#FFC857") // highlights, success
	ColorAmberPrimary = lipgloss.Color("#E9A13B") // main brand color
	ColorCopper       = lipgloss.Color("#C97B2D") // secondary elements
	ColorCharcoal     = lipgloss.Color("#3B4252") // muted text, borders

	ColorSuccess = lipgloss.Color("#A3BE8C")
	ColorWarning = lipgloss.Color("#EBCB8B")
	ColorError   = lipgloss.Color("#BF616A")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	SourceBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAmberBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorCharcoal),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAmberBright).Bold(true),
	SourceBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorCopper).
		Padding(0, 1),
}

// IsInteractive reports whether stdout is a terminal. Styling and
// spinners are suppressed when output is piped.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// FormatDocuments renders consulted documents as a source list. Scores
// are shown when the server provided them.
func FormatDocuments(docs []DocumentRef) string {
	if len(docs) == 0 {
		return ""
	}
	out := Styles.Bold.Render("Sources") + "\n"
	for i, doc := range docs {
		label := doc.Label
		if label == "" {
			label = fmt.Sprintf("Document %d", i+1)
		}
		line := fmt.Sprintf("  %d. %s", i+1, label)
		if doc.Score != nil {
			line += Styles.Muted.Render(fmt.Sprintf("  (score %.3f)", *doc.Score))
		}
		out += line + "\n"
	}
	return out
}
