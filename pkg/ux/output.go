// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output for the newsctl CLI: styled
// rendering of runs, cards, sessions, and trend series, plus the
// interactive chat surface.
//
// Styling degrades automatically: when stdout is not a terminal (pipes,
// CI), every helper emits plain text so output stays parseable.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleTitle   = lipgloss.NewStyle().Bold(true)
)

// interactive reports whether stdout is a terminal. Overridable in
// tests.
var interactive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// IsInteractive reports whether styled, animated output is appropriate.
func IsInteractive() bool {
	return interactive()
}

func render(style lipgloss.Style, text string) string {
	if !interactive() {
		return text
	}
	return style.Render(text)
}

// Header prints a bold section header.
func Header(text string) {
	fmt.Println(render(styleHeader, text))
}

// Success prints a confirmation line.
func Success(format string, args ...any) {
	fmt.Println(render(styleSuccess, "✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func Warn(format string, args ...any) {
	fmt.Println(render(styleWarn, "! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line to stderr.
func Error(format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(styleError, "✗ "+fmt.Sprintf(format, args...)))
}

// Dim prints secondary detail.
func Dim(format string, args ...any) {
	fmt.Println(render(styleDim, fmt.Sprintf(format, args...)))
}

// Rule prints a horizontal separator sized to the text above it.
func Rule(width int) {
	if width <= 0 {
		width = 60
	}
	fmt.Println(render(styleDim, strings.Repeat("─", width)))
}
