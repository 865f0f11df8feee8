// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders human-facing command output.
//
// A Printer writes either styled output (lipgloss colours, boxes, icons)
// or machine output (plain "key: value" lines). NewPrinter picks styled
// output only when the writer is a terminal.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

// Render returns the icon with its colour.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// machineTag is the plain-mode prefix for each icon.
func (i Icon) machineTag() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Field is one labelled value in a summary box.
type Field struct {
	Label string
	Value string
}

// Printer writes command output in styled or machine mode.
type Printer struct {
	w       io.Writer
	machine bool
}

// NewPrinter returns a Printer for w, styled only if w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, machine: !isTerminal(w)}
}

// NewMachinePrinter returns a Printer that never styles its output.
func NewMachinePrinter(w io.Writer) *Printer {
	return &Printer{w: w, machine: true}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Machine reports whether output is unstyled.
func (p *Printer) Machine() bool {
	return p.machine
}

// Status prints one message with an icon.
func (p *Printer) Status(icon Icon, text string) {
	if p.machine {
		fmt.Fprintf(p.w, "%s: %s\n", icon.machineTag(), text)
		return
	}
	style := Styles.Bold
	switch icon {
	case IconSuccess:
		style = Styles.Success
	case IconWarning:
		style = Styles.Warning
	case IconError:
		style = Styles.Error
	}
	fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
}

// Summary prints fields under a title, boxed in styled mode and as
// aligned "label: value" lines in machine mode.
func (p *Printer) Summary(title string, fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}

	if p.machine {
		fmt.Fprintf(p.w, "%s\n", title)
		for _, f := range fields {
			fmt.Fprintf(p.w, "%-*s  %s\n", width+1, f.Label+":", f.Value)
		}
		return
	}

	var b strings.Builder
	b.WriteString(Styles.Title.Render(title))
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(Styles.Label.Render(fmt.Sprintf("%-*s", width, f.Label)))
		b.WriteString("  ")
		b.WriteString(f.Value)
	}
	fmt.Fprintln(p.w, Styles.Box.Render(b.String()))
}

// Bar renders fraction (0..1) as a bar of width cells plus a percentage.
func (p *Printer) Bar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	if p.machine {
		return fmt.Sprintf("%.1f%%", fraction*100)
	}
	filled := int(fraction * float64(width))
	return fmt.Sprintf("%s%s %5.1f%%",
		Styles.Success.Render(strings.Repeat("█", filled)),
		Styles.Muted.Render(strings.Repeat("░", width-filled)),
		fraction*100,
	)
}
