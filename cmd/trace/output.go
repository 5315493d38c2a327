// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Orange theme shared with the SVG renderer.
var (
	ColorOrange  = lipgloss.Color("#ff8c00") // Accent - arrows, titles
	ColorNode    = lipgloss.Color("#f0f0f0") // Node names
	ColorMuted   = lipgloss.Color("#8a8a8a") // Argument text, hints
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the terminal styles.
var Styles = struct {
	Title   lipgloss.Style
	Node    lipgloss.Style
	Callee  lipgloss.Style
	Arrow   lipgloss.Style
	Args    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorOrange),
	Node:    lipgloss.NewStyle().Foreground(ColorNode),
	Callee:  lipgloss.NewStyle().Bold(true).Foreground(ColorNode),
	Arrow:   lipgloss.NewStyle().Foreground(ColorOrange),
	Args:    lipgloss.NewStyle().Foreground(ColorMuted),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(ColorError),
}

// printer writes CLI output, styled only when color is enabled.
type printer struct {
	w     io.Writer
	color bool
}

// newPrinter enables color when w is a terminal and noColor is false.
func newPrinter(w io.Writer, noColor bool) *printer {
	return &printer{w: w, color: !noColor && isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Edges writes one `caller -> callee (args)` line per edge. Without color
// the output is byte-identical to render.Text.
func (p *printer) Edges(g *graph.FlowGraph) {
	for _, e := range g.Edges() {
		fmt.Fprintf(p.w, "%s %s %s %s\n",
			p.render(Styles.Node, e.Caller),
			p.render(Styles.Arrow, "->"),
			p.render(Styles.Callee, e.Callee),
			p.render(Styles.Args, "("+e.Args+")"),
		)
	}
}

// Details writes the summary of every node.
func (p *printer) Details(g *graph.FlowGraph) {
	details := g.Details()
	for _, name := range g.Nodes() {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, p.render(Styles.Muted, details[name].Summary(graph.DefaultSummaryArgs, graph.DefaultSummaryTargets)))
	}
}

func (p *printer) Title(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(Styles.Title, fmt.Sprintf(format, args...)))
}

func (p *printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(Styles.Success, fmt.Sprintf(format, args...)))
}

func (p *printer) Warning(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(Styles.Warning, fmt.Sprintf(format, args...)))
}

func (p *printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(Styles.Muted, fmt.Sprintf(format, args...)))
}

func (p *printer) Error(err error) {
	fmt.Fprintln(p.w, p.render(Styles.Error, "Error: ")+err.Error())
}
