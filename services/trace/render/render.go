// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render turns a FlowGraph into text, JSON, Graphviz DOT or SVG.
//
// Every renderer is deterministic: the same graph and options always produce
// byte-identical output.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
)

// Format names an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatDOT  Format = "dot"
	FormatSVG  Format = "svg"
)

// Formats lists the supported formats in display order.
var Formats = []Format{FormatText, FormatJSON, FormatDOT, FormatSVG}

// ParseFormat validates a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format %q (want one of text, json, dot, svg)", s)
}

// ContentType returns the MIME type used when serving f over HTTP.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatDOT:
		return "text/vnd.graphviz; charset=utf-8"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Options controls the optional parts of an output.
type Options struct {
	// Layout is used by SVG and by JSON when IncludeLayout is set.
	Layout graph.LayoutOptions

	// IncludeLayout adds node positions to JSON.
	IncludeLayout bool

	// IncludeDetails adds node summaries to text and JSON.
	IncludeDetails bool
}

// DefaultOptions returns options with the default layout spacing.
func DefaultOptions() Options {
	return Options{Layout: graph.DefaultLayoutOptions()}
}

// Render writes g to w in the given format.
func Render(w io.Writer, g *graph.FlowGraph, format Format, opts Options) error {
	if g == nil {
		return fmt.Errorf("render: graph must not be nil")
	}
	switch format {
	case FormatText:
		return Text(w, g, opts)
	case FormatJSON:
		return JSON(w, g, opts)
	case FormatDOT:
		return DOT(w, g)
	case FormatSVG:
		return SVG(w, g, opts)
	default:
		return fmt.Errorf("render: unsupported format %q", format)
	}
}
