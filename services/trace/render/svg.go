// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"math"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
)

// Canvas theme.
const (
	ColorBackground = "#4a4a4a"
	ColorNode       = "#2f2f2f"
	ColorAccent     = "#ff8c00"

	NodeHeight     = 64
	NodeMinWidth   = 140
	NodeMaxWidth   = 360
	NodeCharWidth  = 11
	NodeRadius     = 16
	CanvasPadding  = 140
	selfLoopHeight = 40
)

// NodeWidth is the rendered width of a node with the given label.
func NodeWidth(label string) int {
	return max(NodeMinWidth, min(NodeMaxWidth, NodeCharWidth*len([]rune(label))))
}

type box struct {
	x, y  int
	halfW int
	halfH int
}

// SVG writes a static drawing of the layered layout. Edges are drawn before
// nodes so nodes sit on top; each node carries its summary as a <title>
// tooltip.
func SVG(w io.Writer, g *graph.FlowGraph, opts Options) error {
	pos := g.Layout(opts.Layout)
	nodes := g.Nodes()

	boxes := make(map[string]box, len(nodes))
	minX, minY := math.MaxInt, math.MaxInt
	maxX, maxY := math.MinInt, math.MinInt
	for _, n := range nodes {
		p := pos[n]
		width := NodeWidth(ast.DisplayLabel(n))
		b := box{x: p.X, y: p.Y, halfW: width / 2, halfH: NodeHeight / 2}
		boxes[n] = b
		minX = min(minX, b.x-b.halfW)
		minY = min(minY, b.y-b.halfH-selfLoopHeight)
		maxX = max(maxX, b.x+b.halfW)
		maxY = max(maxY, b.y+b.halfH)
	}
	minX -= CanvasPadding
	minY -= CanvasPadding
	maxX += CanvasPadding
	maxY += CanvasPadding
	width, height := maxX-minX, maxY-minY

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="%d %d %d %d" width="%d" height="%d">`+"\n",
		minX, minY, width, height, width, height)
	fmt.Fprintf(bw, `  <defs>
    <marker id="arrow" viewBox="0 0 14 12" refX="14" refY="6" markerWidth="14" markerHeight="12" orient="auto-start-reverse">
      <path d="M 0 0 L 14 6 L 0 12 z" fill="%s"/>
    </marker>
  </defs>
  <style>
    .edge { stroke: %s; stroke-width: 2; fill: none; }
    .node rect { fill: %s; stroke: %s; stroke-width: 2; }
    .node text { fill: %s; font-family: Helvetica, Arial, sans-serif; font-size: 12px; font-weight: bold; }
  </style>
`, ColorAccent, ColorAccent, ColorNode, ColorAccent, ColorAccent)
	fmt.Fprintf(bw, `  <rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`+"\n", minX, minY, width, height, ColorBackground)

	bw.WriteString("  <g class=\"edges\">\n")
	for _, e := range g.Edges() {
		from, okFrom := boxes[e.Caller]
		to, okTo := boxes[e.Callee]
		if !okFrom || !okTo {
			continue
		}
		fmt.Fprintf(bw, "    <g class=\"edge-group\"><title>%s</title>", html.EscapeString(e.String()))
		if e.Caller == e.Callee {
			writeSelfLoop(bw, from)
		} else {
			x1, y1 := clipToBox(float64(from.x), float64(from.y), to)
			fmt.Fprintf(bw, `<line class="edge" x1="%d" y1="%d" x2="%.1f" y2="%.1f" marker-end="url(#arrow)"/>`,
				from.x, from.y, x1, y1)
		}
		bw.WriteString("</g>\n")
	}
	bw.WriteString("  </g>\n")

	details := g.Details()
	bw.WriteString("  <g class=\"nodes\">\n")
	for _, n := range nodes {
		b := boxes[n]
		label := ast.DisplayLabel(n)
		summary := details[n].Summary(graph.DefaultSummaryArgs, graph.DefaultSummaryTargets)
		fmt.Fprintf(bw, "    <g class=\"node\" data-name=\"%s\">", html.EscapeString(n))
		fmt.Fprintf(bw, "<title>%s</title>", html.EscapeString(summary))
		fmt.Fprintf(bw, `<rect x="%d" y="%d" width="%d" height="%d" rx="%d" ry="%d"/>`,
			b.x-b.halfW, b.y-b.halfH, 2*b.halfW, 2*b.halfH, NodeRadius, NodeRadius)
		fmt.Fprintf(bw, `<text x="%d" y="%d" text-anchor="middle" dominant-baseline="central">%s</text>`,
			b.x, b.y, html.EscapeString(label))
		bw.WriteString("</g>\n")
	}
	bw.WriteString("  </g>\n")
	bw.WriteString("</svg>\n")
	return bw.Flush()
}

// clipToBox returns where the segment from (x0, y0) to the centre of b
// crosses b's border.
func clipToBox(x0, y0 float64, b box) (float64, float64) {
	cx, cy := float64(b.x), float64(b.y)
	dx, dy := cx-x0, cy-y0
	if dx == 0 && dy == 0 {
		return cx, cy
	}
	t := math.Inf(1)
	if dx != 0 {
		t = math.Min(t, float64(b.halfW)/math.Abs(dx))
	}
	if dy != 0 {
		t = math.Min(t, float64(b.halfH)/math.Abs(dy))
	}
	if t > 1 {
		t = 1
	}
	return cx - dx*t, cy - dy*t
}

func writeSelfLoop(bw *bufio.Writer, b box) {
	top := b.y - b.halfH
	right := b.x + b.halfW/3
	left := b.x - b.halfW/3
	fmt.Fprintf(bw, `<path class="edge" d="M %d %d C %d %d, %d %d, %d %d" marker-end="url(#arrow)"/>`,
		right, top, right, top-selfLoopHeight, left, top-selfLoopHeight, left, top)
}
