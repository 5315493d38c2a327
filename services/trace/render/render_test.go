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
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
)

// testGraph is the graph of:
//
//	def f(a):
//	    g(a)
//	x = f(1)
//	print("hi")
func testGraph() *graph.FlowGraph {
	assignments := ast.AssignmentMap{}
	assignments.Add("f", "x")
	return graph.NewFlowGraph([]ast.FlowEdge{
		{Caller: ast.MainScope, Callee: "f", Args: "1"},
		{Caller: "f", Callee: "g", Args: "a"},
		{Caller: ast.MainScope, Callee: "print", Args: "hi"},
		{Caller: "g", Callee: "g", Args: ""},
	}, assignments)
}

func render(t *testing.T, format Format, opts Options) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Render(&buf, testGraph(), format, opts); err != nil {
		t.Fatalf("Render(%s): %v", format, err)
	}
	return buf.String()
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"text", "JSON", " dot ", "svg"} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", in, err)
		}
	}
	if _, err := ParseFormat("png"); err == nil {
		t.Error("ParseFormat(png) should fail")
	}
}

func TestRender_Errors(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, nil, FormatText, DefaultOptions()); err == nil {
		t.Error("expected error for nil graph")
	}
	if err := Render(&buf, testGraph(), Format("png"), DefaultOptions()); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestText(t *testing.T) {
	got := render(t, FormatText, DefaultOptions())
	want := "Main Script -> f (1)\n" +
		"f -> g (a)\n" +
		"Main Script -> print (hi)\n" +
		"g -> g ()\n"
	if got != want {
		t.Errorf("Text() =\n%s\nwant\n%s", got, want)
	}
}

func TestText_Details(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeDetails = true
	got := render(t, FormatText, opts)

	for _, want := range []string{
		"Start\n\nNo metadata\n",
		"f\n\nParameters:\n  (1)\n\nVariable Assignment:\n  x\n",
		"print\n\nParameters:\n  (hi)\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("details output missing %q:\n%s", want, got)
		}
	}
}

func TestJSON(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeLayout = true
	opts.IncludeDetails = true
	out := render(t, FormatJSON, opts)

	var doc struct {
		SchemaVersion string                 `json:"schema_version"`
		Nodes         []string               `json:"nodes"`
		Edges         []ast.FlowEdge         `json:"edges"`
		Layout        map[string]graph.Point `json:"layout"`
		Details       map[string]struct {
			CalledWith []string `json:"called_with"`
		} `json:"details"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if doc.SchemaVersion != graph.FlowSchemaVersion {
		t.Errorf("schema_version = %q", doc.SchemaVersion)
	}
	if len(doc.Nodes) != 4 || len(doc.Edges) != 4 {
		t.Errorf("nodes/edges = %d/%d, want 4/4", len(doc.Nodes), len(doc.Edges))
	}
	if doc.Layout[ast.MainScope] != (graph.Point{X: 120, Y: 120}) {
		t.Errorf("layout(main) = %+v", doc.Layout[ast.MainScope])
	}
	if got := doc.Details["f"].CalledWith; len(got) != 1 || got[0] != "1" {
		t.Errorf("details(f).called_with = %v", got)
	}
}

func TestJSON_OmitsOptionalSections(t *testing.T) {
	out := render(t, FormatJSON, DefaultOptions())
	if strings.Contains(out, `"layout"`) || strings.Contains(out, `"details"`) {
		t.Errorf("optional sections present without options:\n%s", out)
	}
}

func TestDOT(t *testing.T) {
	got := render(t, FormatDOT, DefaultOptions())
	want := `digraph ProgramFlow {
    rankdir=LR;
    node [shape=oval, style=filled, fillcolor=lightblue, fontname="Helvetica"];

    "Main Script" [label="Start"];
    "f" [label="f"];
    "g" [label="g"];
    "print" [label="print"];

    "Main Script" -> "f" [label="(1)", fontsize=10, fontcolor=red];
    "f" -> "g" [label="(a)", fontsize=10, fontcolor=red];
    "Main Script" -> "print" [label="(hi)", fontsize=10, fontcolor=red];
    "g" -> "g" [fontsize=10, fontcolor=red];
}
`
	if got != want {
		t.Errorf("DOT() =\n%s\nwant\n%s", got, want)
	}
}

func TestQuoteDOT(t *testing.T) {
	if got := quoteDOT(`a"b\c` + "\n"); got != `"a\"b\\c\n"` {
		t.Errorf("quoteDOT = %s", got)
	}
}

func TestSVG(t *testing.T) {
	out := render(t, FormatSVG, DefaultOptions())

	if !strings.HasPrefix(out, "<svg ") || !strings.HasSuffix(out, "</svg>\n") {
		t.Fatalf("not an svg document:\n%s", out)
	}
	for _, want := range []string{
		ColorAccent,
		ColorBackground,
		`marker-end="url(#arrow)"`,
		`<text x="120" y="120" text-anchor="middle" dominant-baseline="central">Start</text>`,
		"<title>f\n\nParameters:\n  (1)\n\nVariable Assignment:\n  x</title>",
		"<title>Main Script -&gt; f (1)</title>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("svg missing %q", want)
		}
	}
	if strings.Count(out, `<g class="node"`) != 4 {
		t.Errorf("expected 4 node groups")
	}
	if strings.Index(out, `class="edges"`) > strings.Index(out, `class="nodes"`) {
		t.Error("edges must be drawn before nodes")
	}
	if again := render(t, FormatSVG, DefaultOptions()); again != out {
		t.Error("SVG output is not deterministic")
	}
}

func TestSVG_ViewBox(t *testing.T) {
	g := graph.NewFlowGraph(nil, nil)
	var buf bytes.Buffer
	if err := SVG(&buf, g, DefaultOptions()); err != nil {
		t.Fatalf("SVG: %v", err)
	}
	// One node at (120,120), 140x64, padded by 140 and self-loop headroom.
	want := `viewBox="-90 -92 420 384"`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("svg header missing %s:\n%s", want, buf.String())
	}
}

func TestNodeWidth(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"f", 140},
		{strings.Repeat("a", 20), 220},
		{strings.Repeat("a", 40), 360},
		{"héllo_wörld_long", 176},
	}
	for _, tt := range tests {
		if got := NodeWidth(tt.label); got != tt.want {
			t.Errorf("NodeWidth(%q) = %d, want %d", tt.label, got, tt.want)
		}
	}
}

func TestClipToBox(t *testing.T) {
	b := box{x: 100, y: 0, halfW: 50, halfH: 32}
	x, y := clipToBox(0, 0, b)
	if x != 50 || y != 0 {
		t.Errorf("horizontal clip = (%v, %v), want (50, 0)", x, y)
	}
	x, y = clipToBox(100, -100, b)
	if x != 100 || y != -32 {
		t.Errorf("vertical clip = (%v, %v), want (100, -32)", x, y)
	}
}

func TestContentType(t *testing.T) {
	if FormatSVG.ContentType() != "image/svg+xml" {
		t.Error("svg content type")
	}
	if !strings.HasPrefix(FormatText.ContentType(), "text/plain") {
		t.Error("text content type")
	}
}
