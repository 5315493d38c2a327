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
	"io"
	"strings"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
)

// DOT writes a Graphviz digraph, left to right, with the argument text of
// each call as a red edge label.
func DOT(w io.Writer, g *graph.FlowGraph) error {
	bw := bufio.NewWriter(w)

	bw.WriteString("digraph ProgramFlow {\n")
	bw.WriteString("    rankdir=LR;\n")
	bw.WriteString("    node [shape=oval, style=filled, fillcolor=lightblue, fontname=\"Helvetica\"];\n")
	bw.WriteString("\n")

	for _, n := range g.Nodes() {
		fmt.Fprintf(bw, "    %s [label=%s];\n", quoteDOT(n), quoteDOT(ast.DisplayLabel(n)))
	}

	edges := g.Edges()
	if len(edges) > 0 {
		bw.WriteString("\n")
	}
	for _, e := range edges {
		attrs := "fontsize=10, fontcolor=red"
		if e.Args != "" {
			attrs = "label=" + quoteDOT("("+e.Args+")") + ", " + attrs
		}
		fmt.Fprintf(bw, "    %s -> %s [%s];\n", quoteDOT(e.Caller), quoteDOT(e.Callee), attrs)
	}

	bw.WriteString("}\n")
	return bw.Flush()
}

var dotEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
)

func quoteDOT(s string) string {
	return `"` + dotEscaper.Replace(s) + `"`
}
