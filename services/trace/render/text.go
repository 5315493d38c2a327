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
	"io"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
)

// Text writes one `caller -> callee (args)` line per edge in recorded order.
// With IncludeDetails, a summary block per node follows the edges.
func Text(w io.Writer, g *graph.FlowGraph, opts Options) error {
	bw := bufio.NewWriter(w)
	for _, e := range g.Edges() {
		bw.WriteString(e.String())
		bw.WriteByte('\n')
	}

	if opts.IncludeDetails {
		details := g.Details()
		for _, name := range g.Nodes() {
			bw.WriteByte('\n')
			bw.WriteString(details[name].Summary(graph.DefaultSummaryArgs, graph.DefaultSummaryTargets))
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}
