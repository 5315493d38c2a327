// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

func TestDetails(t *testing.T) {
	assignments := ast.AssignmentMap{}
	assignments.Add("load", "cfg", "self.cfg")
	g := NewFlowGraph(edges(
		[3]string{ast.MainScope, "load", "path"},
		[3]string{ast.MainScope, "load", "path"},
		[3]string{"run", "load", "other, 2"},
		[3]string{ast.MainScope, "run", ""},
	), assignments)

	details := g.Details()
	if len(details) != g.NodeCount() {
		t.Fatalf("got details for %d nodes, want %d", len(details), g.NodeCount())
	}

	load := details["load"]
	if want := []string{"other, 2", "path"}; !reflect.DeepEqual(load.CalledWith, want) {
		t.Errorf("load.CalledWith = %v, want %v", load.CalledWith, want)
	}
	if want := []string{"cfg", "self.cfg"}; !reflect.DeepEqual(load.AssignedTo, want) {
		t.Errorf("load.AssignedTo = %v, want %v", load.AssignedTo, want)
	}

	run := details["run"]
	if len(run.CalledWith) != 0 {
		t.Errorf("empty argument text should not be recorded: %v", run.CalledWith)
	}
}

func TestNodeDetails_Summary(t *testing.T) {
	tests := []struct {
		name    string
		details NodeDetails
		want    string
	}{
		{
			name:    "no metadata",
			details: NodeDetails{Name: "helper"},
			want:    "helper\n\nNo metadata",
		},
		{
			name:    "main uses start label",
			details: NodeDetails{Name: ast.MainScope},
			want:    "Start\n\nNo metadata",
		},
		{
			name:    "parameters only",
			details: NodeDetails{Name: "f", CalledWith: []string{"1", "x, y"}},
			want:    "f\n\nParameters:\n  (1)\n  (x, y)",
		},
		{
			name:    "assignments only",
			details: NodeDetails{Name: "f", AssignedTo: []string{"a", "b"}},
			want:    "f\n\nVariable Assignment:\n  a\n  b",
		},
		{
			name: "both sections",
			details: NodeDetails{
				Name:       "f",
				CalledWith: []string{"1"},
				AssignedTo: []string{"x"},
			},
			want: "f\n\nParameters:\n  (1)\n\nVariable Assignment:\n  x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.details.Summary(DefaultSummaryArgs, DefaultSummaryTargets)
			if got != tt.want {
				t.Errorf("Summary() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestNodeDetails_SummaryTruncates(t *testing.T) {
	var args, targets []string
	for i := 0; i < 13; i++ {
		args = append(args, fmt.Sprintf("a%02d", i))
	}
	for i := 0; i < 15; i++ {
		targets = append(targets, fmt.Sprintf("t%02d", i))
	}
	d := NodeDetails{Name: "busy", CalledWith: args, AssignedTo: targets}

	got := d.Summary(DefaultSummaryArgs, DefaultSummaryTargets)
	if !strings.Contains(got, "  (a09)\n  +3 more") {
		t.Errorf("parameter section not truncated after 10:\n%s", got)
	}
	if strings.Contains(got, "(a10)") {
		t.Errorf("summary shows an argument past the limit:\n%s", got)
	}
	if !strings.HasSuffix(got, "  t11\n  +3 more") {
		t.Errorf("assignment section not truncated after 12:\n%s", got)
	}
}
