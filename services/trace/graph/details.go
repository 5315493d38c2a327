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
	"sort"
	"strings"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

const (
	// DefaultSummaryArgs is how many argument lists a summary shows.
	DefaultSummaryArgs = 10

	// DefaultSummaryTargets is how many assignment targets a summary shows.
	DefaultSummaryTargets = 12
)

// NodeDetails is the per-node metadata shown on hover.
type NodeDetails struct {
	// Name is the node name.
	Name string `json:"name"`

	// CalledWith is the sorted set of non-empty argument texts of the
	// edges into this node.
	CalledWith []string `json:"called_with"`

	// AssignedTo is the sorted set of names the node's results are bound to.
	AssignedTo []string `json:"assigned_to"`
}

// Details derives NodeDetails for every node.
func (g *FlowGraph) Details() map[string]NodeDetails {
	calledWith := make(map[string]map[string]struct{})
	for _, e := range g.edges {
		if e.Args == "" {
			continue
		}
		set, ok := calledWith[e.Callee]
		if !ok {
			set = make(map[string]struct{})
			calledWith[e.Callee] = set
		}
		set[e.Args] = struct{}{}
	}

	out := make(map[string]NodeDetails, len(g.nodes))
	for n := range g.nodes {
		args := make([]string, 0, len(calledWith[n]))
		for a := range calledWith[n] {
			args = append(args, a)
		}
		sort.Strings(args)
		out[n] = NodeDetails{
			Name:       n,
			CalledWith: args,
			AssignedTo: g.assignments.Targets(n),
		}
	}
	return out
}

// Summary renders the details as hover text, listing at most maxArgs
// argument texts and maxTargets targets.
//
// Example output:
//
//	compute
//
//	Parameters:
//	  (x)
//
//	Variable Assignment:
//	  y
func (d NodeDetails) Summary(maxArgs, maxTargets int) string {
	lines := []string{ast.DisplayLabel(d.Name)}

	if len(d.CalledWith) > 0 {
		lines = append(lines, "", "Parameters:")
		for _, a := range head(d.CalledWith, maxArgs) {
			lines = append(lines, "  ("+a+")")
		}
		if extra := len(d.CalledWith) - maxArgs; extra > 0 {
			lines = append(lines, fmt.Sprintf("  +%d more", extra))
		}
	}

	if len(d.AssignedTo) > 0 {
		lines = append(lines, "", "Variable Assignment:")
		for _, t := range head(d.AssignedTo, maxTargets) {
			lines = append(lines, "  "+t)
		}
		if extra := len(d.AssignedTo) - maxTargets; extra > 0 {
			lines = append(lines, fmt.Sprintf("  +%d more", extra))
		}
	}

	if len(lines) == 1 {
		lines = append(lines, "", "No metadata")
	}
	return strings.Join(lines, "\n")
}

func head(s []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
