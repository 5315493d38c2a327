// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph aggregates walker output into a flow graph and derives
// filtered views, node details, layouts and persisted snapshots from it.
package graph

import (
	"sort"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

// FlowGraph is the node set, ordered edge list and assignment map of one
// analyzed file.
//
// Description:
//
//	The node set always contains ast.MainScope plus every caller and callee
//	of every edge. A FlowGraph is never mutated after construction; Filter
//	returns a new graph.
//
// Thread Safety:
//
//	Safe for concurrent reads.
type FlowGraph struct {
	// SourcePath is the absolute path of the analyzed file. May be empty.
	SourcePath string

	// SourceHash is the hex SHA256 of the analyzed content. May be empty.
	SourceHash string

	// BuiltAtMilli is when the graph was built (Unix milliseconds UTC).
	BuiltAtMilli int64

	nodes       map[string]struct{}
	edges       []ast.FlowEdge
	assignments ast.AssignmentMap
}

// NewFlowGraph builds a graph from edges and an assignment map.
//
// Description:
//
//	Establishes the node set from ast.MainScope and the edge endpoints.
//	Inputs are copied; later changes to them do not affect the graph.
//
// Inputs:
//   - edges: Ordered call edges. May be nil.
//   - assignments: Callee to bound target names. May be nil.
//
// Outputs:
//   - *FlowGraph: The graph. Never nil.
func NewFlowGraph(edges []ast.FlowEdge, assignments ast.AssignmentMap) *FlowGraph {
	g := &FlowGraph{
		BuiltAtMilli: time.Now().UnixMilli(),
		nodes:        map[string]struct{}{ast.MainScope: {}},
		edges:        make([]ast.FlowEdge, len(edges)),
		assignments:  assignments.Clone(),
	}
	copy(g.edges, edges)
	for _, e := range g.edges {
		g.nodes[e.Caller] = struct{}{}
		g.nodes[e.Callee] = struct{}{}
	}
	return g
}

// Build converts a walk result into a graph carrying its source identity.
func Build(res *ast.WalkResult) *FlowGraph {
	if res == nil {
		return NewFlowGraph(nil, nil)
	}
	g := NewFlowGraph(res.Edges, res.Assignments)
	g.SourcePath = res.FilePath
	g.SourceHash = res.Hash
	return g
}

// Nodes returns the node names in ascending order.
func (g *FlowGraph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// HasNode reports whether name is in the node set.
func (g *FlowGraph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Edges returns a copy of the edges in recorded order.
func (g *FlowGraph) Edges() []ast.FlowEdge {
	out := make([]ast.FlowEdge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Assignments returns a copy of the assignment map.
func (g *FlowGraph) Assignments() ast.AssignmentMap {
	return g.assignments.Clone()
}

// NodeCount returns the number of nodes.
func (g *FlowGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *FlowGraph) EdgeCount() int {
	return len(g.edges)
}

// Filter returns the graph with excluded names removed.
//
// Description:
//
//	ast.MainScope is always retained. Every other excluded node is dropped
//	together with every edge touching it, and the assignment map is
//	restricted to retained callees. The receiver is not modified, so
//	filtering is a pure function of (graph, excluded).
//
// Inputs:
//   - excluded: Names to drop. Nil or empty yields an equal graph.
//
// Outputs:
//   - *FlowGraph: A new graph. Never nil.
//
// Example:
//
//	visible := g.Filter(graph.PythonBuiltins())
func (g *FlowGraph) Filter(excluded map[string]struct{}) *FlowGraph {
	dropped := func(name string) bool {
		if name == ast.MainScope {
			return false
		}
		_, ok := excluded[name]
		return ok
	}

	out := &FlowGraph{
		SourcePath:   g.SourcePath,
		SourceHash:   g.SourceHash,
		BuiltAtMilli: g.BuiltAtMilli,
		nodes:        make(map[string]struct{}, len(g.nodes)),
		edges:        make([]ast.FlowEdge, 0, len(g.edges)),
		assignments:  make(ast.AssignmentMap, len(g.assignments)),
	}

	for n := range g.nodes {
		if !dropped(n) {
			out.nodes[n] = struct{}{}
		}
	}
	for _, e := range g.edges {
		if dropped(e.Caller) || dropped(e.Callee) {
			continue
		}
		out.edges = append(out.edges, e)
	}
	for callee, targets := range g.assignments {
		if _, ok := out.nodes[callee]; !ok {
			continue
		}
		for t := range targets {
			out.assignments.Add(callee, t)
		}
	}
	return out
}

// Equal reports whether both graphs have the same nodes, the same edges in
// the same order and the same assignment map. Source identity and build
// time are ignored.
func (g *FlowGraph) Equal(other *FlowGraph) bool {
	if g == nil || other == nil {
		return g == other
	}
	if len(g.nodes) != len(other.nodes) || len(g.edges) != len(other.edges) {
		return false
	}
	for n := range g.nodes {
		if !other.HasNode(n) {
			return false
		}
	}
	for i := range g.edges {
		if g.edges[i] != other.edges[i] {
			return false
		}
	}
	if len(g.assignments) != len(other.assignments) {
		return false
	}
	for callee, targets := range g.assignments {
		otherTargets, ok := other.assignments[callee]
		if !ok || len(otherTargets) != len(targets) {
			return false
		}
		for t := range targets {
			if _, ok := otherTargets[t]; !ok {
				return false
			}
		}
	}
	return true
}

// Layout positions the nodes with ast.MainScope as the root.
func (g *FlowGraph) Layout(opts LayoutOptions) map[string]Point {
	return ComputeLayout(g.Nodes(), g.edges, ast.MainScope, opts)
}
