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
	"sort"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

// Point is an integer canvas position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LayoutOptions holds the spacing constants of the layered layout.
type LayoutOptions struct {
	// ColumnSpacing is the horizontal distance between levels.
	ColumnSpacing int `json:"column_spacing" yaml:"column_spacing" validate:"gt=0"`

	// RowSpacing is the vertical distance between nodes of one level.
	RowSpacing int `json:"row_spacing" yaml:"row_spacing" validate:"gt=0"`

	// MarginX is the x of level 0.
	MarginX int `json:"margin_x" yaml:"margin_x" validate:"gte=0"`

	// MarginY is the y of the first node in every level.
	MarginY int `json:"margin_y" yaml:"margin_y" validate:"gte=0"`
}

// DefaultLayoutOptions returns 260 column spacing, 120 row spacing and
// 120 margins.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		ColumnSpacing: 260,
		RowSpacing:    120,
		MarginX:       120,
		MarginY:       120,
	}
}

// Levels assigns every node a layer index.
//
// Description:
//
//	Runs a breadth-first search from root (level 0). A node reached again
//	through a shorter path takes the smaller level and is re-enqueued so
//	the improvement reaches its successors. Nodes never reached are then
//	placed one per level after the deepest reached level, in ascending
//	name order. The root always has a level even if it is not in nodes.
//
// Inputs:
//   - nodes: The node names. Duplicates are ignored.
//   - edges: The call edges. Endpoints missing from nodes still take part
//     in the search.
//   - root: The BFS start.
//
// Outputs:
//   - map[string]int: Node to level.
//
// Complexity:
//
//	O((V + E) log V) for the sorted neighbour iteration.
//
// Thread Safety:
//
//	Pure function; safe for concurrent use.
func Levels(nodes []string, edges []ast.FlowEdge, root string) map[string]int {
	adj := make(map[string]map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, ok := adj[n]; !ok {
			adj[n] = make(map[string]struct{})
		}
	}
	for _, e := range edges {
		if _, ok := adj[e.Caller]; !ok {
			adj[e.Caller] = make(map[string]struct{})
		}
		if _, ok := adj[e.Callee]; !ok {
			adj[e.Callee] = make(map[string]struct{})
		}
		adj[e.Caller][e.Callee] = struct{}{}
	}

	levels := map[string]int{root: 0}
	queue := []string{root}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range sortedKeys(adj[u]) {
			candidate := levels[u] + 1
			if lvl, seen := levels[v]; !seen || candidate < lvl {
				levels[v] = candidate
				queue = append(queue, v)
			}
		}
	}

	maxLevel := 0
	for _, lvl := range levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	sortedNodes := make([]string, len(nodes))
	copy(sortedNodes, nodes)
	sort.Strings(sortedNodes)
	for _, n := range sortedNodes {
		if _, ok := levels[n]; ok {
			continue
		}
		maxLevel++
		levels[n] = maxLevel
	}

	return levels
}

// ComputeLayout assigns (x, y) positions from the BFS levels.
//
// Description:
//
//	Nodes are bucketed by level and sorted by name inside a bucket. A node
//	at level l and bucket index i is placed at
//	(MarginX + l*ColumnSpacing, MarginY + i*RowSpacing).
//
// Example:
//
//	pos := graph.ComputeLayout(g.Nodes(), g.Edges(), ast.MainScope, graph.DefaultLayoutOptions())
//	fmt.Println(pos[ast.MainScope]) // {120 120}
//
// Thread Safety:
//
//	Pure function; identical inputs always yield identical positions.
func ComputeLayout(nodes []string, edges []ast.FlowEdge, root string, opts LayoutOptions) map[string]Point {
	levels := Levels(nodes, edges, root)

	buckets := make(map[int][]string)
	for n, lvl := range levels {
		buckets[lvl] = append(buckets[lvl], n)
	}

	pos := make(map[string]Point, len(levels))
	for lvl, bucket := range buckets {
		sort.Strings(bucket)
		for i, n := range bucket {
			pos[n] = Point{
				X: opts.MarginX + lvl*opts.ColumnSpacing,
				Y: opts.MarginY + i*opts.RowSpacing,
			}
		}
	}
	return pos
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
