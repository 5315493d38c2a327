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
	"slices"
	"sort"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

// Node change kinds reported in NodeDiff.ChangeType.
const (
	ChangeCallsChanged       = "calls_changed"
	ChangeArgumentsChanged   = "arguments_changed"
	ChangeAssignmentsChanged = "assignments_changed"
)

// SnapshotDiff contains the differences between two flow graphs.
type SnapshotDiff struct {
	// BaseSnapshotID is the ID of the base snapshot.
	BaseSnapshotID string `json:"base_snapshot_id"`

	// TargetSnapshotID is the ID of the target snapshot.
	TargetSnapshotID string `json:"target_snapshot_id"`

	// NodesAdded are nodes present in target but not in base, sorted.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are nodes present in base but not in target, sorted.
	NodesRemoved []string `json:"nodes_removed"`

	// NodesModified are nodes present in both whose surroundings changed.
	NodesModified []NodeDiff `json:"nodes_modified"`

	// EdgesAdded are edge occurrences in target beyond those in base.
	EdgesAdded []ast.FlowEdge `json:"edges_added"`

	// EdgesRemoved are edge occurrences in base beyond those in target.
	EdgesRemoved []ast.FlowEdge `json:"edges_removed"`

	// Summary contains aggregate statistics about the diff.
	Summary DiffSummary `json:"summary"`
}

// NodeDiff describes how a single node changed.
type NodeDiff struct {
	// Name is the node name.
	Name string `json:"name"`

	// ChangeType is one of the Change* constants.
	ChangeType string `json:"change_type"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges is added + removed + modified nodes plus edge changes.
	TotalChanges int `json:"total_changes"`

	// ChangeRatio is the fraction of nodes that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffSnapshots computes the differences between two flow graphs.
//
// Description:
//
//	Nodes are compared by name. Edges are compared as multisets of
//	(caller, callee, args), so a call that now happens twice instead of
//	once shows as one added edge. A node in both graphs is modified when
//	its outgoing calls, the arguments it is called with, or its assignment
//	targets differ; the first difference found names the change.
//
// Inputs:
//
//	base - The base graph. Must not be nil.
//	target - The target graph. Must not be nil.
//	baseSnapshotID, targetSnapshotID - IDs used for labeling only.
//
// Outputs:
//
//	*SnapshotDiff - The computed differences.
//	error - Non-nil if either graph is nil.
//
// Complexity:
//
//	O(V log V + E) where V and E are the larger node and edge counts.
func DiffSnapshots(base, target *FlowGraph, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		NodesAdded:       []string{},
		NodesRemoved:     []string{},
		NodesModified:    []NodeDiff{},
		EdgesAdded:       []ast.FlowEdge{},
		EdgesRemoved:     []ast.FlowEdge{},
	}

	baseDetails := base.Details()
	targetDetails := target.Details()
	baseOut := outgoing(base.edges)
	targetOut := outgoing(target.edges)

	for _, name := range target.Nodes() {
		bd, exists := baseDetails[name]
		if !exists {
			diff.NodesAdded = append(diff.NodesAdded, name)
			continue
		}
		td := targetDetails[name]
		switch {
		case !slices.Equal(baseOut[name], targetOut[name]):
			diff.NodesModified = append(diff.NodesModified, NodeDiff{Name: name, ChangeType: ChangeCallsChanged})
		case !slices.Equal(bd.CalledWith, td.CalledWith):
			diff.NodesModified = append(diff.NodesModified, NodeDiff{Name: name, ChangeType: ChangeArgumentsChanged})
		case !slices.Equal(bd.AssignedTo, td.AssignedTo):
			diff.NodesModified = append(diff.NodesModified, NodeDiff{Name: name, ChangeType: ChangeAssignmentsChanged})
		}
	}
	for _, name := range base.Nodes() {
		if !target.HasNode(name) {
			diff.NodesRemoved = append(diff.NodesRemoved, name)
		}
	}

	diff.EdgesAdded = edgeDifference(target.edges, base.edges)
	diff.EdgesRemoved = edgeDifference(base.edges, target.edges)

	totalNodes := max(base.NodeCount(), target.NodeCount())
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)

	changeRatio := 0.0
	if totalNodes > 0 {
		changeRatio = float64(changedNodes) / float64(totalNodes)
	}

	diff.Summary = DiffSummary{
		TotalChanges: changedNodes + len(diff.EdgesAdded) + len(diff.EdgesRemoved),
		ChangeRatio:  changeRatio,
	}
	return diff, nil
}

// outgoing returns each caller's sorted callee list, one entry per edge.
func outgoing(edges []ast.FlowEdge) map[string][]string {
	out := make(map[string][]string)
	for _, e := range edges {
		out[e.Caller] = append(out[e.Caller], e.Callee)
	}
	for _, callees := range out {
		sort.Strings(callees)
	}
	return out
}

// edgeDifference returns the occurrences in a that are not matched by an
// occurrence in b, in a's order.
func edgeDifference(a, b []ast.FlowEdge) []ast.FlowEdge {
	remaining := make(map[ast.FlowEdge]int, len(b))
	for _, e := range b {
		remaining[e]++
	}
	out := []ast.FlowEdge{}
	for _, e := range a {
		if remaining[e] > 0 {
			remaining[e]--
			continue
		}
		out = append(out, e)
	}
	return out
}
