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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

// FlowSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const FlowSchemaVersion = "1.0"

// SerializableFlowGraph is the JSON representation of a FlowGraph.
//
// Description:
//
//	Nodes are sorted and assignment targets are sorted lists, so encoding
//	the same graph twice yields identical bytes. Edges keep their recorded
//	order since order is part of the graph.
//
// Thread Safety: SerializableFlowGraph is a value type with no internal state.
type SerializableFlowGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// SourcePath is the absolute path of the analyzed file.
	SourcePath string `json:"source_path"`

	// SourceHash is the hex SHA256 of the analyzed content.
	SourceHash string `json:"source_hash,omitempty"`

	// BuiltAtMilli is when the graph was built (Unix milliseconds UTC).
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the deterministic hash of nodes, edges and assignments.
	GraphHash string `json:"graph_hash"`

	// Nodes contains all node names, sorted.
	Nodes []string `json:"nodes"`

	// Edges contains all edges in recorded order.
	Edges []ast.FlowEdge `json:"edges"`

	// AssignedToByCallee maps callees to sorted target names.
	AssignedToByCallee map[string][]string `json:"assigned_to_by_callee"`
}

// ToSerializable converts the graph to its JSON representation.
//
// Outputs:
//
//	*SerializableFlowGraph - Never nil.
func (g *FlowGraph) ToSerializable() *SerializableFlowGraph {
	return &SerializableFlowGraph{
		SchemaVersion:      FlowSchemaVersion,
		SourcePath:         g.SourcePath,
		SourceHash:         g.SourceHash,
		BuiltAtMilli:       g.BuiltAtMilli,
		GraphHash:          g.Hash(),
		Nodes:              g.Nodes(),
		Edges:              g.Edges(),
		AssignedToByCallee: g.sortedAssignments(),
	}
}

// FromSerializable reconstructs a FlowGraph.
//
// Description:
//
//	Validates the schema version and the node closure invariant before
//	building the graph. The node set is taken as stored, so filtered graphs
//	that keep isolated nodes round-trip exactly.
//
// Inputs:
//
//	sg - The serializable graph. Must not be nil.
//
// Outputs:
//
//	*FlowGraph - The reconstructed graph.
//	error - Non-nil if sg is nil, the version is unsupported, MainScope is
//	        missing, or an edge endpoint is not a node.
func FromSerializable(sg *SerializableFlowGraph) (*FlowGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != FlowSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, FlowSchemaVersion)
	}

	g := &FlowGraph{
		SourcePath:   sg.SourcePath,
		SourceHash:   sg.SourceHash,
		BuiltAtMilli: sg.BuiltAtMilli,
		nodes:        make(map[string]struct{}, len(sg.Nodes)),
		edges:        make([]ast.FlowEdge, len(sg.Edges)),
		assignments:  make(ast.AssignmentMap, len(sg.AssignedToByCallee)),
	}
	for _, n := range sg.Nodes {
		g.nodes[n] = struct{}{}
	}
	if !g.HasNode(ast.MainScope) {
		return nil, fmt.Errorf("node set is missing %q", ast.MainScope)
	}

	copy(g.edges, sg.Edges)
	for i, e := range g.edges {
		if !g.HasNode(e.Caller) || !g.HasNode(e.Callee) {
			return nil, fmt.Errorf("edge %d (%s -> %s) references an unknown node", i, e.Caller, e.Callee)
		}
	}

	for callee, targets := range sg.AssignedToByCallee {
		g.assignments.Add(callee, targets...)
	}
	return g, nil
}

// Hash returns the hex SHA256 of the canonical graph content.
func (g *FlowGraph) Hash() string {
	canonical := struct {
		Nodes       []string            `json:"n"`
		Edges       []ast.FlowEdge      `json:"e"`
		Assignments map[string][]string `json:"a"`
	}{g.Nodes(), g.edges, g.sortedAssignments()}

	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (g *FlowGraph) sortedAssignments() map[string][]string {
	out := make(map[string][]string, len(g.assignments))
	for callee, targets := range g.assignments {
		list := make([]string, 0, len(targets))
		for t := range targets {
			list = append(list, t)
		}
		sort.Strings(list)
		out[callee] = list
	}
	return out
}
