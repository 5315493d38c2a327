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
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
)

func TestToSerializable(t *testing.T) {
	g := scenarioGraph()
	g.SourcePath = "/src/app.py"
	g.SourceHash = "deadbeef"

	sg := g.ToSerializable()
	if sg.SchemaVersion != FlowSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", sg.SchemaVersion, FlowSchemaVersion)
	}
	if sg.SourcePath != "/src/app.py" || sg.SourceHash != "deadbeef" {
		t.Errorf("source fields not carried over: %+v", sg)
	}
	if !reflect.DeepEqual(sg.Nodes, g.Nodes()) {
		t.Errorf("Nodes = %v, want %v", sg.Nodes, g.Nodes())
	}
	if !reflect.DeepEqual(sg.Edges, g.Edges()) {
		t.Errorf("Edges = %v, want %v", sg.Edges, g.Edges())
	}
	if !reflect.DeepEqual(sg.AssignedToByCallee, map[string][]string{"f": {"x"}}) {
		t.Errorf("AssignedToByCallee = %v", sg.AssignedToByCallee)
	}
	if sg.GraphHash != g.Hash() || len(sg.GraphHash) != 64 {
		t.Errorf("GraphHash = %q", sg.GraphHash)
	}
}

func TestSerializable_JSONRoundTrip(t *testing.T) {
	g := scenarioGraph().Filter(ExclusionSet([]string{"g"}))
	g.SourcePath = "/src/app.py"

	data, err := json.Marshal(g.ToSerializable())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"caller":"Main Script"`) {
		t.Errorf("edge JSON does not use caller/callee/args keys: %s", data)
	}

	var sg SerializableFlowGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	restored, err := FromSerializable(&sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}
	if !restored.Equal(g) {
		t.Errorf("restored graph differs: nodes %v edges %v", restored.Nodes(), restored.Edges())
	}
	if restored.BuiltAtMilli != g.BuiltAtMilli || restored.SourcePath != g.SourcePath {
		t.Error("metadata lost in round trip")
	}
	// f keeps its node after g is filtered even though it has no outgoing edge.
	if !restored.HasNode("f") {
		t.Error("isolated node lost in round trip")
	}
}

func TestFromSerializable_Errors(t *testing.T) {
	valid := func() *SerializableFlowGraph { return scenarioGraph().ToSerializable() }

	tests := []struct {
		name    string
		mutate  func(sg *SerializableFlowGraph)
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(sg *SerializableFlowGraph) { sg.SchemaVersion = "0.9" },
			wantErr: "unsupported schema version",
		},
		{
			name: "missing main",
			mutate: func(sg *SerializableFlowGraph) {
				sg.Nodes = []string{"f", "g", "print"}
				sg.Edges = nil
			},
			wantErr: "missing",
		},
		{
			name: "dangling edge",
			mutate: func(sg *SerializableFlowGraph) {
				sg.Edges = append(sg.Edges, ast.FlowEdge{Caller: "f", Callee: "ghost"})
			},
			wantErr: "unknown node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sg := valid()
			tt.mutate(sg)
			_, err := FromSerializable(sg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := FromSerializable(nil); err == nil {
		t.Error("expected error for nil input")
	}
}

func TestHash(t *testing.T) {
	a := scenarioGraph()
	b := scenarioGraph()
	b.SourcePath = "/elsewhere.py"
	b.BuiltAtMilli = 1

	if a.Hash() != b.Hash() {
		t.Error("hash depends on metadata, want content only")
	}

	changed := NewFlowGraph(append(a.Edges(), ast.FlowEdge{Caller: "g", Callee: "h"}), a.Assignments())
	if a.Hash() == changed.Hash() {
		t.Error("hash did not change with an extra edge")
	}

	otherArgs := NewFlowGraph(edges(
		[3]string{ast.MainScope, "f", "2"},
		[3]string{"f", "g", "a"},
		[3]string{ast.MainScope, "print", "x"},
	), a.Assignments())
	if a.Hash() == otherArgs.Hash() {
		t.Error("hash did not change with different arguments")
	}
}
