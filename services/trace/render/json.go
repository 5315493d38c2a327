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
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
)

// Document is the JSON form of an analysis.
type Document struct {
	*graph.SerializableFlowGraph

	// Layout maps node names to canvas positions.
	Layout map[string]graph.Point `json:"layout,omitempty"`

	// Details maps node names to their call and assignment metadata.
	Details map[string]graph.NodeDetails `json:"details,omitempty"`
}

// NewDocument builds the JSON document for g.
func NewDocument(g *graph.FlowGraph, opts Options) *Document {
	doc := &Document{SerializableFlowGraph: g.ToSerializable()}
	if opts.IncludeLayout {
		doc.Layout = g.Layout(opts.Layout)
	}
	if opts.IncludeDetails {
		doc.Details = g.Details()
	}
	return doc
}

// JSON writes the indented Document for g.
func JSON(w io.Writer, g *graph.FlowGraph, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(g, opts)); err != nil {
		return fmt.Errorf("render json: %w", err)
	}
	return nil
}
