// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/render"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a stable machine-readable code, e.g. "PARSE_FAILED".
	Code string `json:"code,omitempty"`

	// Details carries extra context such as the parse error location.
	Details string `json:"details,omitempty"`
}

// AnalyzeRequest is the body of POST /v1/flow/analyze and /render.
//
// Exactly one of Path and Source must be set.
type AnalyzeRequest struct {
	// Path is a file on the server's filesystem.
	Path string `json:"path,omitempty"`

	// Source is inline Python source.
	Source string `json:"source,omitempty"`

	// Filename names inline source. Its extension selects the walker.
	// Default: "source.py".
	Filename string `json:"filename,omitempty"`

	// HideBuiltins removes Python builtin names from the graph.
	HideBuiltins bool `json:"hide_builtins,omitempty"`

	// Exclude lists further names to remove.
	Exclude []string `json:"exclude,omitempty"`

	// IncludeLayout adds node positions to the response.
	IncludeLayout bool `json:"include_layout,omitempty"`

	// IncludeDetails adds per-node call and assignment summaries.
	IncludeDetails bool `json:"include_details,omitempty"`
}

// AnalyzeResponse is the result of one analysis.
type AnalyzeResponse struct {
	*render.Document

	// NodeCount is the number of nodes after filtering.
	NodeCount int `json:"node_count"`

	// EdgeCount is the number of edges after filtering.
	EdgeCount int `json:"edge_count"`

	// DurationMs is the wall time of the analysis.
	DurationMs int64 `json:"duration_ms"`
}

// BatchAnalyzeRequest is the body of POST /v1/flow/analyze/batch.
type BatchAnalyzeRequest struct {
	// Paths are analyzed concurrently. Required, at most server.max_batch.
	Paths []string `json:"paths" binding:"required,min=1"`

	HideBuiltins   bool     `json:"hide_builtins,omitempty"`
	Exclude        []string `json:"exclude,omitempty"`
	IncludeLayout  bool     `json:"include_layout,omitempty"`
	IncludeDetails bool     `json:"include_details,omitempty"`
}

// BatchResult is the outcome for one path of a batch.
type BatchResult struct {
	Path   string           `json:"path"`
	Result *AnalyzeResponse `json:"result,omitempty"`
	Error  *ErrorResponse   `json:"error,omitempty"`
}

// BatchAnalyzeResponse holds results in request order.
type BatchAnalyzeResponse struct {
	Results   []BatchResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// RenderRequest is the body of POST /v1/flow/render.
type RenderRequest struct {
	AnalyzeRequest

	// Format is one of text, json, dot, svg. Default: svg.
	Format string `json:"format,omitempty"`
}

// SaveSnapshotRequest is the body of POST /v1/flow/snapshots.
//
// The unfiltered graph is stored; filters are applied when reading.
type SaveSnapshotRequest struct {
	Path     string `json:"path,omitempty"`
	Source   string `json:"source,omitempty"`
	Filename string `json:"filename,omitempty"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`
}

// ListSnapshotsResponse is the body of GET /v1/flow/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*graph.SnapshotMetadata `json:"snapshots"`
	Count     int                       `json:"count"`
}

// SnapshotResponse is the body of GET /v1/flow/snapshots/:id.
type SnapshotResponse struct {
	Metadata *graph.SnapshotMetadata `json:"metadata"`
	Graph    *render.Document        `json:"graph"`
}

// DeleteSnapshotResponse is the body of DELETE /v1/flow/snapshots/:id.
type DeleteSnapshotResponse struct {
	SnapshotID string `json:"snapshot_id"`
	Deleted    bool   `json:"deleted"`
}

// HealthResponse is the body of GET /v1/flow/health.
type HealthResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	Extensions []string `json:"extensions"`
	Snapshots  bool     `json:"snapshots"`
}

// WatchMessage is pushed over the /v1/flow/watch websocket.
type WatchMessage struct {
	// Action is one of session_created, analysis, removed, error.
	Action string `json:"action"`

	// SessionID identifies the websocket session.
	SessionID string `json:"sessionId"`

	// Path is the watched file.
	Path string `json:"path,omitempty"`

	// Events is how many filesystem events the update coalesced.
	Events int `json:"events,omitempty"`

	Result *AnalyzeResponse `json:"result,omitempty"`
	Error  *ErrorResponse   `json:"error,omitempty"`
}
