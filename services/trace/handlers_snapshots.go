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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/render"
	"github.com/AleutianAI/ProFlow/services/trace/telemetry"
	"github.com/gin-gonic/gin"
)

// defaultSnapshotListLimit is used when the limit query parameter is absent.
const defaultSnapshotListLimit = 100

// HandleSaveSnapshot handles POST /v1/flow/snapshots.
//
// Description:
//
//	Analyzes the given path or source and persists the unfiltered graph.
//
// Response:
//
//	201 Created: graph.SnapshotMetadata
//	503 Service Unavailable: Snapshot persistence not configured
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleSaveSnapshot"))

	if !h.requireSnapshots(c) {
		return
	}

	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	g, err := h.analyzeInput(c.Request.Context(), req.Path, req.Source, req.Filename)
	recordAnalysis(err)
	if err != nil {
		writeError(c, err)
		return
	}

	meta, err := h.snapshots.Save(c.Request.Context(), g, req.Label)
	if err != nil {
		logger.Error("snapshot save failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to save snapshot: " + err.Error(),
			Code:  "SNAPSHOT_SAVE_FAILED",
		})
		return
	}

	logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.Int("node_count", meta.NodeCount),
	)
	c.JSON(http.StatusCreated, meta)
}

// HandleListSnapshots handles GET /v1/flow/snapshots.
//
// Query Parameters:
//
//	path: Optional source path filter
//	limit: Maximum results, default 100
//
// Response:
//
//	200 OK: ListSnapshotsResponse, newest first
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleListSnapshots"))

	if !h.requireSnapshots(c) {
		return
	}

	limit := defaultSnapshotListLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	path := c.Query("path")
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	snapshots, err := h.snapshots.List(c.Request.Context(), path, limit)
	if err != nil {
		logger.Error("snapshot list failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	if snapshots == nil {
		snapshots = []*graph.SnapshotMetadata{}
	}

	c.JSON(http.StatusOK, ListSnapshotsResponse{
		Snapshots: snapshots,
		Count:     len(snapshots),
	})
}

// HandleLoadSnapshot handles GET /v1/flow/snapshots/:id.
//
// Query Parameters:
//
//	hide_builtins, include_layout, include_details: As in AnalyzeRequest
//	exclude: Repeatable name to remove
//
// Response:
//
//	200 OK: SnapshotResponse
//	404 Not Found: Unknown snapshot
func (h *Handlers) HandleLoadSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleLoadSnapshot"))

	if !h.requireSnapshots(c) {
		return
	}

	id := c.Param("id")
	g, meta, err := h.snapshots.Load(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, graph.ErrSnapshotNotFound) {
			logger.Error("snapshot load failed", slog.String("snapshot_id", id), slog.Any("error", err))
		}
		writeError(c, err)
		return
	}

	view := &AnalyzeRequest{
		HideBuiltins:   queryBool(c, "hide_builtins"),
		Exclude:        c.QueryArray("exclude"),
		IncludeLayout:  queryBool(c, "include_layout"),
		IncludeDetails: queryBool(c, "include_details"),
	}
	filtered := g.Filter(h.exclusions(view.HideBuiltins, view.Exclude))

	c.JSON(http.StatusOK, SnapshotResponse{
		Metadata: meta,
		Graph:    render.NewDocument(filtered, h.renderOptions(view)),
	})
}

// HandleDeleteSnapshot handles DELETE /v1/flow/snapshots/:id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot"))

	if !h.requireSnapshots(c) {
		return
	}

	id := c.Param("id")
	if err := h.snapshots.Delete(c.Request.Context(), id); err != nil {
		if !errors.Is(err, graph.ErrSnapshotNotFound) {
			logger.Error("snapshot delete failed", slog.String("snapshot_id", id), slog.Any("error", err))
		}
		writeError(c, err)
		return
	}

	logger.Info("snapshot deleted", slog.String("snapshot_id", id))
	c.JSON(http.StatusOK, DeleteSnapshotResponse{SnapshotID: id, Deleted: true})
}

// HandleDiffSnapshots handles GET /v1/flow/snapshots/:id/diff/:other.
//
// Description:
//
//	Compares snapshot :id (base) with :other (target).
//
// Response:
//
//	200 OK: graph.SnapshotDiff
//	404 Not Found: Either snapshot missing
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleDiffSnapshots"))

	if !h.requireSnapshots(c) {
		return
	}

	baseID, targetID := c.Param("id"), c.Param("other")
	base, _, err := h.snapshots.Load(c.Request.Context(), baseID)
	if err != nil {
		writeError(c, fmt.Errorf("base %s: %w", baseID, err))
		return
	}
	target, _, err := h.snapshots.Load(c.Request.Context(), targetID)
	if err != nil {
		writeError(c, fmt.Errorf("target %s: %w", targetID, err))
		return
	}

	diff, err := graph.DiffSnapshots(base, target, baseID, targetID)
	if err != nil {
		logger.Error("snapshot diff failed", slog.Any("error", err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// requireSnapshots writes 503 and returns false when persistence is off.
func (h *Handlers) requireSnapshots(c *gin.Context) bool {
	if h.snapshots != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "snapshot persistence not configured",
		Code:  "SNAPSHOTS_NOT_AVAILABLE",
	})
	return false
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
