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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/config"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/render"
	"github.com/AleutianAI/ProFlow/services/trace/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Version is reported by the health endpoint and the CLI.
const Version = "1.0.0"

// requestIDKey is the gin context key holding the request ID.
const requestIDKey = "request_id"

// errInvalidRequest marks request validation failures.
var errInvalidRequest = errors.New("invalid request")

// Handlers contains the HTTP handlers for the flow API.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	analyzer  *Analyzer
	snapshots *graph.SnapshotManager
	cfg       *config.Config
	upgrader  websocket.Upgrader
}

// NewHandlers creates handlers.
//
// Inputs:
//
//	analyzer - Analyzer used by every endpoint. Must not be nil.
//	snapshots - Snapshot store. May be nil, which disables /snapshots.
//	cfg - Configuration. Nil uses config.Default().
//
// Outputs:
//
//	*Handlers - The handlers.
//	error - Non-nil if analyzer is nil.
func NewHandlers(analyzer *Analyzer, snapshots *graph.SnapshotManager, cfg *config.Config) (*Handlers, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer must not be nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handlers{
		analyzer:  analyzer,
		snapshots: snapshots,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// HandleAnalyze handles POST /v1/flow/analyze.
//
// Description:
//
//	Analyzes a server-side file or inline source and returns the filtered
//	graph, optionally with layout positions and node details.
//
// Request Body:
//
//	AnalyzeRequest
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Neither or both of path and source
//	404 Not Found: Path does not exist
//	413 Request Entity Too Large: File exceeds analysis.max_file_size
//	415 Unsupported Media Type: Extension has no walker
//	422 Unprocessable Entity: Syntax error or non-UTF-8 content
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleAnalyze"))

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	resp, err := h.analyze(c.Request.Context(), &req)
	if err != nil {
		logger.Info("analysis failed", slog.String("path", req.Path), slog.Any("error", err))
		writeError(c, err)
		return
	}

	logger.Info("analysis complete",
		slog.String("path", resp.SourcePath),
		slog.Int("nodes", resp.NodeCount),
		slog.Int("edges", resp.EdgeCount),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleAnalyzeBatch handles POST /v1/flow/analyze/batch.
//
// Description:
//
//	Analyzes up to server.max_batch files concurrently, bounded by
//	server.batch_concurrency. A failing file does not fail the batch;
//	its error is reported in its own result slot.
//
// Response:
//
//	200 OK: BatchAnalyzeResponse, results in request order
//	400 Bad Request: Empty or oversized batch
func (h *Handlers) HandleAnalyzeBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleAnalyzeBatch"))

	var req BatchAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	if len(req.Paths) > h.cfg.Server.MaxBatch {
		writeError(c, fmt.Errorf("%w: batch of %d paths exceeds limit %d",
			errInvalidRequest, len(req.Paths), h.cfg.Server.MaxBatch))
		return
	}

	results := make([]BatchResult, len(req.Paths))
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(h.cfg.Server.BatchConcurrency)
	for i, path := range req.Paths {
		g.Go(func() error {
			results[i].Path = path
			resp, err := h.analyze(ctx, &AnalyzeRequest{
				Path:           path,
				HideBuiltins:   req.HideBuiltins,
				Exclude:        req.Exclude,
				IncludeLayout:  req.IncludeLayout,
				IncludeDetails: req.IncludeDetails,
			})
			if err != nil {
				_, body := classifyError(err)
				results[i].Error = &body
				return nil
			}
			results[i].Result = resp
			return nil
		})
	}
	_ = g.Wait()

	out := BatchAnalyzeResponse{Results: results}
	for _, r := range results {
		if r.Error != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}

	logger.Info("batch complete",
		slog.Int("paths", len(req.Paths)),
		slog.Int("succeeded", out.Succeeded),
		slog.Int("failed", out.Failed),
	)
	c.JSON(http.StatusOK, out)
}

// HandleRender handles POST /v1/flow/render.
//
// Description:
//
//	Analyzes like /analyze and returns the graph rendered as text, JSON,
//	Graphviz DOT or SVG with the matching Content-Type.
//
// Response:
//
//	200 OK: Rendered body
//	400 Bad Request: Unknown format or invalid input
func (h *Handlers) HandleRender(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleRender"))

	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	if req.Format == "" {
		req.Format = string(render.FormatSVG)
	}
	format, err := render.ParseFormat(req.Format)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	g, err := h.buildGraph(c.Request.Context(), &req.AnalyzeRequest)
	if err != nil {
		logger.Info("analysis failed", slog.Any("error", err))
		writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := render.Render(&buf, g, format, h.renderOptions(&req.AnalyzeRequest)); err != nil {
		logger.Error("render failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "render failed: " + err.Error(),
			Code:  "RENDER_FAILED",
		})
		return
	}
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// HandleHealth handles GET /v1/flow/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    Version,
		Extensions: h.analyzer.registry.Extensions(),
		Snapshots:  h.snapshots != nil,
	})
}

// analyze runs one request through analysis, filtering and document building.
func (h *Handlers) analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	start := time.Now()
	g, err := h.buildGraph(ctx, req)
	if err != nil {
		return nil, err
	}
	return &AnalyzeResponse{
		Document:   render.NewDocument(g, h.renderOptions(req)),
		NodeCount:  g.NodeCount(),
		EdgeCount:  g.EdgeCount(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// buildGraph analyzes the request input and applies its exclusions.
func (h *Handlers) buildGraph(ctx context.Context, req *AnalyzeRequest) (*graph.FlowGraph, error) {
	g, err := h.analyzeInput(ctx, req.Path, req.Source, req.Filename)
	if err != nil {
		recordAnalysis(err)
		return nil, err
	}
	recordAnalysis(nil)
	return g.Filter(h.exclusions(req.HideBuiltins, req.Exclude)), nil
}

// analyzeInput dispatches to AnalyzeFile or AnalyzeSource.
func (h *Handlers) analyzeInput(ctx context.Context, path, source, filename string) (*graph.FlowGraph, error) {
	switch {
	case path == "" && source == "":
		return nil, fmt.Errorf("%w: one of path or source is required", errInvalidRequest)
	case path != "" && source != "":
		return nil, fmt.Errorf("%w: path and source are mutually exclusive", errInvalidRequest)
	case path != "":
		return h.analyzer.AnalyzeFile(ctx, path)
	default:
		return h.analyzer.AnalyzeSource(ctx, []byte(source), filename)
	}
}

func (h *Handlers) exclusions(hideBuiltins bool, extra []string) map[string]struct{} {
	names := make([]string, 0, len(h.cfg.Analysis.ExtraExcluded)+len(extra))
	names = append(names, h.cfg.Analysis.ExtraExcluded...)
	names = append(names, extra...)
	return Exclusions(hideBuiltins || h.cfg.Analysis.HideBuiltins, names)
}

func (h *Handlers) renderOptions(req *AnalyzeRequest) render.Options {
	return render.Options{
		Layout:         h.cfg.Layout,
		IncludeLayout:  req.IncludeLayout,
		IncludeDetails: req.IncludeDetails,
	}
}

// classifyError maps an error to its HTTP status and response body.
func classifyError(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}
	var perr *ast.ParseError
	switch {
	case errors.Is(err, errInvalidRequest):
		resp.Code = "INVALID_REQUEST"
		return http.StatusBadRequest, resp
	case errors.As(err, &perr):
		resp.Code = "PARSE_FAILED"
		resp.Details = fmt.Sprintf("line %d, column %d: %s", perr.Line, perr.Column, perr.Message)
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, ast.ErrParseFailed):
		resp.Code = "PARSE_FAILED"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, ast.ErrInvalidContent):
		resp.Code = "INVALID_CONTENT"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, ast.ErrInputNotFound):
		resp.Code = "INPUT_NOT_FOUND"
		return http.StatusNotFound, resp
	case errors.Is(err, ast.ErrFileTooLarge):
		resp.Code = "FILE_TOO_LARGE"
		return http.StatusRequestEntityTooLarge, resp
	case errors.Is(err, ast.ErrUnsupportedLanguage):
		resp.Code = "UNSUPPORTED_LANGUAGE"
		return http.StatusUnsupportedMediaType, resp
	case errors.Is(err, graph.ErrSnapshotNotFound):
		resp.Code = "SNAPSHOT_NOT_FOUND"
		return http.StatusNotFound, resp
	case errors.Is(err, ErrAnalysisTimeout), errors.Is(err, context.DeadlineExceeded):
		resp.Code = "ANALYSIS_TIMEOUT"
		return http.StatusGatewayTimeout, resp
	default:
		resp.Code = "INTERNAL_ERROR"
		return http.StatusInternalServerError, resp
	}
}

// writeError writes the classified error response.
func writeError(c *gin.Context, err error) {
	status, body := classifyError(err)
	c.JSON(status, body)
}

// getOrCreateRequestID returns the request ID for c.
//
// Description:
//
//	Prefers an ID already stored by RequestIDMiddleware, then the
//	X-Request-ID header, then a new UUID. The ID is echoed in the
//	X-Request-ID response header.
func getOrCreateRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}
