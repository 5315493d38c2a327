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
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/config"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// analyzeBody mirrors the JSON of AnalyzeResponse.
type analyzeBody struct {
	SourcePath         string                       `json:"source_path"`
	GraphHash          string                       `json:"graph_hash"`
	Nodes              []string                     `json:"nodes"`
	Edges              []ast.FlowEdge               `json:"edges"`
	AssignedToByCallee map[string][]string          `json:"assigned_to_by_callee"`
	Layout             map[string]graph.Point       `json:"layout"`
	Details            map[string]graph.NodeDetails `json:"details"`
	NodeCount          int                          `json:"node_count"`
	EdgeCount          int                          `json:"edge_count"`
}

type testServer struct {
	router   *gin.Engine
	handlers *Handlers
	cfg      *config.Config
}

// newTestServer builds a router with rate limiting off. mutate may adjust
// the config before handlers are created.
func newTestServer(t *testing.T, withSnapshots bool, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Server.RateLimitRPS = 0
	cfg.Watch.Debounce = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	var snapshots *graph.SnapshotManager
	if withSnapshots {
		db, err := graph.OpenSnapshotDB("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		snapshots, err = graph.NewSnapshotManager(db, slogDiscard())
		require.NoError(t, err)
	}

	analyzer := NewAnalyzerFromConfig(cfg.Analysis, slogDiscard(), WithStrictExtensions(true))
	h, err := NewHandlers(analyzer, snapshots, cfg)
	require.NoError(t, err)

	return &testServer{router: NewRouter(h, cfg, false), handlers: h, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestNewHandlers_NilAnalyzer(t *testing.T) {
	_, err := NewHandlers(nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleAnalyze_Source(t *testing.T) {
	s := newTestServer(t, false, nil)

	w := s.do(t, http.MethodPost, "/v1/flow/analyze", AnalyzeRequest{Source: scenarioSource})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[analyzeBody](t, w)
	assert.Equal(t, DefaultSourceName, body.SourcePath)
	assert.Equal(t, []string{ast.MainScope, "f", "g", "print"}, body.Nodes)
	assert.Equal(t, []ast.FlowEdge{
		{Caller: "f", Callee: "g", Args: "a"},
		{Caller: ast.MainScope, Callee: "f", Args: "1"},
		{Caller: ast.MainScope, Callee: "print", Args: "x"},
	}, body.Edges)
	assert.Equal(t, map[string][]string{"f": {"x"}}, body.AssignedToByCallee)
	assert.Equal(t, 4, body.NodeCount)
	assert.Equal(t, 3, body.EdgeCount)
	assert.NotEmpty(t, body.GraphHash)
	assert.Nil(t, body.Layout)
	assert.Nil(t, body.Details)
}

func TestHandleAnalyze_PathWithLayoutAndDetails(t *testing.T) {
	s := newTestServer(t, false, nil)
	path := writeSource(t, "app.py", scenarioSource)

	w := s.do(t, http.MethodPost, "/v1/flow/analyze", AnalyzeRequest{
		Path:           path,
		IncludeLayout:  true,
		IncludeDetails: true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[analyzeBody](t, w)
	assert.Equal(t, path, body.SourcePath)
	assert.Equal(t, graph.Point{X: 120, Y: 120}, body.Layout[ast.MainScope])
	assert.Equal(t, graph.Point{X: 380, Y: 120}, body.Layout["f"])
	assert.Equal(t, graph.Point{X: 640, Y: 120}, body.Layout["g"])
	assert.Equal(t, []string{"1"}, body.Details["f"].CalledWith)
	assert.Equal(t, []string{"x"}, body.Details["f"].AssignedTo)
}

func TestHandleAnalyze_Filtering(t *testing.T) {
	s := newTestServer(t, false, func(cfg *config.Config) {
		cfg.Analysis.ExtraExcluded = []string{"g"}
	})

	w := s.do(t, http.MethodPost, "/v1/flow/analyze", AnalyzeRequest{
		Source:       scenarioSource,
		HideBuiltins: true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[analyzeBody](t, w)
	assert.Equal(t, []string{ast.MainScope, "f"}, body.Nodes)
	assert.Equal(t, []ast.FlowEdge{{Caller: ast.MainScope, Callee: "f", Args: "1"}}, body.Edges)
}

func TestHandleAnalyze_Errors(t *testing.T) {
	s := newTestServer(t, false, nil)
	missing := filepath.Join(t.TempDir(), "missing.py")

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed json", "{", http.StatusBadRequest, "INVALID_REQUEST"},
		{"no input", AnalyzeRequest{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"both inputs", AnalyzeRequest{Path: "a.py", Source: "x()"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing file", AnalyzeRequest{Path: missing}, http.StatusNotFound, "INPUT_NOT_FOUND"},
		{"syntax error", AnalyzeRequest{Source: "x = 1\ndef f(:\n"}, http.StatusUnprocessableEntity, "PARSE_FAILED"},
		{"unsupported language", AnalyzeRequest{Source: "f()", Filename: "app.js"}, http.StatusUnsupportedMediaType, "UNSUPPORTED_LANGUAGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/flow/analyze", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleAnalyze_FileTooLarge(t *testing.T) {
	s := newTestServer(t, false, func(cfg *config.Config) {
		cfg.Analysis.MaxFileSize = 8
	})
	path := writeSource(t, "app.py", scenarioSource)

	w := s.do(t, http.MethodPost, "/v1/flow/analyze", AnalyzeRequest{Path: path})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "FILE_TOO_LARGE", decode[ErrorResponse](t, w).Code)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, false, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/flow/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodGet, "/v1/flow/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleAnalyzeBatch(t *testing.T) {
	s := newTestServer(t, false, nil)
	good := writeSource(t, "good.py", scenarioSource)
	broken := writeSource(t, "broken.py", "def f(:\n")
	missing := filepath.Join(t.TempDir(), "missing.py")

	w := s.do(t, http.MethodPost, "/v1/flow/analyze/batch", BatchAnalyzeRequest{
		Paths: []string{good, broken, missing},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Results []struct {
			Path   string         `json:"path"`
			Result *analyzeBody   `json:"result"`
			Error  *ErrorResponse `json:"error"`
		} `json:"results"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, 1, body.Succeeded)
	assert.Equal(t, 2, body.Failed)
	require.Len(t, body.Results, 3)

	assert.Equal(t, good, body.Results[0].Path)
	require.NotNil(t, body.Results[0].Result)
	assert.Equal(t, 3, body.Results[0].Result.EdgeCount)

	require.NotNil(t, body.Results[1].Error)
	assert.Equal(t, "PARSE_FAILED", body.Results[1].Error.Code)

	require.NotNil(t, body.Results[2].Error)
	assert.Equal(t, "INPUT_NOT_FOUND", body.Results[2].Error.Code)
}

func TestHandleAnalyzeBatch_Limits(t *testing.T) {
	s := newTestServer(t, false, func(cfg *config.Config) {
		cfg.Server.MaxBatch = 1
	})

	w := s.do(t, http.MethodPost, "/v1/flow/analyze/batch", BatchAnalyzeRequest{Paths: []string{"a.py", "b.py"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/flow/analyze/batch", BatchAnalyzeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRender(t *testing.T) {
	s := newTestServer(t, false, nil)

	tests := []struct {
		format      string
		contentType string
		contains    string
	}{
		{"dot", "text/vnd.graphviz; charset=utf-8", "digraph ProgramFlow"},
		{"svg", "image/svg+xml", "<svg"},
		{"", "image/svg+xml", "<svg"},
		{"text", "text/plain; charset=utf-8", "f -> g (a)"},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/flow/render", RenderRequest{
				AnalyzeRequest: AnalyzeRequest{Source: scenarioSource},
				Format:         tt.format,
			})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}

	w := s.do(t, http.MethodPost, "/v1/flow/render", RenderRequest{
		AnalyzeRequest: AnalyzeRequest{Source: scenarioSource},
		Format:         "png",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, true, nil)

	w := s.do(t, http.MethodGet, "/v1/flow/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, []string{".py", ".pyi"}, resp.Extensions)
	assert.True(t, resp.Snapshots)
}

func TestSnapshotLifecycle(t *testing.T) {
	s := newTestServer(t, true, nil)
	path := writeSource(t, "app.py", scenarioSource)

	w := s.do(t, http.MethodPost, "/v1/flow/snapshots", SaveSnapshotRequest{Path: path, Label: "v1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	meta := decode[graph.SnapshotMetadata](t, w)
	assert.Equal(t, path, meta.SourcePath)
	assert.Equal(t, "v1", meta.Label)
	assert.Equal(t, 4, meta.NodeCount)
	id := meta.SnapshotID
	require.NotEmpty(t, id)

	w = s.do(t, http.MethodGet, "/v1/flow/snapshots?path="+path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListSnapshotsResponse](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Snapshots[0].SnapshotID)

	w = s.do(t, http.MethodGet, "/v1/flow/snapshots/"+id+"?hide_builtins=true&include_layout=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var loaded struct {
		Metadata graph.SnapshotMetadata `json:"metadata"`
		Graph    analyzeBody            `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
	assert.Equal(t, id, loaded.Metadata.SnapshotID)
	assert.Equal(t, []string{ast.MainScope, "f", "g"}, loaded.Graph.Nodes)
	assert.Contains(t, loaded.Graph.Layout, "g")

	w = s.do(t, http.MethodGet, "/v1/flow/snapshots/"+id+"/diff/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	diff := decode[graph.SnapshotDiff](t, w)
	assert.Equal(t, 0, diff.Summary.TotalChanges)

	w = s.do(t, http.MethodDelete, "/v1/flow/snapshots/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[DeleteSnapshotResponse](t, w).Deleted)

	w = s.do(t, http.MethodGet, "/v1/flow/snapshots/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SNAPSHOT_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodDelete, "/v1/flow/snapshots/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotDiff_Changes(t *testing.T) {
	s := newTestServer(t, true, nil)

	w := s.do(t, http.MethodPost, "/v1/flow/snapshots", SaveSnapshotRequest{Source: scenarioSource, Filename: "a.py"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	base := decode[graph.SnapshotMetadata](t, w).SnapshotID

	w = s.do(t, http.MethodPost, "/v1/flow/snapshots", SaveSnapshotRequest{Source: scenarioSource + "h()\n", Filename: "b.py"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	target := decode[graph.SnapshotMetadata](t, w).SnapshotID

	w = s.do(t, http.MethodGet, "/v1/flow/snapshots/"+base+"/diff/"+target, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	diff := decode[graph.SnapshotDiff](t, w)
	assert.Equal(t, []string{"h"}, diff.NodesAdded)
	assert.Equal(t, []ast.FlowEdge{{Caller: ast.MainScope, Callee: "h"}}, diff.EdgesAdded)

	w = s.do(t, http.MethodGet, "/v1/flow/snapshots/"+base+"/diff/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshots_NotConfigured(t *testing.T) {
	s := newTestServer(t, false, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/flow/snapshots"},
		{http.MethodPost, "/v1/flow/snapshots"},
		{http.MethodGet, "/v1/flow/snapshots/abc"},
		{http.MethodDelete, "/v1/flow/snapshots/abc"},
		{http.MethodGet, "/v1/flow/snapshots/abc/diff/def"},
	} {
		w := s.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, false, func(cfg *config.Config) {
		cfg.Server.RateLimitRPS = 0.001
		cfg.Server.RateLimitBurst = 1
	})

	w := s.do(t, http.MethodGet, "/v1/flow/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/flow/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code, "metrics are not rate limited")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false, nil)

	s.do(t, http.MethodPost, "/v1/flow/analyze", AnalyzeRequest{Source: scenarioSource})

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "proflow_http_requests_total")
	assert.Contains(t, w.Body.String(), `proflow_analysis_total{result="ok"}`)
}

func TestClassifyError_Default(t *testing.T) {
	status, body := classifyError(os.ErrPermission)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
}

func TestHandleWatch(t *testing.T) {
	s := newTestServer(t, false, nil)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	path := writeSource(t, "app.py", scenarioSource)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/flow/watch?path=" + path

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var created WatchMessage
	require.NoError(t, conn.ReadJSON(&created))
	assert.Equal(t, WatchActionSessionCreated, created.Action)
	assert.NotEmpty(t, created.SessionID)

	var first struct {
		Action    string      `json:"action"`
		SessionID string      `json:"sessionId"`
		Result    analyzeBody `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, WatchActionAnalysis, first.Action)
	assert.Equal(t, created.SessionID, first.SessionID)
	assert.Equal(t, 3, first.Result.EdgeCount)

	require.NoError(t, os.WriteFile(path, []byte(scenarioSource+"h(2)\n"), 0o644))

	for {
		var update struct {
			Action string      `json:"action"`
			Result analyzeBody `json:"result"`
		}
		require.NoError(t, conn.ReadJSON(&update))
		if update.Action != WatchActionAnalysis {
			continue
		}
		if update.Result.EdgeCount == 4 {
			assert.Contains(t, update.Result.Edges, ast.FlowEdge{Caller: ast.MainScope, Callee: "h", Args: "2"})
			return
		}
	}
}

func TestHandleWatch_SessionCreatedBeforeUpdates(t *testing.T) {
	s := newTestServer(t, false, nil)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	path := writeSource(t, "app.py", scenarioSource)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/flow/watch?path=" + path

	// Keep the file changing while the session is set up so updates race
	// the initial messages.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = os.WriteFile(path, []byte(scenarioSource), 0o644)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
	time.Sleep(50 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	type message struct {
		Action    string `json:"action"`
		SessionID string `json:"sessionId"`
		Events    int    `json:"events"`
	}
	var created, first, next message
	require.NoError(t, conn.ReadJSON(&created))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&next))

	assert.Equal(t, WatchActionSessionCreated, created.Action)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, WatchActionAnalysis, first.Action)
	assert.Zero(t, first.Events, "initial analysis must precede change updates")
	assert.Equal(t, created.SessionID, next.SessionID)
	assert.Positive(t, next.Events)
}

func TestWatchSession_WaitReady(t *testing.T) {
	session := &watchSession{ready: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, session.waitReady(ctx))

	session.markReady()
	session.markReady()
	assert.True(t, session.waitReady(context.Background()))
}

func TestHandleWatch_Errors(t *testing.T) {
	s := newTestServer(t, false, nil)

	w := s.do(t, http.MethodGet, "/v1/flow/watch", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/flow/watch?path="+filepath.Join(t.TempDir(), "missing.py"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
