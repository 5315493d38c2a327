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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Watch message actions.
const (
	WatchActionSessionCreated = "session_created"
	WatchActionAnalysis       = "analysis"
	WatchActionRemoved        = "removed"
	WatchActionError          = "error"
)

// watchWriteTimeout bounds a single websocket write.
const watchWriteTimeout = 10 * time.Second

// HandleWatch handles GET /v1/flow/watch.
//
// Description:
//
//	Analyzes the file once, upgrades to a websocket and then pushes a new
//	analysis every time the file changes. The first message carries the
//	session ID, the second the initial analysis. Messages from the client
//	are read and discarded; closing the socket ends the session.
//
// Query Parameters:
//
//	path: File to watch (required)
//	hide_builtins, exclude, include_layout, include_details: As in AnalyzeRequest
//
// Response:
//
//	101 Switching Protocols: WatchMessage stream
//	400/404/422: Initial analysis failed, no upgrade
func (h *Handlers) HandleWatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.With("request_id", requestID, "handler", "HandleWatch"))

	view := &AnalyzeRequest{
		Path:           c.Query("path"),
		HideBuiltins:   queryBool(c, "hide_builtins"),
		Exclude:        c.QueryArray("exclude"),
		IncludeLayout:  queryBool(c, "include_layout"),
		IncludeDetails: queryBool(c, "include_details"),
	}
	if view.Path == "" {
		writeError(c, fmt.Errorf("%w: path parameter is required", errInvalidRequest))
		return
	}

	first, err := h.analyze(c.Request.Context(), view)
	if err != nil {
		writeError(c, err)
		return
	}
	view.Path = first.SourcePath

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", slog.Any("error", err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := &watchSession{conn: ws, id: uuid.New().String(), ready: make(chan struct{})}
	logger = logger.With("session_id", session.id, "path", view.Path)
	logger.Info("watch session started")

	// The watcher starts before the initial messages go out so no change is
	// missed; updates are held until session_created and the first analysis
	// have been sent.
	watcher, err := graph.NewSourceWatcher(view.Path, func(change graph.SourceChange) {
		if !session.waitReady(ctx) {
			return
		}
		if err := session.send(h.watchUpdate(ctx, view, change)); err != nil {
			cancel()
		}
	}, &graph.SourceWatcherOptions{Debounce: h.cfg.Watch.Debounce, Logger: logger})
	if err == nil {
		if err = watcher.Start(ctx); err != nil {
			watcher.Stop()
		}
	}
	if err != nil {
		logger.Error("watch failed", slog.Any("error", err))
		_, body := classifyError(err)
		_ = session.send(WatchMessage{Action: WatchActionSessionCreated, Path: view.Path})
		_ = session.send(WatchMessage{Action: WatchActionError, Path: view.Path, Error: &body})
		return
	}
	defer watcher.Stop()
	defer session.markReady()

	if err := session.send(WatchMessage{Action: WatchActionSessionCreated, Path: view.Path}); err != nil {
		return
	}
	if err := session.send(WatchMessage{Action: WatchActionAnalysis, Path: view.Path, Result: first}); err != nil {
		return
	}
	session.markReady()

	watchSessions.Inc()
	defer watchSessions.Dec()

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info("watch session ended")
}

// watchUpdate builds the message for one debounced change.
func (h *Handlers) watchUpdate(ctx context.Context, view *AnalyzeRequest, change graph.SourceChange) WatchMessage {
	msg := WatchMessage{Path: change.Path, Events: change.Events}
	if change.Op == graph.SourceOpRemove {
		msg.Action = WatchActionRemoved
		return msg
	}
	resp, err := h.analyze(ctx, view)
	if err != nil {
		_, body := classifyError(err)
		msg.Action = WatchActionError
		msg.Error = &body
		return msg
	}
	msg.Action = WatchActionAnalysis
	msg.Result = resp
	return msg
}

// watchSession serializes writes to one websocket.
type watchSession struct {
	mu   sync.Mutex
	conn *websocket.Conn
	id   string

	ready     chan struct{}
	readyOnce sync.Once
}

// markReady releases updates held by waitReady. Safe to call repeatedly.
func (s *watchSession) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// waitReady blocks until markReady or ctx is done. Reports false on ctx.
func (s *watchSession) waitReady(ctx context.Context) bool {
	select {
	case <-s.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *watchSession) send(msg WatchMessage) error {
	msg.SessionID = s.id
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		slog.Warn("failed to write websocket message", slog.String("session_id", s.id), slog.Any("error", err))
		return err
	}
	return nil
}
