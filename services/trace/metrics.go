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
	"strconv"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal counts requests by route, method and status.
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proflow_http_requests_total",
		Help: "Total HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// httpRequestDuration tracks request latency.
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proflow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"route", "method"})

	// analysisTotal counts analyses by result.
	analysisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proflow_analysis_total",
		Help: "Total analyses by result",
	}, []string{"result"})

	// rateLimitedTotal counts requests rejected by the rate limiter.
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proflow_http_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})

	// watchSessions is the number of open websocket watch sessions.
	watchSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proflow_watch_sessions",
		Help: "Open websocket watch sessions",
	})
)

// recordAnalysis counts one analysis outcome.
func recordAnalysis(err error) {
	analysisTotal.WithLabelValues(analysisResult(err)).Inc()
}

func analysisResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ast.ErrParseFailed):
		return "parse_failed"
	case errors.Is(err, ast.ErrInvalidContent):
		return "invalid_content"
	case errors.Is(err, ast.ErrInputNotFound):
		return "not_found"
	case errors.Is(err, ast.ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, ast.ErrUnsupportedLanguage):
		return "unsupported_language"
	case errors.Is(err, ErrAnalysisTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
