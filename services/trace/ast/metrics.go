// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for syntax walking.
var (
	tracer = otel.Tracer("proflow.ast")
	meter  = otel.Meter("proflow.ast")
)

var (
	walkLatency    metric.Float64Histogram
	walkTotal      metric.Int64Counter
	edgesExtracted metric.Int64Histogram
	walkErrors     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		walkLatency, err = meter.Float64Histogram(
			"proflow_walk_duration_seconds",
			metric.WithDescription("Duration of parse and walk of one source file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		walkTotal, err = meter.Int64Counter(
			"proflow_walk_total",
			metric.WithDescription("Total number of walk operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesExtracted, err = meter.Int64Histogram(
			"proflow_walk_edges",
			metric.WithDescription("Number of flow edges extracted per walk"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		walkErrors, err = meter.Int64Counter(
			"proflow_walk_errors_total",
			metric.WithDescription("Total number of failed walks"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordWalkMetrics records the outcome of one Walk call.
//
// Parameters:
//   - ctx: Context for metric recording
//   - language: Language walked (e.g., "python")
//   - duration: How long parse plus walk took
//   - edgeCount: Number of edges produced
//   - success: Whether the walk succeeded
func recordWalkMetrics(ctx context.Context, language string, duration time.Duration, edgeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)

	walkLatency.Record(ctx, duration.Seconds(), attrs)
	walkTotal.Add(ctx, 1, attrs)

	if success {
		edgesExtracted.Record(ctx, int64(edgeCount),
			metric.WithAttributes(attribute.String("language", language)),
		)
	} else {
		walkErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("language", language)),
		)
	}
}

// startWalkSpan creates a span for a walk.
//
// Returns:
//   - ctx: Context with span
//   - span: The created span (caller must call span.End())
func startWalkSpan(ctx context.Context, language, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Walker.Walk",
		trace.WithAttributes(
			attribute.String("ast.language", language),
			attribute.String("ast.file", filePath),
			attribute.Int("ast.content_size", contentSize),
		),
	)
}

// setWalkSpanResult sets the result attributes on a walk span.
func setWalkSpanResult(span trace.Span, edgeCount, assignmentCount, scopeCount int) {
	span.SetAttributes(
		attribute.Int("ast.edge_count", edgeCount),
		attribute.Int("ast.assignment_count", assignmentCount),
		attribute.Int("ast.scope_count", scopeCount),
	)
}
