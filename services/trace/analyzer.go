// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace wires the walker, graph builder and renderers into an
// analyzer, and serves it over HTTP under /v1/flow.
package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/config"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("proflow.analyzer")

// ErrAnalysisTimeout indicates the configured analysis timeout elapsed.
var ErrAnalysisTimeout = errors.New("analysis timed out")

// DefaultSourceName is the file name used when source is analyzed without one.
const DefaultSourceName = "source.py"

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithMaxFileSize sets the largest file the analyzer reads. Values <= 0
// keep ast.DefaultMaxFileSize.
func WithMaxFileSize(bytes int64) AnalyzerOption {
	return func(a *Analyzer) {
		if bytes > 0 {
			a.maxFileSize = bytes
		}
	}
}

// WithTimeout bounds each analysis. Zero disables the bound.
func WithTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if d >= 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the analyzer logger.
func WithLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStrictExtensions rejects files whose extension has no registered
// walker with ast.ErrUnsupportedLanguage. The HTTP API uses it; the CLI
// only warns.
func WithStrictExtensions(strict bool) AnalyzerOption {
	return func(a *Analyzer) {
		a.strictExtensions = strict
	}
}

// WithRegistry replaces the default walker registry.
func WithRegistry(r *ast.WalkerRegistry) AnalyzerOption {
	return func(a *Analyzer) {
		a.registry = r
	}
}

// Analyzer turns Python source into flow graphs.
//
// Description:
//
//	Resolves and reads the input, walks it with the registered walker
//	and builds the unfiltered FlowGraph. Filtering, layout and rendering
//	are left to the caller so that one analysis can serve several views.
//
// Thread Safety:
//
//	Safe for concurrent use after construction.
type Analyzer struct {
	registry         *ast.WalkerRegistry
	fallback         ast.Walker
	maxFileSize      int64
	timeout          time.Duration
	strictExtensions bool
	logger           *slog.Logger
}

// NewAnalyzer creates an Analyzer with the Python walker registered.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		maxFileSize: ast.DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.fallback = ast.NewPythonWalker(
		ast.WithPythonMaxFileSize(a.maxFileSize),
		ast.WithPythonLogger(a.logger),
	)
	if a.registry == nil {
		a.registry = ast.NewWalkerRegistry()
		a.registry.Register(a.fallback)
	}
	return a
}

// NewAnalyzerFromConfig creates an Analyzer from the analysis section.
func NewAnalyzerFromConfig(cfg config.AnalysisConfig, logger *slog.Logger, opts ...AnalyzerOption) *Analyzer {
	base := []AnalyzerOption{
		WithMaxFileSize(cfg.MaxFileSize),
		WithTimeout(cfg.Timeout),
		WithLogger(logger),
	}
	return NewAnalyzer(append(base, opts...)...)
}

// AnalyzeFile reads and analyzes the file at path.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	path - File to analyze. Made absolute.
//
// Outputs:
//
//	*graph.FlowGraph - The unfiltered graph with SourcePath set to the
//	absolute path.
//	error - ast.ErrInputNotFound when the path is missing or not a regular
//	file, ast.ErrFileTooLarge, ast.ErrUnsupportedLanguage in strict mode,
//	or any walk error.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*graph.FlowGraph, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ast.ErrInputNotFound, abs)
		}
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ast.ErrInputNotFound, abs)
	}
	if info.Size() > a.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ast.ErrFileTooLarge, abs, info.Size(), a.maxFileSize)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", abs, err)
	}
	return a.analyze(ctx, content, abs)
}

// AnalyzeSource analyzes in-memory content. An empty filename uses
// DefaultSourceName.
func (a *Analyzer) AnalyzeSource(ctx context.Context, content []byte, filename string) (*graph.FlowGraph, error) {
	if filename == "" {
		filename = DefaultSourceName
	}
	return a.analyze(ctx, content, filename)
}

func (a *Analyzer) analyze(ctx context.Context, content []byte, path string) (*graph.FlowGraph, error) {
	if ctx == nil {
		return nil, fmt.Errorf("analyze %s: context must not be nil", path)
	}

	ctx, span := tracer.Start(ctx, "Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("analyzer.path", path),
			attribute.Int("analyzer.content_size", len(content)),
		),
	)
	defer span.End()

	walker, err := a.walkerFor(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unsupported language")
		return nil, err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := walker.Walk(ctx, content, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %s", ErrAnalysisTimeout, a.timeout, path)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk failed")
		return nil, err
	}

	g := graph.Build(res)
	span.SetAttributes(
		attribute.Int("analyzer.node_count", g.NodeCount()),
		attribute.Int("analyzer.edge_count", g.EdgeCount()),
	)
	a.logger.Debug("analysis complete",
		slog.String("path", path),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("duration", time.Since(start)),
	)
	return g, nil
}

func (a *Analyzer) walkerFor(path string) (ast.Walker, error) {
	w, err := a.registry.ForPath(path)
	if err == nil {
		return w, nil
	}
	if a.strictExtensions || !errors.Is(err, ast.ErrUnsupportedLanguage) {
		return nil, err
	}
	a.logger.Warn("file does not look like Python, analyzing anyway",
		slog.String("path", path),
		slog.Any("extensions", a.registry.Extensions()),
	)
	return a.fallback, nil
}

// Exclusions builds the name set removed by Filter.
func Exclusions(hideBuiltins bool, extra []string) map[string]struct{} {
	lists := [][]string{extra}
	if hideBuiltins {
		lists = append(lists, graph.PythonBuiltinNames())
	}
	return graph.ExclusionSet(lists...)
}
