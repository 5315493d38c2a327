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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/config"
)

const scenarioSource = `def f(a):
    g(a)

x = f(1)
print(x)
`

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestAnalyzer_AnalyzeFile(t *testing.T) {
	path := writeSource(t, "app.py", scenarioSource)

	g, err := NewAnalyzer().AnalyzeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if !filepath.IsAbs(g.SourcePath) {
		t.Errorf("SourcePath = %q, want absolute", g.SourcePath)
	}
	if g.SourceHash == "" {
		t.Error("SourceHash is empty")
	}

	want := []ast.FlowEdge{
		{Caller: "f", Callee: "g", Args: "a"},
		{Caller: ast.MainScope, Callee: "f", Args: "1"},
		{Caller: ast.MainScope, Callee: "print", Args: "x"},
	}
	got := g.Edges()
	if len(got) != len(want) {
		t.Fatalf("edges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("edge[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if targets := g.Assignments().Targets("f"); len(targets) != 1 || targets[0] != "x" {
		t.Errorf("assignments[f] = %v, want [x]", targets)
	}
}

func TestAnalyzer_AnalyzeFileErrors(t *testing.T) {
	dir := t.TempDir()
	big := writeSource(t, "big.py", scenarioSource)
	broken := writeSource(t, "broken.py", "def f(:\n")

	tests := []struct {
		name    string
		path    string
		opts    []AnalyzerOption
		wantErr error
	}{
		{"missing file", filepath.Join(dir, "nope.py"), nil, ast.ErrInputNotFound},
		{"directory", dir, nil, ast.ErrInputNotFound},
		{"too large", big, []AnalyzerOption{WithMaxFileSize(8)}, ast.ErrFileTooLarge},
		{"syntax error", broken, nil, ast.ErrParseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewAnalyzer(tt.opts...).AnalyzeFile(context.Background(), tt.path)
			if err == nil {
				t.Fatalf("expected error, got graph with %d edges", g.EdgeCount())
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnalyzer_ParseErrorHasLocation(t *testing.T) {
	path := writeSource(t, "broken.py", "x = 1\ndef f(:\n")

	_, err := NewAnalyzer().AnalyzeFile(context.Background(), path)

	var perr *ast.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ast.ParseError, got %v", err)
	}
	if perr.Line < 1 {
		t.Errorf("Line = %d, want >= 1", perr.Line)
	}
}

func TestAnalyzer_ExtensionHandling(t *testing.T) {
	path := writeSource(t, "script.txt", scenarioSource)

	t.Run("lenient analyzes anyway", func(t *testing.T) {
		g, err := NewAnalyzer().AnalyzeFile(context.Background(), path)
		if err != nil {
			t.Fatalf("AnalyzeFile: %v", err)
		}
		if g.EdgeCount() != 3 {
			t.Errorf("EdgeCount = %d, want 3", g.EdgeCount())
		}
	})

	t.Run("strict rejects", func(t *testing.T) {
		_, err := NewAnalyzer(WithStrictExtensions(true)).AnalyzeFile(context.Background(), path)
		if !errors.Is(err, ast.ErrUnsupportedLanguage) {
			t.Errorf("error = %v, want ErrUnsupportedLanguage", err)
		}
	})

	t.Run("pyi is python", func(t *testing.T) {
		stub := writeSource(t, "stub.pyi", scenarioSource)
		if _, err := NewAnalyzer(WithStrictExtensions(true)).AnalyzeFile(context.Background(), stub); err != nil {
			t.Errorf("AnalyzeFile(.pyi): %v", err)
		}
	})
}

func TestAnalyzer_AnalyzeSource(t *testing.T) {
	a := NewAnalyzer()

	g, err := a.AnalyzeSource(context.Background(), []byte(scenarioSource), "")
	if err != nil {
		t.Fatalf("AnalyzeSource: %v", err)
	}
	if g.SourcePath != DefaultSourceName {
		t.Errorf("SourcePath = %q, want %q", g.SourcePath, DefaultSourceName)
	}

	_, err = a.AnalyzeSource(context.Background(), []byte{0xff, 0xfe}, "bad.py")
	if !errors.Is(err, ast.ErrInvalidContent) {
		t.Errorf("error = %v, want ErrInvalidContent", err)
	}
}

func TestAnalyzer_EmptySource(t *testing.T) {
	g, err := NewAnalyzer().AnalyzeSource(context.Background(), nil, "empty.py")
	if err != nil {
		t.Fatalf("AnalyzeSource: %v", err)
	}
	if g.EdgeCount() != 0 {
		t.Errorf("EdgeCount = %d, want 0", g.EdgeCount())
	}
	nodes := g.Nodes()
	if len(nodes) != 1 || nodes[0] != ast.MainScope {
		t.Errorf("Nodes = %v, want [%s]", nodes, ast.MainScope)
	}
}

func TestAnalyzer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnalyzer().AnalyzeSource(ctx, []byte(scenarioSource), "app.py")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNewAnalyzerFromConfig(t *testing.T) {
	cfg := config.Default().Analysis
	cfg.MaxFileSize = 16
	cfg.Timeout = time.Minute

	a := NewAnalyzerFromConfig(cfg, nil)
	if a.maxFileSize != 16 {
		t.Errorf("maxFileSize = %d, want 16", a.maxFileSize)
	}
	if a.timeout != time.Minute {
		t.Errorf("timeout = %v, want 1m", a.timeout)
	}
	if a.logger == nil {
		t.Error("logger is nil")
	}

	path := writeSource(t, "app.py", scenarioSource)
	if _, err := a.AnalyzeFile(context.Background(), path); !errors.Is(err, ast.ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestExclusions(t *testing.T) {
	got := Exclusions(false, []string{"helper", ""})
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
	if _, ok := got["helper"]; !ok {
		t.Error("helper not excluded")
	}

	got = Exclusions(true, []string{"helper"})
	for _, name := range []string{"helper", "print", "len", "ValueError"} {
		if _, ok := got[name]; !ok {
			t.Errorf("%s not excluded", name)
		}
	}
}
