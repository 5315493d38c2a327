// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestSourceOp_String(t *testing.T) {
	if SourceOpWrite.String() != "write" || SourceOpRemove.String() != "remove" {
		t.Error("unexpected op names")
	}
	if SourceOp(99).String() != "unknown" {
		t.Error("unknown op should render as unknown")
	}
}

func TestConvertSourceOp(t *testing.T) {
	tests := []struct {
		op       fsnotify.Op
		want     SourceOp
		relevant bool
	}{
		{fsnotify.Create, SourceOpWrite, true},
		{fsnotify.Write, SourceOpWrite, true},
		{fsnotify.Remove, SourceOpRemove, true},
		{fsnotify.Rename, SourceOpRemove, true},
		{fsnotify.Chmod, 0, false},
	}
	for _, tt := range tests {
		got, relevant := convertSourceOp(tt.op)
		if relevant != tt.relevant || (relevant && got != tt.want) {
			t.Errorf("convertSourceOp(%v) = (%v, %v), want (%v, %v)", tt.op, got, relevant, tt.want, tt.relevant)
		}
	}
}

func TestNewSourceWatcher_NilHandler(t *testing.T) {
	if _, err := NewSourceWatcher("app.py", nil, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestSourceWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	if err := os.WriteFile(path, []byte("f()\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	changes := make(chan SourceChange, 10)
	w, err := NewSourceWatcher(path, func(c SourceChange) { changes <- c }, &SourceWatcherOptions{Debounce: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSourceWatcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.IsWatching() {
		t.Fatal("IsWatching() = false after Start")
	}

	// A sibling file must not trigger the handler.
	if err := os.WriteFile(filepath.Join(dir, "other.py"), []byte("g()\n"), 0o644); err != nil {
		t.Fatalf("WriteFile sibling: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("f()\ng()\n"), 0o644); err != nil {
			t.Fatalf("WriteFile %d: %v", i, err)
		}
	}

	select {
	case c := <-changes:
		if c.Path != w.Path() {
			t.Errorf("change path = %q, want %q", c.Path, w.Path())
		}
		if c.Op != SourceOpWrite {
			t.Errorf("change op = %v, want write", c.Op)
		}
		if c.Events < 1 {
			t.Errorf("Events = %d, want at least 1", c.Events)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change delivered")
	}

	select {
	case c := <-changes:
		t.Errorf("burst produced a second change: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}

	w.Stop()
	if w.IsWatching() {
		t.Error("IsWatching() = true after Stop")
	}
}
