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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SourceOp is the kind of change observed on a watched source file.
type SourceOp int

const (
	// SourceOpWrite indicates the file content was written or recreated.
	SourceOpWrite SourceOp = iota

	// SourceOpRemove indicates the file was removed or renamed away.
	SourceOpRemove
)

// String returns the string representation of the operation.
func (op SourceOp) String() string {
	switch op {
	case SourceOpWrite:
		return "write"
	case SourceOpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// SourceChange is a debounced change to the watched source file.
type SourceChange struct {
	// Path is the absolute path of the watched file.
	Path string

	// Op is the last operation seen inside the debounce window.
	Op SourceOp

	// Events is how many raw filesystem events were coalesced.
	Events int

	// Time is when the change was flushed.
	Time time.Time
}

// SourceChangeHandler is called once per debounce window.
type SourceChangeHandler func(change SourceChange)

// SourceWatcherOptions configures a SourceWatcher.
type SourceWatcherOptions struct {
	// Debounce is how long to wait for quiet before flushing.
	// Default: 200ms
	Debounce time.Duration

	// Logger receives watcher errors. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultSourceWatcherOptions returns the defaults used by the CLI and server.
func DefaultSourceWatcherOptions() SourceWatcherOptions {
	return SourceWatcherOptions{
		Debounce: 200 * time.Millisecond,
		Logger:   slog.Default(),
	}
}

// SourceWatcher watches a single source file and reports debounced changes.
//
// # Description
//
// Editors commonly replace a file through rename or remove-then-create, which
// drops a watch placed directly on the file. The watcher therefore subscribes
// to the parent directory and filters events by base name.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. The handler is invoked
// from a single goroutine.
type SourceWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handler  SourceChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	events   chan SourceOp
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool
}

// NewSourceWatcher creates a watcher for the file at path.
//
// # Inputs
//
//   - path: File to watch. Made absolute.
//   - handler: Called with each debounced change. Must not be nil.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *SourceWatcher: Ready watcher; call Start to begin.
//   - error: Non-nil if the path cannot be resolved or fsnotify fails.
func NewSourceWatcher(path string, handler SourceChangeHandler, opts *SourceWatcherOptions) (*SourceWatcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("source watcher: handler must not be nil")
	}
	defaults := DefaultSourceWatcherOptions()
	if opts == nil {
		opts = &defaults
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaults.Debounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaults.Logger
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("source watcher: resolving %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source watcher: %w", err)
	}

	return &SourceWatcher{
		path:     abs,
		watcher:  w,
		handler:  handler,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "source_watcher"), slog.String("path", abs)),
		events:   make(chan SourceOp, 64),
		done:     make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (w *SourceWatcher) Path() string {
	return w.path
}

// Start subscribes to the parent directory and launches the event and
// debounce goroutines. Calling Start twice is a no-op.
func (w *SourceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("source watcher: watching %s: %w", filepath.Dir(w.path), err)
	}
	w.watching = true

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop closes the watcher and waits for its goroutines to exit.
func (w *SourceWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether Start has succeeded and Stop has not run.
func (w *SourceWatcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *SourceWatcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			op, relevant := convertSourceOp(event.Op)
			if !relevant {
				continue
			}
			select {
			case w.events <- op:
			default:
				// The debouncer only needs to know something happened.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func convertSourceOp(op fsnotify.Op) (SourceOp, bool) {
	switch {
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return SourceOpWrite, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return SourceOpRemove, true
	default:
		return 0, false
	}
}

func (w *SourceWatcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending int
		lastOp  SourceOp
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case op := <-w.events:
			pending++
			lastOp = op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			stopTimer()
			if pending == 0 {
				continue
			}
			change := SourceChange{Path: w.path, Op: lastOp, Events: pending, Time: time.Now()}
			pending = 0
			w.handler(change)
		}
	}
}
