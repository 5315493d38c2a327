// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/spf13/cobra"
)

type watchFlags struct {
	hideBuiltins bool
	exclude      []string
	debounce     time.Duration
}

func (c *cli) newWatchCmd() *cobra.Command {
	f := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-analyze a Python file every time it changes",
		Long: `Print the call flow of FILE, then print it again after every change.

Bursts of writes are coalesced (see --debounce). Syntax errors are reported
and watching continues. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.runWatch(ctx, cmd, args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.hideBuiltins, "hide-builtins", false,
		"Remove Python builtins such as print and len")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil,
		"Comma-separated names to remove from the graph")
	cmd.Flags().DurationVar(&f.debounce, "debounce", 0,
		"Quiet period before re-analyzing (default from config, 200ms)")
	return cmd
}

// runWatch blocks until ctx is done. The first analysis must succeed.
func (c *cli) runWatch(ctx context.Context, cmd *cobra.Command, path string, f *watchFlags) error {
	out := newPrinter(cmd.OutOrStdout(), c.noColor)

	g, err := c.analyze(ctx, path, f.hideBuiltins, f.exclude)
	if err != nil {
		return err
	}
	out.Title("%s", g.SourcePath)
	out.Edges(g)

	debounce := c.cfg.Watch.Debounce
	if f.debounce > 0 {
		debounce = f.debounce
	}

	watcher, err := graph.NewSourceWatcher(g.SourcePath, func(change graph.SourceChange) {
		stamp := change.Time.Format("15:04:05")
		if change.Op == graph.SourceOpRemove {
			out.Warning("%s  %s removed, waiting for it to return", stamp, change.Path)
			return
		}
		updated, err := c.analyze(ctx, change.Path, f.hideBuiltins, f.exclude)
		if err != nil {
			out.Warning("%s  %v", stamp, err)
			return
		}
		out.Title("%s  %s (%d nodes, %d edges)", stamp, change.Path, updated.NodeCount(), updated.EdgeCount())
		out.Edges(updated)
	}, &graph.SourceWatcherOptions{Debounce: debounce, Logger: c.logger})
	if err != nil {
		return err
	}
	out.Muted("watching for changes, Ctrl-C to stop")
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return err
	}
	defer watcher.Stop()

	<-ctx.Done()
	return nil
}
