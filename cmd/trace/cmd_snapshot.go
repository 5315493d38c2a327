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
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AleutianAI/ProFlow/services/trace"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/render"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func (c *cli) newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save and compare analyses over time",
		Long: `Snapshots store the unfiltered flow graph of a file in a local
database (snapshots.dir in the config) so later versions can be compared.

Examples:
  proflow snapshot save app.py --label before-refactor
  proflow snapshot list app.py
  proflow snapshot show 3f2a9c01d4e5b6a7 --format dot
  proflow snapshot diff 3f2a9c01d4e5b6a7 9b8c7d6e5f4a3b2c
  proflow snapshot delete 3f2a9c01d4e5b6a7`,
	}
	cmd.AddCommand(
		c.newSnapshotSaveCmd(),
		c.newSnapshotListCmd(),
		c.newSnapshotShowCmd(),
		c.newSnapshotDeleteCmd(),
		c.newSnapshotDiffCmd(),
	)
	return cmd
}

// withSnapshots opens the snapshot store for the duration of fn.
func (c *cli) withSnapshots(fn func(m *graph.SnapshotManager) error) error {
	db, err := graph.OpenSnapshotDB(c.cfg.Snapshots.Dir)
	if err != nil {
		return err
	}
	defer closeDB(db, c.logger)

	m, err := graph.NewSnapshotManager(db, c.logger)
	if err != nil {
		return err
	}
	return fn(m)
}

func (c *cli) newSnapshotSaveCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "save FILE",
		Short: "Analyze FILE and store the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			g, err := trace.NewAnalyzerFromConfig(c.cfg.Analysis, c.logger).AnalyzeFile(ctx, args[0])
			if err != nil {
				return err
			}
			return c.withSnapshots(func(m *graph.SnapshotManager) error {
				meta, err := m.Save(ctx, g, label)
				if err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout(), c.noColor).Success("saved %s (%d nodes, %d edges)",
					meta.SnapshotID, meta.NodeCount, meta.EdgeCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	return cmd
}

func (c *cli) newSnapshotListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list [FILE]",
		Short: "List snapshots, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source string
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				source = abs
			}
			return c.withSnapshots(func(m *graph.SnapshotManager) error {
				snapshots, err := m.List(cmdContext(cmd), source, limit)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(snapshots)
				}
				p := newPrinter(cmd.OutOrStdout(), c.noColor)
				if len(snapshots) == 0 {
					p.Muted("no snapshots")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), snapshotTable(snapshots, p.color))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of snapshots")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON for scripting")
	return cmd
}

func snapshotTable(snapshots []*graph.SnapshotMetadata, color bool) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "NODES", "EDGES", "LABEL", "SOURCE")
	if color {
		t = t.BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.Title.Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	}
	for _, s := range snapshots {
		t = t.Row(
			s.SnapshotID,
			time.UnixMilli(s.CreatedAtMilli).Format("2006-01-02 15:04:05"),
			strconv.Itoa(s.NodeCount),
			strconv.Itoa(s.EdgeCount),
			s.Label,
			s.SourcePath,
		)
	}
	return t.String()
}

func (c *cli) newSnapshotShowCmd() *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Render a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.ParseFormat(f.format)
			if err != nil {
				return err
			}
			return c.withSnapshots(func(m *graph.SnapshotManager) error {
				g, _, err := m.Load(cmdContext(cmd), args[0])
				if err != nil {
					return err
				}
				names := append(c.cfg.ExclusionNames(), f.exclude...)
				g = g.Filter(trace.Exclusions(f.hideBuiltins, names))
				return render.Render(cmd.OutOrStdout(), g, format, render.Options{
					Layout:         c.cfg.Layout,
					IncludeLayout:  f.layout,
					IncludeDetails: f.details,
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.format, "format", string(render.FormatText), "Output format: text, json, dot, svg")
	cmd.Flags().BoolVar(&f.hideBuiltins, "hide-builtins", false, "Remove Python builtins")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Comma-separated names to remove")
	cmd.Flags().BoolVar(&f.layout, "layout", false, "Include node positions in JSON output")
	cmd.Flags().BoolVar(&f.details, "details", false, "Include per-node summaries")
	return cmd
}

func (c *cli) newSnapshotDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSnapshots(func(m *graph.SnapshotManager) error {
				if err := m.Delete(cmdContext(cmd), args[0]); err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout(), c.noColor).Success("deleted %s", args[0])
				return nil
			})
		},
	}
}

func (c *cli) newSnapshotDiffCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff BASE TARGET",
		Short: "Compare two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSnapshots(func(m *graph.SnapshotManager) error {
				ctx := cmdContext(cmd)
				base, _, err := m.Load(ctx, args[0])
				if err != nil {
					return fmt.Errorf("base %s: %w", args[0], err)
				}
				target, _, err := m.Load(ctx, args[1])
				if err != nil {
					return fmt.Errorf("target %s: %w", args[1], err)
				}
				diff, err := graph.DiffSnapshots(base, target, args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(diff)
				}
				printDiff(newPrinter(cmd.OutOrStdout(), c.noColor), diff)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON for scripting")
	return cmd
}

func printDiff(p *printer, d *graph.SnapshotDiff) {
	p.Title("%s -> %s: %d changes (%.0f%% of nodes)",
		d.BaseSnapshotID, d.TargetSnapshotID, d.Summary.TotalChanges, d.Summary.ChangeRatio*100)
	for _, n := range d.NodesAdded {
		p.Success("+ %s", n)
	}
	for _, n := range d.NodesRemoved {
		p.Warning("- %s", n)
	}
	for _, n := range d.NodesModified {
		p.Muted("~ %s (%s)", n.Name, n.ChangeType)
	}
	for _, e := range d.EdgesAdded {
		p.Success("+ %s", e)
	}
	for _, e := range d.EdgesRemoved {
		p.Warning("- %s", e)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
