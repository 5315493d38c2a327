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
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/ProFlow/services/trace"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/render"
	"github.com/spf13/cobra"
)

type analyzeFlags struct {
	format       string
	hideBuiltins bool
	exclude      []string
	layout       bool
	details      bool
	output       string
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Analyze a Python file and render its call flow",
		Long: `Analyze one Python file and write its call flow graph.

Formats:
  text  one "caller -> callee (args)" line per call (default)
  json  nodes, edges and assignments, optionally with layout and details
  dot   Graphviz source, left to right
  svg   standalone image of the layered layout

Examples:
  proflow analyze app.py
  proflow analyze app.py --hide-builtins --exclude log,debug
  proflow analyze app.py --format json --layout --details
  proflow analyze app.py --format svg -o flow.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAnalyze(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVar(&f.format, "format", string(render.FormatText),
		"Output format: text, json, dot, svg")
	cmd.Flags().BoolVar(&f.hideBuiltins, "hide-builtins", false,
		"Remove Python builtins such as print and len")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil,
		"Comma-separated names to remove from the graph")
	cmd.Flags().BoolVar(&f.layout, "layout", false,
		"Include node positions in JSON output")
	cmd.Flags().BoolVar(&f.details, "details", false,
		"Include per-node call and assignment summaries")
	cmd.Flags().StringVarP(&f.output, "output", "o", "",
		"Write to FILE instead of stdout")
	return cmd
}

func (c *cli) runAnalyze(cmd *cobra.Command, path string, f *analyzeFlags) error {
	format, err := render.ParseFormat(f.format)
	if err != nil {
		return err
	}

	g, err := c.analyze(cmd.Context(), path, f.hideBuiltins, f.exclude)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer file.Close()
		out = file
	}

	p := newPrinter(out, c.noColor)
	if format == render.FormatText && p.color {
		p.Edges(g)
		if f.details {
			p.Details(g)
		}
		return nil
	}

	opts := render.Options{
		Layout:         c.cfg.Layout,
		IncludeLayout:  f.layout,
		IncludeDetails: f.details,
	}
	if err := render.Render(out, g, format, opts); err != nil {
		return err
	}
	if f.output != "" {
		newPrinter(cmd.ErrOrStderr(), c.noColor).Success("wrote %s (%d nodes, %d edges)", f.output, g.NodeCount(), g.EdgeCount())
	}
	return nil
}

// analyze runs one file through the analyzer and applies exclusions from
// the config and the command line.
func (c *cli) analyze(ctx context.Context, path string, hideBuiltins bool, exclude []string) (*graph.FlowGraph, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	g, err := trace.NewAnalyzerFromConfig(c.cfg.Analysis, c.logger).AnalyzeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	names := append(c.cfg.ExclusionNames(), exclude...)
	return g.Filter(trace.Exclusions(hideBuiltins, names)), nil
}
