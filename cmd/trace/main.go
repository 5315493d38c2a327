// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command proflow prints and serves the call flow of Python programs.
//
// Usage:
//
//	proflow FILE                  print caller -> callee (args) per call
//	proflow analyze FILE          render as text, json, dot or svg
//	proflow watch FILE            re-analyze on every change
//	proflow serve                 HTTP API under /v1/flow
//	proflow snapshot save|list|show|delete|diff
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/ProFlow/services/trace"
	"github.com/AleutianAI/ProFlow/services/trace/config"
	"github.com/AleutianAI/ProFlow/services/trace/telemetry"
	"github.com/spf13/cobra"
)

// cli holds the state shared by all commands of one invocation.
type cli struct {
	// Persistent flags
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool

	cfg               *config.Config
	logger            *slog.Logger
	shutdownTelemetry func(context.Context) error
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		newPrinter(os.Stderr, false).Error(err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "proflow FILE",
		Short: "Show how the functions of a Python file call each other",
		Long: `proflow parses one Python file and records every call as an edge
from the enclosing function (or "Main Script" for top-level code) to the
called name, with a rendering of the positional arguments.

With a single FILE argument it prints one line per call:

  Main Script -> f (1)
  f -> g (a)

Examples:
  proflow app.py
  proflow analyze app.py --format svg -o flow.svg
  proflow watch app.py --hide-builtins
  proflow serve --addr 127.0.0.1:12218`,
		Version:           trace.Version,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown(cmd.Context())
		},
		RunE: c.runRoot,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultFileName,
		"Path to the YAML config file (missing file uses defaults)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn",
		"Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "text",
		"Log format: text, json")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false,
		"Disable colored output")

	root.AddCommand(
		c.newAnalyzeCmd(),
		c.newServeCmd(),
		c.newWatchCmd(),
		c.newSnapshotCmd(),
	)
	return root
}

// setup configures logging, loads the config and starts telemetry.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), c.logLevel, c.logFormat)
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	tcfg := cfg.Telemetry
	tcfg.Output = cmd.ErrOrStderr()
	if cmd.Name() != "serve" && tcfg.MetricExporter == "prometheus" {
		// Nothing scrapes a one-shot command.
		tcfg.MetricExporter = "none"
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	c.shutdownTelemetry = shutdown
	return nil
}

func (c *cli) teardown(ctx context.Context) error {
	if c.shutdownTelemetry == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.shutdownTelemetry(ctx); err != nil {
		c.logger.Warn("telemetry shutdown failed", slog.Any("error", err))
	}
	return nil
}

// runRoot prints the edges of FILE with the configured exclusions.
func (c *cli) runRoot(cmd *cobra.Command, args []string) error {
	g, err := c.analyze(cmd.Context(), args[0], false, nil)
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout(), c.noColor).Edges(g)
	return nil
}

// newLogger builds the slog logger selected by the persistent flags.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
}
