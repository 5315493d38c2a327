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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/ProFlow/services/trace"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func (c *cli) newServeCmd() *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flow API over HTTP",
		Long: `Start the HTTP API under /v1/flow.

Endpoints:
  POST   /v1/flow/analyze
  POST   /v1/flow/analyze/batch
  POST   /v1/flow/render
  GET    /v1/flow/watch              (websocket)
  GET    /v1/flow/snapshots
  POST   /v1/flow/snapshots
  GET    /v1/flow/snapshots/:id
  DELETE /v1/flow/snapshots/:id
  GET    /v1/flow/snapshots/:id/diff/:other
  GET    /v1/flow/health
  GET    /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			return c.runServe(cmd, debug)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:12218)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode and request logging")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command, debug bool) error {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext lets callers continue their traces through otelgin.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var snapshots *graph.SnapshotManager
	db, err := graph.OpenSnapshotDB(c.cfg.Snapshots.Dir)
	if err != nil {
		c.logger.Warn("snapshot store unavailable, /snapshots disabled",
			slog.String("dir", c.cfg.Snapshots.Dir),
			slog.Any("error", err),
		)
	} else {
		defer closeDB(db, c.logger)
		snapshots, err = graph.NewSnapshotManager(db, c.logger)
		if err != nil {
			return err
		}
	}

	analyzer := trace.NewAnalyzerFromConfig(c.cfg.Analysis, c.logger, trace.WithStrictExtensions(true))
	handlers, err := trace.NewHandlers(analyzer, snapshots, c.cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    c.cfg.Server.Addr,
		Handler: trace.NewRouter(handlers, c.cfg, debug),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	printBanner(cmd.OutOrStdout(), c.noColor, c.cfg.Server.Addr, snapshots != nil)
	c.logger.Info("starting proflow server", slog.String("address", c.cfg.Server.Addr))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	c.logger.Info("shutting down proflow server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func closeDB(db *badger.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("failed to close snapshot store", slog.Any("error", err))
	}
}

func printBanner(w io.Writer, noColor bool, addr string, snapshots bool) {
	p := newPrinter(w, noColor)
	p.Title("proflow %s", trace.Version)
	p.Muted("  API       http://%s/v1/flow", addr)
	p.Muted("  Metrics   http://%s/metrics", addr)
	if snapshots {
		p.Muted("  Snapshots enabled")
	} else {
		p.Warning("  Snapshots disabled")
	}
}
