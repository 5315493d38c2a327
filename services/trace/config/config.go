// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads proflow.yaml.
//
// A missing file is not an error: every field has a default and the zero-config
// case works out of the box. PROFLOW_* environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ProFlow/services/trace/ast"
	"github.com/AleutianAI/ProFlow/services/trace/graph"
	"github.com/AleutianAI/ProFlow/services/trace/telemetry"
)

const (
	// DefaultFileName is the config file looked up when --config is not set.
	DefaultFileName = "proflow.yaml"

	// MaxYAMLFileSize bounds the config file read.
	MaxYAMLFileSize = 1 << 20
)

// Config is the full proflow configuration.
//
// Thread Safety: Safe for concurrent reads after Load returns.
type Config struct {
	Analysis  AnalysisConfig      `yaml:"analysis"`
	Layout    graph.LayoutOptions `yaml:"layout"`
	Server    ServerConfig        `yaml:"server"`
	Snapshots SnapshotConfig      `yaml:"snapshots"`
	Telemetry telemetry.Config    `yaml:"telemetry"`
	Watch     WatchConfig         `yaml:"watch"`
}

// AnalysisConfig controls parsing and filtering.
type AnalysisConfig struct {
	// MaxFileSize rejects larger source files. Bytes.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gt=0"`

	// Timeout bounds one analysis. Zero disables the bound.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// HideBuiltins removes Python builtins from every graph by default.
	HideBuiltins bool `yaml:"hide_builtins"`

	// ExtraExcluded names are always removed from graphs.
	ExtraExcluded []string `yaml:"extra_excluded" validate:"dive,required"`
}

// ServerConfig controls `proflow serve`.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// RateLimitRPS is the steady request rate. Zero disables limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`

	// RateLimitBurst is the token bucket size.
	RateLimitBurst int `yaml:"rate_limit_burst" validate:"gte=0"`

	// MaxBatch bounds the number of paths in one batch request.
	MaxBatch int `yaml:"max_batch" validate:"gt=0,lte=1000"`

	// BatchConcurrency bounds parallel analyses within a batch.
	BatchConcurrency int `yaml:"batch_concurrency" validate:"gt=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// SnapshotConfig controls snapshot persistence.
type SnapshotConfig struct {
	// Dir holds the badger database. Empty means in-memory.
	Dir string `yaml:"dir"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	// Debounce coalesces bursts of file events.
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			MaxFileSize: ast.DefaultMaxFileSize,
			Timeout:     30 * time.Second,
		},
		Layout: graph.DefaultLayoutOptions(),
		Server: ServerConfig{
			Addr:             "127.0.0.1:12218",
			RateLimitRPS:     20,
			RateLimitBurst:   40,
			MaxBatch:         64,
			BatchConcurrency: 4,
			ShutdownTimeout:  10 * time.Second,
		},
		Snapshots: SnapshotConfig{Dir: defaultSnapshotDir()},
		Telemetry: telemetry.DefaultConfig(),
		Watch:     WatchConfig{Debounce: 200 * time.Millisecond},
	}
}

func defaultSnapshotDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "proflow", "snapshots")
	}
	return filepath.Join(".proflow", "snapshots")
}

// Load reads the config file at path over the defaults.
//
// Description:
//
//	Starts from Default(), overlays the YAML file if it exists, applies
//	PROFLOW_* environment overrides, then validates. An empty path means
//	DefaultFileName in the working directory.
//
// Inputs:
//
//	path - Config file path. May be empty. May not exist.
//
// Outputs:
//
//	*Config - The merged configuration.
//	error - Non-nil if the file exists but cannot be read or parsed, or if
//	        validation fails.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFileName
	}

	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		slog.Debug("config file loaded", slog.String("path", path))
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("reading %s: file exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// ExclusionNames returns the names every graph excludes by default.
func (c *Config) ExclusionNames() []string {
	var names []string
	if c.Analysis.HideBuiltins {
		names = append(names, graph.PythonBuiltinNames()...)
	}
	return append(names, c.Analysis.ExtraExcluded...)
}

func (c *Config) applyEnv() {
	c.Analysis.MaxFileSize = getEnvInt64("PROFLOW_MAX_FILE_SIZE", c.Analysis.MaxFileSize)
	c.Analysis.Timeout = getEnvDuration("PROFLOW_TIMEOUT", c.Analysis.Timeout)
	c.Analysis.HideBuiltins = getEnvBool("PROFLOW_HIDE_BUILTINS", c.Analysis.HideBuiltins)
	if v := os.Getenv("PROFLOW_EXCLUDE"); v != "" {
		c.Analysis.ExtraExcluded = append(c.Analysis.ExtraExcluded, SplitList(v)...)
	}
	c.Server.Addr = getEnvOr("PROFLOW_ADDR", c.Server.Addr)
	c.Snapshots.Dir = getEnvOr("PROFLOW_SNAPSHOT_DIR", c.Snapshots.Dir)
	c.Telemetry.OTLPEndpoint = getEnvOr("PROFLOW_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Watch.Debounce = getEnvDuration("PROFLOW_WATCH_DEBOUNCE", c.Watch.Debounce)
}

// SplitList splits a comma separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer in environment", slog.String("key", key), slog.String("value", v))
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean in environment", slog.String("key", key), slog.String("value", v))
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration in environment", slog.String("key", key), slog.String("value", v))
	}
	return fallback
}
