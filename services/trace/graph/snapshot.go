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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("proflow.graph")

// BadgerDB key prefixes for flow graph snapshots.
const (
	keyPrefixSnap      = "flow:snap:"
	keyPrefixSnapIndex = "flow:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// ErrSnapshotNotFound indicates no snapshot exists for the given ID or source.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata describes a saved flow graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is SHA256(SourcePath:BuiltAtMilli:GraphHash)[:16].
	SnapshotID string `json:"snapshot_id"`

	// SourcePath is the absolute path of the analyzed file.
	SourcePath string `json:"source_path"`

	// SourceKey is SHA256(SourcePath)[:16] for key grouping.
	SourceKey string `json:"source_key"`

	// GraphHash is the deterministic hash of the graph content.
	GraphHash string `json:"graph_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	// NodeCount is the number of nodes in the graph.
	NodeCount int `json:"node_count"`

	// EdgeCount is the number of edges in the graph.
	EdgeCount int `json:"edge_count"`

	// SchemaVersion is the serialization schema version.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed JSON payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// OpenSnapshotDB opens (or creates) the badger database in dir.
// An empty dir opens an in-memory database.
func OpenSnapshotDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db %q: %w", dir, err)
	}
	return db, nil
}

// SnapshotManager saves and loads flow graph snapshots in BadgerDB.
//
// Description:
//
//	Snapshots are stored as gzip-compressed JSON of SerializableFlowGraph
//	plus metadata for listing. Each source file has a "latest" pointer.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a new SnapshotManager.
//
// Inputs:
//
//	db - An opened BadgerDB instance, closed by the caller. Must not be nil.
//	logger - Logger for diagnostic output. Must not be nil.
//
// Outputs:
//
//	*SnapshotManager - The configured manager.
//	error - Non-nil if db or logger is nil.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists a flow graph snapshot.
//
// Description:
//
//	Serializes the graph to JSON, gzip-compresses it and stores it with its
//	metadata in a single transaction. Updates the latest pointer for the
//	graph's source file.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	g - The graph to snapshot. Must not be nil.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*SnapshotMetadata - Metadata about the saved snapshot.
//	error - Non-nil if serialization or storage fails.
//
// Key Schema:
//
//	flow:snap:{sourceKey}:{snapshotID}:data → gzip(JSON(SerializableFlowGraph))
//	flow:snap:{sourceKey}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	flow:snap:{sourceKey}:latest            → snapshotID
//	flow:snap:index:{snapshotID}            → sourceKey
func (m *SnapshotManager) Save(ctx context.Context, g *FlowGraph, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span := tracer.Start(ctx, "SnapshotManager.Save",
		trace.WithAttributes(attribute.String("source_path", g.SourcePath)))
	defer span.End()

	meta, err := m.save(g, label)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("snapshot_id", meta.SnapshotID),
		attribute.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

func (m *SnapshotManager) save(g *FlowGraph, label string) (*SnapshotMetadata, error) {
	sg := g.ToSerializable()

	jsonData, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	sourceKey := SourceKey(g.SourcePath)
	snapshotID := hashString(fmt.Sprintf("%s:%d:%s", g.SourcePath, g.BuiltAtMilli, sg.GraphHash))[:16]

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		SourcePath:     g.SourcePath,
		SourceKey:      sourceKey,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		SchemaVersion:  FlowSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashBytes(compressedData),
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey(sourceKey, snapshotID)), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey(sourceKey, snapshotID)), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey(sourceKey)), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnapIndex+snapshotID), []byte(sourceKey)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("source_path", g.SourcePath),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	return meta, nil
}

// Load retrieves a snapshot by its ID.
//
// Outputs:
//
//	*FlowGraph - The reconstructed graph.
//	*SnapshotMetadata - The snapshot metadata.
//	error - ErrSnapshotNotFound (wrapped) for an unknown ID, or a
//	        decoding or integrity failure.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*FlowGraph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}

	_, span := tracer.Start(ctx, "SnapshotManager.Load",
		trace.WithAttributes(attribute.String("snapshot_id", snapshotID)))
	defer span.End()

	sourceKey, err := m.lookupSourceKey(snapshotID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	g, meta, err := m.loadByKeys(sourceKey, snapshotID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return g, meta, err
}

// LoadLatest loads the most recent snapshot of a source file.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	sourcePath - The absolute path of the analyzed file. Must not be empty.
func (m *SnapshotManager) LoadLatest(ctx context.Context, sourcePath string) (*FlowGraph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if sourcePath == "" {
		return nil, nil, fmt.Errorf("source path must not be empty")
	}

	sourceKey := SourceKey(sourcePath)
	var snapshotID string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey(sourceKey)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", sourcePath, notFound(err))
	}

	return m.loadByKeys(sourceKey, snapshotID)
}

// List returns metadata for snapshots, newest first.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	sourcePath - Optional filter. If empty, returns all snapshots.
//	limit - Maximum number of results. If <= 0, defaults to 100.
func (m *SnapshotManager) List(ctx context.Context, sourcePath string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixSnap
	if sourcePath != "" {
		prefix = keyPrefixSnap + SourceKey(sourcePath) + ":"
	}

	results := make([]*SnapshotMetadata, 0)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}

			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. If it was the latest of its source, the
// latest pointer is removed too.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	sourceKey, err := m.lookupSourceKey(snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{
			dataKey(sourceKey, snapshotID),
			metaKey(sourceKey, snapshotID),
			keyPrefixSnapIndex + snapshotID,
		} {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get([]byte(latestKey(sourceKey)))
		if err != nil {
			return nil
		}
		var currentLatest string
		_ = item.Value(func(val []byte) error {
			currentLatest = string(val)
			return nil
		})
		if currentLatest == snapshotID {
			if err := txn.Delete([]byte(latestKey(sourceKey))); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting latest pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// loadByKeys loads, verifies and decodes one snapshot.
func (m *SnapshotManager) loadByKeys(sourceKey, snapshotID string) (*FlowGraph, *SnapshotMetadata, error) {
	var compressedData, metaJSON []byte

	err := m.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey(sourceKey, snapshotID)))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, notFound(err))
		}
		compressedData, err = dataItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}

		metaItem, err := txn.Get([]byte(metaKey(sourceKey, snapshotID)))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, notFound(err))
		}
		metaJSON, err = metaItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(compressedData); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", snapshotID, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", snapshotID, err)
	}

	var sg SerializableFlowGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling graph for %s: %w", snapshotID, err)
	}

	g, err := FromSerializable(&sg)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

// lookupSourceKey reads the reverse index entry of a snapshot.
func (m *SnapshotManager) lookupSourceKey(snapshotID string) (string, error) {
	var sourceKey string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSnapIndex + snapshotID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sourceKey = string(val)
			return nil
		})
	})
	if err != nil {
		return "", notFound(err)
	}
	return sourceKey, nil
}

// SourceKey returns SHA256(sourcePath)[:16] for use as a key prefix.
func SourceKey(sourcePath string) string {
	return hashString(sourcePath)[:16]
}

func dataKey(sourceKey, snapshotID string) string {
	return keyPrefixSnap + sourceKey + ":" + snapshotID + keySuffixData
}

func metaKey(sourceKey, snapshotID string) string {
	return keyPrefixSnap + sourceKey + ":" + snapshotID + keySuffixMeta
}

func latestKey(sourceKey string) string {
	return keyPrefixSnap + sourceKey + keySuffixLatest
}

// notFound maps badger's missing-key error to ErrSnapshotNotFound.
func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSnapshotNotFound
	}
	return err
}

// hashString returns the hex-encoded SHA256 hash of a string.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// hashBytes returns the hex-encoded SHA256 hash of a byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
