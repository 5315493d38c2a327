// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	// MainScope names the top-level code of a file. It is always a graph
	// node and the layout root.
	MainScope = "Main Script"

	// MainScopeLabel is the display label used for MainScope.
	MainScopeLabel = "Start"

	// ExprPlaceholder is the argument text for anything that is not a bare
	// name or a constant.
	ExprPlaceholder = "expr"

	// DefaultMaxFileSize is the largest input a walker accepts by default.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize is the size above which a walk logs a warning.
	WarnFileSize = 1024 * 1024
)

// DisplayLabel returns the label shown for a node.
func DisplayLabel(node string) string {
	if node == MainScope {
		return MainScopeLabel
	}
	return node
}

// FlowEdge is one recorded call occurrence.
//
// Caller is the scope active at the call site, Callee the lexical target
// name and Args the comma-joined argument rendering.
type FlowEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Args   string `json:"args"`
}

// String formats the edge as "caller -> callee (args)".
func (e FlowEdge) String() string {
	return fmt.Sprintf("%s -> %s (%s)", e.Caller, e.Callee, e.Args)
}

// AssignmentMap maps a callee to the set of names its result is bound to.
type AssignmentMap map[string]map[string]struct{}

// Add records targets for callee, creating the set if absent.
func (m AssignmentMap) Add(callee string, targets ...string) {
	if len(targets) == 0 {
		return
	}
	set, ok := m[callee]
	if !ok {
		set = make(map[string]struct{}, len(targets))
		m[callee] = set
	}
	for _, t := range targets {
		set[t] = struct{}{}
	}
}

// Targets returns the sorted targets recorded for callee.
func (m AssignmentMap) Targets(callee string) []string {
	set := m[callee]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (m AssignmentMap) Clone() AssignmentMap {
	out := make(AssignmentMap, len(m))
	for callee, set := range m {
		cp := make(map[string]struct{}, len(set))
		for t := range set {
			cp[t] = struct{}{}
		}
		out[callee] = cp
	}
	return out
}

// WalkResult is everything a walk discovers in one file.
type WalkResult struct {
	// FilePath is the path given to Walk.
	FilePath string

	// Language is the walker's language name.
	Language string

	// Hash is the hex SHA256 of the walked content.
	Hash string

	// Edges are the call edges in pre-order source order.
	Edges []FlowEdge

	// Assignments maps callees to the targets their results are bound to.
	Assignments AssignmentMap

	// DefinedScopes is the set of declared function names.
	DefinedScopes map[string]struct{}
}

// Walker extracts flow edges from the source of one file.
//
// Description:
//
//	Implementations parse content and walk the syntax tree, attributing
//	every call to the lexically enclosing function. A syntax error fails
//	the whole walk; no partial result is returned.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Walker interface {
	// Walk parses content and returns the discovered edges.
	//
	// Returns a *ParseError (wrapping ErrParseFailed) for invalid syntax,
	// ErrInvalidContent for undecodable input and ErrFileTooLarge when the
	// size limit is exceeded.
	Walk(ctx context.Context, content []byte, filePath string) (*WalkResult, error)

	// Language returns the canonical lowercase language name.
	Language() string

	// Extensions returns the lowercase file extensions handled, with dot.
	Extensions() []string
}

// WalkerRegistry looks up walkers by file extension.
//
// Thread Safety:
//
//	Safe for concurrent use.
type WalkerRegistry struct {
	mu          sync.RWMutex
	byExtension map[string]Walker
}

// NewWalkerRegistry creates an empty registry.
func NewWalkerRegistry() *WalkerRegistry {
	return &WalkerRegistry{byExtension: make(map[string]Walker)}
}

// DefaultRegistry returns a registry holding the Python walker.
func DefaultRegistry(opts ...PythonWalkerOption) *WalkerRegistry {
	r := NewWalkerRegistry()
	r.Register(NewPythonWalker(opts...))
	return r
}

// Register adds a walker for all of its extensions, replacing earlier ones.
func (r *WalkerRegistry) Register(w Walker) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range w.Extensions() {
		r.byExtension[strings.ToLower(ext)] = w
	}
}

// ForPath returns the walker for the extension of path.
//
// Outputs:
//   - Walker: The matching walker.
//   - error: ErrUnsupportedLanguage (wrapped) if none matches.
func (r *WalkerRegistry) ForPath(path string) (Walker, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byExtension[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedLanguage, ext)
	}
	return w, nil
}

// Extensions returns all registered extensions, sorted.
func (r *WalkerRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
