// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Registry dispatches Parse calls to the language parser registered for a
// file's extension.
//
// Thread Safety: safe for concurrent use; Register takes the write lock
// and lookups take the read lock, so Register may run alongside Parse.
type Registry struct {
	mu      sync.RWMutex
	byExt   map[string]Parser
	parsers []Parser
}

// NewRegistry returns an empty registry; callers populate it with Register
// or NewDefaultRegistry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Parser)}
}

// Register adds p to the registry under every extension it claims. A later
// registration for the same extension replaces an earlier one.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = append(r.parsers, p)
	for _, ext := range p.Extensions() {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// ParserFor returns the parser registered for filePath's extension, or
// ErrUnsupportedLanguage if none claims it.
func (r *Registry) ParserFor(filePath string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExt[ext]
	if !ok {
		return nil, &ParseError{
			Kind:     ParseKindUnsupportedLanguage,
			FilePath: filePath,
			Err:      fmt.Errorf("%w: %s", ErrUnsupportedLanguage, ext),
		}
	}
	return p, nil
}

// Parse looks up the parser for filePath and runs it. Returns
// ErrUnsupportedLanguage for files with no registered parser so callers
// (the indexer) can skip them without treating the file as a failure.
func (r *Registry) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	p, err := r.ParserFor(filePath)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, content, filePath)
}

// SupportsFile reports whether a parser is registered for filePath's
// extension.
func (r *Registry) SupportsFile(filePath string) bool {
	_, err := r.ParserFor(filePath)
	return err == nil
}
