// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package types holds the record model and enums shared by every other
// package in the module: the universal stored Record, its lifecycle and
// scope enums, and the payload extension structs for code units, doc
// chunks, and commits.
package types

import (
	"fmt"
	"math"
	"time"
)

// EmbeddingDim is the fixed dimensionality of every stored vector. Records
// with a vector of any other length fail I1 validation on insert.
const EmbeddingDim = 384

// MaxContentBytes is the largest UTF-8 content payload a Record may carry.
const MaxContentBytes = 50 * 1024

// Category classifies the kind of content a Record holds.
type Category string

const (
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryEvent      Category = "event"
	CategoryWorkflow   Category = "workflow"
	CategoryContext    Category = "context"
	CategoryCode       Category = "code"
	CategoryDoc        Category = "doc"
	CategoryCommit     Category = "commit"
)

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPreference, CategoryFact, CategoryEvent, CategoryWorkflow,
		CategoryContext, CategoryCode, CategoryDoc, CategoryCommit:
		return true
	}
	return false
}

// ContextLevel stratifies a Record by intended retrieval scope.
type ContextLevel string

const (
	ContextUserPreference ContextLevel = "USER_PREFERENCE"
	ContextProjectContext ContextLevel = "PROJECT_CONTEXT"
	ContextSessionState   ContextLevel = "SESSION_STATE"
)

// Valid reports whether l is one of the closed set of context levels.
func (l ContextLevel) Valid() bool {
	switch l {
	case ContextUserPreference, ContextProjectContext, ContextSessionState:
		return true
	}
	return false
}

// Scope is the storage scope of a Record.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	ScopeSession Scope = "session"
)

// Valid reports whether s is one of the closed set of scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeProject, ScopeSession:
		return true
	}
	return false
}

// LifecycleState is the coarse age classification assigned by the
// lifecycle classifier and consumed as a ranking weight by the retriever.
type LifecycleState string

const (
	LifecycleActive   LifecycleState = "ACTIVE"
	LifecycleRecent   LifecycleState = "RECENT"
	LifecycleArchived LifecycleState = "ARCHIVED"
	LifecycleStale    LifecycleState = "STALE"
)

// Weight returns the search weight associated with a lifecycle state.
// Unknown states weight to zero so a classifier bug never inflates a
// stale record's rank.
func (l LifecycleState) Weight() float64 {
	switch l {
	case LifecycleActive:
		return 1.0
	case LifecycleRecent:
		return 0.7
	case LifecycleArchived:
		return 0.3
	case LifecycleStale:
		return 0.1
	}
	return 0
}

// Valid reports whether l is one of the closed set of lifecycle states.
func (l LifecycleState) Valid() bool {
	switch l {
	case LifecycleActive, LifecycleRecent, LifecycleArchived, LifecycleStale:
		return true
	}
	return false
}

// Record is the universal stored unit. Every memory, code unit, doc
// chunk, and commit is represented as a Record with payload-specific
// fields folded into Metadata.
type Record struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Category       Category       `json:"category"`
	ContextLevel   ContextLevel   `json:"context_level"`
	Scope          Scope          `json:"scope"`
	ProjectName    string         `json:"project_name,omitempty"`
	Importance     float64        `json:"importance"`
	LifecycleState LifecycleState `json:"lifecycle_state"`
	Tags           []string       `json:"tags,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int64          `json:"access_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MaxTags is the maximum number of tags a Record may carry.
const MaxTags = 32

// Validate checks the structural invariants a Record must satisfy before
// it is handed to the store. It does not perform content-string
// sanitization — that is the Validator's job.
func (r *Record) Validate(now time.Time) error {
	if r == nil {
		return fmt.Errorf("record must not be nil")
	}
	if l := len(r.Content); l == 0 || l > MaxContentBytes {
		return fmt.Errorf("content length %d out of range (1, %d]", l, MaxContentBytes)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("invalid category %q", r.Category)
	}
	if !r.ContextLevel.Valid() {
		return fmt.Errorf("invalid context_level %q", r.ContextLevel)
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("invalid scope %q", r.Scope)
	}
	if r.Scope != ScopeGlobal && r.ProjectName == "" {
		return fmt.Errorf("project_name required when scope=%q", r.Scope)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("importance %f out of range [0,1]", r.Importance)
	}
	if len(r.Tags) > MaxTags {
		return fmt.Errorf("too many tags: %d > %d", len(r.Tags), MaxTags)
	}
	if r.Embedding != nil {
		if len(r.Embedding) != EmbeddingDim {
			return fmt.Errorf("embedding dimension %d != %d", len(r.Embedding), EmbeddingDim)
		}
		if n := l2Norm(r.Embedding); n < 0.999 || n > 1.001 {
			return fmt.Errorf("embedding not unit-normalized: ||v||=%f", n)
		}
	}
	if r.CreatedAt.After(r.UpdatedAt) || r.UpdatedAt.After(r.LastAccessedAt) || r.LastAccessedAt.After(now) {
		return fmt.Errorf("timestamp ordering violated (I2)")
	}
	return nil
}

func l2Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

// CodeUnitType is the kind of semantic unit a parser extracted.
type CodeUnitType string

const (
	UnitFunction CodeUnitType = "function"
	UnitClass    CodeUnitType = "class"
	UnitMethod   CodeUnitType = "method"
)

// CodePayload holds the metadata fields specific to category=code records.
type CodePayload struct {
	FilePath   string       `json:"file_path"`
	UnitType   CodeUnitType `json:"unit_type"`
	UnitName   string       `json:"unit_name"`
	StartLine  int          `json:"start_line"`
	EndLine    int          `json:"end_line"`
	Signature  string       `json:"signature"`
	Language   string       `json:"language"`
	FileHash   string       `json:"file_hash"`
	ParentName string       `json:"parent_name,omitempty"`
}

// DocPayload holds the metadata fields specific to category=doc records.
type DocPayload struct {
	FilePath    string `json:"file_path"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	HeadingPath string `json:"heading_path"`
}

// CommitPayload holds the metadata fields specific to category=commit
// records.
type CommitPayload struct {
	CommitHash     string  `json:"commit_hash"`
	Author         string  `json:"author"`
	AuthorEmail    string  `json:"author_email"`
	CommitDateUnix float64 `json:"commit_date_unix"`
	FilesChanged   int     `json:"files_changed"`
	Insertions     int     `json:"insertions"`
	Deletions      int     `json:"deletions"`
	DiffContent    string  `json:"diff_content,omitempty"`
}

// ToMetadata flattens p into the generic metadata map stored on a
// Record: payload fields live alongside any caller-supplied metadata and
// round-trip deterministically.
func (p CodePayload) ToMetadata() map[string]any {
	m := map[string]any{
		"file_path":  p.FilePath,
		"unit_type":  string(p.UnitType),
		"unit_name":  p.UnitName,
		"start_line": p.StartLine,
		"end_line":   p.EndLine,
		"signature":  p.Signature,
		"language":   p.Language,
		"file_hash":  p.FileHash,
	}
	if p.ParentName != "" {
		m["parent_name"] = p.ParentName
	}
	return m
}

// ToMetadata flattens p for storage.
func (p DocPayload) ToMetadata() map[string]any {
	return map[string]any{
		"file_path":    p.FilePath,
		"start_line":   p.StartLine,
		"end_line":     p.EndLine,
		"heading_path": p.HeadingPath,
	}
}

// ToMetadata flattens p for storage.
func (p CommitPayload) ToMetadata() map[string]any {
	m := map[string]any{
		"commit_hash":      p.CommitHash,
		"author":           p.Author,
		"author_email":     p.AuthorEmail,
		"commit_date_unix": p.CommitDateUnix,
		"files_changed":    p.FilesChanged,
		"insertions":       p.Insertions,
		"deletions":        p.Deletions,
	}
	if p.DiffContent != "" {
		m["diff_content"] = p.DiffContent
	}
	return m
}
