// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer implements incremental codebase indexing: a per-file
// SHA-256 hash-delta check, parse → chunk → embed → upsert
// pipeline, and delete-before-upsert replacement of a changed file's
// units. Grounded on other_examples/sxueck-codebase's
// IndexProject/processFile hash-delta algorithm, generalized from that
// repo's Go-only parser to the multi-language parser.Registry and from
// its JSON-sidecar hash table to the BadgerDB-backed hashStore.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/claude-rag/core/internal/embedding"
	"github.com/claude-rag/core/internal/parser"
	"github.com/claude-rag/core/internal/store"
	"github.com/claude-rag/core/internal/types"
)

// maxUnitContentBytes truncates an over-long unit body before embedding.
const maxUnitContentBytes = 50 * 1024

// FileStatus reports the outcome of indexing a single file.
type FileStatus string

const (
	StatusIndexed   FileStatus = "indexed"
	StatusUnchanged FileStatus = "unchanged"
	StatusSkipped   FileStatus = "skipped"
	StatusFailed    FileStatus = "failed"
)

// FileResult is the per-file outcome of an index_codebase run.
type FileResult struct {
	Path         string
	Status       FileStatus
	UnitsIndexed int
	Err          error
}

// Report summarizes an index_codebase call's outcome.
type Report struct {
	FilesIndexed int
	UnitsIndexed int
	Elapsed      time.Duration
	Errors       []string
}

// ProgressFunc is called after each file is processed during IndexDirectory.
type ProgressFunc func(fileIndex, totalFiles, unitsEmitted, errors int)

// Indexer owns the parse → embed → upsert pipeline and the file-hash table
// that makes repeated runs incremental.
type Indexer struct {
	store    *store.Store
	embedder *embedding.Embedder
	parsers  *parser.Registry
	hashes   *hashStore
	log      *slog.Logger
}

// Config configures an Indexer.
type Config struct {
	// HashDBDir is the BadgerDB directory backing the file-hash table.
	HashDBDir string
	Logger    *slog.Logger
}

// New opens the hash store at cfg.HashDBDir and returns an Indexer wired to
// st, emb, and parsers. The caller owns st/emb/parsers' lifecycles; Close
// only releases the hash store.
func New(st *store.Store, emb *embedding.Embedder, parsers *parser.Registry, cfg Config) (*Indexer, error) {
	hashes, err := openHashStore(cfg.HashDBDir)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{store: st, embedder: emb, parsers: parsers, hashes: hashes, log: log}, nil
}

// Close releases the hash store.
func (ix *Indexer) Close() error { return ix.hashes.Close() }

// IndexDirectory walks rootDir (recursively if recursive is true), indexes
// every changed or new file the parser registry supports, deletes the
// vectors for files recorded in a previous run but no longer present on
// disk, and returns a summary report.
func (ix *Indexer) IndexDirectory(ctx context.Context, projectName, rootDir string, recursive bool, progress ProgressFunc) (Report, error) {
	start := time.Now()
	files, err := ix.discoverFiles(rootDir, recursive)
	if err != nil {
		return Report{}, fmt.Errorf("indexer: discover files under %s: %w", rootDir, err)
	}

	seen := make(map[string]bool, len(files))
	report := Report{}

	for i, path := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		normalized := normalizePath(path)
		seen[normalized] = true

		status, units, ferr := ix.indexFile(ctx, projectName, path)
		switch status {
		case StatusIndexed:
			report.FilesIndexed++
			report.UnitsIndexed += units
		case StatusFailed:
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, ferr))
		}
		if progress != nil {
			progress(i+1, len(files), report.UnitsIndexed, len(report.Errors))
		}
	}

	previously, err := ix.hashes.listPaths(projectName)
	if err != nil {
		return report, fmt.Errorf("indexer: list previously indexed paths: %w", err)
	}
	for _, prev := range previously {
		if seen[prev] {
			continue
		}
		if err := ix.removeFileLocked(ctx, projectName, prev); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: delete removed file: %v", prev, err))
			continue
		}
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

// indexFile runs the hash-delta check, parse, chunk, embed, and upsert
// steps for a single file and returns its outcome.
func (ix *Indexer) indexFile(ctx context.Context, projectName, path string) (FileStatus, int, error) {
	normalized := normalizePath(path)

	content, err := os.ReadFile(path)
	if err != nil {
		return StatusFailed, 0, fmt.Errorf("read: %w", err)
	}
	hash := hashContent(content)

	if prev, ok := ix.hashes.get(projectName, normalized); ok && prev == hash {
		return StatusUnchanged, 0, nil
	}

	if !ix.parsers.SupportsFile(path) {
		return StatusSkipped, 0, nil
	}

	result, err := ix.parsers.Parse(ctx, content, path)
	if err != nil {
		// Recoverable syntax errors still yield partial units in result;
		// Parse only returns an error when the file is oversized,
		// non-UTF-8, empty, or unparseable outright (or the context is
		// cancelled), all of which make this file unusable this run.
		return StatusFailed, 0, fmt.Errorf("parse: %w", err)
	}
	if len(result.Errors) > 0 {
		ix.log.Warn("parse completed with errors", "file", path, "errors", len(result.Errors))
	}
	if len(result.Units) == 0 {
		// Nothing to index, but the hash still advances so a file with no
		// extractable units (e.g. only unsupported constructs) isn't
		// re-parsed every run. Any stale units from a previous version
		// must still go.
		if err := ix.deleteFileUnits(ctx, projectName, normalized); err != nil {
			return StatusFailed, 0, err
		}
		_ = ix.hashes.set(projectName, normalized, hash)
		return StatusIndexed, 0, nil
	}

	records := make([]*types.Record, 0, len(result.Units))
	texts := make([]string, 0, len(result.Units))
	for _, unit := range result.Units {
		body := sliceUnit(content, unit)
		text := unitContent(normalized, unit, body)
		texts = append(texts, text)

		now := time.Now()
		scope := types.ScopeProject
		if projectName == "" {
			scope = types.ScopeGlobal
		}
		payload := types.CodePayload{
			FilePath:   normalized,
			UnitType:   types.CodeUnitType(unit.Kind),
			UnitName:   unit.Name,
			StartLine:  unit.StartLine,
			EndLine:    unit.EndLine,
			Signature:  unit.Signature,
			Language:   result.Language,
			FileHash:   hash,
			ParentName: unit.ParentName,
		}
		records = append(records, &types.Record{
			Content:        text,
			Category:       types.CategoryCode,
			ContextLevel:   types.ContextProjectContext,
			Scope:          scope,
			ProjectName:    projectName,
			Importance:     0.5,
			LifecycleState: types.LifecycleActive,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastAccessedAt: now,
			Metadata:       payload.ToMetadata(),
		})
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Embedding failure leaves the hash untouched so the next run
		// retries this file from scratch.
		return StatusFailed, 0, fmt.Errorf("embed: %w", err)
	}
	for i, v := range vectors {
		records[i].Embedding = v
	}

	if err := ix.deleteFileUnits(ctx, projectName, normalized); err != nil {
		return StatusFailed, 0, err
	}
	if _, err := ix.store.BatchUpsert(ctx, records); err != nil {
		// Upsert failure leaves the hash untouched so this file is
		// retried next run; the upsert itself is not retried here.
		return StatusFailed, 0, fmt.Errorf("upsert: %w", err)
	}

	if err := ix.hashes.set(projectName, normalized, hash); err != nil {
		return StatusFailed, len(records), fmt.Errorf("persist hash: %w", err)
	}
	return StatusIndexed, len(records), nil
}

// IndexFile runs the per-file indexing algorithm for a single file on
// disk, used by the file watcher on a create/modify event.
func (ix *Indexer) IndexFile(ctx context.Context, projectName, path string) (FileStatus, int, error) {
	return ix.indexFile(ctx, projectName, path)
}

// RemoveFile deletes path's indexed units and forgets its hash, used by
// the file watcher on a delete/rename-away event.
func (ix *Indexer) RemoveFile(ctx context.Context, projectName, path string) error {
	return ix.removeFileLocked(ctx, projectName, normalizePath(path))
}

func (ix *Indexer) removeFileLocked(ctx context.Context, projectName, normalized string) error {
	if err := ix.deleteFileUnits(ctx, projectName, normalized); err != nil {
		return err
	}
	return ix.hashes.delete(projectName, normalized)
}

func (ix *Indexer) deleteFileUnits(ctx context.Context, projectName, normalized string) error {
	filter := store.Filter{"project_name": projectName, "file_path": normalized}
	if err := ix.store.DeleteWhere(ctx, filter); err != nil {
		return fmt.Errorf("delete_where: %w", err)
	}
	return nil
}

func (ix *Indexer) discoverFiles(rootDir string, recursive bool) ([]string, error) {
	var files []string
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != rootDir {
				return fs.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") && path != rootDir {
				return fs.SkipDir
			}
			return nil
		}
		if ix.parsers.SupportsFile(path) {
			files = append(files, path)
		}
		return nil
	}
	if err := filepath.WalkDir(rootDir, walk); err != nil {
		return nil, err
	}
	return files, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func normalizePath(path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		if a, err := filepath.Abs(abs); err == nil {
			abs = a
		}
	}
	return filepath.ToSlash(filepath.Clean(abs))
}

func sliceUnit(content []byte, unit parser.Unit) string {
	if int(unit.EndByte) > len(content) || unit.StartByte > unit.EndByte {
		return ""
	}
	return string(content[unit.StartByte:unit.EndByte])
}

// unitContent builds the embeddable text for a unit as
// "{file_path}:{start_line}\n{signature}\n{body}", truncated to 50 KiB.
func unitContent(filePath string, unit parser.Unit, body string) string {
	text := fmt.Sprintf("%s:%d\n%s\n%s", filePath, unit.StartLine, unit.Signature, body)
	if len(text) > maxUnitContentBytes {
		text = text[:maxUnitContentBytes]
	}
	return text
}
