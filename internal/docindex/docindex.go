// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docindex ingests a directory of documentation: walking it for
// Markdown/text files, splitting each into heading-aware chunks with
// langchaingo's textsplitter, and storing one category=doc Record per
// chunk.
package docindex

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/claude-rag/core/internal/embedding"
	"github.com/claude-rag/core/internal/store"
	"github.com/claude-rag/core/internal/types"
)

// docExtensions are the files ingest_docs considers documentation.
var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".rst":      true,
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

// Report summarizes an ingest_docs run.
type Report struct {
	FilesProcessed int
	Chunks         int
	Elapsed        time.Duration
	Errors         []string
}

// Chunker splits documentation files into Records.
type Chunker struct {
	store    *store.Store
	embedder *embedding.Embedder
	splitter textsplitter.TextSplitter
}

// Config tunes chunk sizing. Zero values fall back to defaultChunkSize/
// defaultChunkOverlap.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// New returns a Chunker writing through st, embedding chunk text with emb.
func New(st *store.Store, emb *embedding.Embedder, cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
	)
	return &Chunker{store: st, embedder: emb, splitter: splitter}
}

// IngestDirectory walks rootDir (recursively) for documentation files,
// chunks each one, and stores the chunks as category=doc Records scoped
// to projectName.
func (c *Chunker) IngestDirectory(ctx context.Context, projectName, rootDir string) (Report, error) {
	start := time.Now()
	report := Report{}

	var files []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != rootDir {
				return filepath.SkipDir
			}
			return nil
		}
		if docExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("docindex: walk %s: %w", rootDir, err)
	}

	for _, path := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		n, err := c.ingestFile(ctx, projectName, path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		report.FilesProcessed++
		report.Chunks += n
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

func (c *Chunker) ingestFile(ctx context.Context, projectName, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	chunks, err := c.splitter.SplitText(string(content))
	if err != nil {
		return 0, fmt.Errorf("split: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	headings := parseHeadings(string(content))
	relPath := path

	records := make([]*types.Record, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	searchFrom := 0
	for _, chunk := range chunks {
		startByte := strings.Index(string(content)[searchFrom:], chunk)
		var startLine, endLine int
		var headingPath string
		if startByte >= 0 {
			startByte += searchFrom
			startLine = lineNumberAt(string(content), startByte)
			endLine = startLine + strings.Count(chunk, "\n")
			headingPath = headingPathAt(headings, startLine)
			searchFrom = startByte + len(chunk)
		}

		payload := types.DocPayload{
			FilePath:    relPath,
			StartLine:   startLine,
			EndLine:     endLine,
			HeadingPath: headingPath,
		}

		texts = append(texts, chunk)
		now := time.Now()
		scope := types.ScopeProject
		if projectName == "" {
			scope = types.ScopeGlobal
		}
		records = append(records, &types.Record{
			Content:        chunk,
			Category:       types.CategoryDoc,
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

	if err := c.store.DeleteWhere(ctx, store.Filter{"project_name": projectName, "file_path": relPath, "category": "doc"}); err != nil {
		return 0, fmt.Errorf("delete stale chunks: %w", err)
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	for i, v := range vectors {
		records[i].Embedding = v
	}

	if _, err := c.store.BatchUpsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(records), nil
}

type heading struct {
	line  int
	level int
	text  string
}

// parseHeadings scans content for Markdown ATX headings (# through
// ######) and records their line number and level.
func parseHeadings(content string) []heading {
	var headings []heading
	for i, line := range strings.Split(content, "\n") {
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		headings = append(headings, heading{line: i + 1, level: len(m[1]), text: strings.TrimSpace(m[2])})
	}
	return headings
}

// headingPathAt returns the " > "-joined heading hierarchy in effect at
// startLine: every heading at or before startLine, keeping only the most
// recent heading at or below each level (so a new H2 drops any prior H3
// that was nested under a different H2).
func headingPathAt(headings []heading, startLine int) string {
	var stack []heading
	for _, h := range headings {
		if h.line > startLine {
			break
		}
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
	}
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = h.text
	}
	return strings.Join(parts, " > ")
}

// lineNumberAt returns the 1-indexed line number of byte offset in s.
func lineNumberAt(s string, offset int) int {
	if offset > len(s) {
		offset = len(s)
	}
	return strings.Count(s[:offset], "\n") + 1
}
