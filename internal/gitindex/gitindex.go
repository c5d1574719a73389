// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitindex indexes and searches a repository's commit history:
// walking it with go-git, computing per-commit diff stats with
// sourcegraph/go-diff, and storing one Record per commit for later
// hybrid retrieval.
package gitindex

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/claude-rag/core/internal/embedding"
	"github.com/claude-rag/core/internal/store"
	"github.com/claude-rag/core/internal/types"
)

// diffCommitThreshold is the commit-count cutoff above which
// include_diffs=auto disables per-commit diff text, to keep very large
// repositories affordable to index.
const diffCommitThreshold = 10_000

// IncludeDiffs selects whether index_git attaches unified-diff text to
// each commit record.
type IncludeDiffs string

const (
	IncludeDiffsAuto  IncludeDiffs = "auto"
	IncludeDiffsTrue  IncludeDiffs = "true"
	IncludeDiffsFalse IncludeDiffs = "false"
)

// Report summarizes an index_git run.
type Report struct {
	CommitsIndexed int
	Elapsed        time.Duration
}

// Indexer walks a repository's commit log and stores one Record per
// commit.
type Indexer struct {
	store    *store.Store
	embedder *embedding.Embedder
}

// New returns an Indexer writing through st, embedding commit text with
// emb.
func New(st *store.Store, emb *embedding.Embedder) *Indexer {
	return &Indexer{store: st, embedder: emb}
}

// IndexRepo walks every commit reachable from HEAD in repoPath and stores
// it as a category=commit Record. When includeDiffs is IncludeDiffsAuto,
// diff text is attached only if the repository has at most
// diffCommitThreshold commits; walking the full log once to count commits
// is the price of honoring that cutoff, but it avoids generating patch
// text for every commit of a huge repository.
func (ix *Indexer) IndexRepo(ctx context.Context, repoPath, projectName string, includeDiffs IncludeDiffs) (Report, error) {
	start := time.Now()

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return Report{}, fmt.Errorf("gitindex: open repo %s: %w", repoPath, err)
	}
	head, err := repo.Head()
	if err != nil {
		return Report{}, fmt.Errorf("gitindex: resolve HEAD: %w", err)
	}

	commits, err := walkCommits(repo, head.Hash())
	if err != nil {
		return Report{}, fmt.Errorf("gitindex: walk commits: %w", err)
	}

	withDiffs := includeDiffs == IncludeDiffsTrue ||
		(includeDiffs == IncludeDiffsAuto && len(commits) <= diffCommitThreshold)

	records := make([]*types.Record, 0, len(commits))
	texts := make([]string, 0, len(commits))
	for _, c := range commits {
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		payload, err := commitPayload(c, withDiffs)
		if err != nil {
			return Report{}, fmt.Errorf("gitindex: commit %s: %w", c.Hash.String(), err)
		}

		text := commitText(c, payload)
		texts = append(texts, text)

		now := time.Now()
		records = append(records, &types.Record{
			Content:        text,
			Category:       types.CategoryCommit,
			ContextLevel:   types.ContextProjectContext,
			Scope:          types.ScopeProject,
			ProjectName:    projectName,
			Importance:     0.5,
			LifecycleState: types.LifecycleActive,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastAccessedAt: now,
			Metadata:       payload.ToMetadata(),
		})
	}

	if len(records) == 0 {
		return Report{Elapsed: time.Since(start)}, nil
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Report{}, fmt.Errorf("gitindex: embed commit texts: %w", err)
	}
	for i, v := range vectors {
		records[i].Embedding = v
	}

	if _, err := ix.store.BatchUpsert(ctx, records); err != nil {
		return Report{}, fmt.Errorf("gitindex: upsert: %w", err)
	}

	return Report{CommitsIndexed: len(records), Elapsed: time.Since(start)}, nil
}

// walkCommits returns every commit reachable from head, oldest details
// preserved in the order go-git's log iterator yields them (newest first).
func walkCommits(repo *git.Repository, head plumbing.Hash) ([]*object.Commit, error) {
	iter, err := repo.Log(&git.LogOptions{From: head})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// commitPayload derives a CommitPayload from c. When withDiffs is true,
// the unified diff against c's first parent is generated and parsed with
// go-diff to count insertions/deletions/files-changed directly from the
// hunk lines, and the diff text itself is retained. Root commits (no
// parent) and, when withDiffs is false, every other commit fall back to
// go-git's own lightweight object.Commit.Stats(), which is far cheaper
// than building a full patch for repositories with a huge history.
func commitPayload(c *object.Commit, withDiffs bool) (types.CommitPayload, error) {
	payload := types.CommitPayload{
		CommitHash:     c.Hash.String(),
		Author:         c.Author.Name,
		AuthorEmail:    c.Author.Email,
		CommitDateUnix: float64(c.Author.When.Unix()),
	}

	parent, parentErr := c.Parent(0)
	if withDiffs && parentErr == nil {
		patch, err := parent.Patch(c)
		if err != nil {
			return payload, fmt.Errorf("build patch: %w", err)
		}
		diffText := patch.String()
		fileDiffs, err := godiff.ParseMultiFileDiff([]byte(diffText))
		if err != nil {
			return payload, fmt.Errorf("parse diff: %w", err)
		}
		ins, del := countDiffLines(fileDiffs)
		payload.FilesChanged = len(fileDiffs)
		payload.Insertions = ins
		payload.Deletions = del
		payload.DiffContent = diffText
		return payload, nil
	}

	stats, err := c.Stats()
	if err != nil {
		return payload, fmt.Errorf("commit stats: %w", err)
	}
	for _, fs := range stats {
		payload.FilesChanged++
		payload.Insertions += fs.Addition
		payload.Deletions += fs.Deletion
	}
	return payload, nil
}

// countDiffLines sums added/removed content lines across every hunk of
// every file in fileDiffs. Every '+' or '-' line of a hunk body counts:
// ParseMultiFileDiff parses the "+++"/"---" file headers into the
// FileDiff's names, so they never appear inside a hunk body.
func countDiffLines(fileDiffs []*godiff.FileDiff) (insertions, deletions int) {
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			scanner := bufio.NewScanner(strings.NewReader(string(hunk.Body)))
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "+"):
					insertions++
				case strings.HasPrefix(line, "-"):
					deletions++
				}
			}
		}
	}
	return insertions, deletions
}

// commitText builds the text embedded for a commit record: the commit
// message followed by a brief changed-files summary, so a semantic query
// like "fix the race in the watcher" can match on message content while a
// keyword query can still hit file names.
func commitText(c *object.Commit, payload types.CommitPayload) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Message))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%d file(s) changed, %d insertion(s), %d deletion(s)",
		payload.FilesChanged, payload.Insertions, payload.Deletions)
	return b.String()
}
