// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facade

import (
	"context"
	"time"

	"github.com/claude-rag/core/internal/gitindex"
	"github.com/claude-rag/core/internal/validator"
)

// IndexGit implements index_git.
func (f *Facade) IndexGit(ctx context.Context, repoPath, projectName, includeDiffs string) Envelope {
	const op = "index_git"
	if env, rejected := f.rejectIfReadOnly(ctx, op); rejected {
		return env
	}
	if _, err := validator.ValidateText(repoPath, 4096, "repo_path"); err != nil {
		return f.rejectValidation(ctx, op, err)
	}

	mode := gitindex.IncludeDiffs(includeDiffs)
	if mode == "" {
		mode = gitindex.IncludeDiffsAuto
	}

	report, err := f.git.IndexRepo(ctx, repoPath, projectName, mode)
	if err != nil {
		return failure("transient", err.Error())
	}
	return success(map[string]any{
		"commits_indexed": report.CommitsIndexed,
		"elapsed_s":       report.Elapsed.Seconds(),
	})
}

// SearchGitCommitsRequest is the input to SearchGitCommits.
type SearchGitCommitsRequest struct {
	Query         string
	ProjectName   string
	CommitsAfter  *time.Time
	CommitsBefore *time.Time
	K             int
}

// SearchGitCommits implements search_git_commits.
func (f *Facade) SearchGitCommits(ctx context.Context, req SearchGitCommitsRequest) Envelope {
	const op = "search_git_commits"
	query, err := validator.ValidateText(req.Query, 4096, "query")
	if err != nil {
		return f.rejectValidation(ctx, op, err)
	}

	k := req.K
	if k <= 0 {
		k = 10
	}

	results, err := gitindex.SearchCommits(ctx, f.retriever, query, req.ProjectName, k, req.CommitsAfter, req.CommitsBefore)
	if err != nil {
		return failure("transient", err.Error())
	}
	return success(results)
}
