// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitindex

import (
	"context"
	"time"

	"github.com/claude-rag/core/internal/retriever"
	"github.com/claude-rag/core/internal/store"
)

// CommitResult is one ranked commit hit returned by search_git_commits.
type CommitResult struct {
	retriever.Result
	CommitHash     string
	Author         string
	CommitDateUnix float64
}

// SearchCommits runs query against the category=commit slice of the
// corpus and narrows the hits to the [after, before) window. The
// underlying store filter only supports equality match, so the date
// range itself is applied after retrieval rather than pushed down
// to Qdrant; the retriever is asked for a wider candidate pool than k so
// that narrowing by date still leaves up to k results when the window
// excludes some of the top semantic/keyword matches.
func SearchCommits(ctx context.Context, r *retriever.Retriever, query, projectName string, k int, after, before *time.Time) ([]CommitResult, error) {
	filter := store.Filter{"category": "commit"}
	if projectName != "" {
		filter["project_name"] = projectName
	}

	poolK := k * 4
	if poolK < k {
		poolK = k
	}

	results, err := r.Retrieve(ctx, query, poolK, filter, retriever.ModeHybrid)
	if err != nil {
		return nil, err
	}

	out := make([]CommitResult, 0, k)
	for _, res := range results {
		dateUnix, _ := res.Record.Metadata["commit_date_unix"].(float64)
		commitTime := time.Unix(int64(dateUnix), 0).UTC()
		if after != nil && commitTime.Before(*after) {
			continue
		}
		if before != nil && !commitTime.Before(*before) {
			continue
		}
		hash, _ := res.Record.Metadata["commit_hash"].(string)
		author, _ := res.Record.Metadata["author"].(string)
		out = append(out, CommitResult{
			Result:         res,
			CommitHash:     hash,
			Author:         author,
			CommitDateUnix: dateUnix,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}
