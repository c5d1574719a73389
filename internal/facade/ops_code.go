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

	"github.com/claude-rag/core/internal/retriever"
	"github.com/claude-rag/core/internal/store"
	"github.com/claude-rag/core/internal/validator"
)

// IndexCodebase implements index_codebase.
func (f *Facade) IndexCodebase(ctx context.Context, directoryPath, projectName string, recursive bool) Envelope {
	const op = "index_codebase"
	if env, rejected := f.rejectIfReadOnly(ctx, op); rejected {
		return env
	}
	if _, err := validator.ValidateText(directoryPath, 4096, "directory_path"); err != nil {
		return f.rejectValidation(ctx, op, err)
	}

	report, err := f.indexer.IndexDirectory(ctx, projectName, directoryPath, recursive, nil)
	if err != nil {
		return failure("transient", err.Error())
	}
	return success(map[string]any{
		"files_indexed": report.FilesIndexed,
		"units_indexed": report.UnitsIndexed,
		"elapsed_s":     report.Elapsed.Seconds(),
		"errors":        report.Errors,
	})
}

// SearchCodeRequest is the input to SearchCode.
type SearchCodeRequest struct {
	Query       string
	ProjectName string
	K           int
	FilePattern string
	Language    string
	Mode        string
}

// SearchCode implements search_code. If ProjectName is empty the request
// fails with a field error unless config.CrossProjectSearch is set, in
// which case the search runs without any project filter.
func (f *Facade) SearchCode(ctx context.Context, req SearchCodeRequest) Envelope {
	const op = "search_code"
	query, err := validator.ValidateText(req.Query, 4096, "query")
	if err != nil {
		return f.rejectValidation(ctx, op, err)
	}

	k := req.K
	if k <= 0 {
		k = 5
	}
	mode := retriever.Mode(req.Mode)
	if mode == "" {
		mode = retriever.ModeSemantic
	}

	sf := store.Filter{"category": "code"}
	if req.ProjectName != "" {
		sf["project_name"] = req.ProjectName
	} else if !f.cfg.CrossProjectSearch {
		return failure("field", "project_name is required unless cross_project_search is enabled")
	}
	if req.Language != "" {
		sf["language"] = req.Language
	}

	results, err := f.retriever.Retrieve(ctx, query, k*poolMultiplier, sf, mode)
	if err != nil {
		return failure("transient", err.Error())
	}
	if req.FilePattern != "" {
		results = postFilter(results, validator.Filters{FilePattern: req.FilePattern})
	}
	if len(results) > k {
		results = results[:k]
	}
	return success(results)
}
