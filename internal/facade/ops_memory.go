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
	"errors"
	"path/filepath"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/claude-rag/core/internal/lifecycle"
	"github.com/claude-rag/core/internal/retriever"
	"github.com/claude-rag/core/internal/store"
	"github.com/claude-rag/core/internal/types"
	"github.com/claude-rag/core/internal/validator"
)

// ContextLevelAuto is the store() sentinel that asks the facade to
// resolve context_level itself instead of trusting the caller.
const ContextLevelAuto = "auto"

// StoreRequest is the input to Store. Zero values fall back to sensible
// defaults: Scope=global, ContextLevel=auto, Importance=0.5.
type StoreRequest struct {
	Content      string
	Category     string
	Scope        string
	ProjectName  string
	ContextLevel string
	Importance   *float64
	Tags         []string
	Metadata     map[string]any
}

// Store implements the store operation.
func (f *Facade) Store(ctx context.Context, req StoreRequest) Envelope {
	const op = "store"
	if env, rejected := f.rejectIfReadOnly(ctx, op); rejected {
		return env
	}

	content, err := validator.ValidateText(req.Content, types.MaxContentBytes, "content")
	if err != nil {
		return f.rejectValidation(ctx, op, err)
	}
	for _, tag := range req.Tags {
		if _, err := validator.ValidateText(tag, 256, "tags"); err != nil {
			return f.rejectValidation(ctx, op, err)
		}
	}

	scope := types.Scope(req.Scope)
	if scope == "" {
		scope = types.ScopeGlobal
	}
	category := types.Category(req.Category)
	importance := 0.5
	if req.Importance != nil {
		importance = *req.Importance
	}

	contextLevel := types.ContextLevel(req.ContextLevel)
	if req.ContextLevel == "" || req.ContextLevel == ContextLevelAuto {
		contextLevel = resolveContextLevel(category, scope)
	}

	now := time.Now()
	record := &types.Record{
		Content:        content,
		Category:       category,
		ContextLevel:   contextLevel,
		Scope:          scope,
		ProjectName:    req.ProjectName,
		Importance:     importance,
		Tags:           req.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		Metadata:       req.Metadata,
	}
	record.LifecycleState = lifecycle.Classify(record, now)

	if err := record.Validate(now); err != nil {
		return f.rejectValidation(ctx, op, &validator.ValidationError{Kind: validator.KindField, Field: "record", Detail: err.Error()})
	}

	vec, err := f.embedder.Embed(ctx, content)
	if err != nil {
		return failure("embedding", err.Error())
	}
	record.Embedding = vec

	id, err := withRetry(ctx, func() (string, error) { return f.store.Upsert(ctx, record) })
	if err != nil {
		return storageFailure(err)
	}
	return success(map[string]any{"id": id})
}

// resolveContextLevel implements the store-time context_level=auto
// heuristic: preference-category content is USER_PREFERENCE, anything
// scoped to a session is SESSION_STATE, everything else falls to
// PROJECT_CONTEXT. This is distinct from the lifecycle classifier
// (internal/lifecycle), which grades age/recency rather than intended
// retrieval scope.
func resolveContextLevel(category types.Category, scope types.Scope) types.ContextLevel {
	switch {
	case category == types.CategoryPreference:
		return types.ContextUserPreference
	case scope == types.ScopeSession:
		return types.ContextSessionState
	default:
		return types.ContextProjectContext
	}
}

// UpdateFields is the partial-update payload for Update. A nil pointer or
// nil slice means "leave unchanged"; only the named fields are mutable.
type UpdateFields struct {
	Content      *string
	Importance   *float64
	Tags         []string
	Metadata     map[string]any
	Category     *string
	ContextLevel *string
}

// Update implements the update operation: fetch, apply partial_fields,
// re-embed iff content changed, re-validate, and upsert.
func (f *Facade) Update(ctx context.Context, id string, fields UpdateFields) Envelope {
	const op = "update"
	if env, rejected := f.rejectIfReadOnly(ctx, op); rejected {
		return env
	}

	record, ok, err := f.store.Get(ctx, id)
	if err != nil {
		return storageFailure(err)
	}
	if !ok {
		return failure("not_found", "no record with that id")
	}

	contentChanged := false
	if fields.Content != nil {
		content, err := validator.ValidateText(*fields.Content, types.MaxContentBytes, "content")
		if err != nil {
			return f.rejectValidation(ctx, op, err)
		}
		contentChanged = content != record.Content
		record.Content = content
	}
	if fields.Importance != nil {
		record.Importance = *fields.Importance
	}
	if fields.Tags != nil {
		for _, tag := range fields.Tags {
			if _, err := validator.ValidateText(tag, 256, "tags"); err != nil {
				return f.rejectValidation(ctx, op, err)
			}
		}
		record.Tags = fields.Tags
	}
	if fields.Metadata != nil {
		record.Metadata = fields.Metadata
	}
	if fields.Category != nil {
		record.Category = types.Category(*fields.Category)
	}
	if fields.ContextLevel != nil {
		record.ContextLevel = types.ContextLevel(*fields.ContextLevel)
	}

	now := time.Now()
	record.UpdatedAt = now
	record.LastAccessedAt = now
	record.LifecycleState = lifecycle.Classify(record, now)

	if err := record.Validate(now); err != nil {
		return f.rejectValidation(ctx, op, &validator.ValidationError{Kind: validator.KindField, Field: "record", Detail: err.Error()})
	}

	if contentChanged {
		vec, err := f.embedder.Embed(ctx, record.Content)
		if err != nil {
			return failure("embedding", err.Error())
		}
		record.Embedding = vec
	}

	if _, err := withRetry(ctx, func() (string, error) { return f.store.Upsert(ctx, record) }); err != nil {
		return storageFailure(err)
	}
	return success(record)
}

// Delete implements the delete operation.
func (f *Facade) Delete(ctx context.Context, id string) Envelope {
	const op = "delete"
	if env, rejected := f.rejectIfReadOnly(ctx, op); rejected {
		return env
	}
	existed, err := withRetry(ctx, func() (bool, error) { return f.store.Delete(ctx, id) })
	if err != nil {
		return storageFailure(err)
	}
	return success(map[string]any{"deleted": existed})
}

// RetrieveRequest is the input to Retrieve.
type RetrieveRequest struct {
	Query    string
	K        int
	Filters  map[string]any
	Mode     string
	MinScore *float64
}

// Retrieve implements the retrieve operation.
func (f *Facade) Retrieve(ctx context.Context, req RetrieveRequest) Envelope {
	return f.retrieveWithOverride(ctx, "retrieve", req, "")
}

// RetrievePreferences implements retrieve_preferences: context_level is
// forced to USER_PREFERENCE and cannot be overridden by the caller.
func (f *Facade) RetrievePreferences(ctx context.Context, query string, k int) Envelope {
	return f.retrieveWithOverride(ctx, "retrieve_preferences", RetrieveRequest{Query: query, K: k}, string(types.ContextUserPreference))
}

// RetrieveProjectContext implements retrieve_project_context:
// context_level is forced to PROJECT_CONTEXT and cannot be overridden.
func (f *Facade) RetrieveProjectContext(ctx context.Context, query string, k int, projectName string) Envelope {
	req := RetrieveRequest{Query: query, K: k}
	if projectName != "" {
		req.Filters = map[string]any{"project_name": projectName}
	}
	return f.retrieveWithOverride(ctx, "retrieve_project_context", req, string(types.ContextProjectContext))
}

// RetrieveSessionState implements retrieve_session_state: context_level
// is forced to SESSION_STATE and cannot be overridden.
func (f *Facade) RetrieveSessionState(ctx context.Context, query string, k int) Envelope {
	return f.retrieveWithOverride(ctx, "retrieve_session_state", RetrieveRequest{Query: query, K: k}, string(types.ContextSessionState))
}

func (f *Facade) retrieveWithOverride(ctx context.Context, op string, req RetrieveRequest, forcedContextLevel string) Envelope {
	query, err := validator.ValidateText(req.Query, 4096, "query")
	if err != nil {
		return f.rejectValidation(ctx, op, err)
	}
	filters, err := validator.ValidateFilters(req.Filters)
	if err != nil {
		return f.rejectValidation(ctx, op, err)
	}
	if forcedContextLevel != "" {
		filters.ContextLevel = forcedContextLevel
	}

	k := req.K
	if k <= 0 {
		k = 5
	}
	mode := retriever.Mode(req.Mode)
	if mode == "" {
		mode = retriever.ModeSemantic
	}

	storeFilter := equalityFilter(filters)
	results, err := f.retriever.Retrieve(ctx, query, k*poolMultiplier, storeFilter, mode)
	if err != nil {
		return failure("transient", err.Error())
	}
	results = postFilter(results, filters)
	if req.MinScore != nil {
		results = filterByMinScore(results, *req.MinScore)
	}
	if len(results) > k {
		results = results[:k]
	}
	return success(results)
}

// poolMultiplier widens the candidate pool pulled from the retriever
// before applying the post-filters equalityFilter can't express (range
// and membership predicates), mirroring gitindex.SearchCommits' approach
// to the same store.Filter limitation.
const poolMultiplier = 4

// equalityFilter projects the subset of Filters that store.Filter can
// express directly (exact-match, indexed payload fields).
func equalityFilter(filters validator.Filters) store.Filter {
	sf := store.Filter{}
	if filters.Category != "" {
		sf["category"] = filters.Category
	}
	if filters.ContextLevel != "" {
		sf["context_level"] = filters.ContextLevel
	}
	if filters.Scope != "" {
		sf["scope"] = filters.Scope
	}
	if filters.ProjectName != "" {
		sf["project_name"] = filters.ProjectName
	}
	if filters.Language != "" {
		sf["language"] = filters.Language
	}
	if filters.UnitType != "" {
		sf["unit_type"] = filters.UnitType
	}
	if len(sf) == 0 {
		return nil
	}
	return sf
}

// postFilter narrows results by the predicates store.Filter cannot
// express: importance range, date range, file_pattern glob, and tag
// membership (a record must carry at least one of the requested tags).
func postFilter(results []retriever.Result, filters validator.Filters) []retriever.Result {
	out := results[:0]
	for _, r := range results {
		if len(filters.Tags) > 0 {
			tagged := false
			for _, want := range filters.Tags {
				for _, have := range r.Record.Tags {
					tagged = tagged || have == want
				}
			}
			if !tagged {
				continue
			}
		}
		if filters.MinImportance != nil && r.Record.Importance < *filters.MinImportance {
			continue
		}
		if filters.MaxImportance != nil && r.Record.Importance > *filters.MaxImportance {
			continue
		}
		if filters.DateFrom != nil && r.Record.UpdatedAt.Before(*filters.DateFrom) {
			continue
		}
		if filters.DateTo != nil && r.Record.UpdatedAt.After(*filters.DateTo) {
			continue
		}
		if filters.FilePattern != "" {
			path, _ := r.Record.Metadata["file_path"].(string)
			if matched, _ := filepath.Match(filters.FilePattern, path); !matched {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func filterByMinScore(results []retriever.Result, minScore float64) []retriever.Result {
	out := results[:0]
	for _, r := range results {
		if r.AdjustedScore >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// ListRequest is the input to List.
type ListRequest struct {
	Filters map[string]any
	Offset  int
	Limit   int
}

// List implements the list operation by paging through Scroll until every
// matching record has been read, then slicing the requested page out of
// that single unranked pass, so total is always exact.
func (f *Facade) List(ctx context.Context, req ListRequest) Envelope {
	filters, err := validator.ValidateFilters(req.Filters)
	if err != nil {
		return f.rejectValidation(ctx, "list", err)
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	storeFilter := equalityFilter(filters)

	// Scrolled to completion so `total` is always exact; acceptable for
	// the collection sizes this service targets, and simpler than a
	// dedicated count RPC.
	const scrollPageSize = 256
	var all []*types.Record
	var cursor *qdrant.PointId
	for {
		page, err := f.store.Scroll(ctx, storeFilter, scrollPageSize, cursor)
		if err != nil {
			return storageFailure(err)
		}
		all = append(all, page.Records...)
		if page.NextOffset == nil {
			break
		}
		cursor = page.NextOffset
	}

	total := len(all)
	hasMore := total > offset+limit
	end := offset + limit
	if end > total {
		end = total
	}
	start := offset
	if start > total {
		start = total
	}
	return success(map[string]any{
		"results":  all[start:end],
		"total":    total,
		"has_more": hasMore,
	})
}

func (f *Facade) rejectValidation(ctx context.Context, op string, err error) Envelope {
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		f.logRejection(ctx, op, ve.Field, string(ve.Kind), ve.Detail)
		return failure(string(ve.Kind), ve.Error())
	}
	return failure("validation", err.Error())
}

func storageFailure(err error) Envelope {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return failure(string(storageErr.Kind), storageErr.Error())
	}
	return failure("transient", err.Error())
}
