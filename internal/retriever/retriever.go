// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retriever implements the hybrid retrieval pipeline: semantic
// ANN search, an ephemeral BM25 keyword pass over the candidate
// pool, linear or reciprocal-rank fusion, lifecycle/importance/trust
// post-scoring, a per-context-level stratified cap, and tie-break
// ordering into a final ranked result list with confidence labels.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/claude-rag/core/internal/embedding"
	"github.com/claude-rag/core/internal/store"
	"github.com/claude-rag/core/internal/types"
)

// Mode selects how a query is scored.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// FusionStrategy selects how semantic and keyword scores combine in
// ModeHybrid.
type FusionStrategy string

const (
	FusionLinear FusionStrategy = "linear"
	FusionRRF    FusionStrategy = "rrf"
)

// Confidence is a human-facing label derived from a result's final score.
type Confidence string

const (
	ConfidenceExcellent Confidence = "excellent"
	ConfidenceGood      Confidence = "good"
	ConfidenceFair      Confidence = "fair"
	ConfidencePoor      Confidence = "poor"
)

func confidenceFor(score float64) Confidence {
	switch {
	case score > 0.8:
		return ConfidenceExcellent
	case score >= 0.6:
		return ConfidenceGood
	case score >= 0.4:
		return ConfidenceFair
	default:
		return ConfidencePoor
	}
}

// Result is one ranked hit, carrying the final adjusted score alongside
// its components so callers can explain a ranking or display a confidence
// label.
type Result struct {
	Record        *types.Record
	SemanticScore float64
	KeywordScore  float64
	FusedScore    float64
	AdjustedScore float64
	Confidence    Confidence
}

// Config tunes the retriever's scoring behavior. Zero values fall back to
// sensible defaults.
type Config struct {
	// Alpha weights semantic vs. keyword score in linear fusion:
	// alpha*semantic + (1-alpha)*keyword. Default 0.5.
	Alpha float64
	// Fusion selects linear or reciprocal-rank fusion for ModeHybrid.
	// Default FusionLinear.
	Fusion FusionStrategy
	// RRFk is the rank-offset constant for reciprocal-rank fusion.
	// Default 60, the standard value from the RRF literature.
	RRFk int
	// CapPerLevel bounds how many results any single ContextLevel may
	// contribute to the final top-k. Zero means no cap.
	CapPerLevel int
	// CandidatePoolSize is how many semantic candidates are pulled before
	// keyword scoring and fusion narrow them to k. Must be >= k for
	// keyword/hybrid modes to have a meaningful pool to rank within.
	CandidatePoolSize int
}

func (c Config) withDefaults() Config {
	if c.Alpha == 0 {
		c.Alpha = 0.5
	}
	if c.Fusion == "" {
		c.Fusion = FusionLinear
	}
	if c.RRFk == 0 {
		c.RRFk = 60
	}
	if c.CandidatePoolSize == 0 {
		c.CandidatePoolSize = 50
	}
	return c
}

// Retriever runs retrieve/search_code/search_git_commits-style queries
// against a Store, fusing semantic and keyword signal.
type Retriever struct {
	store    *store.Store
	embedder *embedding.Embedder
	cfg      Config
}

// New returns a Retriever over st and emb with the given tuning config.
func New(st *store.Store, emb *embedding.Embedder, cfg Config) *Retriever {
	return &Retriever{store: st, embedder: emb, cfg: cfg.withDefaults()}
}

// Retrieve runs query in mode, restricted to filter, and returns the top k
// results after fusion, post-scoring, stratified capping, and tie-break
// ordering.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter store.Filter, mode Mode) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("retriever: k must be positive, got %d", k)
	}

	poolSize := uint64(k)
	if mode != ModeSemantic {
		poolSize = uint64(r.cfg.CandidatePoolSize)
		if poolSize < uint64(k) {
			poolSize = uint64(k)
		}
	}

	// Even in ModeKeyword, candidates come from Qdrant's ANN search (there
	// is no separate full-scan keyword backend), so every mode embeds the
	// query to assemble its candidate pool; ModeKeyword simply ignores the
	// semantic component during fusion below.
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}

	candidates, err := r.store.Search(ctx, queryVec, poolSize, filter)
	if err != nil {
		return nil, fmt.Errorf("retriever: search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results := r.score(candidates, query, mode)
	r.postScore(results)
	sortResults(results)
	capped := applyStratifiedCap(results, r.cfg.CapPerLevel, k)

	for i := range capped {
		capped[i].Confidence = confidenceFor(capped[i].AdjustedScore)
	}
	return capped, nil
}

// score builds the per-candidate semantic/keyword/fused score triple
// according to mode.
func (r *Retriever) score(candidates []store.SearchResult, query string, mode Mode) []Result {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Record: c.Record, SemanticScore: float64(c.Score)}
	}
	if mode == ModeSemantic {
		for i := range results {
			results[i].FusedScore = results[i].SemanticScore
		}
		return results
	}

	contents := make(map[string]string, len(candidates))
	for _, c := range candidates {
		contents[c.Record.ID] = c.Record.Content
	}
	bm25 := BuildBM25Index(contents)
	kwScores := bm25.Score(query)

	for i := range results {
		results[i].KeywordScore = kwScores[results[i].Record.ID]
	}

	switch mode {
	case ModeKeyword:
		for i := range results {
			results[i].FusedScore = results[i].KeywordScore
		}
	case ModeHybrid:
		r.fuseHybrid(results)
	}
	return results
}

func (r *Retriever) fuseHybrid(results []Result) {
	switch r.cfg.Fusion {
	case FusionRRF:
		semRank := rankOf(results, func(res Result) float64 { return res.SemanticScore })
		kwRank := rankOf(results, func(res Result) float64 { return res.KeywordScore })
		for i := range results {
			id := results[i].Record.ID
			rrf := 1.0/float64(r.cfg.RRFk+semRank[id]) + 1.0/float64(r.cfg.RRFk+kwRank[id])
			results[i].FusedScore = rrf
		}
		normalizeMax(results)
	default: // FusionLinear
		for i := range results {
			results[i].FusedScore = r.cfg.Alpha*results[i].SemanticScore + (1-r.cfg.Alpha)*results[i].KeywordScore
		}
	}
}

// rankOf returns each result's 1-indexed rank under the given score
// accessor, descending.
func rankOf(results []Result, score func(Result) float64) map[string]int {
	indices := make([]int, len(results))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(a, b int) bool {
		return score(results[indices[a]]) > score(results[indices[b]])
	})
	ranks := make(map[string]int, len(results))
	for rank, idx := range indices {
		ranks[results[idx].Record.ID] = rank + 1
	}
	return ranks
}

func normalizeMax(results []Result) {
	var maxScore float64
	for _, r := range results {
		if r.FusedScore > maxScore {
			maxScore = r.FusedScore
		}
	}
	if maxScore == 0 {
		return
	}
	for i := range results {
		results[i].FusedScore /= maxScore
	}
}

// postScore applies a fixed chain of ordered adjustments: lifecycle
// weight, importance, and trust score (when present in metadata).
func (r *Retriever) postScore(results []Result) {
	for i := range results {
		rec := results[i].Record
		score := results[i].FusedScore
		score *= rec.LifecycleState.Weight()
		score *= 0.5 + 0.5*rec.Importance
		if trust, ok := rec.Metadata["trust_score"]; ok {
			if t, ok := toFloat(trust); ok {
				score *= t
			}
		}
		results[i].AdjustedScore = score
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// sortResults orders results by a fixed tie-break chain: higher adjusted
// score, then higher importance, then newer updated_at, then
// lexicographically smaller id.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.AdjustedScore != b.AdjustedScore {
			return a.AdjustedScore > b.AdjustedScore
		}
		if a.Record.Importance != b.Record.Importance {
			return a.Record.Importance > b.Record.Importance
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

// applyStratifiedCap walks results in their already-sorted order and
// keeps at most capPerLevel per ContextLevel, stopping once k results have
// been accepted. capPerLevel <= 0 disables the cap.
func applyStratifiedCap(results []Result, capPerLevel, k int) []Result {
	out := make([]Result, 0, k)
	counts := make(map[types.ContextLevel]int)
	for _, res := range results {
		if len(out) >= k {
			break
		}
		if capPerLevel > 0 && counts[res.Record.ContextLevel] >= capPerLevel {
			continue
		}
		out = append(out, res)
		counts[res.Record.ContextLevel]++
	}
	return out
}
