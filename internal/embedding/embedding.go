// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding generates unit-normalized vector embeddings for text
// via an Ollama-compatible HTTP endpoint, with a persistent cache in front
// and bounded-parallel batch encoding behind.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/claude-rag/core/internal/embedcache"
)

const (
	// DefaultTimeout bounds a single embed HTTP call.
	DefaultTimeout = 30 * time.Second

	// DefaultConcurrency caps simultaneous in-flight embed calls during a
	// batch encode. Enough to saturate a local Ollama instance without
	// overwhelming it.
	DefaultConcurrency = 8
)

// ollamaEmbedRequest is the Ollama /api/embed request body. Input accepts
// either a single string or a []string for batch requests.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// EmbeddingErrorKind classifies an EmbeddingError for callers that need
// to decide whether a batch failure is worth retrying.
type EmbeddingErrorKind string

const (
	// EmbeddingKindTransient covers HTTP/network failures and context
	// cancellation — the same call may succeed on a later attempt.
	EmbeddingKindTransient EmbeddingErrorKind = "transient"
	// EmbeddingKindDimensionMismatch means the service returned a vector
	// whose length doesn't match the configured Dimensions; retrying
	// without changing configuration won't help.
	EmbeddingKindDimensionMismatch EmbeddingErrorKind = "dimension_mismatch"
)

// EmbeddingError reports which texts in a batch failed to embed,
// alongside a classification of why. BatchIndices lets the caller (the
// indexer, typically) decide whether to retry only the failed subset.
type EmbeddingError struct {
	Kind         EmbeddingErrorKind
	BatchIndices []int
	Err          error
}

func (e *EmbeddingError) Error() string {
	idx := make([]string, len(e.BatchIndices))
	for i, n := range e.BatchIndices {
		idx[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("embedding: %s at indices [%s]: %v", e.Kind, strings.Join(idx, ","), e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Config configures an Embedder.
type Config struct {
	// URL is the embedding service's /api/embed endpoint.
	URL string

	// Model is the embedding model identifier, also used as half of the
	// cache key so switching models invalidates previously cached vectors.
	Model string

	// Dimensions is the expected output width. Embed rejects any response
	// whose vector length differs.
	Dimensions int

	// Timeout bounds each individual HTTP call. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Concurrency caps simultaneous in-flight calls during EmbedBatch. Zero
	// uses DefaultConcurrency.
	Concurrency int

	// Cache optionally persists computed vectors. Nil disables caching.
	Cache *embedcache.Cache
}

// Embedder computes unit-normalized embedding vectors.
//
// # Description
//
// Deduplicates concurrent requests for identical text via singleflight
// and caches results when a Cache is configured, so a burst of
// duplicate queries issues at most one HTTP call.
//
// # Thread Safety
//
// Safe for concurrent use.
type Embedder struct {
	client *http.Client
	cfg    Config
	group  singleflight.Group
}

// New returns an Embedder configured per cfg, applying defaults for any
// zero-valued fields.
func New(cfg Config) *Embedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Embedder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Concurrency * 2,
				MaxIdleConnsPerHost: cfg.Concurrency * 2,
				MaxConnsPerHost:     cfg.Concurrency * 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cfg: cfg,
	}
}

// Embed returns the unit-normalized embedding vector for text.
//
// # Description
//
// Checks the cache first and deduplicates concurrent calls for the same
// text via singleflight, so a burst of identical queries issues one
// HTTP call.
//
// # Inputs
//
//   - text: the text to embed. An empty or whitespace-only string
//     returns a zero vector without calling the embedding service.
//
// # Outputs
//
//   - []float32: a unit-normalized vector of Dimensions length.
//
// # Thread Safety
//
// Safe to call concurrently; singleflight coalesces identical in-flight
// requests.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.cfg.Dimensions), nil
	}

	cacheKey := ""
	if e.cfg.Cache != nil {
		cacheKey = embedcache.Key(text, e.cfg.Model)
		if vec, ok, err := e.cfg.Cache.Get(ctx, cacheKey); err == nil && ok {
			return vec, nil
		}
	}

	v, err, _ := e.group.Do(text, func() (any, error) {
		vecs, err := e.callAPI(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("embedding: empty response for single text")
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	vec := v.([]float32)

	if e.cfg.Cache != nil {
		if err := e.cfg.Cache.Put(ctx, cacheKey, vec); err != nil {
			return vec, nil // cache persistence failure is non-fatal
		}
	}
	return vec, nil
}

// EmbedBatch embeds texts with bounded parallelism, preserving input
// order in the result.
//
// # Description
//
// Cached entries are resolved without an HTTP call; the remainder are
// embedded concurrently (capped at cfg.Concurrency) and written back to
// the cache. A per-text failure is reported as an *EmbeddingError naming
// the failed indices rather than aborting the whole batch silently.
//
// # Inputs
//
//   - texts: the texts to embed, in order. An empty slice returns
//     (nil, nil).
//
// # Outputs
//
//   - [][]float32: one unit-normalized vector per input text, same
//     order and length as texts.
//
// # Thread Safety
//
// Safe to call concurrently on the same Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var pending []int

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.cfg.Dimensions)
			continue
		}
		if e.cfg.Cache != nil {
			key := embedcache.Key(text, e.cfg.Model)
			if vec, ok, err := e.cfg.Cache.Get(ctx, key); err == nil && ok {
				results[i] = vec
				continue
			}
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return results, nil
	}

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []int
	var lastErr error

	for _, idx := range pending {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				failed = append(failed, idx)
				lastErr = ctx.Err()
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			vec, err := e.Embed(ctx, texts[idx])
			if err != nil {
				mu.Lock()
				failed = append(failed, idx)
				lastErr = err
				mu.Unlock()
				return
			}
			results[idx] = vec
		}()
	}
	wg.Wait()

	if len(failed) > 0 {
		sort.Ints(failed)
		kind := EmbeddingKindTransient
		if errors.Is(lastErr, errDimensionMismatch) {
			kind = EmbeddingKindDimensionMismatch
		}
		return nil, &EmbeddingError{Kind: kind, BatchIndices: failed, Err: lastErr}
	}
	return results, nil
}

// callAPI issues one HTTP request to the embedding service and returns
// unit-normalized vectors in response order.
func (e *Embedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: call %s: %w", e.cfg.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: service returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: parse response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(parsed.Embeddings))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, raw := range parsed.Embeddings {
		if e.cfg.Dimensions > 0 && len(raw) != e.cfg.Dimensions {
			return nil, fmt.Errorf("%w: got %d, expected %d", errDimensionMismatch, len(raw), e.cfg.Dimensions)
		}
		out[i] = normalize(raw)
	}
	return out, nil
}

// errDimensionMismatch marks a callAPI failure as a dimension mismatch
// rather than a transient service error, so EmbedBatch can classify it.
var errDimensionMismatch = errors.New("embedding: vector dimension mismatch")

// normalize converts a float64 vector to a unit-length float32 vector. A
// zero vector (degenerate embedding) is returned as-is rather than
// dividing by zero.
func normalize(v []float64) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// Dimensions returns the configured embedding width.
func (e *Embedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model identifier.
func (e *Embedder) ModelName() string { return e.cfg.Model }

// Available reports whether the embedding service responds to a lightweight
// health probe within a short timeout.
func (e *Embedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.callAPI(probeCtx, []string{"healthcheck"})
	return err == nil
}

// Close releases idle HTTP connections held by the embedder.
func (e *Embedder) Close() error {
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
