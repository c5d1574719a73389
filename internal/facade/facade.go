// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facade composes the storage, embedding, indexing, and
// retrieval components into the system's public operations: uniform
// {status, data, error} envelopes, read-only mode enforcement ahead of
// any I/O, an exponential-backoff retry boundary around transient
// storage errors, and security logging of every rejection. It is the
// only package the CLI (and, externally, the RPC frontend) talks to.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/claude-rag/core/internal/config"
	"github.com/claude-rag/core/internal/docindex"
	"github.com/claude-rag/core/internal/embedcache"
	"github.com/claude-rag/core/internal/embedding"
	"github.com/claude-rag/core/internal/gitindex"
	"github.com/claude-rag/core/internal/indexer"
	"github.com/claude-rag/core/internal/parser"
	"github.com/claude-rag/core/internal/parser/lang"
	"github.com/claude-rag/core/internal/qdrantpool"
	"github.com/claude-rag/core/internal/retriever"
	"github.com/claude-rag/core/internal/security"
	"github.com/claude-rag/core/internal/store"
)

// Status is the uniform envelope's top-level discriminator: every
// operation, regardless of its data shape, signals success or failure
// through this one field.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Envelope is the return shape every facade operation produces.
type Envelope struct {
	Status Status     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries a caller-facing error classification without ever
// echoing a raw injection candidate (callers that need the redacted
// form use validator.Redacted; this struct only ever holds what's
// already safe to show the caller).
type ErrorInfo struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func success(data any) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

func failure(kind, detail string) Envelope {
	return Envelope{Status: StatusError, Error: &ErrorInfo{Kind: kind, Detail: detail}}
}

// ReadOnlyError is returned (wrapped in an error-kind envelope) when a
// mutating operation is attempted while the facade runs in read-only
// mode. It is always rejected before any I/O and is never retried.
type ReadOnlyError struct {
	Op string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("facade: %s: read-only mode rejects mutating operations", e.Op)
}

// Facade wires every component the public operations need. Construct one
// with New and Close it on shutdown.
type Facade struct {
	cfg       *config.Config
	pool      *qdrantpool.Pool
	store     *store.Store
	embedder  *embedding.Embedder
	cache     *embedcache.Cache
	retriever *retriever.Retriever
	parsers   *parser.Registry
	indexer   *indexer.Indexer
	docs      *docindex.Chunker
	git       *gitindex.Indexer
	secLog    *security.Logger
	readOnly  bool
	startedAt time.Time
}

// New builds every storage, embedding, indexing, and retrieval
// component from cfg and returns a ready-to-use Facade. The caller owns
// shutdown via Close.
func New(ctx context.Context, cfg *config.Config) (*Facade, error) {
	apiKey, destroy, err := openAPIKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("facade: open api key enclave: %w", err)
	}
	defer destroy()

	pool, err := qdrantpool.New(ctx, qdrantpool.Config{
		Endpoint:              cfg.QdrantURL,
		APIKey:                apiKey,
		MinSize:               cfg.PoolMinConns,
		MaxSize:               cfg.PoolMaxConns,
		AcquireTimeout:        cfg.PoolAcquireTimeout,
		HealthCheckInterval:   cfg.PoolHealthCheckInterval,
		HealthCheckCollection: cfg.CollectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("facade: qdrantpool.New: %w", err)
	}

	st := store.New(pool, store.Config{Collection: cfg.CollectionName, Dimensions: embedDimensions})
	if err := st.EnsureCollection(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("facade: EnsureCollection: %w", err)
	}

	cache, err := embedcache.Open(cfg.CacheDir)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("facade: embedcache.Open: %w", err)
	}

	emb := embedding.New(embedding.Config{
		URL:         cfg.EmbedderURL,
		Model:       cfg.EmbedderModel,
		Dimensions:  embedDimensions,
		Concurrency: cfg.EmbedConcurrency,
		Cache:       cache,
	})

	retr := retriever.New(st, emb, retriever.Config{})

	parsers := lang.NewDefaultRegistry()

	ix, err := indexer.New(st, emb, parsers, indexer.Config{HashDBDir: cfg.CacheDir + "/filehashes"})
	if err != nil {
		_ = cache.Close()
		_ = pool.Close()
		return nil, fmt.Errorf("facade: indexer.New: %w", err)
	}

	docs := docindex.New(st, emb, docindex.Config{})
	gi := gitindex.New(st, emb)

	secLog, err := security.Open(cfg.SecurityLogPath, cfg.SecurityLogMaxBytes)
	if err != nil {
		_ = ix.Close()
		_ = cache.Close()
		_ = pool.Close()
		return nil, fmt.Errorf("facade: security.Open: %w", err)
	}

	return &Facade{
		cfg:       cfg,
		pool:      pool,
		store:     st,
		embedder:  emb,
		cache:     cache,
		retriever: retr,
		parsers:   parsers,
		indexer:   ix,
		docs:      docs,
		git:       gi,
		secLog:    secLog,
		readOnly:  cfg.ReadOnly,
		startedAt: time.Now(),
	}, nil
}

// embedDimensions is fixed at types.EmbeddingDim; declared locally to
// avoid every constructor call spelling out the import.
const embedDimensions = 384

// Indexer exposes the underlying code indexer for the CLI's watch
// command, which applies file-change batches directly rather than going
// through a facade operation (watch is a local CLI convenience, not one
// of the facade's public RPC operations).
func (f *Facade) Indexer() *indexer.Indexer { return f.indexer }

// ReadOnly reports whether the facade is running in read-only mode.
func (f *Facade) ReadOnly() bool { return f.readOnly }

// Close releases every owned resource in reverse dependency order.
func (f *Facade) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(f.secLog.Close())
	record(f.indexer.Close())
	record(f.cache.Close())
	record(f.pool.Close())
	return firstErr
}

func openAPIKey(cfg *config.Config) (key string, destroy func(), err error) {
	if cfg.APIKeyEnclave == nil {
		return "", func() {}, nil
	}
	buf, err := cfg.APIKeyEnclave.Open()
	if err != nil {
		return "", nil, err
	}
	return buf.String(), buf.Destroy, nil
}

// rejectIfReadOnly enforces read-only mode: mutating operations fail
// before any I/O runs, and the rejection is both logged and surfaced.
func (f *Facade) rejectIfReadOnly(ctx context.Context, op string) (Envelope, bool) {
	if !f.readOnly {
		return Envelope{}, false
	}
	f.secLog.LogReadOnlyViolation(ctx, op)
	return failure("read_only", (&ReadOnlyError{Op: op}).Error()), true
}

func (f *Facade) logRejection(ctx context.Context, op, field, kind, detail string) {
	f.secLog.LogRejection(ctx, op, field, kind, detail)
}
