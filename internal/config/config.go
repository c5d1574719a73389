// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the process-wide Config: environment
// variables take precedence over a JSON config file, which takes precedence
// over built-in defaults. The Qdrant API key, if set, is sealed in a
// memguard enclave for the lifetime of the process rather than held as a
// plain string.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// Config is the fully resolved, validated process configuration.
type Config struct {
	// QdrantURL is the gRPC endpoint of the vector database.
	// Env: CLAUDE_RAG_QDRANT_URL (default: "localhost:6334")
	QdrantURL string `json:"qdrant_url"`

	// QdrantAPIKey is sealed in an enclave immediately after load and never
	// appears again as a plain string; see APIKeyEnclave.
	// Env: CLAUDE_RAG_QDRANT_API_KEY (default: "")
	QdrantAPIKey string `json:"qdrant_api_key,omitempty"`

	// CollectionName is the Qdrant collection all records live in.
	// Env: CLAUDE_RAG_COLLECTION (default: "claude_rag")
	CollectionName string `json:"collection_name"`

	// EmbedderURL is the Ollama-compatible /api/embed endpoint; requests
	// are posted to this URL as given.
	// Env: CLAUDE_RAG_EMBEDDER_URL (default: "http://localhost:11434/api/embed")
	EmbedderURL string `json:"embedder_url"`

	// EmbedderModel names the embedding model served by EmbedderURL.
	// Env: CLAUDE_RAG_EMBEDDER_MODEL (default: "nomic-embed-text")
	EmbedderModel string `json:"embedder_model"`

	// CacheDir is the BadgerDB directory backing the embedding cache and
	// the incremental indexer's file-hash state.
	// Env: CLAUDE_RAG_CACHE_DIR (default: "~/.claude-rag/cache")
	CacheDir string `json:"cache_dir"`

	// PoolMinConns / PoolMaxConns bound the Qdrant connection pool.
	// Env: CLAUDE_RAG_POOL_MIN (default: 2), CLAUDE_RAG_POOL_MAX (default: 10)
	PoolMinConns int `json:"pool_min_conns"`
	PoolMaxConns int `json:"pool_max_conns"`

	// PoolAcquireTimeout bounds how long a caller waits for a pooled
	// connection before failing with a Transient error.
	// Env: CLAUDE_RAG_POOL_ACQUIRE_TIMEOUT_MS (default: 5000)
	PoolAcquireTimeout time.Duration `json:"pool_acquire_timeout"`

	// PoolRecycleAge is the maximum lifetime of a pooled connection before
	// it is closed and replaced on release rather than returned to the
	// idle queue.
	// Env: CLAUDE_RAG_POOL_RECYCLE_MS (default: 3600000, i.e. 1h)
	PoolRecycleAge time.Duration `json:"pool_recycle_age"`

	// PoolHealthCheckInterval is the period between background deep health
	// checks of idle pool slots.
	// Env: CLAUDE_RAG_POOL_HEALTH_CHECK_INTERVAL_MS (default: 60000)
	PoolHealthCheckInterval time.Duration `json:"pool_health_check_interval"`

	// EmbedConcurrency bounds the number of in-flight embedding requests
	// when encoding a batch of units.
	// Env: CLAUDE_RAG_EMBED_CONCURRENCY (default: 8)
	EmbedConcurrency int `json:"embed_concurrency"`

	// WatchDebounce is the minimum quiet period before a batch of file
	// events is flushed to the indexer.
	// Env: CLAUDE_RAG_WATCH_DEBOUNCE_MS (default: 1000)
	WatchDebounce time.Duration `json:"watch_debounce"`

	// ReadOnly disables every mutating facade operation when true,
	// independent of any individual caller's intent.
	// Env: CLAUDE_RAG_READ_ONLY (default: "false")
	ReadOnly bool `json:"read_only"`

	// SecurityLogPath is the append-only JSON-lines log of validation
	// rejections and security-relevant events.
	// Env: CLAUDE_RAG_SECURITY_LOG (default: "~/.claude-rag/security.log")
	SecurityLogPath string `json:"security_log_path"`

	// SecurityLogMaxBytes caps the security log before it is rotated.
	// Env: CLAUDE_RAG_SECURITY_LOG_MAX_BYTES (default: 10485760)
	SecurityLogMaxBytes int64 `json:"security_log_max_bytes"`

	// CrossProjectSearch, when true, lets a search_code request that names
	// no project run across every project instead of being rejected
	// (resolves the Open Question on cross-project search; disabled by
	// default). It is a process-wide switch; no per-project opt-in is
	// stored.
	// Env: CLAUDE_RAG_CROSS_PROJECT_SEARCH (default: "false")
	CrossProjectSearch bool `json:"cross_project_search"`

	// APIKeyEnclave holds the sealed Qdrant API key. Nil when no key was
	// configured. Callers obtain the plaintext only at the point of use via
	// Open(), which must be Destroy()'d immediately after.
	APIKeyEnclave *memguard.Enclave `json:"-"`
}

// fileConfig is the JSON shape accepted from a config file; every field is
// optional so the file may set only the values it cares about.
type fileConfig struct {
	QdrantURL            *string `json:"qdrant_url"`
	QdrantAPIKey         *string `json:"qdrant_api_key"`
	CollectionName       *string `json:"collection_name"`
	EmbedderURL          *string `json:"embedder_url"`
	EmbedderModel        *string `json:"embedder_model"`
	CacheDir             *string `json:"cache_dir"`
	PoolMinConns         *int    `json:"pool_min_conns"`
	PoolMaxConns         *int    `json:"pool_max_conns"`
	PoolAcquireTimeoutMS *int    `json:"pool_acquire_timeout_ms"`
	PoolRecycleMS        *int    `json:"pool_recycle_ms"`
	PoolHealthCheckMS    *int    `json:"pool_health_check_interval_ms"`
	EmbedConcurrency     *int    `json:"embed_concurrency"`
	WatchDebounceMS      *int    `json:"watch_debounce_ms"`
	ReadOnly             *bool   `json:"read_only"`
	SecurityLogPath      *string `json:"security_log_path"`
	SecurityLogMaxBytes  *int64  `json:"security_log_max_bytes"`
	CrossProjectSearch   *bool   `json:"cross_project_search"`
}

func defaults() Config {
	home, _ := os.UserHomeDir()
	base := home + "/.claude-rag"
	return Config{
		QdrantURL:               "localhost:6334",
		CollectionName:          "claude_rag",
		EmbedderURL:             "http://localhost:11434/api/embed",
		EmbedderModel:           "nomic-embed-text",
		CacheDir:                base + "/cache",
		PoolMinConns:            2,
		PoolMaxConns:            10,
		PoolAcquireTimeout:      5 * time.Second,
		PoolRecycleAge:          time.Hour,
		PoolHealthCheckInterval: 60 * time.Second,
		EmbedConcurrency:        8,
		WatchDebounce:           1000 * time.Millisecond,
		ReadOnly:                false,
		SecurityLogPath:         base + "/security.log",
		SecurityLogMaxBytes:     10 * 1024 * 1024,
		CrossProjectSearch:      false,
	}
}

// Load resolves Config from, in ascending priority: built-in defaults, the
// JSON file at configPath (if non-empty and present), then environment
// variables. configPath may be "" to skip the file layer entirely.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		if err := applyFile(&cfg, configPath); err != nil {
			return nil, fmt.Errorf("config: load file: %w", err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.QdrantAPIKey != "" {
		cfg.APIKeyEnclave = memguard.NewEnclave([]byte(cfg.QdrantAPIKey))
		cfg.QdrantAPIKey = ""
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.QdrantURL != nil {
		cfg.QdrantURL = *fc.QdrantURL
	}
	if fc.QdrantAPIKey != nil {
		cfg.QdrantAPIKey = *fc.QdrantAPIKey
	}
	if fc.CollectionName != nil {
		cfg.CollectionName = *fc.CollectionName
	}
	if fc.EmbedderURL != nil {
		cfg.EmbedderURL = *fc.EmbedderURL
	}
	if fc.EmbedderModel != nil {
		cfg.EmbedderModel = *fc.EmbedderModel
	}
	if fc.CacheDir != nil {
		cfg.CacheDir = *fc.CacheDir
	}
	if fc.PoolMinConns != nil {
		cfg.PoolMinConns = *fc.PoolMinConns
	}
	if fc.PoolMaxConns != nil {
		cfg.PoolMaxConns = *fc.PoolMaxConns
	}
	if fc.PoolAcquireTimeoutMS != nil {
		cfg.PoolAcquireTimeout = time.Duration(*fc.PoolAcquireTimeoutMS) * time.Millisecond
	}
	if fc.PoolRecycleMS != nil {
		cfg.PoolRecycleAge = time.Duration(*fc.PoolRecycleMS) * time.Millisecond
	}
	if fc.PoolHealthCheckMS != nil {
		cfg.PoolHealthCheckInterval = time.Duration(*fc.PoolHealthCheckMS) * time.Millisecond
	}
	if fc.EmbedConcurrency != nil {
		cfg.EmbedConcurrency = *fc.EmbedConcurrency
	}
	if fc.WatchDebounceMS != nil {
		cfg.WatchDebounce = time.Duration(*fc.WatchDebounceMS) * time.Millisecond
	}
	if fc.ReadOnly != nil {
		cfg.ReadOnly = *fc.ReadOnly
	}
	if fc.SecurityLogPath != nil {
		cfg.SecurityLogPath = *fc.SecurityLogPath
	}
	if fc.SecurityLogMaxBytes != nil {
		cfg.SecurityLogMaxBytes = *fc.SecurityLogMaxBytes
	}
	if fc.CrossProjectSearch != nil {
		cfg.CrossProjectSearch = *fc.CrossProjectSearch
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.QdrantURL = envString("CLAUDE_RAG_QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantAPIKey = envString("CLAUDE_RAG_QDRANT_API_KEY", cfg.QdrantAPIKey)
	cfg.CollectionName = envString("CLAUDE_RAG_COLLECTION", cfg.CollectionName)
	cfg.EmbedderURL = envString("CLAUDE_RAG_EMBEDDER_URL", cfg.EmbedderURL)
	cfg.EmbedderModel = envString("CLAUDE_RAG_EMBEDDER_MODEL", cfg.EmbedderModel)
	cfg.CacheDir = envString("CLAUDE_RAG_CACHE_DIR", cfg.CacheDir)
	cfg.PoolMinConns = envInt("CLAUDE_RAG_POOL_MIN", cfg.PoolMinConns)
	cfg.PoolMaxConns = envInt("CLAUDE_RAG_POOL_MAX", cfg.PoolMaxConns)
	cfg.PoolAcquireTimeout = envDurationMS("CLAUDE_RAG_POOL_ACQUIRE_TIMEOUT_MS", cfg.PoolAcquireTimeout)
	cfg.PoolRecycleAge = envDurationMS("CLAUDE_RAG_POOL_RECYCLE_MS", cfg.PoolRecycleAge)
	cfg.PoolHealthCheckInterval = envDurationMS("CLAUDE_RAG_POOL_HEALTH_CHECK_INTERVAL_MS", cfg.PoolHealthCheckInterval)
	cfg.EmbedConcurrency = envInt("CLAUDE_RAG_EMBED_CONCURRENCY", cfg.EmbedConcurrency)
	cfg.WatchDebounce = envDurationMS("CLAUDE_RAG_WATCH_DEBOUNCE_MS", cfg.WatchDebounce)
	cfg.ReadOnly = envBool("CLAUDE_RAG_READ_ONLY", cfg.ReadOnly)
	cfg.SecurityLogPath = envString("CLAUDE_RAG_SECURITY_LOG", cfg.SecurityLogPath)
	cfg.SecurityLogMaxBytes = envInt64("CLAUDE_RAG_SECURITY_LOG_MAX_BYTES", cfg.SecurityLogMaxBytes)
	cfg.CrossProjectSearch = envBool("CLAUDE_RAG_CROSS_PROJECT_SEARCH", cfg.CrossProjectSearch)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.QdrantURL) == "" {
		return fmt.Errorf("qdrant_url must not be empty")
	}
	if strings.TrimSpace(c.CollectionName) == "" {
		return fmt.Errorf("collection_name must not be empty")
	}
	if c.PoolMinConns < 1 {
		return fmt.Errorf("pool_min_conns must be >= 1, got %d", c.PoolMinConns)
	}
	if c.PoolMaxConns < c.PoolMinConns {
		return fmt.Errorf("pool_max_conns (%d) must be >= pool_min_conns (%d)", c.PoolMaxConns, c.PoolMinConns)
	}
	if c.EmbedConcurrency < 1 {
		return fmt.Errorf("embed_concurrency must be >= 1, got %d", c.EmbedConcurrency)
	}
	if c.PoolAcquireTimeout <= 0 {
		return fmt.Errorf("pool_acquire_timeout must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationMS(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
