// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"CLAUDE_RAG_QDRANT_URL", "CLAUDE_RAG_QDRANT_API_KEY", "CLAUDE_RAG_COLLECTION",
		"CLAUDE_RAG_EMBEDDER_URL", "CLAUDE_RAG_EMBEDDER_MODEL", "CLAUDE_RAG_CACHE_DIR",
		"CLAUDE_RAG_POOL_MIN", "CLAUDE_RAG_POOL_MAX", "CLAUDE_RAG_POOL_ACQUIRE_TIMEOUT_MS",
		"CLAUDE_RAG_POOL_RECYCLE_MS", "CLAUDE_RAG_POOL_HEALTH_CHECK_INTERVAL_MS",
		"CLAUDE_RAG_EMBED_CONCURRENCY", "CLAUDE_RAG_WATCH_DEBOUNCE_MS", "CLAUDE_RAG_READ_ONLY",
		"CLAUDE_RAG_SECURITY_LOG", "CLAUDE_RAG_SECURITY_LOG_MAX_BYTES", "CLAUDE_RAG_CROSS_PROJECT_SEARCH",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QdrantURL != "localhost:6334" {
		t.Errorf("QdrantURL default = %q", cfg.QdrantURL)
	}
	if cfg.CollectionName != "claude_rag" {
		t.Errorf("CollectionName default = %q", cfg.CollectionName)
	}
	if cfg.PoolMinConns != 2 || cfg.PoolMaxConns != 10 {
		t.Errorf("unexpected pool defaults: min=%d max=%d", cfg.PoolMinConns, cfg.PoolMaxConns)
	}
	if cfg.ReadOnly {
		t.Error("ReadOnly should default to false")
	}
	if cfg.PoolAcquireTimeout != 5*time.Second {
		t.Errorf("PoolAcquireTimeout default = %v", cfg.PoolAcquireTimeout)
	}
	if cfg.PoolRecycleAge != time.Hour {
		t.Errorf("PoolRecycleAge default = %v", cfg.PoolRecycleAge)
	}
	if cfg.PoolHealthCheckInterval != 60*time.Second {
		t.Errorf("PoolHealthCheckInterval default = %v", cfg.PoolHealthCheckInterval)
	}
	if cfg.APIKeyEnclave != nil {
		t.Error("APIKeyEnclave should be nil when no key configured")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLAUDE_RAG_QDRANT_URL", "qdrant.internal:6334")
	t.Setenv("CLAUDE_RAG_POOL_MAX", "25")
	t.Setenv("CLAUDE_RAG_READ_ONLY", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QdrantURL != "qdrant.internal:6334" {
		t.Errorf("QdrantURL = %q", cfg.QdrantURL)
	}
	if cfg.PoolMaxConns != 25 {
		t.Errorf("PoolMaxConns = %d", cfg.PoolMaxConns)
	}
	if !cfg.ReadOnly {
		t.Error("ReadOnly should be true")
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data, _ := json.Marshal(map[string]any{
		"qdrant_url":     "from-file:6334",
		"pool_max_conns": 7,
	})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CLAUDE_RAG_QDRANT_URL", "from-env:6334")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QdrantURL != "from-env:6334" {
		t.Errorf("env should win over file, got %q", cfg.QdrantURL)
	}
	if cfg.PoolMaxConns != 7 {
		t.Errorf("file value should apply when env unset, got %d", cfg.PoolMaxConns)
	}
}

func TestLoad_SealsAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLAUDE_RAG_QDRANT_API_KEY", "super-secret-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QdrantAPIKey != "" {
		t.Error("QdrantAPIKey must not remain in plaintext after Load")
	}
	if cfg.APIKeyEnclave == nil {
		t.Fatal("expected APIKeyEnclave to be set")
	}
	buf, err := cfg.APIKeyEnclave.Open()
	if err != nil {
		t.Fatalf("open enclave: %v", err)
	}
	defer buf.Destroy()
	if buf.String() != "super-secret-key" {
		t.Errorf("enclave contents = %q", buf.String())
	}
}

func TestLoad_RejectsInvalidPoolBounds(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLAUDE_RAG_POOL_MIN", "10")
	t.Setenv("CLAUDE_RAG_POOL_MAX", "5")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error when pool_max_conns < pool_min_conns")
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/nonexistent/path/config.json"); err != nil {
		t.Fatalf("missing config file should be ignored, got %v", err)
	}
}
