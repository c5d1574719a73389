// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedcache persists computed embedding vectors across process
// restarts and across repeated lookups of the same text, keyed by the
// SHA-256 digest of the text, a NUL separator, and the embedding model
// identifier (see Key).
//
// Storage layout:
//
//	embed/v1/{cacheKey}  →  gob-encoded []float32 (unit-normalized vector)
//	                        TTL: defaultTTL
//
// A small in-memory LRU sits in front of BadgerDB so repeated lookups of
// the same hot keys (common during interactive search sessions) avoid a
// disk round trip.
package embedcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultTTL is the lifetime of a cached embedding entry. 30 days is long
// enough that a developer's working set survives normal gaps between
// sessions without accumulating stale vectors from abandoned content.
const defaultTTL = 30 * 24 * time.Hour

// defaultHotSize is the number of entries kept in the in-memory L1 layer.
const defaultHotSize = 4096

// keyPrefix namespaces cache entries within the shared BadgerDB instance and
// versions the storage format.
const keyPrefix = "embed/v1/"

var errCacheMiss = errors.New("embedcache: miss")

// Stats reports cumulative cache activity for observability.
type Stats struct {
	HotHits   int64
	DiskHits  int64
	Misses    int64
	Puts      int64
	PutErrors int64
}

// Cache persists embedding vectors in BadgerDB behind an in-memory LRU.
//
// # Description
//
// A small in-memory LRU sits in front of BadgerDB so repeated lookups of
// the same hot keys (common during interactive search sessions) avoid a
// disk round trip; entries otherwise expire from BadgerDB after TTL.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	db  *dgbadger.DB
	ttl time.Duration
	hot *lru.Cache[string, []float32]
	log *slog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHotSize overrides the default in-memory LRU capacity.
func WithHotSize(size int) Option {
	return func(c *Cache) {
		if size > 0 {
			hot, err := lru.New[string, []float32](size)
			if err == nil {
				c.hot = hot
			}
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.log = logger
		}
	}
}

// Open opens (or creates) a BadgerDB instance at dir and returns a Cache
// backed by it. The caller owns the returned Cache's lifecycle and must
// call Close when done.
func Open(dir string, opts ...Option) (*Cache, error) {
	db, err := dgbadger.Open(dgbadger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("embedcache: open badger at %s: %w", dir, err)
	}
	hot, _ := lru.New[string, []float32](defaultHotSize)
	c := &Cache{
		db:  db,
		ttl: defaultTTL,
		hot: hot,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying BadgerDB handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key computes the cache key for a (text, modelID) pair: the hex SHA-256
// digest of the text, the model identifier, and a NUL separator between
// them so no input pair of (text, model) strings can collide by
// concatenation ambiguity.
func Key(text, modelID string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached vector for key.
//
// # Description
//
// Checks the in-memory layer before BadgerDB, promoting a disk hit into
// the hot layer before returning.
//
// # Inputs
//
//   - key: the cache key, typically produced by Key.
//
// # Outputs
//
//   - ([]float32, bool, error): (nil, false, nil) on a clean miss,
//     (nil, false, err) on a storage failure, (vec, true, nil) on a hit.
//
// # Thread Safety
//
// Safe to call concurrently.
func (c *Cache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if vec, ok := c.hot.Get(key); ok {
		c.bumpStat(func(s *Stats) { s.HotHits++ })
		return vec, true, nil
	}

	var raw []byte
	err := c.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, errCacheMiss) {
		c.bumpStat(func(s *Stats) { s.Misses++ })
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedcache: get %s: %w", key, err)
	}

	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false, fmt.Errorf("embedcache: decode %s: %w", key, err)
	}
	c.hot.Add(key, vec)
	c.bumpStat(func(s *Stats) { s.DiskHits++ })
	return vec, true, nil
}

// Put persists vec under key with the configured TTL and populates the
// in-memory layer immediately.
//
// # Thread Safety
//
// Safe to call concurrently.
func (c *Cache) Put(ctx context.Context, key string, vec []float32) error {
	raw, err := encodeVector(vec)
	if err != nil {
		c.bumpStat(func(s *Stats) { s.PutErrors++ })
		return fmt.Errorf("embedcache: encode %s: %w", key, err)
	}

	err = c.db.Update(func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(dbKey(key), raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.bumpStat(func(s *Stats) { s.PutErrors++ })
		return fmt.Errorf("embedcache: put %s: %w", key, err)
	}

	c.hot.Add(key, vec)
	c.bumpStat(func(s *Stats) { s.Puts++ })
	return nil
}

// Stats returns a snapshot of cumulative cache activity.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Cache) bumpStat(f func(*Stats)) {
	c.statsMu.Lock()
	f(&c.stats)
	c.statsMu.Unlock()
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func encodeVector(vec []float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVector(raw []byte) ([]float32, error) {
	var vec []float32
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vec); err != nil {
		return nil, err
	}
	return vec, nil
}
