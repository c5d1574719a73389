// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedcache

import (
	"context"
	"testing"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_PutThenGet_HitsHotLayer(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := Key("hello world", "model-a")
	vec := []float32{0.1, 0.2, 0.3}

	if err := c.Put(ctx, key, vec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != len(vec) || got[0] != vec[0] {
		t.Errorf("got %v, want %v", got, vec)
	}
	if c.Stats().HotHits != 1 {
		t.Errorf("expected 1 hot hit, got %d", c.Stats().HotHits)
	}
}

func TestCache_Get_MissReturnsFalseNilError(t *testing.T) {
	c := newTestCache(t)
	got, ok, err := c.Get(context.Background(), Key("never stored", "model-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || got != nil {
		t.Errorf("expected clean miss, got ok=%v vec=%v", ok, got)
	}
	if c.Stats().Misses != 1 {
		t.Errorf("expected 1 miss, got %d", c.Stats().Misses)
	}
}

func TestCache_Get_HitsDiskWhenHotEvicted(t *testing.T) {
	c, err := Open(t.TempDir(), WithHotSize(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	keyA := Key("text a", "model-a")
	keyB := Key("text b", "model-a")
	if err := c.Put(ctx, keyA, []float32{1, 2}); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := c.Put(ctx, keyB, []float32{3, 4}); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	// keyA was evicted from the size-1 hot layer by keyB's insertion, so this
	// Get must fall through to BadgerDB.
	got, ok, err := c.Get(ctx, keyA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected disk hit for evicted key")
	}
	if got[0] != 1 {
		t.Errorf("got %v, want [1 2]", got)
	}
	if c.Stats().DiskHits != 1 {
		t.Errorf("expected 1 disk hit, got %d", c.Stats().DiskHits)
	}
}

func TestKey_DistinguishesTextAndModel(t *testing.T) {
	k1 := Key("same text", "model-a")
	k2 := Key("same text", "model-b")
	if k1 == k2 {
		t.Error("expected different keys for different model IDs")
	}

	k3 := Key("text-a", "model")
	k4 := Key("textb", "model") // deliberately close to k3's concatenation
	if k3 == k4 {
		t.Error("expected different keys for different texts")
	}
}
