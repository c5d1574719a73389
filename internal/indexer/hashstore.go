// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"errors"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// hashStore persists the `(project, file_path) → file_hash` table
// needed for incremental re-indexing, in the same BadgerDB idiom
// internal/embedcache uses rather than the teacher pack's JSON sidecar
// (other_examples/sxueck-codebase's loadFileHashes/saveFileHashes) — a
// single embedded KV store already lives in this process, so the hash
// table rides on it instead of introducing a second persistence format.
type hashStore struct {
	db *dgbadger.DB
}

func openHashStore(dir string) (*hashStore, error) {
	db, err := dgbadger.Open(dgbadger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("indexer: open hash store at %s: %w", dir, err)
	}
	return &hashStore{db: db}, nil
}

func (h *hashStore) Close() error { return h.db.Close() }

func hashKey(project, path string) []byte {
	return []byte("filehash/v1/" + project + "\x00" + path)
}

// get returns the previously recorded hash for (project, path), or
// ("", false) if this file has never been indexed for this project.
func (h *hashStore) get(project, path string) (string, bool) {
	var hash string
	err := h.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(hashKey(project, path))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	if err != nil || hash == "" {
		return "", false
	}
	return hash, true
}

func (h *hashStore) set(project, path, hash string) error {
	return h.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set(hashKey(project, path), []byte(hash))
	})
}

func (h *hashStore) delete(project, path string) error {
	return h.db.Update(func(txn *dgbadger.Txn) error {
		err := txn.Delete(hashKey(project, path))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// listPaths returns every file path this project has a recorded hash for,
// used to detect files removed from disk between indexing runs.
func (h *hashStore) listPaths(project string) ([]string, error) {
	prefix := []byte("filehash/v1/" + project + "\x00")
	var paths []string
	err := h.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			paths = append(paths, string(key[len(prefix):]))
		}
		return nil
	})
	return paths, err
}
