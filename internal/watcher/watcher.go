// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher implements the file watcher: an fsnotify-based
// subscription to create/modify/delete/rename events under a directory
// subtree, coalesced through a debounce buffer and handed off to the
// indexer in batches.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claude-rag/core/internal/indexer"
)

// Operation represents a file system operation type.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a single filesystem change, relative to the
// watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures watcher behavior. Zero values fall back to
// DefaultOptions.
type Options struct {
	// DebounceWindow is how long to wait before emitting a coalesced
	// batch. Default: 1000ms.
	DebounceWindow time.Duration
	// EventBufferSize is the capacity of the batch output channel.
	EventBufferSize int
	// IgnorePatterns are substrings of a relative path that, when
	// present, exclude it from watching (in addition to the .git
	// directory, which is always excluded).
	IgnorePatterns []string
}

func DefaultOptions() Options {
	return Options{
		DebounceWindow:  1000 * time.Millisecond,
		EventBufferSize: 64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// Watcher watches a directory subtree and emits debounced batches of
// FileEvents on Events().
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *debouncer

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}

	rootPath string
	opts     Options

	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// New creates a Watcher using the given options.
func New(opts Options) (*Watcher, error) {
	opts = opts.withDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		debouncer: newDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start begins watching root recursively. It blocks until the context is
// cancelled or Stop is called; on cancellation it drains the debouncer's
// current flush before returning, so no pending batch is lost.
func (w *Watcher) Start(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("watcher: resolve root: %w", err)
	}
	w.rootPath = absRoot

	if err := w.addRecursive(absRoot); err != nil {
		return fmt.Errorf("watcher: add directories: %w", err)
	}

	go w.forwardDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			w.drainAndStop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			return w.fsWatcher.Add(path)
		}
		if w.shouldIgnore(rel) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) shouldIgnore(relPath string) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if strings.HasPrefix(relPath, ".git"+string(filepath.Separator)) || relPath == ".git" {
		return true
	}
	for _, p := range w.opts.IgnorePatterns {
		if strings.Contains(relPath, p) {
			return true
		}
	}
	return false
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.rootPath, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if w.shouldIgnore(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = w.fsWatcher.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	w.debouncer.add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

func (w *Watcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			w.emitBatch(batch)
		}
	}
}

func (w *Watcher) emitBatch(batch []FileEvent) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		w.droppedBatches.Add(1)
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// drainAndStop flushes any pending debounce window immediately, emits the
// resulting batch (if any) directly, then stops. Flushing and emitting
// here rather than relying on the forwardDebounced goroutine avoids a
// race between the final flush and Stop closing the output channels.
func (w *Watcher) drainAndStop() {
	if final := w.debouncer.flushNow(); len(final) > 0 {
		w.emitBatch(final)
	}
	_ = w.Stop()
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.stop()
	_ = w.fsWatcher.Close()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// DroppedBatches returns how many batches were dropped because Events()
// wasn't drained fast enough.
func (w *Watcher) DroppedBatches() uint64 { return w.droppedBatches.Load() }

// ApplyBatch applies one debounced batch to ix, honoring the ordering
// rule that every delete/rename-away in the batch is applied before any
// create/modify, so a rename (seen as a delete of the old path plus a
// create of the new one) never transiently upserts before its own
// delete lands.
func ApplyBatch(ctx context.Context, ix *indexer.Indexer, projectName, rootDir string, batch []FileEvent) error {
	deletes, upserts := orderBatch(batch)

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, ev := range deletes {
		note(ix.RemoveFile(ctx, projectName, filepath.Join(rootDir, ev.Path)))
	}
	for _, ev := range upserts {
		abs := filepath.Join(rootDir, ev.Path)
		if _, err := os.Stat(abs); err != nil {
			// File vanished again before the flush ran (e.g. a quick
			// create+delete within the debounce window); nothing to index.
			continue
		}
		if _, _, err := ix.IndexFile(ctx, projectName, abs); err != nil {
			note(err)
		}
	}
	return firstErr
}

// orderBatch splits batch into its delete/rename-away events and its
// create/modify events, preserving the rule that deletes always precede
// upserts regardless of the order events arrived in.
func orderBatch(batch []FileEvent) (deletes, upserts []FileEvent) {
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		switch ev.Operation {
		case OpDelete, OpRename:
			deletes = append(deletes, ev)
		case OpCreate, OpModify:
			upserts = append(upserts, ev)
		}
	}
	return deletes, upserts
}
