// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watcher

import "testing"

func TestOrderBatch_DeletesPrecedeUpsertsRegardlessOfInputOrder(t *testing.T) {
	batch := []FileEvent{
		{Path: "new.go", Operation: OpCreate},
		{Path: "old.go", Operation: OpDelete},
		{Path: "touched.go", Operation: OpModify},
		{Path: "renamed_away.go", Operation: OpRename},
	}

	deletes, upserts := orderBatch(batch)

	if len(deletes) != 2 {
		t.Fatalf("expected 2 deletes, got %d: %+v", len(deletes), deletes)
	}
	if len(upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d: %+v", len(upserts), upserts)
	}
	for _, ev := range deletes {
		if ev.Operation != OpDelete && ev.Operation != OpRename {
			t.Errorf("non-delete event %+v ended up in deletes", ev)
		}
	}
	for _, ev := range upserts {
		if ev.Operation != OpCreate && ev.Operation != OpModify {
			t.Errorf("non-upsert event %+v ended up in upserts", ev)
		}
	}
}

func TestOrderBatch_DirectoryEventsAreIgnored(t *testing.T) {
	batch := []FileEvent{
		{Path: "subdir", Operation: OpCreate, IsDir: true},
		{Path: "file.go", Operation: OpCreate, IsDir: false},
	}
	deletes, upserts := orderBatch(batch)
	if len(deletes) != 0 {
		t.Errorf("expected no deletes, got %+v", deletes)
	}
	if len(upserts) != 1 || upserts[0].Path != "file.go" {
		t.Errorf("expected only file.go in upserts, got %+v", upserts)
	}
}

func TestOperation_StringLabels(t *testing.T) {
	cases := map[Operation]string{
		OpCreate: "CREATE",
		OpModify: "MODIFY",
		OpDelete: "DELETE",
		OpRename: "RENAME",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("Operation(%d).String() = %q, want %q", int(op), got, want)
		}
	}
}

func TestOptions_WithDefaultsFillsZeroValues(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.DebounceWindow == 0 {
		t.Error("expected non-zero default debounce window")
	}
	if opts.EventBufferSize == 0 {
		t.Error("expected non-zero default event buffer size")
	}
}
