// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package security

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_LogRejection_WritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.log")
	l, err := Open(path, 10*1024*1024)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	l.LogRejection(context.Background(), "store_record", "content", "injection", "matched sql pattern")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "validation_rejected") {
		t.Error("expected validation_rejected event")
	}
	if !strings.Contains(out, "store_record") {
		t.Error("expected operation field")
	}
	if !strings.Contains(out, "injection") {
		t.Error("expected kind field")
	}
}

func TestLogger_LogReadOnlyViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.log")
	l, err := Open(path, 10*1024*1024)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	l.LogReadOnlyViolation(context.Background(), "delete_record")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "read_only_violation") {
		t.Error("expected read_only_violation event")
	}
}

func TestLogger_RotatesWhenOverLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.log")

	l, err := Open(path, 200)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 20; i++ {
		l.LogRejection(context.Background(), "store_record", "content", "injection", "repeated entry to exceed rotation threshold")
	}
	l.Close()

	l2, err := Open(path, 200)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated file %s.1 to exist: %v", path, err)
	}
}

func TestHashCredential_EmptyAndDeterministic(t *testing.T) {
	if HashCredential("") != "" {
		t.Error("empty input should hash to empty string")
	}
	a := HashCredential("sk-test-key")
	b := HashCredential("sk-test-key")
	if a != b {
		t.Error("HashCredential should be deterministic")
	}
	if strings.Contains(a, "sk-test-key") {
		t.Error("hash must not contain the plaintext credential")
	}
}
