// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/claude-rag/core/internal/parser"
)

type stubParser struct {
	lang string
	exts []string
}

func (s *stubParser) Language() string     { return s.lang }
func (s *stubParser) Extensions() []string { return s.exts }
func (s *stubParser) Parse(ctx context.Context, content []byte, filePath string) (*parser.ParseResult, error) {
	return &parser.ParseResult{FilePath: filePath, Language: s.lang}, nil
}

func TestRegistry_ParserFor_KnownAndUnknownExtension(t *testing.T) {
	r := parser.NewRegistry()
	r.Register(&stubParser{lang: "go", exts: []string{".go"}})

	p, err := r.ParserFor("main.go")
	if err != nil {
		t.Fatalf("unexpected error for known extension: %v", err)
	}
	if p.Language() != "go" {
		t.Errorf("ParserFor returned wrong parser: %s", p.Language())
	}

	_, err = r.ParserFor("main.rb")
	if !errors.Is(err, parser.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestRegistry_Parse_DelegatesToRegisteredParser(t *testing.T) {
	r := parser.NewRegistry()
	r.Register(&stubParser{lang: "go", exts: []string{".go"}})

	result, err := r.Parse(context.Background(), []byte("package main"), "main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Language != "go" {
		t.Errorf("result.Language = %q, want go", result.Language)
	}
}

func TestRegistry_SupportsFile(t *testing.T) {
	r := parser.NewRegistry()
	r.Register(&stubParser{lang: "python", exts: []string{".py"}})

	if !r.SupportsFile("app.py") {
		t.Error("expected app.py to be supported")
	}
	if r.SupportsFile("app.rb") {
		t.Error("expected app.rb to be unsupported")
	}
}

func TestRegistry_Register_CaseInsensitiveExtension(t *testing.T) {
	r := parser.NewRegistry()
	r.Register(&stubParser{lang: "go", exts: []string{".GO"}})
	if !r.SupportsFile("MAIN.GO") {
		t.Error("expected case-insensitive extension match")
	}
}
