// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lang provides the concrete tree-sitter-backed parsers for each
// supported source language.
package lang

import "github.com/claude-rag/core/internal/parser"

// NewDefaultRegistry returns a parser.Registry with one parser registered
// per supported language, each built with its package defaults.
func NewDefaultRegistry() *parser.Registry {
	r := parser.NewRegistry()
	r.Register(NewGoParser())
	r.Register(NewPythonParser())
	r.Register(NewJavaScriptParser())
	r.Register(NewTypeScriptParser())
	r.Register(NewJavaParser())
	r.Register(NewRustParser())
	return r
}
