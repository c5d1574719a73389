// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lang

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/claude-rag/core/internal/parser"
)

// rustFnPattern matches a top-level or impl-block function signature line.
// Generic bounds and multi-line parameter lists are not captured in full;
// only the name and the first line of the signature are extracted, since
// this extractor trades completeness for not needing a Rust grammar.
var (
	rustFnPattern     = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rustStructPattern = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rustEnumPattern   = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?enum\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rustTraitPattern  = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?trait\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rustImplPattern   = regexp.MustCompile(`^\s*impl(?:<[^>]*>)?\s+(?:[A-Za-z_][A-Za-z0-9_:]*\s+for\s+)?([A-Za-z_][A-Za-z0-9_]*)`)
)

// RustParserOption configures a RustParser.
type RustParserOption func(*RustParser)

// WithRustMaxFileSize overrides the default per-file size ceiling.
func WithRustMaxFileSize(bytes int64) RustParserOption {
	return func(p *RustParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithRustParseOptions overrides the default ParseOptions.
func WithRustParseOptions(opts parser.ParseOptions) RustParserOption {
	return func(p *RustParser) {
		p.opts = opts
	}
}

// RustParser extracts functions, structs, enums, and traits from Rust
// source by scanning declaration lines with regular expressions rather
// than a full grammar. A function found while inside an `impl Target`
// block (tracked by brace depth) is attributed to Target as a method;
// nested impls are not distinguished, so attribution is approximate for
// deeply nested code.
type RustParser struct {
	maxFileSize int64
	opts        parser.ParseOptions
}

// NewRustParser returns a RustParser with the given options applied over
// the package defaults.
func NewRustParser(opts ...RustParserOption) *RustParser {
	p := &RustParser{
		maxFileSize: parser.DefaultMaxFileSize,
		opts:        parser.DefaultParseOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RustParser) Language() string     { return "rust" }
func (p *RustParser) Extensions() []string { return []string{".rs"} }

// implFrame tracks one open brace belonging to an `impl Target { ... }`
// block, so fn declarations nested inside it can be attributed to Target.
type implFrame struct {
	depthAtOpen int
	target      string
}

func (p *RustParser) Parse(ctx context.Context, content []byte, filePath string) (*parser.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", parser.ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w", parser.ErrInvalidContent)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, &parser.ParseError{Kind: parser.ParseKindEmptyFile, FilePath: filePath, Err: fmt.Errorf("no content to parse")}
	}

	result := &parser.ParseResult{FilePath: filePath, Language: "rust"}
	var implStack []implFrame
	var docBuf []string
	depth := 0
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(result.Units) >= p.opts.MaxUnitsPerFile {
			break
		}
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "///") || strings.HasPrefix(trimmed, "//!") {
			docBuf = append(docBuf, strings.TrimSpace(strings.TrimLeft(trimmed, "/!")))
			continue
		}

		enclosing := ""
		if len(implStack) > 0 {
			enclosing = implStack[len(implStack)-1].target
		}

		switch {
		case rustFnPattern.MatchString(line):
			name := rustFnPattern.FindStringSubmatch(line)[1]
			pub := strings.Contains(trimmed, "pub")
			if pub || p.opts.IncludePrivate {
				kind := parser.UnitKindFunction
				if enclosing != "" {
					kind = parser.UnitKindMethod
				}
				result.Units = append(result.Units, parser.Unit{
					Name:       name,
					Kind:       kind,
					ParentName: enclosing,
					Signature:  strings.TrimSpace(strings.TrimSuffix(trimmed, "{")),
					DocComment: strings.Join(docBuf, "\n"),
					StartLine:  lineNo,
					EndLine:    lineNo,
					Exported:   pub,
				})
			}
		case rustStructPattern.MatchString(line):
			p.emitType(result, rustStructPattern, trimmed, lineNo, docBuf)
		case rustEnumPattern.MatchString(line):
			p.emitType(result, rustEnumPattern, trimmed, lineNo, docBuf)
		case rustTraitPattern.MatchString(line):
			p.emitType(result, rustTraitPattern, trimmed, lineNo, docBuf)
		case rustImplPattern.MatchString(line):
			target := rustImplPattern.FindStringSubmatch(line)[1]
			implStack = append(implStack, implFrame{depthAtOpen: depth, target: target})
		}

		if !strings.HasPrefix(trimmed, "///") && !strings.HasPrefix(trimmed, "//!") {
			docBuf = nil
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		for len(implStack) > 0 && depth <= implStack[len(implStack)-1].depthAtOpen {
			implStack = implStack[:len(implStack)-1]
		}
	}
	if err := scanner.Err(); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("scan error: %v", err))
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}
	return result, nil
}

func (p *RustParser) emitType(result *parser.ParseResult, re *regexp.Regexp, trimmed string, lineNo int, docBuf []string) {
	name := re.FindStringSubmatch(trimmed)[1]
	pub := strings.Contains(trimmed, "pub")
	if !pub && !p.opts.IncludePrivate {
		return
	}
	result.Units = append(result.Units, parser.Unit{
		Name:       name,
		Kind:       parser.UnitKindClass,
		Signature:  strings.TrimSpace(strings.TrimSuffix(trimmed, "{")),
		DocComment: strings.Join(docBuf, "\n"),
		StartLine:  lineNo,
		EndLine:    lineNo,
		Exported:   pub,
	})
}
