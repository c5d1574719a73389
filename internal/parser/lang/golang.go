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
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/claude-rag/core/internal/parser"
)

// GoParserOption configures a GoParser.
type GoParserOption func(*GoParser)

// WithGoMaxFileSize overrides the default per-file size ceiling.
func WithGoMaxFileSize(bytes int64) GoParserOption {
	return func(p *GoParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithGoParseOptions overrides the default ParseOptions.
func WithGoParseOptions(opts parser.ParseOptions) GoParserOption {
	return func(p *GoParser) {
		p.opts = opts
	}
}

// GoParser extracts top-level functions, methods, and type declarations
// (struct/interface) from Go source using tree-sitter. Each GoParser call
// creates its own tree-sitter parser instance, so GoParser is safe for
// concurrent use.
type GoParser struct {
	maxFileSize int64
	opts        parser.ParseOptions
}

// NewGoParser returns a GoParser with the given options applied over the
// package defaults.
func NewGoParser(opts ...GoParserOption) *GoParser {
	p := &GoParser{
		maxFileSize: parser.DefaultMaxFileSize,
		opts:        parser.DefaultParseOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GoParser) Language() string     { return "go" }
func (p *GoParser) Extensions() []string { return []string{".go"} }

func (p *GoParser) Parse(ctx context.Context, content []byte, filePath string) (*parser.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", parser.ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w", parser.ErrInvalidContent)
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil, &parser.ParseError{Kind: parser.ParseKindEmptyFile, FilePath: filePath, Err: fmt.Errorf("no content to parse")}
	}

	ts := sitter.NewParser()
	ts.SetLanguage(golang.GetLanguage())
	tree, err := ts.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &parser.ParseError{Kind: parser.ParseKindMalformedSyntax, FilePath: filePath, Err: fmt.Errorf("tree-sitter parse failed: %w", err)}
	}
	defer tree.Close()

	result := &parser.ParseResult{FilePath: filePath, Language: "go"}
	root := tree.RootNode()
	if root == nil {
		result.Errors = append(result.Errors, "tree-sitter returned nil root node")
		return result, nil
	}
	if root.HasError() {
		result.Errors = append(result.Errors, "source contains syntax errors")
	}

	for i := 0; i < int(root.ChildCount()) && len(result.Units) < p.opts.MaxUnitsPerFile; i++ {
		child := root.Child(i)
		switch child.Type() {
		case "function_declaration":
			if u := p.extractFunction(child, content); u != nil {
				result.Units = append(result.Units, *u)
			}
		case "method_declaration":
			if u := p.extractMethod(child, content); u != nil {
				result.Units = append(result.Units, *u)
			}
		case "type_declaration":
			result.Units = append(result.Units, p.extractTypeDecls(child, content)...)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}
	return result, nil
}

func (p *GoParser) extractFunction(node *sitter.Node, content []byte) *parser.Unit {
	name := childText(node, "identifier", content)
	if name == "" {
		return nil
	}
	exported := isExportedGo(name)
	if !p.opts.IncludePrivate && !exported {
		return nil
	}
	return &parser.Unit{
		Name:       name,
		Kind:       parser.UnitKindFunction,
		Signature:  signatureLine(node, content),
		DocComment: precedingDocComment(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   exported,
	}
}

func (p *GoParser) extractMethod(node *sitter.Node, content []byte) *parser.Unit {
	name := childText(node, "field_identifier", content)
	if name == "" {
		return nil
	}
	exported := isExportedGo(name)
	if !p.opts.IncludePrivate && !exported {
		return nil
	}
	receiver := ""
	if recv := node.ChildByFieldName("receiver"); recv != nil {
		receiver = receiverTypeName(recv, content)
	}
	return &parser.Unit{
		Name:       name,
		Kind:       parser.UnitKindMethod,
		ParentName: receiver,
		Signature:  signatureLine(node, content),
		DocComment: precedingDocComment(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   exported,
	}
}

// extractTypeDecls handles `type X struct {...}` / `type Y interface {...}`,
// including grouped `type ( ... )` blocks.
func (p *GoParser) extractTypeDecls(node *sitter.Node, content []byte) []parser.Unit {
	var units []parser.Unit
	walk := func(spec *sitter.Node) {
		name := childText(spec, "type_identifier", content)
		if name == "" {
			return
		}
		exported := isExportedGo(name)
		if !p.opts.IncludePrivate && !exported {
			return
		}
		units = append(units, parser.Unit{
			Name:       name,
			Kind:       parser.UnitKindClass,
			Signature:  firstLine(spec, content),
			DocComment: precedingDocComment(node, content),
			StartLine:  int(spec.StartPoint().Row) + 1,
			EndLine:    int(spec.EndPoint().Row) + 1,
			StartByte:  spec.StartByte(),
			EndByte:    spec.EndByte(),
			Exported:   exported,
		})
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "type_spec", "type_alias":
			walk(child)
		case "type_spec_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				if gc := child.Child(j); gc.Type() == "type_spec" {
					walk(gc)
				}
			}
		}
	}
	return units
}

func childText(node *sitter.Node, kind string, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c.Type() == kind {
			return string(content[c.StartByte():c.EndByte()])
		}
	}
	return ""
}

func receiverTypeName(recv *sitter.Node, content []byte) string {
	for i := 0; i < int(recv.ChildCount()); i++ {
		c := recv.Child(i)
		if c.Type() == "parameter_declaration" {
			t := c.ChildByFieldName("type")
			if t == nil {
				continue
			}
			if t.Type() == "pointer_type" {
				t = t.Child(1)
			}
			if t != nil {
				return string(content[t.StartByte():t.EndByte()])
			}
		}
	}
	return ""
}

func signatureLine(node *sitter.Node, content []byte) string {
	line := firstLine(node, content)
	if idx := strings.Index(line, "{"); idx >= 0 {
		return strings.TrimSpace(line[:idx])
	}
	return strings.TrimSpace(line)
}

func firstLine(node *sitter.Node, content []byte) string {
	full := string(content[node.StartByte():node.EndByte()])
	if idx := strings.IndexByte(full, '\n'); idx >= 0 {
		return full[:idx]
	}
	return full
}

// precedingDocComment collects contiguous `//` comment lines directly above
// node, joined with newlines, matching godoc convention.
func precedingDocComment(node *sitter.Node, content []byte) string {
	prev := node.PrevSibling()
	var lines []string
	for prev != nil && prev.Type() == "comment" {
		text := string(content[prev.StartByte():prev.EndByte()])
		lines = append([]string{strings.TrimPrefix(strings.TrimPrefix(text, "//"), " ")}, lines...)
		prev = prev.PrevSibling()
	}
	return strings.Join(lines, "\n")
}

func isExportedGo(name string) bool {
	if name == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
