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
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/claude-rag/core/internal/parser"
)

// TypeScriptParserOption configures a TypeScriptParser.
type TypeScriptParserOption func(*TypeScriptParser)

// WithTypeScriptMaxFileSize overrides the default per-file size ceiling.
func WithTypeScriptMaxFileSize(bytes int64) TypeScriptParserOption {
	return func(p *TypeScriptParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithTypeScriptParseOptions overrides the default ParseOptions.
func WithTypeScriptParseOptions(opts parser.ParseOptions) TypeScriptParserOption {
	return func(p *TypeScriptParser) {
		p.opts = opts
	}
}

// TypeScriptParser extracts functions, classes, interfaces, and methods
// from TypeScript/TSX source. It selects the TSX grammar for .tsx files and
// the plain TypeScript grammar otherwise, since the two grammars disagree
// on how to lex `<Foo>` (JSX element vs. type assertion).
type TypeScriptParser struct {
	maxFileSize int64
	opts        parser.ParseOptions
}

// NewTypeScriptParser returns a TypeScriptParser with the given options
// applied over the package defaults.
func NewTypeScriptParser(opts ...TypeScriptParserOption) *TypeScriptParser {
	p := &TypeScriptParser{
		maxFileSize: parser.DefaultMaxFileSize,
		opts:        parser.DefaultParseOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TypeScriptParser) Language() string     { return "typescript" }
func (p *TypeScriptParser) Extensions() []string { return []string{".ts", ".tsx", ".mts", ".cts"} }

func (p *TypeScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*parser.ParseResult, error) {
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
	if strings.HasSuffix(filePath, ".tsx") {
		ts.SetLanguage(tsx.GetLanguage())
	} else {
		ts.SetLanguage(typescript.GetLanguage())
	}
	tree, err := ts.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &parser.ParseError{Kind: parser.ParseKindMalformedSyntax, FilePath: filePath, Err: fmt.Errorf("tree-sitter parse failed: %w", err)}
	}
	defer tree.Close()

	result := &parser.ParseResult{FilePath: filePath, Language: "typescript"}
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
		node := child
		if node.Type() == "export_statement" {
			if decl := node.ChildByFieldName("declaration"); decl != nil {
				node = decl
			} else {
				continue
			}
		}
		switch node.Type() {
		case "function_declaration", "generator_function_declaration":
			if u := p.extractFunction(node, content, ""); u != nil {
				result.Units = append(result.Units, *u)
			}
		case "class_declaration", "abstract_class_declaration":
			result.Units = append(result.Units, p.extractClass(node, content)...)
		case "interface_declaration":
			if u := p.extractInterface(node, content); u != nil {
				result.Units = append(result.Units, *u)
			}
		case "lexical_declaration", "variable_declaration":
			result.Units = append(result.Units, p.extractArrowAssignments(node, content)...)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}
	return result, nil
}

func (p *TypeScriptParser) extractArrowAssignments(node *sitter.Node, content []byte) []parser.Unit {
	var units []parser.Unit
	for i := 0; i < int(node.ChildCount()); i++ {
		decl := node.Child(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		name := decl.ChildByFieldName("name")
		value := decl.ChildByFieldName("value")
		if name == nil || value == nil || name.Type() != "identifier" {
			continue
		}
		if value.Type() != "arrow_function" && value.Type() != "function_expression" {
			continue
		}
		units = append(units, parser.Unit{
			Name:       string(content[name.StartByte():name.EndByte()]),
			Kind:       parser.UnitKindFunction,
			Signature:  firstLineTS(node, content),
			DocComment: precedingCommentTS(node, content),
			StartLine:  int(node.StartPoint().Row) + 1,
			EndLine:    int(node.EndPoint().Row) + 1,
			StartByte:  node.StartByte(),
			EndByte:    node.EndByte(),
			Exported:   true,
		})
	}
	return units
}

func (p *TypeScriptParser) extractFunction(node *sitter.Node, content []byte, className string) *parser.Unit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	kind := parser.UnitKindFunction
	if className != "" {
		kind = parser.UnitKindMethod
	}
	return &parser.Unit{
		Name:       string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:       kind,
		ParentName: className,
		Signature:  firstLineTS(node, content),
		DocComment: precedingCommentTS(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   true,
	}
}

func (p *TypeScriptParser) extractClass(node *sitter.Node, content []byte) []parser.Unit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])
	units := []parser.Unit{{
		Name:       name,
		Kind:       parser.UnitKindClass,
		Signature:  firstLineTS(node, content),
		DocComment: precedingCommentTS(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   true,
	}}

	body := node.ChildByFieldName("body")
	if body == nil {
		return units
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		if member.Type() != "method_definition" {
			continue
		}
		if u := p.extractFunction(member, content, name); u != nil {
			units = append(units, *u)
		}
	}
	return units
}

func (p *TypeScriptParser) extractInterface(node *sitter.Node, content []byte) *parser.Unit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	return &parser.Unit{
		Name:       string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:       parser.UnitKindClass,
		Signature:  firstLineTS(node, content),
		DocComment: precedingCommentTS(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   true,
	}
}

func firstLineTS(node *sitter.Node, content []byte) string {
	full := string(content[node.StartByte():node.EndByte()])
	if idx := strings.IndexByte(full, '\n'); idx >= 0 {
		full = full[:idx]
	}
	if idx := strings.Index(full, "{"); idx >= 0 {
		full = full[:idx]
	}
	return strings.TrimSpace(full)
}

func precedingCommentTS(node *sitter.Node, content []byte) string {
	prev := node.PrevSibling()
	if prev == nil && node.Parent() != nil {
		prev = node.Parent().PrevSibling()
	}
	var lines []string
	for prev != nil && prev.Type() == "comment" {
		text := string(content[prev.StartByte():prev.EndByte()])
		text = strings.TrimPrefix(text, "//")
		text = strings.TrimPrefix(text, "/*")
		text = strings.TrimSuffix(text, "*/")
		lines = append([]string{strings.TrimSpace(text)}, lines...)
		prev = prev.PrevSibling()
	}
	return strings.Join(lines, "\n")
}
