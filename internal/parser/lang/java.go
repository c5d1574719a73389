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
	"github.com/smacker/go-tree-sitter/java"

	"github.com/claude-rag/core/internal/parser"
)

// JavaParserOption configures a JavaParser.
type JavaParserOption func(*JavaParser)

// WithJavaMaxFileSize overrides the default per-file size ceiling.
func WithJavaMaxFileSize(bytes int64) JavaParserOption {
	return func(p *JavaParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithJavaParseOptions overrides the default ParseOptions.
func WithJavaParseOptions(opts parser.ParseOptions) JavaParserOption {
	return func(p *JavaParser) {
		p.opts = opts
	}
}

// JavaParser extracts classes, interfaces, and methods from Java source
// using tree-sitter.
type JavaParser struct {
	maxFileSize int64
	opts        parser.ParseOptions
}

// NewJavaParser returns a JavaParser with the given options applied over
// the package defaults.
func NewJavaParser(opts ...JavaParserOption) *JavaParser {
	p := &JavaParser{
		maxFileSize: parser.DefaultMaxFileSize,
		opts:        parser.DefaultParseOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *JavaParser) Language() string     { return "java" }
func (p *JavaParser) Extensions() []string { return []string{".java"} }

func (p *JavaParser) Parse(ctx context.Context, content []byte, filePath string) (*parser.ParseResult, error) {
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
	ts.SetLanguage(java.GetLanguage())
	tree, err := ts.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &parser.ParseError{Kind: parser.ParseKindMalformedSyntax, FilePath: filePath, Err: fmt.Errorf("tree-sitter parse failed: %w", err)}
	}
	defer tree.Close()

	result := &parser.ParseResult{FilePath: filePath, Language: "java"}
	root := tree.RootNode()
	if root == nil {
		result.Errors = append(result.Errors, "tree-sitter returned nil root node")
		return result, nil
	}
	if root.HasError() {
		result.Errors = append(result.Errors, "source contains syntax errors")
	}

	p.walkForTypes(root, content, result)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}
	return result, nil
}

// walkForTypes recurses into the tree looking for class/interface bodies,
// since Java nests them inside package/import preamble and sometimes inside
// other classes.
func (p *JavaParser) walkForTypes(node *sitter.Node, content []byte, result *parser.ParseResult) {
	for i := 0; i < int(node.ChildCount()); i++ {
		if len(result.Units) >= p.opts.MaxUnitsPerFile {
			return
		}
		child := node.Child(i)
		switch child.Type() {
		case "class_declaration", "interface_declaration", "enum_declaration":
			result.Units = append(result.Units, p.extractType(child, content)...)
		default:
			p.walkForTypes(child, content, result)
		}
	}
}

func (p *JavaParser) extractType(node *sitter.Node, content []byte) []parser.Unit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])
	exported := isExportedJava(node, content)
	if !p.opts.IncludePrivate && !exported {
		return nil
	}
	units := []parser.Unit{{
		Name:       name,
		Kind:       parser.UnitKindClass,
		Signature:  signatureLineJava(node, content),
		DocComment: precedingDocCommentJava(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   exported,
	}}

	body := node.ChildByFieldName("body")
	if body == nil {
		return units
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		switch member.Type() {
		case "method_declaration", "constructor_declaration":
			if u := p.extractMethod(member, content, name); u != nil {
				units = append(units, *u)
			}
		case "class_declaration", "interface_declaration", "enum_declaration":
			units = append(units, p.extractType(member, content)...)
		}
	}
	return units
}

func (p *JavaParser) extractMethod(node *sitter.Node, content []byte, className string) *parser.Unit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])
	exported := isExportedJava(node, content)
	if !p.opts.IncludePrivate && !exported {
		return nil
	}
	return &parser.Unit{
		Name:       name,
		Kind:       parser.UnitKindMethod,
		ParentName: className,
		Signature:  signatureLineJava(node, content),
		DocComment: precedingDocCommentJava(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   exported,
	}
}

// isExportedJava treats a declaration as exported unless it carries an
// explicit `private` modifier, matching Java's package-private-by-default
// but mostly-public-in-practice convention closely enough for ranking
// purposes.
func isExportedJava(node *sitter.Node, content []byte) bool {
	mods := node.ChildByFieldName("modifiers")
	if mods == nil {
		return true
	}
	text := string(content[mods.StartByte():mods.EndByte()])
	return !strings.Contains(text, "private")
}

func signatureLineJava(node *sitter.Node, content []byte) string {
	full := string(content[node.StartByte():node.EndByte()])
	if idx := strings.Index(full, "{"); idx >= 0 {
		full = full[:idx]
	}
	return strings.Join(strings.Fields(full), " ")
}

func precedingDocCommentJava(node *sitter.Node, content []byte) string {
	prev := node.PrevSibling()
	if prev != nil && prev.Type() == "comment" {
		text := string(content[prev.StartByte():prev.EndByte()])
		text = strings.TrimPrefix(text, "/**")
		text = strings.TrimPrefix(text, "/*")
		text = strings.TrimSuffix(text, "*/")
		var lines []string
		for _, line := range strings.Split(text, "\n") {
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*")))
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return ""
}
