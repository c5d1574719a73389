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
	"github.com/smacker/go-tree-sitter/python"

	"github.com/claude-rag/core/internal/parser"
)

// PythonParserOption configures a PythonParser.
type PythonParserOption func(*PythonParser)

// WithPythonMaxFileSize overrides the default per-file size ceiling.
func WithPythonMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithPythonParseOptions overrides the default ParseOptions.
func WithPythonParseOptions(opts parser.ParseOptions) PythonParserOption {
	return func(p *PythonParser) {
		p.opts = opts
	}
}

// PythonParser extracts functions, classes, and methods from Python source
// using tree-sitter. Each call to Parse creates its own tree-sitter parser
// instance internally, so PythonParser is safe for concurrent use.
type PythonParser struct {
	maxFileSize int64
	opts        parser.ParseOptions
}

// NewPythonParser returns a PythonParser with the given options applied
// over the package defaults.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{
		maxFileSize: parser.DefaultMaxFileSize,
		opts:        parser.DefaultParseOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PythonParser) Language() string     { return "python" }
func (p *PythonParser) Extensions() []string { return []string{".py", ".pyi"} }

func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*parser.ParseResult, error) {
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
	ts.SetLanguage(python.GetLanguage())
	tree, err := ts.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &parser.ParseError{Kind: parser.ParseKindMalformedSyntax, FilePath: filePath, Err: fmt.Errorf("tree-sitter parse failed: %w", err)}
	}
	defer tree.Close()

	result := &parser.ParseResult{FilePath: filePath, Language: "python"}
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
		case "function_definition":
			if u := p.extractFunction(child, content, ""); u != nil {
				result.Units = append(result.Units, *u)
			}
		case "class_definition":
			result.Units = append(result.Units, p.extractClass(child, content)...)
		case "decorated_definition":
			result.Units = append(result.Units, p.extractDecorated(child, content)...)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}
	return result, nil
}

func (p *PythonParser) extractDecorated(node *sitter.Node, content []byte) []parser.Unit {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_definition":
			if u := p.extractFunction(child, content, ""); u != nil {
				return []parser.Unit{*u}
			}
		case "class_definition":
			return p.extractClass(child, content)
		}
	}
	return nil
}

func (p *PythonParser) extractClass(node *sitter.Node, content []byte) []parser.Unit {
	name := childTextPy(node, "identifier", content)
	if name == "" {
		return nil
	}
	exported := isExportedPy(name)
	if !p.opts.IncludePrivate && !exported {
		return nil
	}
	units := []parser.Unit{{
		Name:       name,
		Kind:       parser.UnitKindClass,
		Signature:  firstLinePy(node, content),
		DocComment: classDocstring(node, content),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   exported,
	}}

	var body *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c.Type() == "block" {
			body = c
			break
		}
	}
	if body == nil {
		return units
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		var fn *sitter.Node
		switch child.Type() {
		case "function_definition":
			fn = child
		case "decorated_definition":
			for j := 0; j < int(child.ChildCount()); j++ {
				if gc := child.Child(j); gc.Type() == "function_definition" {
					fn = gc
					break
				}
			}
		}
		if fn == nil {
			continue
		}
		if u := p.extractFunction(fn, content, name); u != nil {
			units = append(units, *u)
		}
	}
	return units
}

func (p *PythonParser) extractFunction(node *sitter.Node, content []byte, className string) *parser.Unit {
	name := childTextPy(node, "identifier", content)
	if name == "" {
		return nil
	}
	exported := isExportedPy(name)
	if !p.opts.IncludePrivate && !exported {
		return nil
	}
	kind := parser.UnitKindFunction
	if className != "" {
		kind = parser.UnitKindMethod
	}
	var body *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c.Type() == "block" {
			body = c
			break
		}
	}
	doc := ""
	if body != nil {
		doc = blockDocstring(body, content)
	}
	return &parser.Unit{
		Name:       name,
		Kind:       kind,
		ParentName: className,
		Signature:  firstLinePy(node, content),
		DocComment: doc,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		StartByte:  node.StartByte(),
		EndByte:    node.EndByte(),
		Exported:   exported,
	}
}

func classDocstring(classNode *sitter.Node, content []byte) string {
	for i := 0; i < int(classNode.ChildCount()); i++ {
		if c := classNode.Child(i); c.Type() == "block" {
			return blockDocstring(c, content)
		}
	}
	return ""
}

func blockDocstring(block *sitter.Node, content []byte) string {
	if block.ChildCount() == 0 {
		return ""
	}
	first := block.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str.Type() != "string" {
		return ""
	}
	raw := string(content[str.StartByte():str.EndByte()])
	raw = strings.TrimPrefix(raw, `"""`)
	raw = strings.TrimSuffix(raw, `"""`)
	raw = strings.TrimPrefix(raw, `'''`)
	raw = strings.TrimSuffix(raw, `'''`)
	return strings.TrimSpace(strings.Trim(raw, `"'`))
}

func childTextPy(node *sitter.Node, kind string, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c.Type() == kind {
			return string(content[c.StartByte():c.EndByte()])
		}
	}
	return ""
}

func firstLinePy(node *sitter.Node, content []byte) string {
	full := string(content[node.StartByte():node.EndByte()])
	if idx := strings.IndexByte(full, '\n'); idx >= 0 {
		return strings.TrimSpace(strings.TrimSuffix(full[:idx], ":"))
	}
	return strings.TrimSpace(strings.TrimSuffix(full, ":"))
}

// isExportedPy follows Python convention: a leading underscore marks a name
// as non-public, dunder names are public.
func isExportedPy(name string) bool {
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return true
	}
	return !strings.HasPrefix(name, "_")
}
