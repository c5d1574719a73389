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
	"testing"

	"github.com/claude-rag/core/internal/parser"
)

const rustTestSource = `/// A widget that can be rendered.
pub struct Widget {
    name: String,
}

impl Widget {
    /// Creates a new widget.
    pub fn new(name: String) -> Widget {
        Widget { name }
    }

    pub fn render(&self) -> String {
        self.name.clone()
    }

    fn private_helper(&self) -> bool {
        true
    }
}

pub trait Renderer {
    fn render(&self) -> String;
}

fn free_function() -> i32 {
    1
}
`

func TestRustParser_Parse_ExtractsUnits(t *testing.T) {
	p := NewRustParser()
	result, err := p.Parse(context.Background(), []byte(rustTestSource), "widget.rs")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	var widget, newFn, render, renderer *parser.Unit
	for i := range result.Units {
		u := &result.Units[i]
		switch u.Name {
		case "Widget":
			widget = u
		case "new":
			newFn = u
		case "render":
			if u.ParentName == "Widget" {
				render = u
			}
		case "Renderer":
			renderer = u
		}
	}

	if widget == nil {
		t.Fatal("expected Widget struct unit")
	}
	if widget.Kind != parser.UnitKindClass {
		t.Errorf("Widget.Kind = %v, want UnitKindClass", widget.Kind)
	}
	if widget.DocComment != "A widget that can be rendered." {
		t.Errorf("unexpected Widget doc comment: %q", widget.DocComment)
	}

	if newFn == nil {
		t.Fatal("expected new method unit attributed to Widget impl block")
	}
	if newFn.ParentName != "Widget" {
		t.Errorf("new.ParentName = %q, want Widget", newFn.ParentName)
	}

	if render == nil {
		t.Fatal("expected render method attributed to Widget")
	}
	if !render.Exported {
		t.Error("pub render should be exported")
	}

	if renderer == nil {
		t.Error("expected Renderer trait unit")
	}
}

func TestRustParser_Parse_ExcludesPrivateByDefaultConfig(t *testing.T) {
	opts := parser.DefaultParseOptions()
	opts.IncludePrivate = false
	p := NewRustParser(WithRustParseOptions(opts))
	result, err := p.Parse(context.Background(), []byte(rustTestSource), "widget.rs")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	for _, u := range result.Units {
		if u.Name == "private_helper" {
			t.Error("private_helper should be excluded when IncludePrivate is false")
		}
	}
}

func TestRustParser_Extensions(t *testing.T) {
	p := NewRustParser()
	exts := p.Extensions()
	if len(exts) != 1 || exts[0] != ".rs" {
		t.Errorf("unexpected extensions: %v", exts)
	}
}
