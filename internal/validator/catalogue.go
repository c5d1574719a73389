// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validator

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var patternsYAML []byte

// patternCatalogue is the compiled form of patterns.yaml: one compiled
// regexp slice per injection family. Loaded once at package init, matching
// the teacher's policy_engine pattern of storing regex families in a YAML
// document rather than Go literals so forks can extend the catalogue
// without touching code.
type patternCatalogue struct {
	SQL     []*regexp.Regexp
	Prompt  []*regexp.Regexp
	Command []*regexp.Regexp
	Path    []*regexp.Regexp
}

type rawCatalogue struct {
	SQL     []string `yaml:"sql"`
	Prompt  []string `yaml:"prompt"`
	Command []string `yaml:"command"`
	Path    []string `yaml:"path_traversal"`
}

var defaultCatalogue *patternCatalogue

func init() {
	c, err := loadCatalogue(patternsYAML)
	if err != nil {
		// The catalogue is embedded and checked in; a parse failure here
		// is a build-time defect, not a runtime condition.
		panic(fmt.Sprintf("validator: embedded pattern catalogue is invalid: %v", err))
	}
	defaultCatalogue = c
}

func loadCatalogue(data []byte) (*patternCatalogue, error) {
	var raw rawCatalogue
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pattern catalogue: %w", err)
	}
	c := &patternCatalogue{}
	var err error
	if c.SQL, err = compileAll(raw.SQL); err != nil {
		return nil, fmt.Errorf("sql patterns: %w", err)
	}
	if c.Prompt, err = compileAll(raw.Prompt); err != nil {
		return nil, fmt.Errorf("prompt patterns: %w", err)
	}
	if c.Command, err = compileAll(raw.Command); err != nil {
		return nil, fmt.Errorf("command patterns: %w", err)
	}
	if c.Path, err = compileAll(raw.Path); err != nil {
		return nil, fmt.Errorf("path patterns: %w", err)
	}
	return c, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// matchFamily returns the first matching pattern's source, or "" if none
// of the family's patterns match s.
func matchFamily(family []*regexp.Regexp, s string) string {
	for _, re := range family {
		if re.MatchString(s) {
			return re.String()
		}
	}
	return ""
}
