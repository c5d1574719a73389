// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validator implements the pure, synchronous sanitization and
// injection-pattern rejection required of every externally supplied
// string and filter dictionary. It performs no I/O and no logging — the
// facade decides whether and how to log a rejection.
package validator

import (
	"fmt"
	"strings"
	"time"

	gpvalidator "github.com/go-playground/validator/v10"
)

// Kind enumerates the failure classes a ValidationError can carry.
type Kind string

const (
	KindSize      Kind = "size"
	KindCharset   Kind = "charset"
	KindInjection Kind = "injection"
	KindField     Kind = "field"
	KindType      Kind = "type"
)

// ValidationError is the single typed error surfaced by this package.
// Detail never echoes the offending injection candidate verbatim;
// callers that need to log it MUST use Redacted(), not the raw input.
type ValidationError struct {
	Kind   Kind
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: field=%s kind=%s: %s", e.Field, e.Kind, e.Detail)
}

func newErr(kind Kind, field, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Detail: detail}
}

// structValidate is a go-playground validator instance for declarative
// tag-based checks (enum membership, numeric ranges). No function in this
// package calls it; every check here is made by the hand-written scanners
// and coercions below.
var structValidate = gpvalidator.New()

// AllowedFilterKeys is the payload-index allowlist. Any filter key not
// in this set is rejected before it ever reaches a query.
var AllowedFilterKeys = map[string]struct{}{
	"category":       {},
	"context_level":  {},
	"scope":          {},
	"project_name":   {},
	"tags":           {},
	"min_importance": {},
	"max_importance": {},
	"date_from":      {},
	"date_to":        {},
	"language":       {},
	"file_pattern":   {},
	"unit_type":      {},
}

// controlCharAllowed returns true for bytes permitted inside otherwise
// forbidden C0 control range: tab and newline, used for multi-line memory
// content and source snippets.
func controlCharAllowed(b byte) bool {
	return b == '\t' || b == '\n'
}

// ValidateText rejects s if it exceeds maxLen, contains disallowed control
// bytes, or matches any catalogued injection pattern. On success it returns
// s with trailing whitespace stripped.
func ValidateText(s string, maxLen int, field string) (string, error) {
	if l := len(s); l == 0 || l > maxLen {
		return "", newErr(KindSize, field, fmt.Sprintf("length %d out of range (1, %d]", l, maxLen))
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b <= 0x1F && !controlCharAllowed(b) {
			return "", newErr(KindCharset, field, "contains disallowed control byte")
		}
		if b == 0x00 {
			return "", newErr(KindCharset, field, "contains null byte")
		}
	}
	if family, pattern := scanInjection(s); family != "" {
		return "", newErr(KindInjection, field, fmt.Sprintf("matched %s pattern %s", family, pattern))
	}
	return strings.TrimRight(s, " \t\r\n"), nil
}

// scanInjection runs s against every catalogued family and returns the
// family name and matching pattern source of the first hit, or ("", "")
// if s is clean.
func scanInjection(s string) (family, pattern string) {
	if p := matchFamily(defaultCatalogue.SQL, s); p != "" {
		return "sql", p
	}
	if p := matchFamily(defaultCatalogue.Prompt, s); p != "" {
		return "prompt", p
	}
	if p := matchFamily(defaultCatalogue.Command, s); p != "" {
		return "command", p
	}
	if p := matchFamily(defaultCatalogue.Path, s); p != "" {
		return "path_traversal", p
	}
	return "", ""
}

// Redacted canonicalizes a rejected input for logging: the security log
// must never contain the injection candidate verbatim.
func Redacted(string) string {
	return "<redacted>"
}

// Filters is the validated, strongly-typed result of ValidateFilters.
type Filters struct {
	Category      string
	ContextLevel  string
	Scope         string
	ProjectName   string
	Tags          []string
	MinImportance *float64
	MaxImportance *float64
	DateFrom      *time.Time
	DateTo        *time.Time
	Language      string
	FilePattern   string
	UnitType      string
}

// ValidateFilters rejects any key outside AllowedFilterKeys and coerces
// each present value to its declared type, failing the whole call on the
// first mismatch.
func ValidateFilters(raw map[string]any) (Filters, error) {
	var f Filters
	for k := range raw {
		if _, ok := AllowedFilterKeys[k]; !ok {
			return Filters{}, newErr(KindField, k, "filter key not in payload-index allowlist")
		}
	}
	var err error
	if v, ok := raw["category"]; ok {
		if f.Category, err = coerceString(v, "category"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["context_level"]; ok {
		if f.ContextLevel, err = coerceString(v, "context_level"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["scope"]; ok {
		if f.Scope, err = coerceString(v, "scope"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["project_name"]; ok {
		if f.ProjectName, err = coerceString(v, "project_name"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["language"]; ok {
		if f.Language, err = coerceString(v, "language"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["file_pattern"]; ok {
		if f.FilePattern, err = coerceString(v, "file_pattern"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["unit_type"]; ok {
		if f.UnitType, err = coerceString(v, "unit_type"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["tags"]; ok {
		if f.Tags, err = coerceStringSlice(v, "tags"); err != nil {
			return Filters{}, err
		}
	}
	if v, ok := raw["min_importance"]; ok {
		fv, cerr := coerceFloat(v, "min_importance")
		if cerr != nil {
			return Filters{}, cerr
		}
		f.MinImportance = &fv
	}
	if v, ok := raw["max_importance"]; ok {
		fv, cerr := coerceFloat(v, "max_importance")
		if cerr != nil {
			return Filters{}, cerr
		}
		f.MaxImportance = &fv
	}
	if v, ok := raw["date_from"]; ok {
		tv, cerr := coerceTime(v, "date_from")
		if cerr != nil {
			return Filters{}, cerr
		}
		f.DateFrom = &tv
	}
	if v, ok := raw["date_to"]; ok {
		tv, cerr := coerceTime(v, "date_to")
		if cerr != nil {
			return Filters{}, cerr
		}
		f.DateTo = &tv
	}
	return f, nil
}

func coerceString(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", newErr(KindType, field, "expected string")
	}
	return s, nil
}

func coerceStringSlice(v any, field string) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, newErr(KindType, field, "expected array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, newErr(KindType, field, "expected array of strings")
	}
}

func coerceFloat(v any, field string) (float64, error) {
	switch vv := v.(type) {
	case float64:
		return vv, nil
	case float32:
		return float64(vv), nil
	case int:
		return float64(vv), nil
	default:
		return 0, newErr(KindType, field, "expected number")
	}
}

func coerceTime(v any, field string) (time.Time, error) {
	switch vv := v.(type) {
	case time.Time:
		return vv, nil
	case string:
		// ISO-8601 is a client-side convenience; the facade's post-filter
		// compares the parsed time against each record's updated_at.
		t, err := time.Parse(time.RFC3339, vv)
		if err != nil {
			return time.Time{}, newErr(KindType, field, "expected RFC3339 timestamp")
		}
		return t, nil
	case float64:
		return time.Unix(int64(vv), 0).UTC(), nil
	default:
		return time.Time{}, newErr(KindType, field, "expected timestamp")
	}
}
