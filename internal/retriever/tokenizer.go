// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retriever

import (
	"strings"
	"unicode"
)

// noiseWords are removed before scoring: common English function words and
// punctuation-adjacent fragments that carry no discriminating signal in a
// code/memory search query. The teacher's own ExtractQueryTerms (referenced
// throughout routing/bm25.go) is not present in this codebase's source
// tree, so this list and the splitting rules below are reconstructed from
// its documented behavior — lowercase, camelCase split, noise-word
// removal, delimiter normalization — rather than copied.
var noiseWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "for": true, "with": true,
	"and": true, "or": true, "but": true, "not": true, "this": true,
	"that": true, "these": true, "those": true, "it": true, "its": true,
	"as": true, "by": true, "from": true, "into": true, "about": true,
	"how": true, "what": true, "which": true, "when": true, "where": true,
	"do": true, "does": true, "did": true, "can": true, "could": true,
	"should": true, "would": true, "will": true, "shall": true,
}

// ExtractTerms tokenizes text into a deduplicated term set: lowercased,
// camelCase and snake_case/kebab-case components split into separate
// words, delimiters normalized to whitespace, and noise words dropped.
// Terms shorter than two runes are dropped as too weak a signal to match
// on. The result is a set (binary presence), matching the teacher's own
// choice to use tf=1 per document rather than raw token counts.
func ExtractTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range splitDelimiters(text) {
		for _, part := range splitCamelCase(word) {
			part = strings.ToLower(strings.TrimSpace(part))
			if len([]rune(part)) < 2 || noiseWords[part] {
				continue
			}
			terms[part] = true
		}
	}
	return terms
}

// splitDelimiters breaks text on whitespace and the common code-identifier
// delimiters (underscore, hyphen, dot, slash, colon) into raw words.
func splitDelimiters(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '_', '-', '.', '/', ':', ',', '(', ')', '[', ']', '{', '}', '"', '\'':
			return true
		}
		return unicode.IsSpace(r) || (!unicode.IsLetter(r) && !unicode.IsDigit(r))
	})
}

// splitCamelCase breaks a camelCase or PascalCase identifier into its
// constituent words, e.g. "getUserID" → ["get", "User", "ID"].
func splitCamelCase(word string) []string {
	if word == "" {
		return nil
	}
	var parts []string
	var current []rune
	runes := []rune(word)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				parts = append(parts, string(current))
				current = nil
			}
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		parts = append(parts, string(current))
	}
	return parts
}
