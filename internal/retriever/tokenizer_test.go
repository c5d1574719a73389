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

import "testing"

func TestExtractTerms_SplitsCamelCase(t *testing.T) {
	terms := ExtractTerms("getUserID")
	for _, want := range []string{"get", "user", "id"} {
		if !terms[want] {
			t.Errorf("expected term %q in %v", want, terms)
		}
	}
}

func TestExtractTerms_RemovesNoiseWords(t *testing.T) {
	terms := ExtractTerms("this is a test of the search")
	for _, noise := range []string{"this", "is", "a", "of", "the"} {
		if terms[noise] {
			t.Errorf("noise word %q should have been removed", noise)
		}
	}
	if !terms["test"] || !terms["search"] {
		t.Errorf("expected content words retained, got %v", terms)
	}
}

func TestExtractTerms_NormalizesDelimiters(t *testing.T) {
	terms := ExtractTerms("user_account-service.go")
	for _, want := range []string{"user", "account", "service"} {
		if !terms[want] {
			t.Errorf("expected term %q in %v", want, terms)
		}
	}
}

func TestExtractTerms_EmptyInputReturnsEmptySet(t *testing.T) {
	if terms := ExtractTerms(""); len(terms) != 0 {
		t.Errorf("expected empty set, got %v", terms)
	}
}
