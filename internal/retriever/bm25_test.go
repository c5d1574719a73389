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

func TestBM25Index_ScoresExactMatchHigherThanPartial(t *testing.T) {
	idx := BuildBM25Index(map[string]string{
		"exact":     "parse the configuration file and validate schema",
		"partial":   "open a network connection to the remote host",
		"unrelated": "render the dashboard widgets",
	})

	scores := idx.Score("parse configuration validate")
	if scores["exact"] <= scores["partial"] {
		t.Errorf("exact match score %f should exceed partial %f", scores["exact"], scores["partial"])
	}
	if _, ok := scores["unrelated"]; ok {
		t.Errorf("unrelated doc should not score, got %v", scores["unrelated"])
	}
}

func TestBM25Index_ScoresNormalizedToUnitMax(t *testing.T) {
	idx := BuildBM25Index(map[string]string{
		"a": "search index retrieval engine",
		"b": "search index retrieval engine search search",
	})
	scores := idx.Score("search index retrieval")
	for id, s := range scores {
		if s > 1.0+1e-9 {
			t.Errorf("score for %q = %f exceeds 1.0", id, s)
		}
	}
	var maxScore float64
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore < 0.999 {
		t.Errorf("expected the top score to normalize to ~1.0, got %f", maxScore)
	}
}

func TestBM25Index_EmptyQueryReturnsEmptyScores(t *testing.T) {
	idx := BuildBM25Index(map[string]string{"a": "some content"})
	if scores := idx.Score(""); len(scores) != 0 {
		t.Errorf("expected empty scores for empty query, got %v", scores)
	}
}

func TestBM25Index_EmptyCorpusIsSafe(t *testing.T) {
	idx := BuildBM25Index(nil)
	if scores := idx.Score("anything"); len(scores) != 0 {
		t.Errorf("expected empty scores for empty corpus, got %v", scores)
	}
}
