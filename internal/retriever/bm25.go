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

import "math"

// Okapi BM25 tuning constants, the same values the teacher's
// routing/bm25.go uses (Robertson et al.'s recommended middle ground).
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Doc holds the BM25 representation of one candidate record's content.
type bm25Doc struct {
	id  string
	tf  map[string]int
	len int
}

// BM25Index is a pre-built inverted index over an ephemeral candidate
// set.
//
// # Description
//
// A BM25 ranking built over the records a semantic search or filtered
// scroll already surfaced, rather than over the full collection. Qdrant
// holds no queryable in-process corpus, so there is no standing index to
// build once; a fresh BM25Index is built per query over whatever
// candidate pool the retriever assembled.
//
// # Thread Safety
//
// BM25Index is immutable after construction via BuildBM25Index. Safe for
// concurrent use without additional synchronization.
type BM25Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// BuildBM25Index constructs a BM25Index from id→content pairs.
//
// # Description
//
// Each candidate's "document" is its full content text, tokenized with
// ExtractTerms. IDF is computed with Lucene-style add-one smoothing to
// avoid zero division.
//
// # Inputs
//
//   - contents: candidate id → content text. An empty map returns a
//     valid but empty index that scores every query at zero.
//
// # Outputs
//
//   - *BM25Index: the constructed index. Never nil.
//
// # Thread Safety
//
// The returned index is immutable and safe for concurrent use.
func BuildBM25Index(contents map[string]string) *BM25Index {
	if len(contents) == 0 {
		return &BM25Index{idf: make(map[string]float64)}
	}

	docs := make([]bm25Doc, 0, len(contents))
	totalLen := 0
	df := make(map[string]int)

	for id, content := range contents {
		termSet := ExtractTerms(content)
		tf := make(map[string]int, len(termSet))
		for term := range termSet {
			tf[term] = 1
			df[term]++
		}
		doc := bm25Doc{id: id, tf: tf, len: len(tf)}
		docs = append(docs, doc)
		totalLen += doc.len
	}

	n := len(docs)
	avgLen := float64(totalLen) / float64(n)

	idf := make(map[string]float64, len(df))
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &BM25Index{docs: docs, idf: idf, avgLen: avgLen}
}

// Score returns each candidate's BM25 score for query.
//
// # Description
//
// Scores are normalized to [0,1] by the maximum raw score in the result
// set. Candidates scoring zero are omitted.
//
// # Thread Safety
//
// Score only reads idx's immutable fields; safe to call concurrently
// from multiple goroutines.
func (idx *BM25Index) Score(query string) map[string]float64 {
	if query == "" || len(idx.docs) == 0 {
		return make(map[string]float64)
	}
	queryTerms := ExtractTerms(query)
	if len(queryTerms) == 0 {
		return make(map[string]float64)
	}

	scores := make(map[string]float64, len(idx.docs))
	var maxScore float64
	for _, doc := range idx.docs {
		score := bm25Score(queryTerms, doc, idx.idf, idx.avgLen)
		if score > 0 {
			scores[doc.id] = score
			if score > maxScore {
				maxScore = score
			}
		}
	}

	if maxScore > 0 {
		for id := range scores {
			scores[id] /= maxScore
		}
	}
	return scores
}

func bm25Score(queryTerms map[string]bool, doc bm25Doc, idf map[string]float64, avgLen float64) float64 {
	dl := float64(doc.len)
	var score float64
	for term := range queryTerms {
		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, known := idf[term]
		if !known {
			continue
		}
		tfFloat := float64(tf)
		numerator := tfFloat * (bm25K1 + 1)
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*dl/avgLen)
		denominator := tfFloat + lengthNorm
		score += termIDF * (numerator / denominator)
	}
	return score
}
