// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle classifies a Record's age into a LifecycleState, the
// pure function the facade calls to set a record's lifecycle_state on
// store and update; the retriever then weights results by that state.
package lifecycle

import (
	"time"

	"github.com/claude-rag/core/internal/types"
)

const (
	activeWindow   = 7 * 24 * time.Hour
	recentWindow   = 30 * 24 * time.Hour
	archivedWindow = 180 * 24 * time.Hour

	sessionActiveWindow = 48 * time.Hour

	demotionAccessCount = 2
)

// Classify returns the LifecycleState for record as of now.
//
// SESSION_STATE records are ACTIVE for 48h from LastAccessedAt and have no
// RECENT/ARCHIVED/STALE transition; once past the window they are simply
// eligible for deletion, reported here as STALE so callers treat them
// consistently with any other expired record.
//
// All other records step down ACTIVE → RECENT → ARCHIVED → STALE at 7d,
// 30d, and 180d since LastAccessedAt.
//
// The spec's "additional demotion ... when access_count < 2 after 180 d"
// is read against CreatedAt rather than LastAccessedAt: a record can sit
// at RECENT or ARCHIVED indefinitely by being touched just often enough to
// reset LastAccessedAt, but if it has existed for 180 days and been
// accessed fewer than twice in that span, it never earned its recency and
// is demoted straight to STALE regardless of how recently it was touched.
func Classify(record *types.Record, now time.Time) types.LifecycleState {
	if record.ContextLevel == types.ContextSessionState {
		if now.Sub(record.LastAccessedAt) < sessionActiveWindow {
			return types.LifecycleActive
		}
		return types.LifecycleStale
	}

	if now.Sub(record.CreatedAt) >= archivedWindow && record.AccessCount < demotionAccessCount {
		return types.LifecycleStale
	}

	age := now.Sub(record.LastAccessedAt)
	switch {
	case age < activeWindow:
		return types.LifecycleActive
	case age < recentWindow:
		return types.LifecycleRecent
	case age < archivedWindow:
		return types.LifecycleArchived
	default:
		return types.LifecycleStale
	}
}
