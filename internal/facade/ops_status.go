// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facade

import (
	"context"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// GetStatus implements get_status.
func (f *Facade) GetStatus(ctx context.Context) Envelope {
	const scrollPageSize = 256
	var count int
	var cursor *qdrant.PointId
	for {
		page, err := f.store.Scroll(ctx, nil, scrollPageSize, cursor)
		if err != nil {
			return storageFailure(err)
		}
		count += len(page.Records)
		if page.NextOffset == nil {
			break
		}
		cursor = page.NextOffset
	}

	return success(map[string]any{
		"storage_backend": "qdrant",
		"read_only_mode":  f.readOnly,
		"memory_count":    count,
		"collections":     []string{f.cfg.CollectionName},
		"uptime_s":        time.Since(f.startedAt).Seconds(),
	})
}
