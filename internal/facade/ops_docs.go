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

	"github.com/claude-rag/core/internal/validator"
)

// IngestDocs implements ingest_docs.
func (f *Facade) IngestDocs(ctx context.Context, directoryPath, projectName string) Envelope {
	const op = "ingest_docs"
	if env, rejected := f.rejectIfReadOnly(ctx, op); rejected {
		return env
	}
	if _, err := validator.ValidateText(directoryPath, 4096, "directory_path"); err != nil {
		return f.rejectValidation(ctx, op, err)
	}

	report, err := f.docs.IngestDirectory(ctx, projectName, directoryPath)
	if err != nil {
		return failure("transient", err.Error())
	}
	return success(map[string]any{
		"files_processed": report.FilesProcessed,
		"chunks":          report.Chunks,
		"elapsed_s":       report.Elapsed.Seconds(),
		"errors":          report.Errors,
	})
}
