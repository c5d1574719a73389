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
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/claude-rag/core/internal/store"
)

// Retry tuning: delays {0.5, 1, 2, 4, 8, ...}s capped at 30s with 25%
// jitter, five attempts total.
const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 30 * time.Second
	retryMultiplier      = 2.0
	retryJitter          = 0.25
	retryMaxAttempts     = 5
)

// withRetry runs op under the facade's retry policy. Only transient
// storage errors (connection-creation failures surface through Store as
// store.KindTransient too) are retried; validation, read-only, and
// not-found errors fall straight through on the first attempt.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = retryJitter

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retryMaxAttempts))
}

// isRetryable classifies err for the facade's retry loop: transient
// storage errors are the only retryable class it understands.
func isRetryable(err error) bool {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind == store.KindTransient
	}
	return false
}
