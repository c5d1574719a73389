// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package security implements the append-only, structured security log:
// every validation rejection and read-only-mode violation is recorded
// as a JSON line, enriched with trace context when available, and never
// carries the offending input verbatim.
package security

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Logger writes structured JSON-lines security events to a size-capped
// file. One rotation is kept (path + ".1") rather than an unbounded
// history, since this is a local diagnostic log, not a compliance archive.
//
// Thread Safety: safe for concurrent use; writes are serialized by mu.
type Logger struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	logger   *slog.Logger
}

// Open creates (or appends to) the security log at path, rotating it first
// if it already exceeds maxBytes.
func Open(path string, maxBytes int64) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("security: create log dir: %w", err)
	}
	l := &Logger{path: path, maxBytes: maxBytes}
	if err := l.rotateIfNeeded(); err != nil {
		return nil, err
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("security: open log: %w", err)
	}
	l.file = f
	l.logger = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{}))
	return nil
}

func (l *Logger) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("security: stat log: %w", err)
	}
	if info.Size() < l.maxBytes {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	rotated := l.path + ".1"
	os.Remove(rotated)
	return os.Rename(l.path, rotated)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// LogRejection records a validation rejection: ValidationError kind, the
// field it applies to, and the injection family matched (if any), but
// never the raw input content.
func (l *Logger) LogRejection(ctx context.Context, operation, field, kind, detail string) {
	l.write(ctx, slog.LevelWarn, "validation_rejected",
		slog.String("operation", operation),
		slog.String("field", field),
		slog.String("kind", kind),
		slog.String("detail", detail),
	)
}

// LogReadOnlyViolation records an attempt to perform a mutating operation
// while the facade is in read-only mode.
func (l *Logger) LogReadOnlyViolation(ctx context.Context, operation string) {
	l.write(ctx, slog.LevelWarn, "read_only_violation",
		slog.String("operation", operation),
	)
}

// LogAuthFailure records a rejected Qdrant API key or connection
// authentication failure, hashing any credential fragment rather than
// storing it.
func (l *Logger) LogAuthFailure(ctx context.Context, component string, credentialHash string) {
	l.write(ctx, slog.LevelError, "auth_failure",
		slog.String("component", component),
		slog.String("credential_hash", credentialHash),
	)
}

func (l *Logger) write(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger == nil {
		return
	}
	l.rotateIfNeeded()
	if l.file == nil {
		if err := l.openFile(); err != nil {
			return
		}
	}
	logger := l.loggerWithTrace(ctx)
	logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) loggerWithTrace(ctx context.Context) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l.logger
	}
	return l.logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// HashCredential computes a SHA-256 hex digest suitable for logging a
// credential fragment without exposing its plaintext.
func HashCredential(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}
