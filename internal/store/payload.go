// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/claude-rag/core/internal/types"
)

// toPayload flattens a Record into the generic value map Qdrant stores
// alongside its vector: the content and every stratification field live
// at the top level, and any caller-supplied Metadata (including a
// CodePayload/DocPayload/CommitPayload's ToMetadata() output) is merged
// in beside them.
func toPayload(r *types.Record) map[string]any {
	m := map[string]any{
		"content":          r.Content,
		"category":         string(r.Category),
		"context_level":    string(r.ContextLevel),
		"scope":            string(r.Scope),
		"project_name":     r.ProjectName,
		"importance":       r.Importance,
		"lifecycle_state":  string(r.LifecycleState),
		"created_at":       r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       r.UpdatedAt.Format(time.RFC3339Nano),
		"last_accessed_at": r.LastAccessedAt.Format(time.RFC3339Nano),
		"access_count":     r.AccessCount,
	}
	if len(r.Tags) > 0 {
		tags := make([]any, len(r.Tags))
		for i, t := range r.Tags {
			tags[i] = t
		}
		m["tags"] = tags
	}
	for k, v := range r.Metadata {
		m[k] = v
	}
	return m
}

// reservedKeys are the payload fields written directly onto Record by
// toPayload/fromPoint; everything else round-trips through Record.Metadata
// untouched.
var reservedKeys = map[string]bool{
	"content": true, "category": true, "context_level": true, "scope": true,
	"project_name": true, "importance": true, "lifecycle_state": true,
	"created_at": true, "updated_at": true, "last_accessed_at": true,
	"access_count": true, "tags": true,
}

// fromPoint reconstructs a Record from a stored point's id, payload, and
// vector, the inverse of toPayload. Fields missing from payload (an empty
// string, a missing timestamp) fall back to their zero value rather than
// failing the whole reconstruction, since a record predating a schema
// addition should still come back usable.
func fromPoint(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (*types.Record, error) {
	r := &types.Record{
		ID:             pointIDString(id),
		Content:        stringField(payload, "content"),
		Category:       types.Category(stringField(payload, "category")),
		ContextLevel:   types.ContextLevel(stringField(payload, "context_level")),
		Scope:          types.Scope(stringField(payload, "scope")),
		ProjectName:    stringField(payload, "project_name"),
		Importance:     doubleField(payload, "importance"),
		LifecycleState: types.LifecycleState(stringField(payload, "lifecycle_state")),
		CreatedAt:      timeField(payload, "created_at"),
		UpdatedAt:      timeField(payload, "updated_at"),
		LastAccessedAt: timeField(payload, "last_accessed_at"),
		AccessCount:    intField(payload, "access_count"),
		Metadata:       map[string]any{},
	}

	if v, ok := payload["tags"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			r.Tags = append(r.Tags, item.GetStringValue())
		}
	}
	for k, v := range payload {
		if reservedKeys[k] {
			continue
		}
		r.Metadata[k] = valueToGo(v)
	}
	if len(r.Metadata) == 0 {
		r.Metadata = nil
	}

	if vectors != nil {
		if dense := vectors.GetVector(); dense != nil {
			r.Embedding = dense.GetData()
		}
	}
	return r, nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func doubleField(payload map[string]*qdrant.Value, key string) float64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	return v.GetDoubleValue()
}

func intField(payload map[string]*qdrant.Value, key string) int64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	return v.GetIntegerValue()
}

// valueToGo converts a Qdrant payload value back into a plain Go value for
// Record.Metadata. Struct and list values recurse; a null or unset value
// comes back as nil.
func valueToGo(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToGo(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = valueToGo(item)
		}
		return out
	case *qdrant.Value_NullValue:
		return nil
	default:
		return nil
	}
}

func timeField(payload map[string]*qdrant.Value, key string) time.Time {
	s := stringField(payload, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
