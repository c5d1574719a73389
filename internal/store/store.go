// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the Qdrant-backed persistence layer: collection and
// payload-index provisioning, point upsert/delete/scroll, and cosine ANN
// search, built over internal/qdrantpool's connection pool.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/claude-rag/core/internal/qdrantpool"
	"github.com/claude-rag/core/internal/types"
)

// indexedPayloadFields are the payload fields the store builds a Qdrant
// field index for on collection creation, so filtered search and
// DeleteWhere don't fall back to a full scan.
var indexedPayloadFields = []string{
	"category", "context_level", "project_name", "scope",
	"lifecycle_state", "language", "file_path",
}

// ErrorKind classifies a StorageError for callers that need to decide
// whether an operation is worth retrying.
type ErrorKind string

const (
	KindNotFound  ErrorKind = "not_found"
	KindConflict  ErrorKind = "conflict"
	KindTransient ErrorKind = "transient"
	KindBackend   ErrorKind = "backend"
	KindSchema    ErrorKind = "schema"
)

// StorageError wraps a store failure with a classification that the
// facade's retry policy and error envelope consult directly instead of
// string-matching error text.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func newErr(op string, kind ErrorKind, err error) *StorageError {
	return &StorageError{Op: op, Kind: kind, Err: err}
}

// batchSize is the maximum number of points upserted per gRPC call. The
// Qdrant wire limit is generous, but chunking keeps each call's payload
// and latency predictable and makes each chunk retry independently.
const batchSize = 256

// Store is a thin Qdrant client over a qdrantpool.Pool: it owns
// collection provisioning and the point-level CRUD/search operations,
// and leaves connection lifecycle entirely to the pool.
type Store struct {
	pool       *qdrantpool.Pool
	collection string
	dimensions uint64
}

// Config configures a Store.
type Config struct {
	Collection string
	Dimensions uint64
}

// New returns a Store bound to pool. It does not provision the collection;
// call EnsureCollection once at startup before using any other method.
func New(pool *qdrantpool.Pool, cfg Config) *Store {
	return &Store{pool: pool, collection: cfg.Collection, dimensions: cfg.Dimensions}
}

// EnsureCollection creates the collection and its payload-field indices
// if they do not already exist. It is idempotent and safe to call on
// every process start.
func (s *Store) EnsureCollection(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return newErr("EnsureCollection", KindTransient, err)
	}
	defer s.pool.Release(conn)

	exists, err := conn.Collections().CollectionExists(ctx, &qdrant.CollectionExistsRequest{
		CollectionName: s.collection,
	})
	if err != nil {
		return newErr("EnsureCollection", KindBackend, err)
	}
	if exists.GetResult().GetExists() {
		return s.ensureIndices(ctx, conn)
	}

	_, err = conn.Collections().Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return newErr("EnsureCollection", KindBackend, err)
	}
	return s.ensureIndices(ctx, conn)
}

func (s *Store) ensureIndices(ctx context.Context, conn *qdrantpool.Conn) error {
	for _, field := range indexedPayloadFields {
		_, err := conn.Points().CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			// Field indices are best-effort: a concurrent process racing to
			// create the same index is not a fatal condition, and a
			// transient failure here just means filtered search falls back
			// to an unindexed scan rather than failing the whole call.
			continue
		}
	}
	return nil
}

// Upsert stores record, assigning it a fresh UUID if it has none, and
// returns the id actually stored under.
func (s *Store) Upsert(ctx context.Context, record *types.Record) (string, error) {
	ids, err := s.BatchUpsert(ctx, []*types.Record{record})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// BatchUpsert stores records in chunks of batchSize, each chunk applied
// atomically by Qdrant. It returns the id assigned to each record in the
// same order as the input; a chunk failure aborts the remaining chunks
// and returns the ids successfully stored so far alongside the error.
func (s *Store) BatchUpsert(ctx context.Context, records []*types.Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, newErr("BatchUpsert", KindTransient, err)
	}
	defer s.pool.Release(conn)

	ids := make([]string, 0, len(records))
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		points := make([]*qdrant.PointStruct, 0, len(chunk))
		for _, r := range chunk {
			id := r.ID
			if id == "" {
				id = uuid.NewString()
				r.ID = id
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(id),
				Vectors: qdrant.NewVectors(toFloat32Slice(r.Embedding)...),
				Payload: qdrant.NewValueMap(toPayload(r)),
			})
			ids = append(ids, id)
		}

		_, err := conn.Points().Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		if err != nil {
			return ids[:start], newErr("BatchUpsert", KindBackend, err)
		}
	}
	return ids, nil
}

// Delete removes the point with the given id, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, newErr("Delete", KindTransient, err)
	}
	defer s.pool.Release(conn)

	found, err := conn.Points().Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
	})
	if err != nil {
		return false, newErr("Delete", KindBackend, err)
	}
	if len(found.GetResult()) == 0 {
		return false, nil
	}

	result, err := conn.Points().Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(id)}},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return false, newErr("Delete", KindBackend, err)
	}
	return result.GetResult().GetStatus() == qdrant.UpdateStatus_Completed, nil
}

// Get fetches the single point with the given id, reporting whether it
// existed. Used by update/delete-by-id facade operations that need the
// current record before they can apply a partial change.
func (s *Store) Get(ctx context.Context, id string) (*types.Record, bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, newErr("Get", KindTransient, err)
	}
	defer s.pool.Release(conn)

	resp, err := conn.Points().Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, false, newErr("Get", KindBackend, err)
	}
	points := resp.GetResult()
	if len(points) == 0 {
		return nil, false, nil
	}
	rec, err := fromPoint(points[0].GetId(), points[0].GetPayload(), points[0].GetVectors())
	if err != nil {
		return nil, false, newErr("Get", KindBackend, err)
	}
	return rec, true, nil
}

// Filter is a conjunction of exact-match conditions over indexed payload
// fields, built by the caller from a Record's stratification fields.
type Filter map[string]string

func (f Filter) toQdrant() *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f))
	for field, value := range f {
		must = append(must, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: must}
}

// DeleteWhere deletes every point matching filter and waits for the server
// to apply it; it does not report how many points were removed. Used for
// the file-scoped deletion
// the indexer issues before re-upserting a changed file's units.
func (s *Store) DeleteWhere(ctx context.Context, filter Filter) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return newErr("DeleteWhere", KindTransient, err)
	}
	defer s.pool.Release(conn)

	_, err = conn.Points().Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter.toQdrant()},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return newErr("DeleteWhere", KindBackend, err)
	}
	return nil
}

// SearchResult is a single ANN hit: the reconstructed Record plus its
// cosine similarity score, normalized to [0,1] by Qdrant's configured
// distance metric.
type SearchResult struct {
	Record *types.Record
	Score  float32
}

// Search runs a k-nearest-neighbor query against queryVec, restricted to
// filter, and reconstructs each hit's Record from its stored payload.
func (s *Store) Search(ctx context.Context, queryVec []float32, k uint64, filter Filter) ([]SearchResult, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, newErr("Search", KindTransient, err)
	}
	defer s.pool.Release(conn)

	resp, err := conn.Points().Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVec...),
		Filter:         filter.toQdrant(),
		Limit:          qdrant.PtrOf(k),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, newErr("Search", KindBackend, err)
	}

	results := make([]SearchResult, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		rec, err := fromPoint(hit.GetId(), hit.GetPayload(), hit.GetVectors())
		if err != nil {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: hit.GetScore()})
	}
	return results, nil
}

// ScrollPage is one page of a Scroll call: the records returned and an
// opaque offset to resume from, nil once exhausted.
type ScrollPage struct {
	Records    []*types.Record
	NextOffset *qdrant.PointId
}

// Scroll pages through every point matching filter without ranking, used
// by the facade's list and get_status operations, which must visit every
// matching record rather than the top-k.
func (s *Store) Scroll(ctx context.Context, filter Filter, pageSize uint32, offset *qdrant.PointId) (ScrollPage, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return ScrollPage{}, newErr("Scroll", KindTransient, err)
	}
	defer s.pool.Release(conn)

	resp, err := conn.Points().Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         filter.toQdrant(),
		Limit:          qdrant.PtrOf(pageSize),
		Offset:         offset,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return ScrollPage{}, newErr("Scroll", KindBackend, err)
	}

	page := ScrollPage{Records: make([]*types.Record, 0, len(resp.GetResult()))}
	for _, point := range resp.GetResult() {
		rec, err := fromPoint(point.GetId(), point.GetPayload(), point.GetVectors())
		if err != nil {
			continue
		}
		page.Records = append(page.Records, rec)
	}
	page.NextOffset = resp.GetNextPageOffset()
	return page, nil
}

func toFloat32Slice(v []float32) []float32 {
	if v == nil {
		return make([]float32, 0)
	}
	return v
}
