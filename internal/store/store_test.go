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
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/claude-rag/core/internal/qdrantpool"
	"github.com/claude-rag/core/internal/types"
)

// fakeQdrant is an in-memory stand-in for a Qdrant server, just enough of
// Points/Collections to exercise Store's wire shape: it keeps points in a
// map and serves Upsert/Delete/Query/Scroll/CreateFieldIndex/Create/
// CollectionExists against it.
type fakeQdrant struct {
	qdrant.UnimplementedPointsServer
	qdrant.UnimplementedCollectionsServer

	mu     sync.Mutex
	points map[string]*qdrant.PointStruct
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: map[string]*qdrant.PointStruct{}}
}

func (f *fakeQdrant) CollectionExists(ctx context.Context, req *qdrant.CollectionExistsRequest) (*qdrant.CollectionExistsResponse, error) {
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: true}}, nil
}

func (f *fakeQdrant) Create(ctx context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (f *fakeQdrant) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.PointsOperationResponse, error) {
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func pointKey(id *qdrant.PointId) string { return pointIDString(id) }

func (f *fakeQdrant) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range req.GetPoints() {
		f.points[pointKey(p.GetId())] = p
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f *fakeQdrant) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch sel := req.GetPoints().GetPointsSelectorOneOf().(type) {
	case *qdrant.PointsSelector_Points:
		for _, id := range sel.Points.GetIds() {
			delete(f.points, pointKey(id))
		}
	case *qdrant.PointsSelector_Filter:
		for key, p := range f.points {
			if matchesFilter(p, sel.Filter) {
				delete(f.points, key)
			}
		}
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func matchesFilter(p *qdrant.PointStruct, filter *qdrant.Filter) bool {
	if filter == nil {
		return true
	}
	for _, cond := range filter.GetMust() {
		field := cond.GetField()
		if field == nil {
			continue
		}
		v, ok := p.GetPayload()[field.GetKey()]
		if !ok || v.GetStringValue() != field.GetMatch().GetKeyword() {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) Query(ctx context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*qdrant.ScoredPoint
	for _, p := range f.points {
		if !matchesFilter(p, req.GetFilter()) {
			continue
		}
		hits = append(hits, &qdrant.ScoredPoint{
			Id:      p.GetId(),
			Payload: p.GetPayload(),
			Vectors: toVectorsOutput(p.GetVectors()),
			Score:   1.0,
		})
	}
	return &qdrant.QueryResponse{Result: hits}, nil
}

func (f *fakeQdrant) Get(ctx context.Context, req *qdrant.GetPoints) (*qdrant.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qdrant.RetrievedPoint
	for _, id := range req.GetIds() {
		p, ok := f.points[pointKey(id)]
		if !ok {
			continue
		}
		out = append(out, &qdrant.RetrievedPoint{
			Id:      p.GetId(),
			Payload: p.GetPayload(),
			Vectors: toVectorsOutput(p.GetVectors()),
		})
	}
	return &qdrant.GetResponse{Result: out}, nil
}

func (f *fakeQdrant) Scroll(ctx context.Context, req *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*qdrant.RetrievedPoint
	for _, p := range f.points {
		if !matchesFilter(p, req.GetFilter()) {
			continue
		}
		hits = append(hits, &qdrant.RetrievedPoint{
			Id:      p.GetId(),
			Payload: p.GetPayload(),
			Vectors: toVectorsOutput(p.GetVectors()),
		})
	}
	return &qdrant.ScrollResponse{Result: hits}, nil
}

func toVectorsOutput(v *qdrant.Vectors) *qdrant.VectorsOutput {
	dense := v.GetVector()
	if dense == nil {
		return nil
	}
	return &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vector{
			Vector: &qdrant.VectorOutput{Data: dense.GetData()},
		},
	}
}

func startFakeQdrantFull(t *testing.T, f *fakeQdrant) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := grpc.NewServer()
	qdrant.RegisterPointsServer(gs, f)
	qdrant.RegisterCollectionsServer(gs, f)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	f := newFakeQdrant()
	addr := startFakeQdrantFull(t, f)

	pool, err := qdrantpool.New(context.Background(), qdrantpool.Config{
		Endpoint:            addr,
		MinSize:             1,
		MaxSize:             4,
		AcquireTimeout:      time.Second,
		HealthCheckInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("qdrantpool.New: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	s := New(pool, Config{Collection: "test_collection", Dimensions: 4})
	if err := s.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	return s
}

func sampleRecord() *types.Record {
	now := time.Now()
	return &types.Record{
		Content:        "func Foo() {}",
		Embedding:      []float32{0.5, 0.5, 0.5, 0.5},
		Category:       types.CategoryCode,
		ContextLevel:   types.ContextProjectContext,
		Scope:          types.ScopeProject,
		ProjectName:    "claude-rag",
		Importance:     0.8,
		LifecycleState: types.LifecycleActive,
		Tags:           []string{"go", "function"},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
		Metadata:       map[string]any{"file_path": "foo.go", "language": "go"},
	}
}

func TestStore_UpsertAndSearch_RoundTripsPayload(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord()

	id, err := s.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	results, err := s.Search(context.Background(), rec.Embedding, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	got := results[0].Record
	if got.Content != rec.Content {
		t.Errorf("Content = %q, want %q", got.Content, rec.Content)
	}
	if got.Category != rec.Category || got.ContextLevel != rec.ContextLevel || got.Scope != rec.Scope {
		t.Errorf("stratification fields mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" {
		t.Errorf("Tags = %v, want [go function]", got.Tags)
	}
	if got.Metadata["file_path"] != "foo.go" {
		t.Errorf("Metadata[file_path] = %v, want foo.go", got.Metadata["file_path"])
	}
}

func TestStore_DeleteWhere_RemovesMatchingRecords(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord()
	if _, err := s.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.DeleteWhere(context.Background(), Filter{"project_name": "claude-rag"}); err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}

	page, err := s.Scroll(context.Background(), nil, 10, nil)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(page.Records) != 0 {
		t.Errorf("expected no records left, got %d", len(page.Records))
	}
}

func TestStore_Delete_ReportsWhetherPointExisted(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord()
	id, err := s.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	existed, err := s.Delete(context.Background(), id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Error("expected Delete to report the point existed")
	}
}

func TestStore_Get_ReturnsRecordByID(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord()
	id, err := s.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected Get to report the point existed")
	}
	if got.Content != rec.Content {
		t.Errorf("Content = %q, want %q", got.Content, rec.Content)
	}
}

func TestStore_Get_MissingIDReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing id")
	}
}

func TestStore_BatchUpsert_AssignsIdsInOrder(t *testing.T) {
	s := newTestStore(t)
	records := []*types.Record{sampleRecord(), sampleRecord(), sampleRecord()}

	ids, err := s.BatchUpsert(context.Background(), records)
	if err != nil {
		t.Fatalf("BatchUpsert: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	for i, id := range ids {
		if id != records[i].ID {
			t.Errorf("ids[%d] = %q, want %q (record mutated in place)", i, id, records[i].ID)
		}
	}
}
