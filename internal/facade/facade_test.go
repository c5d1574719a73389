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
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/claude-rag/core/internal/config"
)

// fakeQdrant backs every Points/Collections RPC the facade's components
// exercise, the same in-memory-map idiom used by internal/store's and
// internal/gitindex's test fakes.
type fakeQdrant struct {
	qdrant.UnimplementedPointsServer
	qdrant.UnimplementedCollectionsServer

	mu     sync.Mutex
	points map[string]*qdrant.PointStruct
}

func newFakeQdrant() *fakeQdrant { return &fakeQdrant{points: map[string]*qdrant.PointStruct{}} }

func (f *fakeQdrant) CollectionExists(ctx context.Context, req *qdrant.CollectionExistsRequest) (*qdrant.CollectionExistsResponse, error) {
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: true}}, nil
}

func (f *fakeQdrant) Create(ctx context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (f *fakeQdrant) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.PointsOperationResponse, error) {
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f *fakeQdrant) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f *fakeQdrant) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sel, ok := req.GetPoints().GetPointsSelectorOneOf().(*qdrant.PointsSelector_Points); ok {
		for _, id := range sel.Points.GetIds() {
			delete(f.points, id.GetUuid())
		}
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f *fakeQdrant) Get(ctx context.Context, req *qdrant.GetPoints) (*qdrant.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qdrant.RetrievedPoint
	for _, id := range req.GetIds() {
		p, ok := f.points[id.GetUuid()]
		if !ok {
			continue
		}
		out = append(out, &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload(), Vectors: toVectorsOutput(p.GetVectors())})
	}
	return &qdrant.GetResponse{Result: out}, nil
}

func (f *fakeQdrant) Query(ctx context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*qdrant.ScoredPoint
	for _, p := range f.points {
		hits = append(hits, &qdrant.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Vectors: toVectorsOutput(p.GetVectors()), Score: 1.0})
	}
	return &qdrant.QueryResponse{Result: hits}, nil
}

func (f *fakeQdrant) Scroll(ctx context.Context, req *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*qdrant.RetrievedPoint
	for _, p := range f.points {
		hits = append(hits, &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload(), Vectors: toVectorsOutput(p.GetVectors())})
	}
	return &qdrant.ScrollResponse{Result: hits}, nil
}

func toVectorsOutput(v *qdrant.Vectors) *qdrant.VectorsOutput {
	dense := v.GetVector()
	if dense == nil {
		return nil
	}
	return &qdrant.VectorsOutput{VectorsOptions: &qdrant.VectorsOutput_Vector{Vector: &qdrant.VectorOutput{Data: dense.GetData()}}}
}

func startFakeQdrant(t *testing.T, f *fakeQdrant) string {
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

func fakeEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var inputs []string
		var single string
		if err := json.Unmarshal(req.Input, &single); err == nil {
			inputs = []string{single}
		} else {
			_ = json.Unmarshal(req.Input, &inputs)
		}
		embeddings := make([][]float64, len(inputs))
		for i := range inputs {
			vec := make([]float64, embedDimensions)
			vec[0] = 1.0
			embeddings[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestFacade builds a Facade against an in-process fake Qdrant and fake
// embedding server, passing readOnly through Config.ReadOnly so New
// builds the facade in the requested mode.
func newTestFacade(t *testing.T, qf *fakeQdrant, readOnly bool) *Facade {
	t.Helper()
	addr := startFakeQdrant(t, qf)
	embedSrv := fakeEmbedServer(t)

	cfg := &config.Config{
		QdrantURL:               addr,
		CollectionName:          "test_collection",
		EmbedderURL:             embedSrv.URL,
		EmbedderModel:           "test-model",
		CacheDir:                t.TempDir(),
		PoolMinConns:            1,
		PoolMaxConns:            4,
		PoolAcquireTimeout:      time.Second,
		PoolHealthCheckInterval: time.Hour,
		EmbedConcurrency:        2,
		SecurityLogPath:         t.TempDir() + "/security.log",
		SecurityLogMaxBytes:     1 << 20,
		ReadOnly:                readOnly,
	}

	f, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFacade_StoreThenRetrieve_RoundTrips(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), false)
	ctx := context.Background()

	storeEnv := f.Store(ctx, StoreRequest{
		Content:     "remember to use table-driven tests",
		Category:    "preference",
		ProjectName: "claude-rag",
	})
	if storeEnv.Status != StatusSuccess {
		t.Fatalf("Store failed: %+v", storeEnv.Error)
	}

	retrieveEnv := f.Retrieve(ctx, RetrieveRequest{Query: "table-driven tests", K: 5})
	if retrieveEnv.Status != StatusSuccess {
		t.Fatalf("Retrieve failed: %+v", retrieveEnv.Error)
	}
}

func TestFacade_Store_RejectedInReadOnlyMode(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), true)
	env := f.Store(context.Background(), StoreRequest{Content: "x", Category: "preference"})
	if env.Status != StatusError || env.Error.Kind != "read_only" {
		t.Fatalf("expected read_only error, got %+v", env)
	}
}

func TestFacade_Store_RejectsOversizedContent(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), false)
	huge := make([]byte, 10<<20)
	env := f.Store(context.Background(), StoreRequest{Content: string(huge), Category: "preference"})
	if env.Status != StatusError {
		t.Fatalf("expected validation error, got %+v", env)
	}
}

func TestFacade_UpdateThenDelete(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), false)
	ctx := context.Background()

	storeEnv := f.Store(ctx, StoreRequest{Content: "initial content", Category: "preference"})
	if storeEnv.Status != StatusSuccess {
		t.Fatalf("Store failed: %+v", storeEnv.Error)
	}
	id := storeEnv.Data.(map[string]any)["id"].(string)

	newContent := "updated content"
	updateEnv := f.Update(ctx, id, UpdateFields{Content: &newContent})
	if updateEnv.Status != StatusSuccess {
		t.Fatalf("Update failed: %+v", updateEnv.Error)
	}

	deleteEnv := f.Delete(ctx, id)
	if deleteEnv.Status != StatusSuccess {
		t.Fatalf("Delete failed: %+v", deleteEnv.Error)
	}
	if !deleteEnv.Data.(map[string]any)["deleted"].(bool) {
		t.Error("expected deleted=true")
	}
}

func TestFacade_Delete_RejectedInReadOnlyMode(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), true)
	env := f.Delete(context.Background(), "some-id")
	if env.Status != StatusError || env.Error.Kind != "read_only" {
		t.Fatalf("expected read_only error, got %+v", env)
	}
}

func TestFacade_RetrievePreferences_ForcesContextLevel(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), false)
	ctx := context.Background()

	f.Store(ctx, StoreRequest{Content: "dark mode please", Category: "preference"})

	env := f.RetrievePreferences(ctx, "dark mode", 5)
	if env.Status != StatusSuccess {
		t.Fatalf("RetrievePreferences failed: %+v", env.Error)
	}
}

func TestFacade_List_ReturnsExactTotal(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.Store(ctx, StoreRequest{Content: "entry", Category: "preference"})
	}

	env := f.List(ctx, ListRequest{Limit: 2})
	if env.Status != StatusSuccess {
		t.Fatalf("List failed: %+v", env.Error)
	}
	data := env.Data.(map[string]any)
	if data["total"].(int) != 3 {
		t.Errorf("total = %v, want 3", data["total"])
	}
	if data["has_more"].(bool) != true {
		t.Errorf("has_more = %v, want true", data["has_more"])
	}
}

func TestFacade_GetStatus_ReportsReadOnlyAndCount(t *testing.T) {
	f := newTestFacade(t, newFakeQdrant(), true)
	ctx := context.Background()

	env := f.GetStatus(ctx)
	if env.Status != StatusSuccess {
		t.Fatalf("GetStatus failed: %+v", env.Error)
	}
	data := env.Data.(map[string]any)
	if data["read_only_mode"].(bool) != true {
		t.Errorf("read_only_mode = %v, want true", data["read_only_mode"])
	}
	if data["storage_backend"].(string) != "qdrant" {
		t.Errorf("storage_backend = %v, want qdrant", data["storage_backend"])
	}
}
