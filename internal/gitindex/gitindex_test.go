// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitindex

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	godiff "github.com/sourcegraph/go-diff/diff"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/claude-rag/core/internal/embedding"
	"github.com/claude-rag/core/internal/qdrantpool"
	"github.com/claude-rag/core/internal/store"
)

// fakeQdrantAll backs every Store op gitindex exercises, the same idiom
// used in internal/indexer's test fakes.
type fakeQdrantAll struct {
	qdrant.UnimplementedPointsServer
	qdrant.UnimplementedCollectionsServer
	mu     sync.Mutex
	points map[string]*qdrant.PointStruct
}

func (f *fakeQdrantAll) CollectionExists(ctx context.Context, req *qdrant.CollectionExistsRequest) (*qdrant.CollectionExistsResponse, error) {
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: true}}, nil
}
func (f *fakeQdrantAll) Create(ctx context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}
func (f *fakeQdrantAll) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.PointsOperationResponse, error) {
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}
func (f *fakeQdrantAll) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points == nil {
		f.points = map[string]*qdrant.PointStruct{}
	}
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}
func (f *fakeQdrantAll) Query(ctx context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*qdrant.ScoredPoint
	for _, p := range f.points {
		hits = append(hits, &qdrant.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Score: 1.0})
	}
	return &qdrant.QueryResponse{Result: hits}, nil
}

func startFakeQdrantAll(t *testing.T, f *fakeQdrantAll) string {
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

func fakeEmbedServer(t *testing.T, dims int) *httptest.Server {
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
			vec := make([]float64, dims)
			vec[0] = 1.0
			embeddings[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	qf := &fakeQdrantAll{}
	addr := startFakeQdrantAll(t, qf)

	pool, err := qdrantpool.New(context.Background(), qdrantpool.Config{
		Endpoint: addr, MinSize: 1, MaxSize: 2,
		AcquireTimeout: time.Second, HealthCheckInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("qdrantpool.New: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	st := store.New(pool, store.Config{Collection: "test", Dimensions: 4})
	if err := st.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	embedSrv := fakeEmbedServer(t, 4)
	emb := embedding.New(embedding.Config{URL: embedSrv.URL, Model: "test-model", Dimensions: 4})
	t.Cleanup(emb.Close)

	return New(st, emb)
}

// initTestRepo creates a two-commit git repository in a temp directory.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := wt.Commit("initial commit", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\nworld\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sig2 := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	if _, err := wt.Commit("add a line", &git.CommitOptions{Author: sig2}); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	return dir
}

func TestIndexRepo_IndexesEveryCommit(t *testing.T) {
	ix := newTestIndexer(t)
	dir := initTestRepo(t)

	report, err := ix.IndexRepo(context.Background(), dir, "proj", IncludeDiffsTrue)
	if err != nil {
		t.Fatalf("IndexRepo: %v", err)
	}
	if report.CommitsIndexed != 2 {
		t.Errorf("CommitsIndexed = %d, want 2", report.CommitsIndexed)
	}
}

func TestCommitPayload_WithDiffsCountsInsertedLine(t *testing.T) {
	dir := initTestRepo(t)
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	commits, err := walkCommits(repo, head.Hash())
	if err != nil {
		t.Fatalf("walkCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}

	// commits[0] is HEAD ("add a line"), which added "world".
	payload, err := commitPayload(commits[0], true)
	if err != nil {
		t.Fatalf("commitPayload: %v", err)
	}
	if payload.Insertions == 0 {
		t.Errorf("expected at least one insertion, got %+v", payload)
	}
	if payload.DiffContent == "" {
		t.Error("expected diff content to be populated")
	}
	if payload.FilesChanged != 1 {
		t.Errorf("FilesChanged = %d, want 1", payload.FilesChanged)
	}
}

func TestCommitPayload_RootCommitFallsBackToStats(t *testing.T) {
	dir := initTestRepo(t)
	repo, _ := git.PlainOpen(dir)
	head, _ := repo.Head()
	commits, _ := walkCommits(repo, head.Hash())

	// commits[1] is the root commit, with no parent.
	payload, err := commitPayload(commits[1], true)
	if err != nil {
		t.Fatalf("commitPayload: %v", err)
	}
	if payload.FilesChanged != 1 {
		t.Errorf("FilesChanged = %d, want 1", payload.FilesChanged)
	}
	if payload.DiffContent != "" {
		t.Error("root commit should have no diff content")
	}
}

func TestCountDiffLines_CountsAddedAndRemovedLines(t *testing.T) {
	raw := []byte(`diff --git a/a.txt b/a.txt
index aaaa..bbbb 100644
--- a/a.txt
+++ b/a.txt
@@ -1,2 +1,3 @@
 hello
-old line
+new line
+another new line
`)
	fileDiffs, err := godiff.ParseMultiFileDiff(raw)
	if err != nil {
		t.Fatalf("ParseMultiFileDiff: %v", err)
	}
	ins, del := countDiffLines(fileDiffs)
	if ins != 2 {
		t.Errorf("insertions = %d, want 2", ins)
	}
	if del != 1 {
		t.Errorf("deletions = %d, want 1", del)
	}
}
