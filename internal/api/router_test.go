package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/graph"
	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/poller"
	"github.com/timmy/lookbook/internal/provider"
	"github.com/timmy/lookbook/internal/repository"
	"github.com/timmy/lookbook/internal/service"
)

// stubTransport finishes jobs on the first status query. Prompts containing
// "fail" fail and prompts containing "slow" never finish.
type stubTransport struct {
	mu      sync.Mutex
	seq     int
	prompts map[string]string
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Submit(_ context.Context, req domain.JobRequest) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("pred-%d", s.seq)
	s.prompts[id] = req.Prompt
	return domain.Job{ID: id, Status: domain.JobStatusPending}, nil
}

func (s *stubTransport) Status(_ context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	prompt, ok := s.prompts[id]
	s.mu.Unlock()
	switch {
	case !ok:
		return domain.Job{}, fmt.Errorf("%w: %s", poller.ErrRejected, id)
	case strings.Contains(prompt, "slow"):
		return domain.Job{ID: id, Status: domain.JobStatusPending}, nil
	case strings.Contains(prompt, "fail"):
		return domain.Job{ID: id, Status: domain.JobStatusFailed, FailureReason: "model error"}, nil
	}
	return domain.Job{ID: id, Status: domain.JobStatusSucceeded, Result: "https://img.example/" + id + ".png"}, nil
}

type testServer struct {
	router *gin.Engine
	studio *service.Studio
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "api.db"),
		AutoMigrate: true,
	}, logger.Discard())
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	artifacts := repository.NewArtifactRepository(db)
	runs := repository.NewRunRepository(db)
	hub := service.NewHub(16)
	workspaces, err := service.NewWorkspaces(artifacts, hub, 8, logger.Discard())
	if err != nil {
		t.Fatalf("NewWorkspaces: %v", err)
	}
	registry := provider.NewRegistry("stub")
	registry.Register(&stubTransport{prompts: make(map[string]string)})

	studio := service.NewStudio(registry, workspaces, artifacts, runs, service.NewMirror(nil, nil),
		service.StudioConfig{
			Budget:       poller.Budget{Interval: time.Millisecond, MaxAttempts: 3},
			DeletePolicy: graph.DeleteOrphan,
			MaxBatchSize: 4,
		},
		service.WithPollerOptions(poller.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
	)
	t.Cleanup(studio.Wait)

	router := SetupRouter(Dependencies{
		Studio:    studio,
		Hub:       hub,
		Providers: registry.Names(),
	}, &config.ServerConfig{Mode: "test"}, logger.Discard())
	return &testServer{router: router, studio: studio}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || len(body.Providers) != 1 || body.Providers[0] != "stub" {
		t.Errorf("body = %+v", body)
	}
}

func TestGenerationStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{
			name: "synchronous success",
			path: "/api/v1/workspaces/ws-1/generations?wait=true",
			body: map[string]string{"prompt": "red t-shirt"},
			want: http.StatusCreated,
		},
		{
			name: "background start",
			path: "/api/v1/workspaces/ws-1/generations",
			body: map[string]string{"prompt": "red t-shirt"},
			want: http.StatusAccepted,
		},
		{
			name: "missing prompt",
			path: "/api/v1/workspaces/ws-1/generations?wait=true",
			body: map[string]string{"kind": "generate"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown parent",
			path: "/api/v1/workspaces/ws-1/generations?wait=true",
			body: map[string]string{"kind": "edit", "prompt": "x", "parent_id": "ghost"},
			want: http.StatusBadRequest,
		},
		{
			name: "job failed",
			path: "/api/v1/workspaces/ws-1/generations?wait=true",
			body: map[string]string{"prompt": "fail please"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "timeout",
			path: "/api/v1/workspaces/ws-1/generations?wait=true",
			body: map[string]string{"prompt": "slow please"},
			want: http.StatusGatewayTimeout,
		},
		{
			name: "malformed body",
			path: "/api/v1/workspaces/ws-1/generations",
			body: "not an object",
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestGenerationLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/generations", map[string]string{"prompt": "denim jacket"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", rec.Code, rec.Body.String())
	}
	var run domain.GenerationRun
	decode(t, rec, &run)
	s.studio.Wait()

	rec = s.do(t, http.MethodGet, "/api/v1/generations/"+run.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	decode(t, rec, &run)
	if run.Status != domain.RunStatusSucceeded || run.ArtifactID == "" {
		t.Errorf("run = %+v", run)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/workspaces/ws-1/generations?limit=5", nil)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, rec, &list)
	if rec.Code != http.StatusOK || list.Total != 1 {
		t.Errorf("list status=%d total=%d", rec.Code, list.Total)
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/generations/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/workspaces/ws-1/generations?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/generations/batch", map[string]interface{}{
		"requests": []map[string]string{{"prompt": "front shot"}, {"prompt": "fail back shot"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Total  int `json:"total"`
		Failed int `json:"failed"`
	}
	decode(t, rec, &body)
	if body.Total != 2 || body.Failed != 1 {
		t.Errorf("body = %+v", body)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/generations/batch", map[string]interface{}{
		"requests": make([]map[string]string, 5),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized batch status = %d", rec.Code)
	}
}

func TestArtifactEndpoints(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/workspaces/ws-1"

	register := func(locator, parent string) domain.Artifact {
		t.Helper()
		rec := s.do(t, http.MethodPost, base+"/artifacts", map[string]string{"locator": locator, "parent_id": parent})
		if rec.Code != http.StatusCreated {
			t.Fatalf("register status = %d (%s)", rec.Code, rec.Body.String())
		}
		var a domain.Artifact
		decode(t, rec, &a)
		return a
	}
	root := register("https://img.example/root.png", "")
	child := register("https://img.example/child.png", root.ID)
	grandchild := register("https://img.example/grandchild.png", child.ID)

	var list struct {
		Artifacts []domain.Artifact `json:"artifacts"`
		Total     int               `json:"total"`
	}
	decode(t, s.do(t, http.MethodGet, base+"/artifacts", nil), &list)
	if list.Total != 3 {
		t.Errorf("all artifacts = %d, want 3", list.Total)
	}
	decode(t, s.do(t, http.MethodGet, base+"/artifacts?view=roots", nil), &list)
	if list.Total != 1 || list.Artifacts[0].ID != root.ID {
		t.Errorf("roots = %+v", list.Artifacts)
	}
	decode(t, s.do(t, http.MethodGet, base+"/artifacts/"+root.ID+"/children", nil), &list)
	if list.Total != 1 || list.Artifacts[0].ID != child.ID {
		t.Errorf("children = %+v", list.Artifacts)
	}
	decode(t, s.do(t, http.MethodGet, base+"/artifacts/"+grandchild.ID+"/lineage", nil), &list)
	if list.Total != 3 || list.Artifacts[2].ID != root.ID {
		t.Errorf("lineage = %+v", list.Artifacts)
	}

	var layout graph.Layout
	decode(t, s.do(t, http.MethodGet, base+"/layout", nil), &layout)
	if layout.Columns != 3 || layout.Rows != 1 || len(layout.Edges) != 2 {
		t.Errorf("layout = %+v", layout)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing artifact", http.MethodGet, base + "/artifacts/nope", nil, http.StatusNotFound},
		{"children of missing", http.MethodGet, base + "/artifacts/nope/children", nil, http.StatusNotFound},
		{"register without locator", http.MethodPost, base + "/artifacts", map[string]string{}, http.StatusBadRequest},
		{"register under missing parent", http.MethodPost, base + "/artifacts", map[string]string{"locator": "x", "parent_id": "nope"}, http.StatusBadRequest},
		{"bad view", http.MethodGet, base + "/artifacts?view=leaves", nil, http.StatusBadRequest},
		{"bad policy", http.MethodDelete, base + "/artifacts/" + root.ID + "?policy=shred", nil, http.StatusBadRequest},
		{"bad workspace", http.MethodGet, "/api/v1/workspaces/%20/layout", nil, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := s.do(t, tc.method, tc.path, tc.body); rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	rec := s.do(t, http.MethodDelete, base+"/artifacts/"+child.ID+"?policy=reparent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d (%s)", rec.Code, rec.Body.String())
	}
	var res graph.DeleteResult
	decode(t, rec, &res)
	if len(res.Removed) != 1 || len(res.Reparented) != 1 || res.Reparented[0].ParentID() != root.ID {
		t.Errorf("delete result = %+v", res)
	}
	decode(t, s.do(t, http.MethodGet, base+"/artifacts/"+root.ID+"/children", nil), &list)
	if list.Total != 1 || list.Artifacts[0].ID != grandchild.ID {
		t.Errorf("children after reparent = %+v", list.Artifacts)
	}
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workspaces/ws-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type     string           `json:"type"`
		Artifact *domain.Artifact `json:"artifact"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "subscribed" {
		t.Fatalf("first frame = %+v, err %v", msg, err)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/artifacts", map[string]string{"locator": "https://img.example/a.png"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	var created domain.Artifact
	decode(t, rec, &created)

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != string(graph.EventRegistered) || msg.Artifact == nil || msg.Artifact.ID != created.ID {
		t.Errorf("event = %+v", msg)
	}
}
