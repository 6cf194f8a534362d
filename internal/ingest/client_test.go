package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/transport"
)

func fastRetry() transport.RetryConfig {
	return transport.RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func newTestClient(url string) *Client {
	c := NewClient(url, http.DefaultClient)
	c.Retry = fastRetry()
	return c
}

func TestClient_ListGroup_DedupesAndPaginates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("continuationToken") == "" {
			w.Write([]byte(`{"tasks":[{"status":{"taskId":"t1"}},{"status":{"taskId":"t2"}}],"continuationToken":"page2"}`))
			return
		}
		// t2 repeats across pages (a slow moving group snapshot); it must
		// not be double-counted, and the final page ends pagination.
		w.Write([]byte(`{"tasks":[{"status":{"taskId":"t2"}},{"status":{"taskId":"t3"}}],"continuationToken":""}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	refs, err := c.ListGroup(context.Background(), "grp-1")
	if err != nil {
		t.Fatalf("ListGroup() error = %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("ListGroup() = %d refs, want 3 deduplicated task refs, got %+v", len(refs), refs)
	}
	if calls != 2 {
		t.Fatalf("ListGroup() made %d requests, want 2 (one per page)", calls)
	}
	for _, ref := range refs {
		if ref.TaskGroupID != "grp-1" {
			t.Errorf("ListGroup() ref.TaskGroupID = %q, want grp-1", ref.TaskGroupID)
		}
	}
}

func TestClient_GetTask_MapsStateAndLatestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/task/task-1":
			w.Write([]byte(`{"metadata":{"name":"source-test-mozlint-eslint"},"tags":{"kind":"test"}}`))
		case r.URL.Path == "/task/task-1/status":
			w.Write([]byte(`{"status":{"state":"completed","runs":[{"runId":0},{"runId":1}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	rec, err := c.GetTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if rec.Name != "source-test-mozlint-eslint" {
		t.Errorf("GetTask() name = %q", rec.Name)
	}
	if rec.State != domain.TaskCompleted {
		t.Errorf("GetTask() state = %q, want completed", rec.State)
	}
	if !rec.State.Terminal() {
		t.Errorf("GetTask() completed state should be terminal")
	}
	if rec.RunID != 1 {
		t.Errorf("GetTask() run id = %d, want latest run (1)", rec.RunID)
	}
}

func TestClient_GetArtifact_NotFoundIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetArtifact(context.Background(), "task-1", 0, "public/code-review/issues.json")
	if err != ErrArtifactNotFound {
		t.Fatalf("GetArtifact() error = %v, want ErrArtifactNotFound", err)
	}
}

func TestClient_GetArtifact_PermissionErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetArtifact(context.Background(), "task-1", 0, "public/code-review/issues.json")
	var fatal *IngestFatal
	if err == nil {
		t.Fatal("GetArtifact() error = nil, want IngestFatal")
	}
	if ok := asFatal(err, &fatal); !ok {
		t.Fatalf("GetArtifact() error = %v, want an *IngestFatal", err)
	}
}

func asFatal(err error, out **IngestFatal) bool {
	if f, ok := err.(*IngestFatal); ok {
		*out = f
		return true
	}
	return false
}

func TestClient_GetArtifact_RetriesTransientThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"a.js":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	body, err := c.GetArtifact(context.Background(), "task-1", 0, "public/code-review/mozlint.json")
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if attempts < 3 {
		t.Errorf("GetArtifact() attempts = %d, want at least 3 (retried through transient 5xx)", attempts)
	}
	if string(body) != `{"a.js":[]}` {
		t.Errorf("GetArtifact() body = %q", body)
	}
}

func TestClient_GetArtifact_PermanentClientErrorNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetArtifact(context.Background(), "task-1", 0, "public/code-review/issues.json")
	if err == nil {
		t.Fatal("GetArtifact() error = nil, want a permanent transport error")
	}
	if attempts != 1 {
		t.Errorf("GetArtifact() attempts = %d, want exactly 1 (400 is not retried)", attempts)
	}
}
