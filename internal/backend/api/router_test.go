package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relay-ci/revpipe/internal/backend/api"
	"github.com/relay-ci/revpipe/internal/backend/sqlite"
	"github.com/relay-ci/revpipe/internal/domain"
)

func seededStore(t *testing.T) (*sqlite.Store, int64, int64) {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := t.Context()
	repo := domain.Repository{Slug: "mozilla-central", URL: "https://example.invalid", Kind: "hg"}
	if err := s.UpsertRepository(ctx, repo); err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}
	revID, err := s.UpsertRevision(ctx, domain.Revision{
		ProviderID: "D1", ProviderName: domain.ProviderCodeReview,
		Title: "Bug 1: fix", BaseRepository: repo.Slug,
	})
	if err != nil {
		t.Fatalf("UpsertRevision() error = %v", err)
	}
	diffID, err := s.CreateDiff(ctx, domain.Diff{
		RevisionID: revID, CommitHash: "0123456789abcdef0123456789abcdef01234567",
		ReviewTaskID: "t1", BaseRevision: "base", Repository: repo.Slug,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateDiff() error = %v", err)
	}
	if err := s.UpsertIssue(ctx, domain.Issue{
		Hash: "h1", Path: "a.js", Check: "no-var", Analyzer: "eslint",
		Level: domain.LevelError, Message: "Unexpected var.", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertIssue() error = %v", err)
	}
	if err := s.UpsertIssueLink(ctx, domain.IssueLink{
		IssueHash: "h1", DiffID: diffID, RevisionID: revID,
		InPatch: true, NewForRevision: true, Publishable: true,
	}); err != nil {
		t.Fatalf("UpsertIssueLink() error = %v", err)
	}
	return s, revID, diffID
}

func TestRouter_ListRepositories(t *testing.T) {
	store, _, _ := seededStore(t)
	srv := httptest.NewServer(api.NewRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/repository/")
	if err != nil {
		t.Fatalf("GET /v1/repository/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/repository/ status = %d, want 200", resp.StatusCode)
	}
	var repos []domain.Repository
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(repos) != 1 || repos[0].Slug != "mozilla-central" {
		t.Fatalf("GET /v1/repository/ = %+v, want one mozilla-central repo", repos)
	}
}

func TestRouter_GetDiff_IncludesIssuesURL(t *testing.T) {
	store, _, diffID := seededStore(t)
	srv := httptest.NewServer(api.NewRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/diff/1/")
	if err != nil {
		t.Fatalf("GET /v1/diff/{id}/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/diff/{id}/ status = %d, want 200", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	wantURL := "/v1/diff/1/issues/"
	if body["issues_url"] != wantURL {
		t.Errorf("GET /v1/diff/{id}/ issues_url = %v, want %q", body["issues_url"], wantURL)
	}
	_ = diffID
}

func TestRouter_GetDiff_NotFound(t *testing.T) {
	store, _, _ := seededStore(t)
	srv := httptest.NewServer(api.NewRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/diff/999/")
	if err != nil {
		t.Fatalf("GET /v1/diff/999/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /v1/diff/999/ status = %d, want 404", resp.StatusCode)
	}
}

func TestRouter_ListDiffIssues(t *testing.T) {
	store, _, diffID := seededStore(t)
	srv := httptest.NewServer(api.NewRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/diff/1/issues/")
	if err != nil {
		t.Fatalf("GET /v1/diff/{id}/issues/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/diff/{id}/issues/ status = %d, want 200", resp.StatusCode)
	}
	var page struct {
		Items      []domain.Issue
		TotalCount int
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.TotalCount != 1 || len(page.Items) != 1 {
		t.Fatalf("GET /v1/diff/{id}/issues/ = %+v, want 1 issue", page)
	}
	_ = diffID
}

func TestRouter_CheckStats(t *testing.T) {
	store, _, _ := seededStore(t)
	srv := httptest.NewServer(api.NewRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/check/stats/?since=2000-01-01")
	if err != nil {
		t.Fatalf("GET /v1/check/stats/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/check/stats/ status = %d, want 200", resp.StatusCode)
	}
	var stats []struct {
		Repository  string
		Analyzer    string
		Check       string
		Total       int
		Publishable int
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(stats) != 1 || stats[0].Total != 1 || stats[0].Publishable != 1 {
		t.Fatalf("GET /v1/check/stats/ = %+v, want one row total=1 publishable=1", stats)
	}
}

func TestRouter_GetRevision_InvalidIDIsBadRequest(t *testing.T) {
	store, _, _ := seededStore(t)
	srv := httptest.NewServer(api.NewRouter(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/revision/not-a-number/")
	if err != nil {
		t.Fatalf("GET /v1/revision/{id}/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("GET /v1/revision/not-a-number/ status = %d, want 400", resp.StatusCode)
	}
}
