package report

import (
	"context"
	"testing"
	"time"

	"github.com/relay-ci/revpipe/internal/backend/sqlite"
	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/domain"
)

func TestBackendReporter_PersistsDiffAndIssues(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := &BackendReporter{Store: store}
	rc := RunContext{
		Repository: domain.Repository{Slug: "mozilla-central", URL: "https://example.invalid", Kind: "hg"},
		Revision:   domain.Revision{ProviderID: "D1", ProviderName: domain.ProviderCodeReview, BaseRepository: "mozilla-central"},
		Diff: domain.Diff{
			CommitHash: "0123456789abcdef0123456789abcdef01234567", ReviewTaskID: "t1",
			BaseRevision: "base", Repository: "mozilla-central", CreatedAt: time.Now().UTC(),
		},
	}
	issues := []classify.Classified{
		{
			Issue: domain.Issue{Hash: "h1", Path: "a.js", Check: "no-var", Analyzer: "eslint", Level: domain.LevelError, Message: "m", CreatedAt: rc.Diff.CreatedAt},
			Link:  domain.IssueLink{IssueHash: "h1", InPatch: true, NewForRevision: true, Publishable: true},
		},
	}

	if err := r.Report(context.Background(), rc, issues); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	revs, err := store.ListRepositories(context.Background())
	if err != nil || len(revs) != 1 {
		t.Fatalf("ListRepositories() = %v, %v", revs, err)
	}
}

func TestBackendReporter_RetriedRunIsIdempotent(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := &BackendReporter{Store: store}
	rc := RunContext{
		Repository: domain.Repository{Slug: "mozilla-central", URL: "https://example.invalid", Kind: "hg"},
		Revision:   domain.Revision{ProviderID: "D1", ProviderName: domain.ProviderCodeReview, BaseRepository: "mozilla-central"},
		Diff: domain.Diff{
			CommitHash: "0123456789abcdef0123456789abcdef01234567", ReviewTaskID: "t1",
			BaseRevision: "base", Repository: "mozilla-central", CreatedAt: time.Now().UTC(),
		},
	}
	issues := []classify.Classified{
		{
			Issue: domain.Issue{Hash: "h1", Path: "a.js", Check: "no-var", Analyzer: "eslint", Level: domain.LevelError, Message: "m", CreatedAt: rc.Diff.CreatedAt},
			Link:  domain.IssueLink{IssueHash: "h1", InPatch: true, NewForRevision: true, Publishable: true},
		},
	}

	if err := r.Report(context.Background(), rc, issues); err != nil {
		t.Fatalf("Report() first call error = %v", err)
	}
	// A retried run against the same (RevisionID, ReviewTaskID) must
	// converge to the same state (P3), not error or double-insert.
	if err := r.Report(context.Background(), rc, issues); err != nil {
		t.Fatalf("Report() second (retried) call error = %v", err)
	}

	diffs, err := store.ListDiffsForRevision(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListDiffsForRevision() error = %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("ListDiffsForRevision() = %d diffs after a retried run, want 1", len(diffs))
	}
}

func TestCheckAlreadyPublished(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := &BackendReporter{Store: store}
	rc := RunContext{
		Repository: domain.Repository{Slug: "mc", URL: "u", Kind: "hg"},
		Revision:   domain.Revision{ProviderID: "D1", ProviderName: domain.ProviderCodeReview, BaseRepository: "mc"},
		Diff:       domain.Diff{CommitHash: "0123456789abcdef0123456789abcdef01234567", ReviewTaskID: "t1", BaseRevision: "b", Repository: "mc", CreatedAt: time.Now().UTC()},
	}
	issues := []classify.Classified{
		{Issue: domain.Issue{Hash: "h1", Path: "a.js", Analyzer: "eslint", Level: domain.LevelError, CreatedAt: rc.Diff.CreatedAt},
			Link: domain.IssueLink{IssueHash: "h1", Publishable: true}},
	}
	if err := r.Report(context.Background(), rc, issues); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	already, err := CheckAlreadyPublished(context.Background(), store, 1, issues)
	if err != nil {
		t.Fatalf("CheckAlreadyPublished() error = %v", err)
	}
	if !already {
		t.Error("CheckAlreadyPublished() = false, want true for an identical issue set")
	}

	extra := append(issues, classify.Classified{Issue: domain.Issue{Hash: "h2"}})
	already, err = CheckAlreadyPublished(context.Background(), store, 1, extra)
	if err != nil {
		t.Fatalf("CheckAlreadyPublished() error = %v", err)
	}
	if already {
		t.Error("CheckAlreadyPublished() = true for a larger issue set, want false")
	}
}
