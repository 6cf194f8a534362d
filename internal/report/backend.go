package report

import (
	"context"
	"fmt"

	"github.com/relay-ci/revpipe/internal/backend"
	"github.com/relay-ci/revpipe/internal/classify"
)

// BackendReporter persists the run's outcome into the backend.Store. It is
// the mandatory, transactional reporter: create-or-identity for
// Repository/Revision/Diff, insert-by-hash (conflict=keep) for Issues, and
// insert-or-replace-flags for IssueLinks, so a retried run converges to the
// same state (P3) instead of double-publishing.
type BackendReporter struct {
	Store backend.Store
}

func (r *BackendReporter) Kind() string { return "backend" }

func (r *BackendReporter) Report(ctx context.Context, rc RunContext, issues []classify.Classified) error {
	if err := r.Store.UpsertRepository(ctx, rc.Repository); err != nil {
		return fmt.Errorf("backend: upsert repository: %w", err)
	}

	revisionID, err := r.Store.UpsertRevision(ctx, rc.Revision)
	if err != nil {
		return fmt.Errorf("backend: upsert revision: %w", err)
	}

	diff := rc.Diff
	diff.RevisionID = revisionID
	diffID, err := r.Store.CreateDiff(ctx, diff)
	if err != nil {
		return fmt.Errorf("backend: create diff: %w", err)
	}

	for _, c := range issues {
		if err := r.Store.UpsertIssue(ctx, c.Issue); err != nil {
			return fmt.Errorf("backend: upsert issue %s: %w", c.Issue.Hash, err)
		}

		link := c.Link
		link.DiffID = diffID
		link.RevisionID = revisionID
		if err := r.Store.UpsertIssueLink(ctx, link); err != nil {
			return fmt.Errorf("backend: upsert issue link %s: %w", c.Issue.Hash, err)
		}
	}

	return nil
}

// CheckAlreadyPublished implements the invariant I5 check for a diff that's
// already fully persisted: it compares the link set stored for diffID
// against the issues about to be written, for callers that want to skip
// redundant backend writes entirely rather than rely on ON CONFLICT no-ops.
// The orchestrator does not call it.
func CheckAlreadyPublished(ctx context.Context, store backend.Store, diffID int64, issues []classify.Classified) (bool, error) {
	page, err := store.ListIssuesForDiff(ctx, diffID, len(issues)+1, 0)
	if err != nil {
		return false, err
	}
	if len(page.Items) != len(issues) {
		return false, nil
	}
	want := make(map[string]bool, len(issues))
	for _, c := range issues {
		want[c.Issue.Hash] = true
	}
	for _, existing := range page.Items {
		if !want[existing.Hash] {
			return false, nil
		}
	}
	return true, nil
}
