// Package backend is the normalized system of record of §3: repositories,
// revisions, diffs, issues, and the issue<->diff link table, plus the
// read-only paginated HTTP surface that serves them. Store is implemented
// by both a sqlite driver (the default, matching the teacher's embedded
// store) and a postgres driver (production deployments), selected by
// config.BackendConfig.Driver.
package backend

import (
	"context"
	"time"

	"github.com/relay-ci/revpipe/internal/domain"
)

// Page is a generic paginated result envelope for the read-only API.
type Page[T any] struct {
	Items      []T
	TotalCount int
	NextOffset int
	HasMore    bool
}

// DiffFilter narrows GET /v1/diff/ per §6: Search matches a revision title,
// Repository matches a repository slug, and Issues filters by whether the
// diff has any issues at all or any publishable issue.
type DiffFilter struct {
	Search     string
	Repository string
	Issues     string // "", "no", "any", "publishable"
	Limit      int
	Offset     int
}

// CheckStat is one row of GET /v1/check/stats/.
type CheckStat struct {
	Repository string
	Analyzer   string
	Check      string
	Total      int
	Publishable int
}

// CheckHistoryPoint is one row of GET /v1/check/history/.
type CheckHistoryPoint struct {
	Date  time.Time
	Total int
}

// Store is the backend's persistence contract. Every write is idempotent
// by natural key so a retried reporter run converges to the same state
// (P3): UpsertRepository/UpsertRevision/CreateDiff create-or-return-identity,
// UpsertIssue inserts-by-hash with "conflict = keep", and UpsertIssueLink
// inserts-or-replaces the per-diff flags.
type Store interface {
	UpsertRepository(ctx context.Context, repo domain.Repository) error
	GetRepository(ctx context.Context, slug string) (domain.Repository, error)
	ListRepositories(ctx context.Context) ([]domain.Repository, error)

	// UpsertRevision returns the Revision's internal id, creating a row if
	// (ProviderID, ProviderName) is unseen, and updating Title/BugID
	// in place otherwise (ids are immutable, per the Revision lifecycle).
	UpsertRevision(ctx context.Context, rev domain.Revision) (int64, error)
	GetRevision(ctx context.Context, id int64) (domain.Revision, error)
	ListDiffsForRevision(ctx context.Context, revisionID int64) ([]domain.Diff, error)

	// CreateDiff is idempotent on (RevisionID, ReviewTaskID): a retried run
	// against the same review task returns the existing Diff's id rather
	// than inserting a duplicate row.
	CreateDiff(ctx context.Context, diff domain.Diff) (int64, error)
	GetDiff(ctx context.Context, id int64) (domain.Diff, error)
	ListDiffs(ctx context.Context, filter DiffFilter) (Page[domain.Diff], error)

	// UpsertIssue inserts an Issue by hash if absent; an existing row with
	// the same hash is left untouched (Issues are immutable once observed).
	UpsertIssue(ctx context.Context, issue domain.Issue) error
	GetIssue(ctx context.Context, hash string) (domain.Issue, error)
	ListIssuesForDiff(ctx context.Context, diffID int64, limit, offset int) (Page[domain.Issue], error)

	// UpsertIssueLink inserts an IssueLink for (issue, diff) or replaces its
	// flags if one already exists -- the "conflict = replace flags"
	// semantics the reporter contract requires for idempotent retries.
	UpsertIssueLink(ctx context.Context, link domain.IssueLink) error

	// PriorHashes returns every Issue hash linked to any other diff of the
	// same revision, used to compute new_for_revision. An empty/nil result
	// means no prior diff exists.
	PriorHashes(ctx context.Context, revisionID int64, excludeDiffID int64) (map[string]bool, error)

	// CheckIssues serves GET /v1/check/{repository}/{analyzer}/{check}/.
	CheckIssues(ctx context.Context, repository, analyzer, check string, publishableOnly bool) ([]domain.Issue, error)
	CheckStats(ctx context.Context, since time.Time) ([]CheckStat, error)
	CheckHistory(ctx context.Context, repository, analyzer, check string, since time.Time) ([]CheckHistoryPoint, error)

	Close() error
}

// ErrNotFound is returned by single-row Get methods when no row matches.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "backend: not found" }
