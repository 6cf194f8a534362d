package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relay-ci/revpipe/internal/adapter/patchapplier"
	"github.com/relay-ci/revpipe/internal/backend"
	"github.com/relay-ci/revpipe/internal/backend/sqlite"
	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/diff"
	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/ingest"
	"github.com/relay-ci/revpipe/internal/report"
)

// fakeCIServer serves the task-group/task/artifact endpoints for exactly
// one mozlint task, matching scenario 1 of §8: a single mozlint error
// inside the patch.
func fakeCIServer(t *testing.T) *httptest.Server {
	t.Helper()
	artifact := []byte(`{"src/a.js":[{"path":"src/a.js","line":10,"column":1,"rule":"no-var","level":"error","message":"Unexpected var."}]}`)

	mux := http.NewServeMux()
	mux.HandleFunc("/task-group/grp-1/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tasks":[{"status":{"taskId":"task-1"}}],"continuationToken":""}`))
	})
	mux.HandleFunc("/task/task-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"metadata":{"name":"source-test-mozlint-eslint"},"tags":{}}`))
	})
	mux.HandleFunc("/task/task-1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":{"state":"completed","runs":[{"runId":0}]}}`))
	})
	mux.HandleFunc("/task/task-1/runs/0/artifacts/public/code-review/mozlint.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write(artifact)
	})
	return httptest.NewServer(mux)
}

const samplePatchBody = `--- a/src/a.js
+++ b/src/a.js
@@ -6,4 +6,9 @@
 context line 6
 context line 7
+added line 8
+added line 9
+added line 10
+added line 11
+added line 12
 context line 13
 context line 14
`

type fakePatchApplier struct{}

func (fakePatchApplier) Apply(ctx context.Context, baseCommit, headCommit string) (patchapplier.Result, error) {
	p, err := diff.ParsePatch(samplePatchBody)
	if err != nil {
		return patchapplier.Result{}, err
	}
	return patchapplier.Result{Patch: p, BaseRevision: baseCommit}, nil
}

func testRequest() RunRequest {
	return RunRequest{
		TaskGroupID:  "grp-1",
		ReviewTaskID: "review-1",
		Repository:   domain.Repository{Slug: "mozilla-central", URL: "https://example.invalid", Kind: "hg"},
		Revision: domain.Revision{
			ProviderID: "D123", ProviderName: domain.ProviderCodeReview,
			BaseRepository: "mozilla-central",
		},
		BaseCommit: "deadbeef",
		HeadCommit: "0123456789abcdef0123456789abcdef01234567",
	}
}

type countingReporter struct {
	kind  string
	calls int
	err   error
}

func (r *countingReporter) Kind() string { return r.kind }
func (r *countingReporter) Report(ctx context.Context, rc report.RunContext, issues []classify.Classified) error {
	r.calls++
	return r.err
}

func newTestOrchestrator(t *testing.T, srvURL string, store backend.Store, reporters []report.Reporter) *Orchestrator {
	t.Helper()
	client := ingest.NewClient(srvURL, http.DefaultClient)
	return New(Deps{
		Ingest:       client,
		PatchApplier: fakePatchApplier{},
		Store:        store,
		Reporters:    reporters,
		OutputDir:    t.TempDir(),
		Deadline:     5 * time.Second,
	})
}

func newTestStore(t *testing.T) backend.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err, "opening the in-memory store must not fail")
	t.Cleanup(func() { store.Close() })
	return store
}

// Scenario 1 (§8): single mozlint error in the patch ends up as one
// publishable issue, and is handed to the backend reporter.
func TestOrchestrator_Run_SingleMozlintErrorInPatch(t *testing.T) {
	srv := fakeCIServer(t)
	defer srv.Close()

	store := newTestStore(t)
	backendReporter := &report.BackendReporter{Store: store}
	o := newTestOrchestrator(t, srv.URL, store, []report.Reporter{backendReporter})

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err, "Run must succeed against a well-formed mozlint artifact")
	require.Len(t, result.Issues, 1, "a single mozlint record must produce a single issue")

	issue := result.Issues[0]
	assert.Equal(t, "src/a.js", issue.Issue.Path)
	require.NotNil(t, issue.Issue.Line)
	assert.Equal(t, 10, *issue.Issue.Line)
	assert.True(t, issue.Link.Publishable, "an error-level issue must always be publishable")

	page, err := store.ListIssuesForDiff(context.Background(), result.DiffID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount, "the backend must link exactly one issue to the diff")
}

// P3/scenario 5 (§8): running the same (task_group_id, review_task_id)
// twice converges to the same backend state and does not double-insert a
// diff row.
func TestOrchestrator_Run_RetryIsIdempotent(t *testing.T) {
	srv := fakeCIServer(t)
	defer srv.Close()

	store := newTestStore(t)
	backendReporter := &report.BackendReporter{Store: store}
	o := newTestOrchestrator(t, srv.URL, store, []report.Reporter{backendReporter})

	req := testRequest()
	first, err := o.Run(context.Background(), req)
	require.NoError(t, err, "the first run must succeed")
	second, err := o.Run(context.Background(), req)
	require.NoError(t, err, "a retried run for the same review task must also succeed")

	assert.Equal(t, first.DiffID, second.DiffID, "a retried run must not mint a new diff id")

	diffs, err := store.ListDiffsForRevision(context.Background(), first.RevisionID)
	require.NoError(t, err)
	assert.Len(t, diffs, 1, "a retried run must not leave a duplicate diff row")
}

// §4.4 dispatch order: a non-backend reporter failure does not fail the run
// or stop the backend reporter from having already committed.
func TestOrchestrator_Run_NonBackendReporterFailureIsNonFatal(t *testing.T) {
	srv := fakeCIServer(t)
	defer srv.Close()

	store := newTestStore(t)
	backendReporter := &report.BackendReporter{Store: store}
	flaky := &countingReporter{kind: "email", err: errTestReporterFailure}
	o := newTestOrchestrator(t, srv.URL, store, []report.Reporter{backendReporter, flaky})

	result, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err, "a failing non-backend reporter must not fail the run")
	assert.Equal(t, 1, flaky.calls)
	assert.True(t, result.Outcome.PartialSuccess(), "the outcome must reflect the email reporter's failure")
}

var errTestReporterFailure = &reporterTestError{"smtp unavailable"}

type reporterTestError struct{ msg string }

func (e *reporterTestError) Error() string { return e.msg }
