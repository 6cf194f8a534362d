// Package report is the Reporting layer (§4.4): it dispatches a
// classified, sorted issue set to zero or more configured reporters. The
// backend reporter runs first and is transactional with the run; the rest
// are best-effort and idempotent, in configuration order.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/domain"
)

// ErrAlreadyPublished is returned by a platform reporter when the
// platform's build object is already terminal (pass/fail): per §4.4, a new
// build/comment must not be created, and the reporter short-circuits.
var ErrAlreadyPublished = errors.New("report: already published")

// RunContext is the identity of the diff being reported: which repository,
// revision, and diff this run's issues belong to.
type RunContext struct {
	Repository domain.Repository
	Revision   domain.Revision
	Diff       domain.Diff
}

// Reporter delivers a classified issue set to one sink.
type Reporter interface {
	Kind() string
	Report(ctx context.Context, rc RunContext, issues []classify.Classified) error
}

// Dispatch runs reporters in order, honoring §4.4's dispatch policy:
// a backend reporter failure is fatal and aborts the whole dispatch; a
// non-backend reporter failure is recorded and dispatch continues.
// Regardless of the order reporters were configured in, Dispatch moves the
// backend reporter to the front before running anything, since later
// reporters may consult backend-derived state (new_for_revision) on
// retries -- backend completion happens-before any external dispatch.
func Dispatch(ctx context.Context, reporters []Reporter, rc RunContext, issues []classify.Classified) (*Outcome, error) {
	reporters = backendFirst(reporters)
	outcome := &Outcome{}

	for _, r := range reporters {
		isBackend := r.Kind() == "backend"

		err := r.Report(ctx, rc, issues)
		if err == nil {
			outcome.Succeeded = append(outcome.Succeeded, r.Kind())
			continue
		}

		if errors.Is(err, ErrAlreadyPublished) {
			outcome.AlreadyPublished = append(outcome.AlreadyPublished, r.Kind())
			continue
		}

		if isBackend {
			return outcome, fmt.Errorf("backend reporter failed, run aborted: %w", err)
		}

		outcome.Failed = append(outcome.Failed, FailedReport{Kind: r.Kind(), Err: err})
	}

	return outcome, nil
}

// backendFirst returns reporters with any "backend"-kind reporter moved to
// index 0, preserving the relative order of everything else. Configuration
// order elsewhere in the slice is otherwise untouched.
func backendFirst(reporters []Reporter) []Reporter {
	backendIdx := -1
	for i, r := range reporters {
		if r.Kind() == "backend" {
			backendIdx = i
			break
		}
	}
	if backendIdx <= 0 {
		return reporters
	}

	ordered := make([]Reporter, 0, len(reporters))
	ordered = append(ordered, reporters[backendIdx])
	ordered = append(ordered, reporters[:backendIdx]...)
	ordered = append(ordered, reporters[backendIdx+1:]...)
	return ordered
}

// Outcome summarizes a dispatch run for logging/metrics.
type Outcome struct {
	Succeeded        []string
	AlreadyPublished []string
	Failed           []FailedReport
}

// FailedReport records one non-fatal reporter failure.
type FailedReport struct {
	Kind string
	Err  error
}

// PartialSuccess reports whether any non-backend reporter failed -- the
// run is still a "partial success" per §7's error taxonomy, not a failure.
func (o *Outcome) PartialSuccess() bool {
	return len(o.Failed) > 0
}
