package report

import (
	"context"
	"fmt"

	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/report/platform"
)

// PlatformReporter adapts a platform.Client into the Reporter interface:
// it checks the build's current state before posting anything, so a
// terminal (pass/fail) build short-circuits with ErrAlreadyPublished
// instead of re-commenting on a closed review per §4.4.
type PlatformReporter struct {
	Name   string
	Client platform.Client
}

func (r *PlatformReporter) Kind() string { return r.Name }

func (r *PlatformReporter) Report(ctx context.Context, rc RunContext, issues []classify.Classified) error {
	state, err := r.Client.BuildState(ctx, rc.Diff.ReviewTaskID)
	if err != nil {
		return fmt.Errorf("%s: build state: %w", r.Name, err)
	}
	if state.Terminal() {
		return ErrAlreadyPublished
	}

	views := make([]platform.IssueView, 0, len(issues))
	for _, c := range issues {
		views = append(views, platform.IssueView{
			Path:        c.Issue.Path,
			Line:        c.Issue.Line,
			Check:       c.Issue.Check,
			Analyzer:    c.Issue.Analyzer,
			Level:       c.Issue.Level,
			Message:     c.Issue.Message,
			Publishable: c.Link.Publishable,
		})
	}

	summary := platform.BuildSummary(views)
	if err := r.Client.PostSummary(ctx, rc.Diff.ReviewTaskID, summary); err != nil {
		return fmt.Errorf("%s: post summary: %w", r.Name, err)
	}

	findings := platform.Findings(views)
	if err := r.Client.PostFindings(ctx, rc.Diff.ReviewTaskID, findings); err != nil {
		return fmt.Errorf("%s: post findings: %w", r.Name, err)
	}

	return nil
}
