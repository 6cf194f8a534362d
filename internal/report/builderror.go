package report

import (
	"context"
	"fmt"

	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/domain"
)

// BuildErrorReporter sends an extra email to the revision's author when
// any level=error issue with analyzer="pipeline" is present, per §4.4 --
// the synthetic issue created for a task that itself failed, rather than
// one reported by an analyzer.
type BuildErrorReporter struct {
	Mailer Mailer
}

func (r *BuildErrorReporter) Kind() string { return "build_error" }

func (r *BuildErrorReporter) Report(ctx context.Context, rc RunContext, issues []classify.Classified) error {
	var failures []classify.Classified
	for _, c := range issues {
		if c.Issue.Analyzer == string(domain.KindPipeline) && c.Issue.Level == domain.LevelError {
			failures = append(failures, c)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	if rc.Revision.Author == "" {
		return nil
	}

	subject := fmt.Sprintf("[%s] build failed for %s", rc.Repository.Slug, rc.Revision.ProviderID)
	body := BuildDigest(rc, failures)
	if err := r.Mailer.Send(ctx, []string{rc.Revision.Author}, subject, body); err != nil {
		return fmt.Errorf("build_error: send: %w", err)
	}
	return nil
}
