package report

import (
	"context"

	"github.com/relay-ci/revpipe/internal/classify"
)

// SkipReporter wraps another Reporter and withholds issues from analyzers
// named in Skip (the `analyzers_skipped` field of a reporters: [...] config
// entry, §6), so a single noisy analyzer can be muted on one reporter
// without affecting the backend's record of it.
type SkipReporter struct {
	Reporter Reporter
	Skip     []string
}

func (r *SkipReporter) Kind() string { return r.Reporter.Kind() }

func (r *SkipReporter) Report(ctx context.Context, rc RunContext, issues []classify.Classified) error {
	if len(r.Skip) == 0 {
		return r.Reporter.Report(ctx, rc, issues)
	}
	skip := make(map[string]bool, len(r.Skip))
	for _, a := range r.Skip {
		skip[a] = true
	}
	filtered := make([]classify.Classified, 0, len(issues))
	for _, c := range issues {
		if skip[c.Issue.Analyzer] {
			continue
		}
		filtered = append(filtered, c)
	}
	return r.Reporter.Report(ctx, rc, filtered)
}
