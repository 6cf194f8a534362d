package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relay-ci/revpipe/internal/classify"
)

// BuildRunSummary renders the human-readable summary.md persisted alongside
// a run's results (§6), reporting counts by analyzer and the run's wall
// clock duration in humanize's friendly form.
func BuildRunSummary(rc RunContext, issues []classify.Classified, started time.Time, finished time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rc.Repository.Slug)
	fmt.Fprintf(&b, "Revision: %s\n\n", rc.Revision.ProviderID)
	fmt.Fprintf(&b, "Diff: %s (review task %s)\n\n", rc.Diff.CommitHash, rc.Diff.ReviewTaskID)
	fmt.Fprintf(&b, "Started %s, took %s\n\n", humanize.Time(started), finished.Sub(started).Round(time.Second))

	counts := map[string]int{}
	publishable := 0
	for _, c := range issues {
		counts[c.Issue.Analyzer]++
		if c.Link.Publishable {
			publishable++
		}
	}

	analyzers := make([]string, 0, len(counts))
	for a := range counts {
		analyzers = append(analyzers, a)
	}
	sort.Strings(analyzers)

	b.WriteString("## Issues by analyzer\n\n")
	for _, a := range analyzers {
		fmt.Fprintf(&b, "- %s: %s\n", a, humanize.Comma(int64(counts[a])))
	}
	fmt.Fprintf(&b, "\n%s total, %s publishable.\n",
		humanize.Comma(int64(len(issues))), humanize.Comma(int64(publishable)))
	return b.String()
}
