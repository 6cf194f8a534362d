// Package platform implements the code-review-platform reporter of §4.4: a
// summary comment with counts by analyzer/level, plus one inline finding
// per publishable issue. Two concrete Clients exist -- a code-review-style
// one (inline patch annotations, generalizing the teacher's GitHub PR
// review adapter) and a pull-request-style one (PR review comments) --
// selected by Revision.ProviderName per §9's Design Note, so the
// publishability rule stays shared while the payload formatting differs
// behind this interface.
package platform

import (
	"context"

	"github.com/relay-ci/revpipe/internal/domain"
)

// Finding is the platform-agnostic inline annotation payload of §4.4:
// {path, line, code=check, severity=level, name=analyzer, description=message}.
type Finding struct {
	Path        string
	Line        *int
	Code        string
	Severity    domain.Level
	Name        string
	Description string
}

// Summary is the counts-by-analyzer/level summary comment payload.
type Summary struct {
	CountsByAnalyzer map[string]LevelCounts
	TotalPublishable int
}

// LevelCounts tallies issues of each level for one analyzer.
type LevelCounts struct {
	Errors   int
	Warnings int
}

// BuildState mirrors the platform's own notion of whether a build object
// is still open for new comments.
type BuildState string

const (
	BuildOpen    BuildState = "open"
	BuildPass    BuildState = "pass"
	BuildFail    BuildState = "fail"
)

// Terminal reports whether no further comments may be posted to this build.
func (s BuildState) Terminal() bool {
	return s == BuildPass || s == BuildFail
}

// Client is the reporter-facing surface a concrete platform integration
// implements.
type Client interface {
	// BuildState fetches the current state of the build object associated
	// with reviewTaskID, so the caller can short-circuit on a terminal one.
	BuildState(ctx context.Context, reviewTaskID string) (BuildState, error)

	// PostSummary posts the summary comment.
	PostSummary(ctx context.Context, reviewTaskID string, summary Summary) error

	// PostFindings posts one inline annotation per Finding.
	PostFindings(ctx context.Context, reviewTaskID string, findings []Finding) error
}

// BuildSummary aggregates a classified issue set's publishable-relevant
// counts, used for the platform's summary comment. Per §8
// scenario 2, a suppressed (non-publishable) issue must leave the summary
// unchanged -- only publishable issues are tallied.
func BuildSummary(issues []IssueView) Summary {
	summary := Summary{CountsByAnalyzer: make(map[string]LevelCounts)}
	for _, iv := range issues {
		if !iv.Publishable {
			continue
		}
		counts := summary.CountsByAnalyzer[iv.Analyzer]
		if iv.Level == domain.LevelError {
			counts.Errors++
		} else {
			counts.Warnings++
		}
		summary.CountsByAnalyzer[iv.Analyzer] = counts
		summary.TotalPublishable++
	}
	return summary
}

// IssueView is the minimal shape Dispatch needs to build a Summary or a
// Finding list, decoupling this package from classify's Classified type.
type IssueView struct {
	Path        string
	Line        *int
	Check       string
	Analyzer    string
	Level       domain.Level
	Message     string
	Publishable bool
}

// Findings converts the publishable subset of issues into inline Finding
// payloads.
func Findings(issues []IssueView) []Finding {
	var out []Finding
	for _, iv := range issues {
		if !iv.Publishable {
			continue
		}
		out = append(out, Finding{
			Path:        iv.Path,
			Line:        iv.Line,
			Code:        iv.Check,
			Severity:    iv.Level,
			Name:        iv.Analyzer,
			Description: iv.Message,
		})
	}
	return out
}
