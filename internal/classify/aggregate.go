package classify

import (
	"fmt"
	"time"

	"github.com/relay-ci/revpipe/internal/diff"
	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/parse"
)

// TaskResult is one task's contribution to the task group: either a
// successful parse (Issues/Diagnostics) or a task-level failure (Err) that
// must become a synthetic pipeline issue rather than fail the run.
type TaskResult struct {
	TaskID      string
	Analyzer    string
	Issues      []domain.RawIssue
	Diagnostics []parse.Diagnostic
	Err         error // e.g. ingest.ErrArtifactNotFound, a parse boundary failure
}

// dedupKey is the identity used by invariant I4: collisions on
// (hash, path, line, analyzer, check) are the same observation.
type dedupKey struct {
	hash     string
	path     string
	line     int
	analyzer string
	check    string
}

// Aggregate classifies every task's issues (and synthesizes a pipeline
// issue for any task-level failure) against one diff's patch, then
// deduplicates by (hash, path, line, analyzer, check), preserving the
// earliest observation.
func Aggregate(results []TaskResult, repoSlug string, patch diff.Patch, priorHashes map[string]bool, now time.Time) []Classified {
	seen := make(map[dedupKey]int) // key -> index into out
	var out []Classified

	add := func(c Classified) {
		key := dedupKey{
			hash:     c.Issue.Hash,
			path:     c.Issue.Path,
			line:     lineKey(c.Issue.Line),
			analyzer: c.Issue.Analyzer,
			check:    c.Issue.Check,
		}
		if _, exists := seen[key]; exists {
			return // earliest observation wins
		}
		seen[key] = len(out)
		out = append(out, c)
	}

	for _, tr := range results {
		if tr.Err != nil {
			add(syntheticPipelineIssue(tr, repoSlug, now))
			continue
		}
		for _, raw := range tr.Issues {
			add(Classify(raw, repoSlug, patch, priorHashes, now))
		}
	}

	Sort(out)
	return out
}

// syntheticPipelineIssue lifts a task-level failure into an Issue with
// analyzer="pipeline" and level=error, which is always publishable per the
// §4.3/§7 error-handling design: task failures degrade gracefully instead
// of failing the whole run.
func syntheticPipelineIssue(tr TaskResult, repoSlug string, now time.Time) Classified {
	check := "artifact-missing"
	message := fmt.Sprintf("task %s (%s) failed: %v", tr.TaskID, tr.Analyzer, tr.Err)

	raw := domain.RawIssue{
		Path:     tr.Analyzer,
		Line:     nil,
		NbLines:  1,
		Check:    check,
		Analyzer: "pipeline",
		Level:    domain.LevelError,
		Message:  message,
	}.Normalize()

	hash := raw.Hash(repoSlug, "")
	issue := domain.Issue{
		Hash:      hash,
		Path:      raw.Path,
		Line:      nil,
		NbLines:   1,
		Check:     check,
		Analyzer:  "pipeline",
		Level:     domain.LevelError,
		Message:   message,
		CreatedAt: now,
	}
	link := domain.IssueLink{
		IssueHash:      hash,
		InPatch:        true,
		NewForRevision: true,
		Publishable:    true,
	}
	return Classified{Issue: issue, Link: link}
}
