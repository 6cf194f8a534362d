// Package classify is the Classification & Aggregation layer (§4.3): it
// enriches a RawIssue into a domain.Issue plus per-diff IssueLink flags
// (in_patch, new_for_revision, publishable), computes the stable hash, and
// aggregates a whole task group's issues with dedup and synthetic pipeline
// issues for task-level failures.
package classify

import (
	"sort"
	"time"

	"github.com/relay-ci/revpipe/internal/diff"
	"github.com/relay-ci/revpipe/internal/domain"
)

// Classified bundles a domain.Issue with the per-diff link flags computed
// for one specific diff/revision.
type Classified struct {
	Issue domain.Issue
	Link  domain.IssueLink
}

// Classify enriches one RawIssue against the current diff's patch and the
// set of hashes previously observed on prior diffs of the same revision.
// priorHashes is nil (or empty) when no prior diff exists, in which case
// every issue is new_for_revision by definition.
func Classify(raw domain.RawIssue, repoSlug string, patch diff.Patch, priorHashes map[string]bool, now time.Time) Classified {
	raw = raw.Normalize()

	inPatch := inPatch(raw, patch)

	sourceLine := ""
	if raw.Line != nil {
		sourceLine, _ = patch.SourceLine(raw.Path, *raw.Line)
	}
	hash := raw.Hash(repoSlug, sourceLine)

	newForRevision := true
	if len(priorHashes) > 0 {
		newForRevision = !priorHashes[hash]
	}

	publishable := domain.Publishable(raw.Level, inPatch, newForRevision)

	issue := domain.Issue{
		Hash:      hash,
		Path:      raw.Path,
		Line:      raw.Line,
		NbLines:   raw.NbLines,
		Check:     raw.Check,
		Analyzer:  raw.Analyzer,
		Level:     raw.Level,
		Message:   raw.Message,
		Body:      raw.Body,
		CreatedAt: now,
	}
	link := domain.IssueLink{
		IssueHash:      hash,
		InPatch:        inPatch,
		NewForRevision: newForRevision,
		Publishable:    publishable,
	}

	return Classified{Issue: issue, Link: link}
}

// inPatch implements the §4.3 in_patch rule: file-level issues (Line==nil)
// are in_patch iff the file is touched at all; line-level issues are
// in_patch iff any line in [Line, Line+NbLines-1] is an added line.
func inPatch(raw domain.RawIssue, patch diff.Patch) bool {
	if raw.Line == nil {
		return patch.HasFile(raw.Path)
	}

	added, ok := patch.AddedLines(raw.Path)
	if !ok {
		return false
	}
	start := *raw.Line
	for l := start; l < start+raw.NbLines; l++ {
		if added[l] {
			return true
		}
	}
	return false
}

// Sort orders a slice of Classified deterministically by
// (path, line, analyzer, check, hash), per P4.
func Sort(items []Classified) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Issue, items[j].Issue
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		al, bl := lineKey(a.Line), lineKey(b.Line)
		if al != bl {
			return al < bl
		}
		if a.Analyzer != b.Analyzer {
			return a.Analyzer < b.Analyzer
		}
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		return a.Hash < b.Hash
	})
}

// lineKey maps a nullable line to a sortable int, with file-level issues
// (nil) sorting before any specific line.
func lineKey(l *int) int {
	if l == nil {
		return -1
	}
	return *l
}
