package classify

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// BaselineRefine implements the before/after baseline ingestion supplement
// (§9 Open Question, driven by config.BeforeAfterRatio): when the pipeline
// also ingested a prior "before" pass, an issue whose hash differs from
// every prior hash but whose message text is identical (ignoring
// whitespace) to a prior issue's on the same (path, analyzer, check) is not a
// genuinely new issue -- it is the same finding with metadata drift in the
// surrounding hash components (e.g. an analyzer version bump perturbing its
// own header text). Such issues are demoted to NewForRevision=false.
//
// This pass is strictly best-effort: it never widens publishability (an
// issue already new_for_revision=false stays that way), and a missing or
// empty baseline set is a no-op.
func BaselineRefine(current []Classified, baseline []Classified) []Classified {
	if len(baseline) == 0 {
		return current
	}

	byKey := make(map[string][]Classified)
	for _, b := range baseline {
		k := baselineKey(b.Issue.Path, b.Issue.Analyzer, b.Issue.Check)
		byKey[k] = append(byKey[k], b)
	}

	dmp := diffmatchpatch.New()

	out := make([]Classified, len(current))
	copy(out, current)

	for i, c := range out {
		if !c.Link.NewForRevision {
			continue // already not new; baseline refinement only narrows, never widens
		}
		candidates := byKey[baselineKey(c.Issue.Path, c.Issue.Analyzer, c.Issue.Check)]
		for _, cand := range candidates {
			if textuallyIdentical(dmp, c.Issue.Message, cand.Issue.Message) {
				out[i].Link.NewForRevision = false
				out[i].Link.Publishable = out[i].Issue.Level == "error" || (out[i].Link.InPatch && out[i].Link.NewForRevision)
				break
			}
		}
	}

	return out
}

func baselineKey(path, analyzer, check string) string {
	return path + "\x1f" + analyzer + "\x1f" + check
}

// textuallyIdentical reports whether a and b differ only in whitespace, as
// measured by a char-level diff with whitespace-only edits discounted.
func textuallyIdentical(dmp *diffmatchpatch.DiffMatchPatch, a, b string) bool {
	if a == b {
		return true
	}
	diffs := dmp.DiffMain(a, b, false)
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		if strings.TrimSpace(d.Text) != "" {
			return false
		}
	}
	return true
}
