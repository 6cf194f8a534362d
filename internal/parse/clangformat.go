package parse

import (
	"fmt"
	"strings"

	"github.com/relay-ci/revpipe/internal/diff"
	"github.com/relay-ci/revpipe/internal/domain"
)

// ParseClangFormat parses a clang-format unified-diff artifact. Each hunk
// becomes one RawIssue whose Check records its mode (replace, insert,
// delete) and whose Line/NbLines describe the after-image range the hunk
// touches, or nil when the hunk is a pure deletion with no new-side line.
func ParseClangFormat(taskID, _ string, body []byte) Result {
	patch, err := diff.ParsePatch(string(body))
	if err != nil {
		return Result{Diagnostics: []Diagnostic{{TaskID: taskID, Analyzer: "clang-format", Reason: fmt.Sprintf("malformed diff: %v", err)}}}
	}

	var res Result
	for path, pd := range patch.Files() {
		for _, hunk := range pd.Hunks {
			mode := hunkMode(hunk)

			var line *int
			nbLines := 1
			switch mode {
			case "delete":
				// no after-image line; the issue applies to the gap left
				// behind at the old start, so it is reported file-level.
				line = nil
			default:
				start := hunk.NewStart
				if start < 1 {
					start = 1
				}
				line = diff.IntPtr(start)
				if hunk.NewLines > 0 {
					nbLines = hunk.NewLines
				}
			}

			issue := domain.RawIssue{
				Path:     path,
				Line:     line,
				NbLines:  nbLines,
				Check:    mode,
				Analyzer: "clang-format",
				Level:    domain.LevelWarning,
				Message:  formatMessage(mode, path, hunk),
			}
			res.Issues = append(res.Issues, issue.Normalize())
		}
	}
	return res
}

// hunkMode classifies a hunk by comparing its old/new line counts: a hunk
// with only additions is an insert, only deletions is a delete, and any mix
// is a replace.
func hunkMode(hunk diff.Hunk) string {
	switch {
	case hunk.OldLines == 0 && hunk.NewLines > 0:
		return "insert"
	case hunk.NewLines == 0 && hunk.OldLines > 0:
		return "delete"
	default:
		return "replace"
	}
}

func formatMessage(mode, path string, hunk diff.Hunk) string {
	var b strings.Builder
	b.WriteString("clang-format would ")
	b.WriteString(mode)
	fmt.Fprintf(&b, " lines %d-%d in %s", hunk.OldStart, hunk.OldStart+maxInt(hunk.OldLines-1, 0), path)
	return b.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
