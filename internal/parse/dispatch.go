// Package parse is the Analyzer Parsing layer (§4.2): it converts a CI
// task's declared artifact into a list of domain.RawIssue records. The
// parser is chosen by a dispatch table keyed on task-name prefix, with a
// fallback to the artifact path when the prefix is ambiguous. A parser must
// never panic or return an error across the artifact boundary -- malformed
// records are skipped and reported as Diagnostics instead (P5).
package parse

import "strings"

// Diagnostic is a non-fatal parsing problem: a record was skipped because
// it was malformed, not because the whole artifact failed.
type Diagnostic struct {
	TaskID  string
	Analyzer string
	Reason  string
}

// prefixTable maps a task-name prefix to the AnalyzerKind handling it. New
// analyzers are added here under KindDefault; legacy formats keep their own
// dedicated entry. Order matters: longer/more specific prefixes are checked
// first.
var prefixTable = []struct {
	prefix string
	kind   string
}{
	{"source-test-clang-tidy", "clang-tidy"},
	{"source-test-clang-format", "clang-format"},
	{"source-test-mozlint", "mozlint"},
	{"source-test-coverage", "zero-coverage"},
}

// pathTable is consulted when the task name doesn't match any known prefix
// but the declared artifact path carries a recognizable analyzer-specific
// suffix (used by legacy tasks renamed without updating their artifact
// layout).
var pathTable = []struct {
	suffix string
	kind   string
}{
	{"clang-tidy.json", "clang-tidy"},
	{"clang-format.diff", "clang-format"},
	{"mozlint.json", "mozlint"},
}

// DetectKind resolves the AnalyzerKind for a task, by name prefix first and
// artifact path second. It always resolves: an unrecognized task falls
// through to the default JSON format, since "new analyzers use the default
// format only" (§4.2).
func DetectKind(taskName, artifactPath string) string {
	for _, e := range prefixTable {
		if strings.HasPrefix(taskName, e.prefix) {
			return e.kind
		}
	}
	for _, e := range pathTable {
		if strings.HasSuffix(artifactPath, e.suffix) {
			return e.kind
		}
	}
	return "default"
}

// DefaultArtifactPath returns the conventional artifact path for a detected
// kind, used by the ingestion layer's ArtifactPathFor when the task
// metadata doesn't declare one explicitly.
func DefaultArtifactPath(taskName string) (path string, ok bool) {
	switch DetectKind(taskName, "") {
	case "clang-tidy":
		return "public/code-review/clang-tidy.json", true
	case "clang-format":
		return "public/code-review/clang-format.diff", true
	case "mozlint":
		return "public/code-review/mozlint.json", true
	case "zero-coverage":
		return "public/code-review/zero-coverage.json", true
	default:
		return "public/code-review/issues.json", true
	}
}
