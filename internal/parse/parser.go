package parse

import (
	"github.com/relay-ci/revpipe/internal/domain"
)

// Result is a parser's output: zero or more issues, plus diagnostics for
// any record the parser had to skip.
type Result struct {
	Issues      []domain.RawIssue
	Diagnostics []Diagnostic
}

// Parser converts one task's artifact bytes into RawIssues. analyzer is the
// task name, used as the default domain.RawIssue.Analyzer for formats that
// don't declare their own.
type Parser func(taskID, analyzer string, body []byte) Result

// Parsers maps an AnalyzerKind string (as returned by DetectKind) to its
// Parser function -- the "dispatch table" of §4.2 and §9's tagged-variant
// design note. zero-coverage and default share the same JSON shape, so
// zero-coverage simply forces analyzer="zero-coverage".
var Parsers = map[string]Parser{
	"clang-tidy":    ParseClangTidy,
	"clang-format":  ParseClangFormat,
	"mozlint":       ParseMozlint,
	"default":       ParseDefault,
	"zero-coverage": ParseZeroCoverage,
}

// Parse dispatches body to the Parser registered for kind. An unknown kind
// (should not happen given DetectKind always resolves) falls back to the
// default format rather than erroring, keeping the boundary total.
func Parse(kind, taskID, analyzer string, body []byte) Result {
	p, ok := Parsers[kind]
	if !ok {
		p = ParseDefault
	}
	return p(taskID, analyzer, body)
}
