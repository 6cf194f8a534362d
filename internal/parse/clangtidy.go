package parse

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/relay-ci/revpipe/internal/domain"
)

// clangTidyRecord mirrors clang-tidy's JSON artifact entries.
type clangTidyRecord struct {
	Path               string `json:"path"`
	Line               int    `json:"line"`
	Column             int    `json:"column"`
	Check              string `json:"check"`
	Header             string `json:"header"`
	Message            string `json:"message"`
	PublishableSource  bool   `json:"publishable_source"`
}

// ParseClangTidy parses a clang-tidy artifact: a JSON object keyed by
// relative path to an array of {path, line, column, check, header, message,
// publishable_source}. Records without publishable_source are still kept
// as Issues (publishability is the classification stage's job); the field
// only documents whether clang-tidy itself considers the underlying source
// line safe to quote, which has no bearing on the pipeline's own hashing.
func ParseClangTidy(taskID, _ string, body []byte) Result {
	var doc map[string][]clangTidyRecord
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{Diagnostics: []Diagnostic{{TaskID: taskID, Analyzer: "clang-tidy", Reason: fmt.Sprintf("malformed artifact: %v", err)}}}
	}

	var res Result
	for keyPath, records := range doc {
		for _, rec := range records {
			path := rec.Path
			if path == "" {
				path = keyPath
			}
			if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{TaskID: taskID, Analyzer: "clang-tidy", Reason: fmt.Sprintf("absolute path %q skipped", path)})
				continue
			}
			if rec.Line < 1 {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{TaskID: taskID, Analyzer: "clang-tidy", Reason: fmt.Sprintf("invalid line %d for %s", rec.Line, path)})
				continue
			}

			line := rec.Line
			issue := domain.RawIssue{
				Path:     path,
				Line:     &line,
				NbLines:  1,
				Check:    rec.Check,
				Analyzer: "clang-tidy",
				Level:    domain.LevelWarning,
				Message:  rec.Message,
				Body:     rec.Header,
			}
			res.Issues = append(res.Issues, issue.Normalize())
		}
	}
	return res
}
