package parse

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/relay-ci/revpipe/internal/domain"
)

// mozlintRecord mirrors mozlint's JSON shape, accepting both `line`/`lineno`
// and `column`/`char` spellings per §9's Open Question. Line and Lineno use
// rawNumber rather than *int because a handful of legacy mozlint rules
// (e.g. some eslint wrappers) emit the line number as a quoted string; a
// plain *int field would make the whole artifact's json.Unmarshal fail on
// the first such record instead of just that record.
type mozlintRecord struct {
	Rule    string    `json:"rule"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Line    rawNumber `json:"line"`
	Lineno  rawNumber `json:"lineno"`
	Column  *int      `json:"column"`
	Char    *int      `json:"char"`
	Source  string    `json:"source"`
}

func (r mozlintRecord) position() legacyPosition {
	return legacyPosition{Line: r.Line.val, Lineno: r.Lineno.val, Column: r.Column, Char: r.Char}
}

// ParseMozlint parses mozlint's JSON artifact: an object keyed by relative
// path to an array of {rule, level, message, line, column, source}.
func ParseMozlint(taskID, taskName string, body []byte) Result {
	var doc map[string][]mozlintRecord
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{Diagnostics: []Diagnostic{{TaskID: taskID, Analyzer: "mozlint", Reason: fmt.Sprintf("malformed artifact: %v", err)}}}
	}

	var res Result
	for path, records := range doc {
		if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{TaskID: taskID, Analyzer: "mozlint", Reason: fmt.Sprintf("absolute path %q skipped", path)})
			continue
		}
		for _, rec := range records {
			line, _ := rec.position().normalize()
			if line != nil && *line < 1 {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{TaskID: taskID, Analyzer: "mozlint", Reason: fmt.Sprintf("invalid line %d for %s", *line, path)})
				continue
			}

			level := domain.LevelWarning
			if rec.Level == "error" {
				level = domain.LevelError
			}

			analyzer := "mozlint"
			if rec.Source != "" {
				analyzer = fmt.Sprintf("mozlint-%s", rec.Source)
			} else if taskName != "" {
				analyzer = strings.TrimPrefix(taskName, "source-test-")
			}

			issue := domain.RawIssue{
				Path:     path,
				Line:     line,
				NbLines:  1,
				Check:    rec.Rule,
				Analyzer: analyzer,
				Level:    level,
				Message:  rec.Message,
			}
			res.Issues = append(res.Issues, issue.Normalize())
		}
	}
	return res
}
