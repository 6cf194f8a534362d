package parse

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/relay-ci/revpipe/internal/domain"
)

// defaultRecord is one entry of the canonical default-format artifact: a
// JSON object keyed by repository-relative path to an array of issues.
type defaultRecord struct {
	Path     string `json:"path"`
	Line     *int   `json:"line"`
	NbLines  *int   `json:"nb_lines"`
	Column   int    `json:"column"`
	Check    string `json:"check"`
	Level    string `json:"level"`
	Message  string `json:"message"`
	Analyzer string `json:"analyzer"`
}

// ParseDefault parses the canonical default JSON format: an object keyed by
// relative path to an array of {path, line, nb_lines?, column, check?,
// level, message, analyzer?}. nb_lines defaults to 1, analyzer defaults to
// the task name, check defaults to analyzer.
func ParseDefault(taskID, taskName string, body []byte) Result {
	var doc map[string][]defaultRecord
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{Diagnostics: []Diagnostic{{TaskID: taskID, Analyzer: "default", Reason: fmt.Sprintf("malformed artifact: %v", err)}}}
	}

	var res Result
	for keyPath, records := range doc {
		for _, rec := range records {
			issue, reason := rec.toRawIssue(keyPath, taskName)
			if reason != "" {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{TaskID: taskID, Analyzer: "default", Reason: reason})
				continue
			}
			res.Issues = append(res.Issues, issue)
		}
	}
	return res
}

func (rec defaultRecord) toRawIssue(keyPath, taskName string) (domain.RawIssue, string) {
	path := rec.Path
	if path == "" {
		path = keyPath
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return domain.RawIssue{}, fmt.Sprintf("absolute path %q skipped", path)
	}

	if rec.Line != nil && *rec.Line < 1 {
		return domain.RawIssue{}, fmt.Sprintf("invalid line %d for %s", *rec.Line, path)
	}

	nbLines := 1
	if rec.NbLines != nil {
		if *rec.NbLines < 1 {
			return domain.RawIssue{}, fmt.Sprintf("invalid nb_lines %d for %s", *rec.NbLines, path)
		}
		nbLines = *rec.NbLines
	}

	analyzer := rec.Analyzer
	if analyzer == "" {
		analyzer = taskName
	}
	check := rec.Check
	if check == "" {
		check = analyzer
	}

	level := domain.Level(rec.Level)
	if level != domain.LevelError && level != domain.LevelWarning {
		level = domain.LevelWarning
	}

	issue := domain.RawIssue{
		Path:     path,
		Line:     rec.Line,
		NbLines:  nbLines,
		Check:    check,
		Analyzer: analyzer,
		Level:    level,
		Message:  rec.Message,
	}
	return issue.Normalize(), ""
}

// ParseZeroCoverage parses the synthetic zero-coverage analyzer's artifact,
// which shares the default format's shape but always forces
// analyzer="zero-coverage" and level=warning regardless of what the
// artifact declares, matching the supplemented feature's contract.
func ParseZeroCoverage(taskID, _ string, body []byte) Result {
	res := ParseDefault(taskID, "zero-coverage", body)
	for i := range res.Issues {
		res.Issues[i].Analyzer = "zero-coverage"
		res.Issues[i].Level = domain.LevelWarning
		if res.Issues[i].Check == "" {
			res.Issues[i].Check = "zero-coverage"
		}
	}
	for i := range res.Diagnostics {
		res.Diagnostics[i].Analyzer = "zero-coverage"
	}
	return res
}
