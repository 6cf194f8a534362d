package diff

import "strings"

// Patch is a parsed multi-file unified diff, keyed by the repository-relative
// path of the file on the after-image ("b/" side).
type Patch struct {
	files map[string]ParsedDiff
}

// ParsePatch splits a multi-file unified diff (as produced by `git diff` or
// an external patch-applier) into per-file hunks keyed by path.
//
// File boundaries are detected from "diff --git a/X b/Y" headers when
// present, falling back to "+++ b/Y" lines for patches without a git
// preamble (e.g. clang-format's raw unified-diff artifacts).
func ParsePatch(raw string) (Patch, error) {
	p := Patch{files: make(map[string]ParsedDiff)}
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}

	sections := splitByFile(raw)
	for path, body := range sections {
		parsed, err := Parse(body)
		if err != nil {
			return Patch{}, err
		}
		p.files[path] = parsed
	}
	return p, nil
}

// splitByFile partitions a multi-file patch into per-file bodies, each body
// containing the "@@" hunks (and their headers) that belong to that file.
func splitByFile(raw string) map[string]string {
	sections := make(map[string]string)
	lines := strings.Split(raw, "\n")

	var currentPath string
	var fromGit bool
	var buf strings.Builder

	flush := func() {
		if currentPath != "" {
			sections[currentPath] = buf.String()
		}
		buf.Reset()
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			currentPath = parseGitDiffHeader(line)
			fromGit = true
		case strings.HasPrefix(line, "+++ "):
			if !fromGit || currentPath == "" {
				flush()
				currentPath = parsePlusPlusPlus(line)
			}
			continue
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "index "):
			continue
		default:
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()

	return sections
}

func parseGitDiffHeader(line string) string {
	// "diff --git a/path/to/file b/path/to/file"
	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.HasPrefix(fields[i], "b/") {
			return strings.TrimPrefix(fields[i], "b/")
		}
	}
	return ""
}

func parsePlusPlusPlus(line string) string {
	path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
	path = strings.TrimPrefix(path, "b/")
	if path == "/dev/null" {
		return ""
	}
	if idx := strings.Index(path, "\t"); idx >= 0 {
		path = path[:idx]
	}
	return path
}

// Files returns the parsed per-file hunks keyed by repository-relative
// path, for callers (such as the clang-format parser) that need to walk
// every hunk rather than query a single path/line.
func (p Patch) Files() map[string]ParsedDiff {
	return p.files
}

// HasFile reports whether the patch touches path at all.
func (p Patch) HasFile(path string) bool {
	_, ok := p.files[path]
	return ok
}

// AddedLines returns the set of new-side line numbers added to path. Empty
// (and ok=false) if the patch does not touch the file.
func (p Patch) AddedLines(path string) (lines map[int]bool, ok bool) {
	pd, ok := p.files[path]
	if !ok {
		return nil, false
	}
	lines = make(map[int]bool)
	for _, hunk := range pd.Hunks {
		for _, l := range hunk.Lines {
			if l.Type == LineAddition && l.NewLine != nil {
				lines[*l.NewLine] = true
			}
		}
	}
	return lines, true
}

// SourceLine returns the trimmed after-image content of path at lineNumber,
// if that line appears anywhere in the file's hunks (context or addition).
func (p Patch) SourceLine(path string, lineNumber int) (string, bool) {
	pd, ok := p.files[path]
	if !ok {
		return "", false
	}
	for _, hunk := range pd.Hunks {
		for _, l := range hunk.Lines {
			if l.NewLine != nil && *l.NewLine == lineNumber && l.Type != LineDeletion {
				return strings.TrimSpace(l.Content), true
			}
		}
	}
	return "", false
}
