package parse

import (
	"encoding/json"
	"strconv"
)

// legacyPosition accepts the line/lineno/char/column synonyms some legacy
// analyzers mix into their artifacts (§9 Open Question) and normalizes them
// to (line, column). A field present under more than one name is resolved
// by preferring the first non-null value in declaration order below; an
// explicit zero counts as present.
type legacyPosition struct {
	Line   *int `json:"line"`
	Lineno *int `json:"lineno"`
	Column *int `json:"column"`
	Char   *int `json:"char"`
}

func (p legacyPosition) normalize() (line *int, column int) {
	switch {
	case p.Line != nil:
		line = p.Line
	case p.Lineno != nil:
		line = p.Lineno
	}
	switch {
	case p.Column != nil:
		column = *p.Column
	case p.Char != nil:
		column = *p.Char
	}
	return line, column
}

// rawNumber accepts a JSON field that may be encoded as either a number or
// a numeric string, which a couple of legacy mozlint rules do for `line`.
type rawNumber struct {
	val *int
}

func (n *rawNumber) UnmarshalJSON(data []byte) error {
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		n.val = &asInt
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		if asStr == "" {
			return nil
		}
		if parsed, err := strconv.Atoi(asStr); err == nil {
			n.val = &parsed
		}
		return nil
	}
	return nil // null or unparseable: leave val nil, caller treats as file-level
}
