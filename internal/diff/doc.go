// Package diff provides utilities for parsing unified diff format.
//
// A Patch maps repository-relative paths to their per-file hunks so the
// classification stage can answer two questions: is a given line part of an
// added range ("in_patch"), and what does the after-image of a given line
// look like (for hash stability under line-number drift).
package diff
