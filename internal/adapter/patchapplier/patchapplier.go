// Package patchapplier is the default local implementation of the external
// patch-applier collaborator named in spec §1: given a repository clone and
// a revision/diff reference, it produces the unified patch and base
// revision the classification layer needs. It is a reference
// implementation, not part of the specified core -- a production
// deployment fetches the patch from wherever the code-review platform
// already staged it instead of cloning.
package patchapplier

import (
	"bytes"
	"context"
	"fmt"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	formatdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/relay-ci/revpipe/internal/diff"
)

// Applier resolves a patch against a local clone of a repository, by
// commit hash, grounded on the teacher's git.Engine (internal/adapter/git)
// generalized from a branch-diff request to a base/head commit pair.
type Applier struct {
	repoDir string
}

// NewApplier opens an applier rooted at repoDir, a path to an
// already-cloned working copy of the repository under review.
func NewApplier(repoDir string) *Applier {
	return &Applier{repoDir: repoDir}
}

// Result is the unified patch and base revision produced for one diff, the
// shape classify.Classify consumes via diff.ParsePatch.
type Result struct {
	Patch        diff.Patch
	BaseRevision string
}

// Apply computes the patch between baseCommit and headCommit and parses it
// into the classification layer's Patch representation.
func (a *Applier) Apply(ctx context.Context, baseCommit, headCommit string) (Result, error) {
	repo, err := goGit.PlainOpenWithOptions(a.repoDir, &goGit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Result{}, fmt.Errorf("patchapplier: open repo: %w", err)
	}

	base, err := resolveCommit(repo, baseCommit)
	if err != nil {
		return Result{}, fmt.Errorf("patchapplier: resolve base %s: %w", baseCommit, err)
	}
	head, err := resolveCommit(repo, headCommit)
	if err != nil {
		return Result{}, fmt.Errorf("patchapplier: resolve head %s: %w", headCommit, err)
	}

	gitPatch, err := base.Patch(head)
	if err != nil {
		return Result{}, fmt.Errorf("patchapplier: compute patch: %w", err)
	}

	raw, err := encodePatch(gitPatch)
	if err != nil {
		return Result{}, fmt.Errorf("patchapplier: encode patch: %w", err)
	}

	parsed, err := diff.ParsePatch(raw)
	if err != nil {
		return Result{}, fmt.Errorf("patchapplier: parse patch: %w", err)
	}

	return Result{Patch: parsed, BaseRevision: base.Hash.String()}, nil
}

func resolveCommit(repo *goGit.Repository, ref string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, err
	}
	return repo.CommitObject(*hash)
}

func encodePatch(p *object.Patch) (string, error) {
	var buf bytes.Buffer
	encoder := formatdiff.NewUnifiedEncoder(&buf, formatdiff.DefaultContextLines)
	if err := encoder.Encode(p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
