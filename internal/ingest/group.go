package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/relay-ci/revpipe/internal/domain"
)

// TaskArtifact pairs a task's record with the raw bytes of the artifact
// path that its analyzer family declares (resolved by the caller, which
// knows the per-analyzer artifact path convention).
type TaskArtifact struct {
	Task     domain.TaskRecord
	Path     string
	Body     []byte
	Err      error // non-nil on a per-task fetch failure (artifact missing, parse boundary, etc.)
}

// ArtifactPathFor resolves the declared artifact path for a task, keyed by
// its name. Callers needing a non-default mapping can ignore this and
// resolve paths themselves before calling FetchGroup.
type ArtifactPathFor func(task domain.TaskRecord) (path string, ok bool)

// FetchGroup enumerates task-group membership and fetches each terminal
// task's declared artifact, bounded to `concurrency` concurrent fetches
// (default 8 per §4.1). Non-terminal tasks are skipped. A task that failed
// but still has a declared artifact is processed like any other task --
// the analyzer-parsing stage decides what to make of a failed-task issue
// list.
func (c *Client) FetchGroup(ctx context.Context, taskGroupID string, concurrency int, pathFor ArtifactPathFor) ([]TaskArtifact, error) {
	if concurrency <= 0 {
		concurrency = 8
	}

	refs, err := c.ListGroup(ctx, taskGroupID)
	if err != nil {
		return nil, err
	}

	results := make([]TaskArtifact, len(refs))
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, ref := range refs {
		i, ref := i, ref
		if err := sem.Acquire(gctx, 1); err != nil {
			// context canceled/deadline exceeded: stop launching new work,
			// but let already-started fetches finish cooperatively below.
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = c.fetchOne(gctx, ref, pathFor)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []TaskArtifact
	for _, r := range results {
		if r.Task.TaskID != "" || r.Err != nil {
			out = append(out, r)
		}
	}
	return out, ctx.Err()
}

func (c *Client) fetchOne(ctx context.Context, ref domain.TaskRef, pathFor ArtifactPathFor) TaskArtifact {
	task, err := c.GetTask(ctx, ref.TaskID)
	if err != nil {
		return TaskArtifact{Task: domain.TaskRecord{TaskID: ref.TaskID}, Err: err}
	}

	if !task.State.Terminal() {
		return TaskArtifact{} // skipped: non-terminal
	}

	path, ok := pathFor(task)
	if !ok {
		return TaskArtifact{Task: task} // no artifact declared for this task's family
	}

	body, err := c.GetArtifact(ctx, ref.TaskID, task.RunID, path)
	if err != nil {
		return TaskArtifact{Task: task, Path: path, Err: err}
	}
	return TaskArtifact{Task: task, Path: path, Body: body}
}
