// Package orchestrator ties the four core layers (ingest, parse, classify,
// report) into a single run: it processes one (task_group_id,
// review_task_id) end-to-end, per §5's scheduling model. Multiple runs may
// execute concurrently in the same process; each Run call owns its own
// state and shares nothing mutable with any other run.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relay-ci/revpipe/internal/adapter/patchapplier"
	"github.com/relay-ci/revpipe/internal/backend"
	"github.com/relay-ci/revpipe/internal/backend/lock"
	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/diff"
	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/ingest"
	"github.com/relay-ci/revpipe/internal/observability"
	"github.com/relay-ci/revpipe/internal/parse"
	"github.com/relay-ci/revpipe/internal/report"
)

// PatchApplier resolves the unified patch and base revision for a diff,
// the pipeline's external patch-applier collaborator (spec §1). The
// default implementation is internal/adapter/patchapplier.Applier.
type PatchApplier interface {
	Apply(ctx context.Context, baseCommit, headCommit string) (patchapplier.Result, error)
}

// RunRequest identifies the build under review: the CI task-group to
// ingest, the repository and revision it belongs to, and the commit pair
// the patch applier resolves into a unified diff.
type RunRequest struct {
	TaskGroupID  string
	ReviewTaskID string
	Repository   domain.Repository
	Revision     domain.Revision
	BaseCommit   string
	HeadCommit   string

	// BaselineTaskGroupID, when non-empty, is a prior "before" build's task
	// group, ingested and parsed the same way as the primary group to
	// refine new_for_revision per the before/after baseline supplement.
	BaselineTaskGroupID string
}

// Result captures one run's outcome for the caller (harness/daemon).
type Result struct {
	RunID      string
	DiffID     int64
	RevisionID int64
	Issues     []classify.Classified
	Outcome    *report.Outcome
}

// Deps bundles Run's collaborators, mirroring the teacher's
// OrchestratorDeps dependency-injection shape.
type Deps struct {
	Ingest       *ingest.Client
	PatchApplier PatchApplier
	Store        backend.Store
	Reporters    []report.Reporter
	Lock         *lock.RevisionLock // optional: nil disables distributed locking

	Logger     *zap.Logger
	Metrics    *observability.Metrics
	AppChannel string

	Concurrency         int  // bounded-parallel artifact fetch, default 8
	ZeroCoverageEnabled bool // gates the synthetic zero-coverage analyzer
	BeforeAfterRatio    float64
	Deadline            time.Duration // wall-clock run deadline, default 2h

	OutputDir string // persisted artifacts root, default /tmp/results
}

// Orchestrator runs the pipeline for one build at a time (per call to Run).
type Orchestrator struct {
	deps Deps
}

// New wires an Orchestrator. Zero-valued optional fields take their
// documented defaults.
func New(deps Deps) *Orchestrator {
	if deps.Concurrency <= 0 {
		deps.Concurrency = 8
	}
	if deps.Deadline <= 0 {
		deps.Deadline = 2 * time.Hour
	}
	if deps.OutputDir == "" {
		deps.OutputDir = "/tmp/results"
	}
	return &Orchestrator{deps: deps}
}

// Run executes the pipeline for req: ingest the task group, parse every
// analyzer task's artifact, classify and aggregate into one issue set, and
// dispatch it to the configured reporters. On success or on a partial
// reporter failure it returns a Result; ingestion and backend-write errors
// surface per §7's propagation policy.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	runID := uuid.NewString()
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.deps.Deadline)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, o.deps.AppChannel, "pipeline.run")

	log := o.deps.Logger
	if log != nil {
		log = log.With(observability.RunFields(runID, req.TaskGroupID, req.ReviewTaskID)...)
		log.Info("run started", zap.String("repository", req.Repository.Slug))
	}

	result, err := o.run(ctx, runID, req, started, log)
	observability.EndSpan(span, err)

	finished := time.Now()
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if ctx.Err() != nil {
		outcome = "killed"
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RunDuration.WithLabelValues(outcome).Observe(finished.Sub(started).Seconds())
	}
	if log != nil {
		if err != nil {
			log.Error("run failed", zap.Error(err), zap.Duration("duration", finished.Sub(started)))
		} else {
			log.Info("run finished", zap.Duration("duration", finished.Sub(started)))
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		return nil, fmt.Errorf("run deadline exceeded: %w", ctxErr)
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, runID string, req RunRequest, started time.Time, log *zap.Logger) (*Result, error) {
	if err := o.deps.Store.UpsertRepository(ctx, req.Repository); err != nil {
		return nil, fmt.Errorf("upsert repository: %w", err)
	}
	revisionID, err := o.deps.Store.UpsertRevision(ctx, req.Revision)
	if err != nil {
		return nil, fmt.Errorf("upsert revision: %w", err)
	}
	req.Revision.ID = revisionID

	if o.deps.Lock != nil {
		handle, err := o.deps.Lock.Acquire(ctx, revisionID)
		if err != nil {
			return nil, fmt.Errorf("acquire revision lock: %w", err)
		}
		defer func() {
			if rerr := handle.Release(context.Background()); rerr != nil && log != nil {
				log.Warn("failed to release revision lock", zap.Error(rerr))
			}
		}()
	}

	patchResult, err := o.deps.PatchApplier.Apply(ctx, req.BaseCommit, req.HeadCommit)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	// A retried run for the same review task finds its own diff already
	// stored; that diff's links are excluded so they do not count as prior.
	var ownDiffID int64
	existingDiffs, err := o.deps.Store.ListDiffsForRevision(ctx, revisionID)
	if err != nil {
		return nil, fmt.Errorf("list diffs: %w", err)
	}
	for _, ed := range existingDiffs {
		if ed.ReviewTaskID == req.ReviewTaskID {
			ownDiffID = ed.ID
		}
	}
	priorHashes, err := o.deps.Store.PriorHashes(ctx, revisionID, ownDiffID)
	if err != nil {
		return nil, fmt.Errorf("load prior hashes: %w", err)
	}

	taskResults, err := o.ingestAndParse(ctx, req.TaskGroupID, log)
	if err != nil {
		return nil, fmt.Errorf("ingest task group: %w", err)
	}

	now := time.Now()
	issues := classify.Aggregate(taskResults, req.Repository.Slug, patchResult.Patch, priorHashes, now)

	if o.triggerBeforeAfter(req.BaselineTaskGroupID) {
		baseline, err := o.ingestBaseline(ctx, req.BaselineTaskGroupID, req.Repository.Slug, patchResult.Patch, now, log)
		if err != nil {
			if log != nil {
				log.Warn("baseline ingestion failed, continuing without refinement", zap.Error(err))
			}
		} else {
			issues = classify.BaselineRefine(issues, baseline)
			classify.Sort(issues)
		}
	}

	d := domain.Diff{
		RevisionID:   revisionID,
		CommitHash:   req.HeadCommit,
		ReviewTaskID: req.ReviewTaskID,
		BaseRevision: patchResult.BaseRevision,
		Repository:   req.Repository.Slug,
		CreatedAt:    now,
	}
	diffID, err := o.deps.Store.CreateDiff(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("create diff: %w", err)
	}
	d.ID = diffID

	rc := report.RunContext{Repository: req.Repository, Revision: req.Revision, Diff: d}
	outcome, err := report.Dispatch(ctx, o.deps.Reporters, rc, issues)
	if err != nil {
		return nil, fmt.Errorf("reporter dispatch: %w", err)
	}

	o.recordMetrics(issues, outcome)

	if err := o.persist(rc, issues, taskResults, started, time.Now()); err != nil && log != nil {
		log.Warn("failed to persist run artifacts", zap.Error(err))
	}

	return &Result{
		RunID:      runID,
		DiffID:     diffID,
		RevisionID: revisionID,
		Issues:     issues,
		Outcome:    outcome,
	}, nil
}

func (o *Orchestrator) triggerBeforeAfter(baselineTaskGroupID string) bool {
	if baselineTaskGroupID == "" || o.deps.BeforeAfterRatio <= 0 {
		return false
	}
	return rand.Float64() < o.deps.BeforeAfterRatio
}

func (o *Orchestrator) recordMetrics(issues []classify.Classified, outcome *report.Outcome) {
	if o.deps.Metrics == nil {
		return
	}
	for _, kind := range outcome.Succeeded {
		for _, c := range issues {
			if !c.Link.Publishable {
				continue
			}
			o.deps.Metrics.IssuesPublished.WithLabelValues(c.Issue.Analyzer, string(c.Issue.Level), kind).Inc()
		}
	}
	for _, f := range outcome.Failed {
		o.deps.Metrics.ReporterFailures.WithLabelValues(f.Kind).Inc()
	}
}

// ingestAndParse fetches and parses every task's artifact in a task group,
// turning per-task failures into TaskResult.Err rather than aborting --
// graceful degradation per §4.1/§7.
func (o *Orchestrator) ingestAndParse(ctx context.Context, taskGroupID string, log *zap.Logger) ([]classify.TaskResult, error) {
	artifacts, err := o.deps.Ingest.FetchGroup(ctx, taskGroupID, o.deps.Concurrency, o.pathFor)
	if err != nil {
		return nil, err
	}

	results := make([]classify.TaskResult, 0, len(artifacts))
	for _, a := range artifacts {
		kind := parse.DetectKind(a.Task.Name, a.Path)
		if kind == string(domain.KindZeroCoverage) && !o.deps.ZeroCoverageEnabled {
			continue
		}

		outcome := "ok"
		switch {
		case a.Err != nil:
			outcome = "error"
			results = append(results, classify.TaskResult{TaskID: a.Task.TaskID, Analyzer: a.Task.Name, Err: a.Err})
		default:
			parsed := parse.Parse(kind, a.Task.TaskID, a.Task.Name, a.Body)
			if len(parsed.Diagnostics) > 0 && log != nil {
				for _, d := range parsed.Diagnostics {
					log.Warn("skipped malformed record",
						zap.String("task_id", d.TaskID), zap.String("analyzer", d.Analyzer), zap.String("reason", d.Reason))
				}
			}
			results = append(results, classify.TaskResult{
				TaskID: a.Task.TaskID, Analyzer: a.Task.Name, Issues: parsed.Issues, Diagnostics: parsed.Diagnostics,
			})
		}

		if o.deps.Metrics != nil {
			o.deps.Metrics.TasksIngested.WithLabelValues(kind, outcome).Inc()
		}
	}

	return results, nil
}

func (o *Orchestrator) pathFor(task domain.TaskRecord) (string, bool) {
	return parse.DefaultArtifactPath(task.Name)
}

// ingestBaseline ingests and classifies a prior "before" task group against
// the same patch, with no prior-diff history, for use by
// classify.BaselineRefine.
func (o *Orchestrator) ingestBaseline(ctx context.Context, taskGroupID, repoSlug string, patch diff.Patch, now time.Time, log *zap.Logger) ([]classify.Classified, error) {
	results, err := o.ingestAndParse(ctx, taskGroupID, log)
	if err != nil {
		return nil, err
	}
	return classify.Aggregate(results, repoSlug, patch, nil, now), nil
}

// persist writes the per-run artifacts of §6's persisted state layout:
// report.json (the aggregated issue list with flags), issues.json per
// analyzer (the raw parsed issues before classification), and summary.md.
func (o *Orchestrator) persist(rc report.RunContext, issues []classify.Classified, taskResults []classify.TaskResult, started, finished time.Time) error {
	dir := filepath.Join(o.deps.OutputDir, fmt.Sprintf("%s-%s", rc.Repository.Slug, rc.Diff.ReviewTaskID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	reportPath := filepath.Join(dir, "report.json")
	reportData, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(reportPath, reportData, 0o644); err != nil {
		return err
	}

	byAnalyzer := make(map[string][]domain.RawIssue)
	for _, tr := range taskResults {
		byAnalyzer[tr.Analyzer] = append(byAnalyzer[tr.Analyzer], tr.Issues...)
	}
	for analyzer, raws := range byAnalyzer {
		data, err := json.MarshalIndent(raws, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("issues-%s.json", analyzer)), data, 0o644); err != nil {
			return err
		}
	}

	summary := report.BuildRunSummary(rc, issues, started, finished)
	return os.WriteFile(filepath.Join(dir, "summary.md"), []byte(summary), 0o644)
}
