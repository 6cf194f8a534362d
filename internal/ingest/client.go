// Package ingest is the Artifact Ingestion layer (§4.1): given a task-group
// id it enumerates member tasks, fetches each task's definition/status, and
// fetches declared output artifacts by path. Transient transport failures
// are retried with backoff; permission failures are fatal.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/transport"
)

// Client talks to the external CI task system. BaseURL points at the
// task-queue API root (e.g. a Taskcluster-shaped queue); the concrete paths
// below follow that shape but are not specific to any one vendor.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      transport.RetryConfig
	Limiter    *rate.Limiter
}

// NewClient builds a Client with the ingestion defaults: at most 5
// attempts, 1s initial backoff, and a rate limiter of 10 req/s with a burst of 20
// guarding the CI task system from the bounded-parallel fetch below.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		Retry:      transport.DefaultRetryConfig(),
		Limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

// IngestFatal is returned by ListGroup/GetTask when the failure is
// authentication/permissions related and must abort the whole run (§4.1).
type IngestFatal struct {
	Cause error
}

func (e *IngestFatal) Error() string { return fmt.Sprintf("ingestion fatal: %v", e.Cause) }
func (e *IngestFatal) Unwrap() error { return e.Cause }

// ListGroup enumerates the tasks of a task group, de-duplicated by task id.
// The returned slice is restartable: callers may re-issue ListGroup and get
// the same membership for an immutable, completed task group.
func (c *Client) ListGroup(ctx context.Context, taskGroupID string) ([]domain.TaskRef, error) {
	seen := make(map[string]bool)
	var refs []domain.TaskRef

	continuation := ""
	for {
		page, next, err := c.listGroupPage(ctx, taskGroupID, continuation)
		if err != nil {
			return nil, err
		}
		for _, taskID := range page {
			if seen[taskID] {
				continue
			}
			seen[taskID] = true
			refs = append(refs, domain.TaskRef{TaskGroupID: taskGroupID, TaskID: taskID})
		}
		if next == "" {
			break
		}
		continuation = next
	}

	return refs, nil
}

func (c *Client) listGroupPage(ctx context.Context, taskGroupID, continuation string) (taskIDs []string, nextContinuation string, err error) {
	url := fmt.Sprintf("%s/task-group/%s/list", c.BaseURL, taskGroupID)
	if continuation != "" {
		url += "?continuationToken=" + continuation
	}

	var body taskGroupListResponse
	err = c.doJSON(ctx, url, &body)
	if err != nil {
		return nil, "", err
	}

	for _, t := range body.Tasks {
		taskIDs = append(taskIDs, t.Status.TaskID)
	}
	return taskIDs, body.ContinuationToken, nil
}

type taskGroupListResponse struct {
	Tasks             []taskGroupEntry `json:"tasks"`
	ContinuationToken string           `json:"continuationToken"`
}

type taskGroupEntry struct {
	Status struct {
		TaskID string `json:"taskId"`
	} `json:"status"`
}

// GetTask fetches a task's definition and status.
func (c *Client) GetTask(ctx context.Context, taskID string) (domain.TaskRecord, error) {
	var def taskDefinition
	if err := c.doJSON(ctx, fmt.Sprintf("%s/task/%s", c.BaseURL, taskID), &def); err != nil {
		return domain.TaskRecord{}, err
	}

	var status taskStatusResponse
	if err := c.doJSON(ctx, fmt.Sprintf("%s/task/%s/status", c.BaseURL, taskID), &status); err != nil {
		return domain.TaskRecord{}, err
	}

	return domain.TaskRecord{
		TaskID: taskID,
		Name:   def.Metadata.Name,
		Tags:   def.Tags,
		State:  mapState(status.Status.State),
		RunID:  latestRunID(status.Status.Runs),
	}, nil
}

type taskDefinition struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Tags map[string]string `json:"tags"`
}

type taskStatusResponse struct {
	Status struct {
		State string         `json:"state"`
		Runs  []taskRunEntry `json:"runs"`
	} `json:"status"`
}

type taskRunEntry struct {
	RunID int `json:"runId"`
}

func latestRunID(runs []taskRunEntry) int {
	if len(runs) == 0 {
		return 0
	}
	return runs[len(runs)-1].RunID
}

func mapState(s string) domain.TaskState {
	switch s {
	case "pending", "unscheduled":
		return domain.TaskPending
	case "running":
		return domain.TaskRunning
	case "completed":
		return domain.TaskCompleted
	case "failed":
		return domain.TaskFailed
	case "exception":
		return domain.TaskException
	default:
		return domain.TaskPending
	}
}

// ErrArtifactNotFound is returned by GetArtifact on a 404.
var ErrArtifactNotFound = fmt.Errorf("artifact not found")

// GetArtifact fetches a declared artifact's bytes. It only decodes HTTP: the
// caller (the analyzer parser) decides how to interpret the payload.
func (c *Client) GetArtifact(ctx context.Context, taskID string, runID int, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/task/%s/runs/%d/artifacts/%s", c.BaseURL, taskID, runID, path)

	var body []byte
	err := transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return transport.NewTimeoutError(c.BaseURL, err.Error())
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return &transport.Error{Kind: transport.KindNotFound, Host: c.BaseURL, StatusCode: 404, Message: path}
		}
		if resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			return transport.ClassifyStatus(c.BaseURL, resp.StatusCode, string(data))
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}, c.Retry)

	if err != nil {
		var terr *transport.Error
		if ok := asTransportError(err, &terr); ok && terr.Kind == transport.KindNotFound {
			return nil, ErrArtifactNotFound
		}
		if ok && (terr.Kind == transport.KindPermission) {
			return nil, &IngestFatal{Cause: err}
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, url string, out interface{}) error {
	return transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return transport.NewTimeoutError(c.BaseURL, err.Error())
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			terr := transport.ClassifyStatus(c.BaseURL, resp.StatusCode, string(data))
			if terr.Kind == transport.KindPermission {
				return &IngestFatal{Cause: terr}
			}
			return terr
		}

		return decodeJSON(resp.Body, out)
	}, c.Retry)
}
