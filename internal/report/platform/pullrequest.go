package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relay-ci/revpipe/internal/transport"
)

// PullRequestClient talks to a pull-request-style platform (a "PR with a
// single HEAD commit" model, e.g. GitHub-shaped): it opens or updates a
// pull-request review carrying a summary body plus zero or more line
// comments, generalizing the teacher's GitHub client and request builder
// directly -- owner/repo/pull-number in place of the teacher's
// single-repo assumption.
type PullRequestClient struct {
	BaseURL    string
	Token      string
	Owner      string
	Repo       string
	HTTPClient *http.Client
	Retry      transport.RetryConfig
	Breaker    *transport.BreakerGroup // optional: nil disables circuit breaking
}

// NewPullRequestClient builds a client against a GitHub-shaped REST API
// rooted at baseURL, scoped to owner/repo.
func NewPullRequestClient(baseURL, token, owner, repo string) *PullRequestClient {
	return &PullRequestClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      transport.DefaultRetryConfig(),
	}
}

func (c *PullRequestClient) BuildState(ctx context.Context, reviewTaskID string) (BuildState, error) {
	var pr struct {
		State  string `json:"state"`
		Merged bool   `json:"merged"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%s", c.Owner, c.Repo, url.PathEscape(reviewTaskID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &pr); err != nil {
		return "", err
	}
	if pr.Merged || pr.State == "closed" {
		return BuildPass, nil
	}
	return BuildOpen, nil
}

func (c *PullRequestClient) PostSummary(ctx context.Context, reviewTaskID string, summary Summary) error {
	body := map[string]string{"body": FormatSummaryComment(summary)}
	path := fmt.Sprintf("/repos/%s/%s/issues/%s/comments", c.Owner, c.Repo, url.PathEscape(reviewTaskID))
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// reviewComment is a GitHub-shaped pull request review comment: path +
// position within the unified diff, not an absolute line number.
type reviewComment struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

func (c *PullRequestClient) PostFindings(ctx context.Context, reviewTaskID string, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	var comments []reviewComment
	for _, f := range findings {
		if f.Line == nil {
			continue
		}
		comments = append(comments, reviewComment{
			Path:     f.Path,
			Position: *f.Line,
			Body:     FormatFindingComment(f),
		})
	}
	if len(comments) == 0 {
		return nil
	}
	body := map[string]interface{}{
		"event":    "COMMENT",
		"comments": comments,
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%s/reviews", c.Owner, c.Repo, url.PathEscape(reviewTaskID))
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *PullRequestClient) doJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	op := func(ctx context.Context) error { return c.doJSONOnce(ctx, method, path, reqBody, out) }
	if c.Breaker != nil {
		return c.Breaker.Execute(ctx, c.BaseURL, op)
	}
	return op(ctx)
}

func (c *PullRequestClient) doJSONOnce(ctx context.Context, method, path string, reqBody, out interface{}) error {
	return transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var reader *bytes.Reader
		if reqBody != nil {
			data, err := json.Marshal(reqBody)
			if err != nil {
				return err
			}
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "token "+c.Token)
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return transport.NewTimeoutError(c.BaseURL, err.Error())
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return transport.ClassifyStatus(c.BaseURL, resp.StatusCode, path)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}, c.Retry)
}
