package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/relay-ci/revpipe/internal/transport"
)

// CodeReviewClient talks to a code-review-style platform (a "revision with
// diffs" model, e.g. Phabricator-shaped): it posts a summary comment and
// then, as a separate request, zero or more inline findings against a
// revision's active diff, generalizing the teacher's GitHub PR-review
// adapter to a revision/diff vocabulary instead of a PR/commit one.
type CodeReviewClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Retry      transport.RetryConfig
	Breaker    *transport.BreakerGroup // optional: nil disables circuit breaking
}

// NewCodeReviewClient builds a client against baseURL (the platform's API
// root) authenticated with token.
func NewCodeReviewClient(baseURL, token string) *CodeReviewClient {
	return &CodeReviewClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      transport.DefaultRetryConfig(),
	}
}

func (c *CodeReviewClient) BuildState(ctx context.Context, reviewTaskID string) (BuildState, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/builds/%s", url.PathEscape(reviewTaskID)), nil, &resp); err != nil {
		return "", err
	}
	switch resp.State {
	case "pass":
		return BuildPass, nil
	case "fail":
		return BuildFail, nil
	default:
		return BuildOpen, nil
	}
}

func (c *CodeReviewClient) PostSummary(ctx context.Context, reviewTaskID string, summary Summary) error {
	body := map[string]interface{}{
		"body": FormatSummaryComment(summary),
	}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/builds/%s/comment", url.PathEscape(reviewTaskID)), body, nil)
}

func (c *CodeReviewClient) PostFindings(ctx context.Context, reviewTaskID string, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	type inline struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Body string `json:"body"`
	}
	var comments []inline
	for _, f := range findings {
		line := 0
		if f.Line != nil {
			line = *f.Line
		}
		comments = append(comments, inline{Path: f.Path, Line: line, Body: FormatFindingComment(f)})
	}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/builds/%s/inline", url.PathEscape(reviewTaskID)), comments, nil)
}

func (c *CodeReviewClient) doJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	op := func(ctx context.Context) error { return c.doJSONOnce(ctx, method, path, reqBody, out) }
	if c.Breaker != nil {
		return c.Breaker.Execute(ctx, c.BaseURL, op)
	}
	return op(ctx)
}

func (c *CodeReviewClient) doJSONOnce(ctx context.Context, method, path string, reqBody, out interface{}) error {
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
		req.Header.Set("Authorization", "Bearer "+c.Token)
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

// FormatSummaryComment renders the counts-by-analyzer/level summary as
// Markdown, matching the teacher's comment-formatting style.
func FormatSummaryComment(s Summary) string {
	var b strings.Builder
	b.WriteString("## Static analysis summary\n\n")

	analyzers := make([]string, 0, len(s.CountsByAnalyzer))
	for a := range s.CountsByAnalyzer {
		analyzers = append(analyzers, a)
	}
	sort.Strings(analyzers)

	for _, a := range analyzers {
		counts := s.CountsByAnalyzer[a]
		fmt.Fprintf(&b, "- **%s**: %d error(s), %d warning(s)\n", a, counts.Errors, counts.Warnings)
	}
	fmt.Fprintf(&b, "\n%d issue(s) published.\n", s.TotalPublishable)
	return b.String()
}

// FormatFindingComment renders one inline Finding as Markdown.
func FormatFindingComment(f Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s/%s)\n\n", capitalize(string(f.Severity)), f.Name, f.Code)
	b.WriteString(f.Description)
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
