package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/cenkalti/backoff/v4"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/types"
)

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full REST API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int, headers http.Header) bool {
	if code == http.StatusTooManyRequests || code >= 500 {
		return true
	}
	// GitHub signals secondary rate limits as 403 with a drained quota.
	return code == http.StatusForbidden && headers.Get("X-RateLimit-Remaining") == "0"
}

// doRequest performs an HTTP request with authentication and retry.
// Transient failures (network errors, 5xx, rate limiting) are retried with
// exponential backoff; anything else surfaces immediately.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var respBody []byte
	var respHeaders http.Header

	operation := func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		const maxResponseSize = 50 * 1024 * 1024
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if retryableStatus(resp.StatusCode, resp.Header) {
			return fmt.Errorf("retryable API status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("API error: %s (status %d)", string(data), resp.StatusCode))
		}

		respBody = data
		respHeaders = resp.Header
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, nil, err
	}
	return respBody, respHeaders, nil
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// ListPullRequests retrieves pull requests with the given state filter
// ("open", "closed", or "all"). Merged PRs report state "merged".
func (c *Client) ListPullRequests(ctx context.Context, state string) ([]types.PullRequest, error) {
	if state == "" {
		state = "all"
	}

	var all []types.PullRequest
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/pulls", map[string]string{
		"state":    state,
		"per_page": strconv.Itoa(MaxPageSize),
		"sort":     "created",
	})

	for page := 1; ; page++ {
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, coorderr.Transport(err, "listing pull requests")
		}

		var pulls []restPull
		if err := json.Unmarshal(respBody, &pulls); err != nil {
			return nil, coorderr.Transport(err, "parsing pull requests response")
		}
		for _, p := range pulls {
			all = append(all, toPullRequest(p))
		}

		next, ok := hasNextPage(headers)
		if !ok {
			break
		}
		urlStr = next

		if page >= MaxPages {
			return nil, coorderr.Transport(
				fmt.Errorf("stopped after %d pages", MaxPages), "pull request pagination limit exceeded")
		}
	}

	return all, nil
}

// GetPullRequest retrieves a single pull request with its full body.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*types.PullRequest, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/pulls/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, coorderr.Transport(err, "fetching pull request #%d", number)
	}

	var p restPull
	if err := json.Unmarshal(respBody, &p); err != nil {
		return nil, coorderr.Transport(err, "parsing pull request #%d response", number)
	}
	pr := toPullRequest(p)
	return &pr, nil
}

// ListIssueComments retrieves all comments on an issue in ascending
// creation order, which matches ascending comment id.
func (c *Client) ListIssueComments(ctx context.Context, issueNumber int) ([]types.Comment, error) {
	var all []types.Comment
	urlStr := c.buildURL(
		"/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(issueNumber)+"/comments",
		map[string]string{"per_page": strconv.Itoa(MaxPageSize)})

	for page := 1; ; page++ {
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, coorderr.Transport(err, "listing comments on issue #%d", issueNumber)
		}

		var comments []restComment
		if err := json.Unmarshal(respBody, &comments); err != nil {
			return nil, coorderr.Transport(err, "parsing comments response for issue #%d", issueNumber)
		}
		for _, cm := range comments {
			all = append(all, types.Comment{ID: cm.ID, Body: cm.Body})
		}

		next, ok := hasNextPage(headers)
		if !ok {
			break
		}
		urlStr = next

		if page >= MaxPages {
			return nil, coorderr.Transport(
				fmt.Errorf("stopped after %d pages", MaxPages), "comment pagination limit exceeded")
		}
	}

	return all, nil
}

// CreateIssueComment appends a comment to an issue.
func (c *Client) CreateIssueComment(ctx context.Context, issueNumber int, body string) (*types.Comment, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(issueNumber)+"/comments", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]string{"body": body})
	if err != nil {
		return nil, coorderr.Transport(err, "creating comment on issue #%d", issueNumber)
	}

	var cm restComment
	if err := json.Unmarshal(respBody, &cm); err != nil {
		return nil, coorderr.Transport(err, "parsing create comment response for issue #%d", issueNumber)
	}
	return &types.Comment{ID: cm.ID, Body: cm.Body}, nil
}

// toPullRequest maps a REST pull request to the store type.
func toPullRequest(p restPull) types.PullRequest {
	state := p.State
	if p.Merged || p.MergedAt != nil {
		state = "merged"
	}
	return types.PullRequest{
		Number: p.Number,
		State:  state,
		Title:  p.Title,
		Body:   p.Body,
		URL:    p.HTMLURL,
	}
}
