package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/types"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient("test-token", "octo-org", "delivery", "PVT_1").
		WithBaseURL(srv.URL, srv.URL+"/graphql")
}

// TestListIssueCommentsPagination follows Link headers across pages.
func TestListIssueCommentsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/repos/octo-org/delivery/issues/21/comments", r.URL.Path)

		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 30, "body": "third"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=2>; rel="next"`, srv.URL, r.URL.Path))
		fmt.Fprint(w, `[{"id": 10, "body": "first"}, {"id": 20, "body": "second"}]`)
	}))
	defer srv.Close()

	comments, err := testClient(srv).ListIssueComments(context.Background(), 21)
	require.NoError(t, err)
	require.Len(t, comments, 3)
	assert.Equal(t, int64(10), comments[0].ID)
	assert.Equal(t, int64(30), comments[2].ID)
	assert.Equal(t, "third", comments[2].Body)
}

// TestCreateIssueComment posts the body and returns the assigned id.
func TestCreateIssueComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "claim body", payload["body"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 77, "body": "claim body"}`)
	}))
	defer srv.Close()

	c, err := testClient(srv).CreateIssueComment(context.Background(), 21, "claim body")
	require.NoError(t, err)
	assert.Equal(t, int64(77), c.ID)
}

// TestRetryOnServerError retries 5xx and succeeds on a later attempt.
func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := testClient(srv).ListIssueComments(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestNoRetryOnNotFound treats 404 as permanent.
func TestNoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv).GetPullRequest(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, coorderr.CodeTransport, coorderr.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

// TestRetryableStatus covers the secondary rate limit signal.
func TestRetryableStatus(t *testing.T) {
	drained := http.Header{}
	drained.Set("X-RateLimit-Remaining", "0")
	fresh := http.Header{}
	fresh.Set("X-RateLimit-Remaining", "4999")

	assert.True(t, retryableStatus(http.StatusTooManyRequests, fresh))
	assert.True(t, retryableStatus(http.StatusInternalServerError, fresh))
	assert.True(t, retryableStatus(http.StatusForbidden, drained))
	assert.False(t, retryableStatus(http.StatusForbidden, fresh))
	assert.False(t, retryableStatus(http.StatusNotFound, fresh))
}

// TestListPullRequestsMergedState maps merged PRs to state "merged".
func TestListPullRequestsMergedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[
			{"number": 5, "state": "open", "title": "open pr", "body": "", "html_url": "u5"},
			{"number": 6, "state": "closed", "merged_at": "2026-08-01T00:00:00Z", "title": "merged pr", "body": "", "html_url": "u6"}
		]`)
	}))
	defer srv.Close()

	pulls, err := testClient(srv).ListPullRequests(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, pulls, 2)
	assert.Equal(t, "open", pulls[0].State)
	assert.Equal(t, "merged", pulls[1].State)
}

// TestListProjectItems walks GraphQL cursor pages and skips non-issue items.
func TestListProjectItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "PVT_1", req.Variables["project"])

		if req.Variables["cursor"] == nil {
			fmt.Fprint(w, `{"data": {"node": {"items": {
				"pageInfo": {"hasNextPage": true, "endCursor": "c1"},
				"nodes": [
					{"id": "PVTI_1", "status": {"name": "Ready"}, "sprint": {"title": "2026-S3"},
					 "content": {"number": 21, "title": "fix parser", "url": "https://example.test/21"}},
					{"id": "PVTI_draft", "status": null, "sprint": null, "content": null}
				]}}}}`)
			return
		}
		assert.Equal(t, "c1", req.Variables["cursor"])
		fmt.Fprint(w, `{"data": {"node": {"items": {
			"pageInfo": {"hasNextPage": false, "endCursor": ""},
			"nodes": [
				{"id": "PVTI_2", "status": {"name": "In Progress"}, "sprint": {"text": "backlog"},
				 "content": {"number": 22, "title": "add cache", "url": "https://example.test/22"}}
			]}}}}`)
	}))
	defer srv.Close()

	items, err := testClient(srv).ListProjectItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, types.WorkItem{
		ProjectItemID: "PVTI_1", IssueNumber: 21, Status: types.StatusReady,
		Sprint: "2026-S3", Title: "fix parser", URL: "https://example.test/21",
	}, items[0])
	assert.Equal(t, types.StatusInProgress, items[1].Status)
	assert.Equal(t, "backlog", items[1].Sprint)
}

// TestGetProjectItemFieldValue reads single-select and unset fields.
func TestGetProjectItemFieldValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Variables["item"] == "PVTI_unset" {
			fmt.Fprint(w, `{"data": {"node": {"fieldValueByName": null}}}`)
			return
		}
		fmt.Fprint(w, `{"data": {"node": {"fieldValueByName": {"name": "Ready"}}}}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	v, err := c.GetProjectItemFieldValue(context.Background(), "PVTI_1", "Status")
	require.NoError(t, err)
	assert.Equal(t, "Ready", v)

	v, err = c.GetProjectItemFieldValue(context.Background(), "PVTI_unset", "Status")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

// TestUpdateProjectItemField resolves the option id by name before mutating.
func TestUpdateProjectItemField(t *testing.T) {
	var mutated bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if strings.Contains(req.Query, "updateProjectV2ItemFieldValue") {
			mutated = true
			assert.Equal(t, "PVTI_1", req.Variables["item"])
			assert.Equal(t, "F_status", req.Variables["field"])
			assert.Equal(t, "opt_prog", req.Variables["option"])
			fmt.Fprint(w, `{"data": {"updateProjectV2ItemFieldValue": {"projectV2Item": {"id": "PVTI_1"}}}}`)
			return
		}
		fmt.Fprint(w, `{"data": {"node": {"field": {"id": "F_status",
			"options": [{"id": "opt_ready", "name": "Ready"}, {"id": "opt_prog", "name": "In Progress"}]}}}}`)
	}))
	defer srv.Close()

	err := testClient(srv).UpdateProjectItemField(context.Background(), "PVTI_1", "Status", "In Progress")
	require.NoError(t, err)
	assert.True(t, mutated)
}

// TestUpdateProjectItemFieldUnknownOption rejects values the field lacks.
func TestUpdateProjectItemFieldUnknownOption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"node": {"field": {"id": "F_status",
			"options": [{"id": "opt_ready", "name": "Ready"}]}}}}`)
	}))
	defer srv.Close()

	err := testClient(srv).UpdateProjectItemField(context.Background(), "PVTI_1", "Status", "Blocked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no option "Blocked"`)
}

// TestGraphQLErrorsSurface turns GraphQL-level errors into transport errors.
func TestGraphQLErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": null, "errors": [{"message": "Could not resolve to a node"}]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).ListProjectItems(context.Background())
	require.Error(t, err)
	assert.Equal(t, coorderr.CodeTransport, coorderr.CodeOf(err))
	assert.Contains(t, err.Error(), "Could not resolve to a node")
}
