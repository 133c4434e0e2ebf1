// Package store defines the work item store capability interface.
//
// The external tracker (GitHub issues, project items, pull requests) is the
// sole shared mutable resource in the system. It is eventually consistent
// and offers no transactions, so the coordination layer never caches its
// state: every decision re-reads current comments and fields through this
// interface.
package store

import (
	"context"

	"github.com/stagehand-sh/stagehand/internal/types"
)

// Store is the capability interface over the external work item tracker.
// Implementations perform network I/O; all methods are context-first and
// return explicit errors. Coordination code depends on this interface only.
type Store interface {
	// ListProjectItems returns all tracked work items.
	ListProjectItems(ctx context.Context) ([]types.WorkItem, error)

	// ListPullRequests returns pull requests filtered by state
	// ("open", "closed", or "all"). Bodies may be truncated in list
	// responses; use GetPullRequest for the full body.
	ListPullRequests(ctx context.Context, state string) ([]types.PullRequest, error)

	// GetPullRequest returns a single pull request with its full body.
	GetPullRequest(ctx context.Context, number int) (*types.PullRequest, error)

	// ListIssueComments returns all comments on an issue, in store order.
	ListIssueComments(ctx context.Context, issueNumber int) ([]types.Comment, error)

	// CreateIssueComment appends a comment to an issue and returns it with
	// its store-assigned sequence id.
	CreateIssueComment(ctx context.Context, issueNumber int, body string) (*types.Comment, error)

	// GetProjectItemFieldValue reads a project field value for an item.
	GetProjectItemFieldValue(ctx context.Context, itemID, field string) (string, error)

	// UpdateProjectItemField writes a project field value for an item.
	UpdateProjectItemField(ctx context.Context, itemID, field, value string) error
}
