// Package types defines core data structures for the stagehand coordination layer.
package types

import (
	"fmt"
	"strings"
)

// Status is a work item's position in the delivery workflow.
// Values mirror the single-select field in the external project tracker.
type Status string

const (
	StatusReady      Status = "Ready"
	StatusInProgress Status = "In Progress"
	StatusInReview   Status = "In Review"
	StatusDone       Status = "Done"
)

// ValidStatuses returns all recognized workflow statuses.
func ValidStatuses() []Status {
	return []Status{StatusReady, StatusInProgress, StatusInReview, StatusDone}
}

// ParseStatus parses a field value into a Status, case-insensitive.
func ParseStatus(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range ValidStatuses() {
		if strings.EqualFold(string(st), trimmed) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q (valid: Ready, In Progress, In Review, Done)", s)
}

// Role identifies the kind of actor requesting a workflow transition.
type Role string

const (
	RoleExecutor     Role = "EXECUTOR"
	RoleReviewer     Role = "REVIEWER"
	RoleOrchestrator Role = "ORCHESTRATOR"
	RoleHuman        Role = "HUMAN"
)

// ValidRoles returns all recognized actor roles.
func ValidRoles() []Role {
	return []Role{RoleExecutor, RoleReviewer, RoleOrchestrator, RoleHuman}
}

// ParseRole parses a string into a Role, case-insensitive.
func ParseRole(s string) (Role, error) {
	trimmed := strings.TrimSpace(s)
	for _, r := range ValidRoles() {
		if strings.EqualFold(string(r), trimmed) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q (valid: EXECUTOR, REVIEWER, ORCHESTRATOR, HUMAN)", s)
}

// WorkItem is a trackable unit of work in the external project.
// Identity is ProjectItemID (the tracker's stable item id); IssueNumber is
// the human-facing convenience key. The coordination layer only reads work
// items and requests field updates; it never creates or deletes them.
type WorkItem struct {
	ProjectItemID string `json:"project_item_id"`
	IssueNumber   int    `json:"issue_number"`
	Status        Status `json:"status,omitempty"`
	Sprint        string `json:"sprint,omitempty"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Comment is an issue comment as stored by the external tracker.
// ID is the store-assigned sequence id; the claim protocol's winner rule
// depends on it being monotonically increasing per issue.
type Comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// PullRequest is the subset of pull request state the linkage resolver inspects.
type PullRequest struct {
	Number int    `json:"number"`
	State  string `json:"state"` // "open", "closed", or "merged"
	Title  string `json:"title,omitempty"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// ClaimResult describes a successfully claimed work item.
type ClaimResult struct {
	IssueNumber   int               `json:"issue_number"`
	IssueURL      string            `json:"issue_url"`
	ProjectItemID string            `json:"project_item_id"`
	Branch        string            `json:"branch"`
	FieldsSet     map[string]string `json:"fields_set"`
}

// LinkReason classifies how a pull request is linked to an issue.
type LinkReason string

const (
	// LinkMarkedPR means the PR carries a run marker matching both the issue
	// number and the project item id.
	LinkMarkedPR LinkReason = "marked_linked_pr"

	// LinkUnmarkedRefs means the PR body has a "Refs #N" backlink but no
	// valid run marker for the issue.
	LinkUnmarkedRefs LinkReason = "unmarked_refs"
)

// LinkedPR is a pull request classified as the delivery for an issue.
// Recomputed from live tracker state on every check; never persisted.
type LinkedPR struct {
	Number int        `json:"pr_number"`
	URL    string     `json:"pr_url"`
	Reason LinkReason `json:"reason"`
}

// LinkageCheck is the outcome of the executor-side zero-linked-PR guard.
type LinkageCheck struct {
	Linked   bool       `json:"linked"`
	Reason   LinkReason `json:"reason,omitempty"`
	PRNumber int        `json:"pr_number,omitempty"`
	PRURL    string     `json:"pr_url,omitempty"`
}
