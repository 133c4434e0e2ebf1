// Package claim implements the lease-based claim coordinator.
//
// The external tracker has no transactions and no compare-and-swap, so the
// protocol's only defense against concurrent claimers is: write, then
// re-read, then verify. Every write is followed by a read that re-derives
// truth independently; a mismatch between intended and observed state means
// "someone else won" and is never retried within the same call. Callers
// retry with the same run id, which makes every claim attempt idempotent.
package claim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/linkage"
	"github.com/stagehand-sh/stagehand/internal/marker"
	"github.com/stagehand-sh/stagehand/internal/policy"
	"github.com/stagehand-sh/stagehand/internal/store"
	"github.com/stagehand-sh/stagehand/internal/telemetry"
	"github.com/stagehand-sh/stagehand/internal/types"
)

// DefaultTTL is the default claim lease lifetime. A claim marker older
// than the TTL is an expired lease and may be reclaimed by a new run.
const DefaultTTL = 15 * time.Minute

// StatusField is the project field holding workflow status.
const StatusField = "Status"

// Skip and terminal reasons reported by the coordinator.
const (
	ReasonAlreadyClaimed     = "already_claimed_by_other_run"
	ReasonPRAlreadyLinked    = "pr_already_linked"
	ReasonStatusChanged      = "status_changed"
	ReasonStatusNotCommitted = "status_not_committed"
	ReasonNoClaimableItem    = "no_claimable_ready_item_found"
)

// Outcome is the result of a claim request. Exactly one of Claimed or
// Reason is set: either a work item was claimed, or no candidate could be.
type Outcome struct {
	Claimed *types.ClaimResult `json:"claimed"`
	Reason  string             `json:"reason,omitempty"`
}

// Coordinator runs the claim protocol over the work item store.
//
// All claim attempts within one process go through the coordinator's mutex:
// one attempt completes, success or failure, before the next begins, so two
// local requests never race each other into duplicate writes. Cross-process
// races are handled purely by the winner rule.
type Coordinator struct {
	store    store.Store
	linkage  *linkage.Resolver
	policy   *policy.Table
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL overrides the claim lease lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a claim coordinator.
func New(st store.Store, res *linkage.Resolver, table *policy.Table, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   st,
		linkage: res,
		policy:  table,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	m := telemetry.Meter("github.com/stagehand-sh/stagehand/claim")
	c.attempts, _ = m.Int64Counter("stagehand.claim.attempts",
		metric.WithDescription("Claim requests received"))
	c.outcomes, _ = m.Int64Counter("stagehand.claim.outcomes",
		metric.WithDescription("Claim request outcomes by result"))
	return c
}

// liveClaim is a claim marker that is currently a live lease, paired with
// the sequence id of the comment carrying it.
type liveClaim struct {
	commentID int64
	marker    marker.ClaimMarker
}

// evaluateClaimState derives the current winning lease for a work item from
// its comments. Expired leases are ignored; markers for a different item or
// issue are hard errors; the lowest comment sequence id wins ties.
// Returns nil when no live lease exists.
func (c *Coordinator) evaluateClaimState(ctx context.Context, item types.WorkItem) (*liveClaim, error) {
	comments, err := c.store.ListIssueComments(ctx, item.IssueNumber)
	if err != nil {
		return nil, coorderr.Transport(err, "listing comments on issue #%d", item.IssueNumber)
	}
	types.SortComments(comments)

	now := c.now()
	var winner *liveClaim
	for _, comment := range comments {
		m, err := marker.DecodeClaimMarker(comment.Body)
		if err != nil {
			return nil, fmt.Errorf("comment %d on issue #%d: %w", comment.ID, item.IssueNumber, err)
		}
		if m == nil {
			continue
		}
		// A claim marker on this issue naming another item or issue has no
		// expected cause; refuse rather than guess.
		if m.ProjectItemID != item.ProjectItemID || m.Issue != item.IssueNumber {
			return nil, &coorderr.Error{
				Code: coorderr.CodeItemMismatch,
				Message: fmt.Sprintf("comment %d on issue #%d carries a claim for issue #%d item %s",
					comment.ID, item.IssueNumber, m.Issue, m.ProjectItemID),
				IssueNumber: item.IssueNumber,
			}
		}
		if now.Sub(m.ClaimedAt) >= c.ttl {
			c.logger.Debug("ignoring expired claim lease",
				"issue", item.IssueNumber, "run_id", m.RunID, "claimed_at", m.ClaimedAt)
			continue
		}
		if winner == nil {
			winner = &liveClaim{commentID: comment.ID, marker: *m}
		}
	}
	return winner, nil
}

// ClaimReadyItem attempts to claim one Ready work item for the given role
// and run. Candidates are scanned in ascending issue-number order; the
// first one that survives the lease, linkage, policy, and verification
// steps is claimed. When no candidate survives, the outcome reason is
// no_claimable_ready_item_found.
//
// A policy denial fails the whole request, not just the current candidate.
// Retrying with the same run id is safe and idempotent.
func (c *Coordinator) ClaimReadyItem(ctx context.Context, role types.Role, runID, sprint string) (*Outcome, error) {
	if _, err := types.ParseRole(string(role)); err != nil {
		return nil, coorderr.Validation("%v", err)
	}
	if err := marker.ValidateRunID(runID); err != nil {
		return nil, coorderr.Validation("%v", err)
	}

	// One attempt at a time within this process; cross-process races are
	// resolved by the winner rule alone.
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(role))))

	outcome, err := c.claimLocked(ctx, role, runID, sprint)

	result := "error"
	if err == nil {
		result = ReasonNoClaimableItem
		if outcome.Claimed != nil {
			result = "claimed"
		}
	}
	c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return outcome, err
}

func (c *Coordinator) claimLocked(ctx context.Context, role types.Role, runID, sprint string) (*Outcome, error) {
	items, err := c.store.ListProjectItems(ctx)
	if err != nil {
		return nil, coorderr.Transport(err, "listing project items")
	}

	// In Progress items stay in the scan so a retry holding their lease can
	// repair a half-finished claim and return the original result; tryClaim
	// never fresh-claims them.
	var candidates []types.WorkItem
	for _, item := range items {
		if item.Status != types.StatusReady && item.Status != types.StatusInProgress {
			continue
		}
		if sprint != "" && item.Sprint != sprint {
			continue
		}
		candidates = append(candidates, item)
	}
	types.SortWorkItems(candidates)

	for _, item := range candidates {
		claimed, err := c.tryClaim(ctx, item, role, runID)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return &Outcome{Claimed: claimed}, nil
		}
	}
	return &Outcome{Reason: ReasonNoClaimableItem}, nil
}

// tryClaim runs the per-candidate protocol. Returns (nil, nil) when the
// candidate is skipped, the claim result on success, and an error only for
// request-fatal failures (validation, ambiguity, policy, transport).
func (c *Coordinator) tryClaim(ctx context.Context, item types.WorkItem, role types.Role, runID string) (*types.ClaimResult, error) {
	winner, err := c.evaluateClaimState(ctx, item)
	if err != nil {
		return nil, err
	}

	if winner != nil && winner.marker.RunID != runID {
		c.skip(item, ReasonAlreadyClaimed, "run_id", winner.marker.RunID)
		return nil, nil
	}

	if winner == nil && item.Status != types.StatusReady {
		// In Progress with no live lease is work in flight (or a lease that
		// expired mid-delivery); never fresh-claim it.
		c.skip(item, ReasonAlreadyClaimed, "status", string(item.Status))
		return nil, nil
	}

	if winner == nil {
		// Fresh claim: enforce the zero-linked-PR invariant. A retried run
		// skips this, since its PR may legitimately already exist.
		check, err := c.linkage.AssertZeroLinkedPullRequests(ctx, item.IssueNumber, item.ProjectItemID)
		if err != nil {
			return nil, err
		}
		if check.Linked {
			c.skip(item, ReasonPRAlreadyLinked, "pr", check.PRNumber, "link_reason", check.Reason)
			return nil, nil
		}

		// Policy denial is a caller-level authorization failure, fatal for
		// the whole request rather than a per-item skip.
		if err := c.policy.Authorize(role, types.StatusReady, types.StatusInProgress); err != nil {
			return nil, err
		}

		m := &marker.ClaimMarker{
			Issue:         item.IssueNumber,
			ProjectItemID: item.ProjectItemID,
			RunID:         runID,
			ClaimedAt:     c.now(),
		}
		body, err := m.Encode()
		if err != nil {
			return nil, coorderr.Validation("%v", err)
		}
		if _, err := c.store.CreateIssueComment(ctx, item.IssueNumber, body); err != nil {
			return nil, coorderr.Transport(err, "writing claim marker on issue #%d", item.IssueNumber)
		}

		// Read-after-write verification: re-derive the winner and confirm
		// it is this run. The store has no compare-and-swap; this is the
		// protocol's substitute.
		winner, err = c.evaluateClaimState(ctx, item)
		if err != nil {
			return nil, err
		}
		if winner == nil || winner.marker.RunID != runID {
			c.skip(item, ReasonAlreadyClaimed, "verify", "lost read-after-write")
			return nil, nil
		}
	} else {
		c.logger.Info("retrying existing claim",
			"issue", item.IssueNumber, "run_id", runID, "claimed_at", winner.marker.ClaimedAt)
	}

	return c.commitStatus(ctx, item)
}

// commitStatus moves the item to In Progress and verifies the committed
// value. Another actor moving the status mid-flight is a skip, not an error.
func (c *Coordinator) commitStatus(ctx context.Context, item types.WorkItem) (*types.ClaimResult, error) {
	raw, err := c.store.GetProjectItemFieldValue(ctx, item.ProjectItemID, StatusField)
	if err != nil {
		return nil, coorderr.Transport(err, "reading status of item %s", item.ProjectItemID)
	}
	status := types.Status(raw)
	if status != types.StatusReady && status != types.StatusInProgress {
		c.skip(item, ReasonStatusChanged, "status", raw)
		return nil, nil
	}

	if status == types.StatusReady {
		if err := c.store.UpdateProjectItemField(ctx, item.ProjectItemID, StatusField, string(types.StatusInProgress)); err != nil {
			return nil, coorderr.Transport(err, "updating status of item %s", item.ProjectItemID)
		}
		committed, err := c.store.GetProjectItemFieldValue(ctx, item.ProjectItemID, StatusField)
		if err != nil {
			return nil, coorderr.Transport(err, "verifying status of item %s", item.ProjectItemID)
		}
		if types.Status(committed) != types.StatusInProgress {
			c.skip(item, ReasonStatusNotCommitted, "status", committed)
			return nil, nil
		}
	}

	c.logger.Info("claimed work item",
		"issue", item.IssueNumber, "project_item_id", item.ProjectItemID)
	return &types.ClaimResult{
		IssueNumber:   item.IssueNumber,
		IssueURL:      item.URL,
		ProjectItemID: item.ProjectItemID,
		Branch:        fmt.Sprintf("executor/issue-%d", item.IssueNumber),
		FieldsSet:     map[string]string{StatusField: string(types.StatusInProgress)},
	}, nil
}

func (c *Coordinator) skip(item types.WorkItem, reason string, args ...any) {
	all := append([]any{"issue", item.IssueNumber, "reason", reason}, args...)
	c.logger.Debug("skipping candidate", all...)
}
