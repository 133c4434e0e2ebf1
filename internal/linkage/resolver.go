// Package linkage enforces the pull-request linkage invariants.
//
// A pull request is "linked" to an issue when its body carries a Refs
// backlink and/or a run marker naming that issue. The executor-side guard
// requires zero linked PRs before a new claim; the reviewer-side resolver
// requires exactly one. Both fail closed: any state with more than one
// plausible interpretation is a typed error, never a guess.
package linkage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/marker"
	"github.com/stagehand-sh/stagehand/internal/store"
	"github.com/stagehand-sh/stagehand/internal/types"
)

// hydrateConcurrency bounds parallel full-body fetches for PRs whose list
// bodies look truncated.
const hydrateConcurrency = 4

// refsPattern matches "Refs #N" backlinks. The captured number is compared
// exactly so "#12" never matches a "#123" reference.
var refsPattern = regexp.MustCompile(`(?i)\brefs\s+#(\d+)\b`)

// autoClosePattern matches GitHub auto-close keywords. A PR body containing
// one of these for a tracked issue would let GitHub close the issue outside
// the protocol's control, so it is always a hard failure.
var autoClosePattern = regexp.MustCompile(`(?i)\b(closes|closed|fixes|fixed|resolves|resolved)\s+#(\d+)\b`)

// Resolver inspects pull requests against an issue to enforce linkage
// invariants. It recomputes from live store state on every call and holds
// no cache.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

// NewResolver creates a linkage resolver over the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st, logger: slog.Default()}
}

// WithLogger replaces the resolver's logger.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// refsIssue reports whether body contains a Refs backlink to issueNumber.
func refsIssue(body string, issueNumber int) bool {
	for _, m := range refsPattern.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n == issueNumber {
			return true
		}
	}
	return false
}

// autoClosesIssue returns the matched keyword if body contains an
// auto-close reference to issueNumber.
func autoClosesIssue(body string, issueNumber int) (string, bool) {
	for _, m := range autoClosePattern.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[2]); err == nil && n == issueNumber {
			return m[1], true
		}
	}
	return "", false
}

// hydrate replaces the bodies of PRs whose run-marker block appears
// truncated in the list response with the full body from the store.
// A sentinel that is present but fails to decode is the truncation signal;
// if the full body still fails, the ambiguity propagates to the caller.
func (r *Resolver) hydrate(ctx context.Context, pulls []types.PullRequest) error {
	var needs []int
	for i, pr := range pulls {
		if !marker.HasSentinel(pr.Body, marker.RunSentinel) {
			continue
		}
		if _, err := marker.DecodeRunMarker(pr.Body); err != nil {
			needs = append(needs, i)
		}
	}
	if len(needs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for _, i := range needs {
		i := i
		g.Go(func() error {
			full, err := r.store.GetPullRequest(gctx, pulls[i].Number)
			if err != nil {
				return coorderr.Transport(err, "hydrating pull request #%d", pulls[i].Number)
			}
			r.logger.Debug("hydrated truncated pull request body", "pr", pulls[i].Number)
			pulls[i].Body = full.Body
			return nil
		})
	}
	return g.Wait()
}

// classify inspects one pull request against an issue. It returns a linked
// record when the PR is linked, nil when unrelated, and a typed error on
// any forbidden or ambiguous state.
//
// When requireItemID is non-empty a marker must name exactly that project
// item; a marker for the right issue but a different item is a hard error
// either way, since two ids claiming one issue has no safe interpretation.
func classify(pr types.PullRequest, issueNumber int, projectItemID string) (*types.LinkedPR, error) {
	if keyword, found := autoClosesIssue(pr.Body, issueNumber); found {
		return nil, &coorderr.Error{
			Code: coorderr.CodeForbiddenAutoclose,
			Message: fmt.Sprintf("PR #%d body contains auto-close keyword %q for issue #%d",
				pr.Number, keyword, issueNumber),
			IssueNumber: issueNumber,
			PRNumber:    pr.Number,
			PRURL:       pr.URL,
		}
	}

	refs := refsIssue(pr.Body, issueNumber)

	m, err := marker.DecodeRunMarker(pr.Body)
	if err != nil {
		return nil, fmt.Errorf("PR #%d: %w", pr.Number, err)
	}

	if m != nil && m.Issue != issueNumber {
		if refs {
			// The backlink and the marker disagree about which issue this
			// PR delivers.
			return nil, &coorderr.Error{
				Code: coorderr.CodeMarkerIssueMismatch,
				Message: fmt.Sprintf("PR #%d refs issue #%d but its run marker claims issue #%d",
					pr.Number, issueNumber, m.Issue),
				IssueNumber: issueNumber,
				PRNumber:    pr.Number,
				PRURL:       pr.URL,
			}
		}
		return nil, nil // marked for some other issue, unrelated here
	}

	if m != nil {
		if projectItemID != "" && m.ProjectItemID != projectItemID {
			return nil, &coorderr.Error{
				Code: coorderr.CodeItemMismatch,
				Message: fmt.Sprintf("PR #%d run marker names project item %s, expected %s",
					pr.Number, m.ProjectItemID, projectItemID),
				IssueNumber: issueNumber,
				PRNumber:    pr.Number,
				PRURL:       pr.URL,
			}
		}
		return &types.LinkedPR{Number: pr.Number, URL: pr.URL, Reason: types.LinkMarkedPR}, nil
	}

	if refs {
		return &types.LinkedPR{Number: pr.Number, URL: pr.URL, Reason: types.LinkUnmarkedRefs}, nil
	}

	return nil, nil
}

// scan lists all pull requests (any state), hydrates truncated bodies, and
// classifies each against the issue in ascending PR-number order.
func (r *Resolver) scan(ctx context.Context, issueNumber int, projectItemID string) ([]types.LinkedPR, error) {
	pulls, err := r.store.ListPullRequests(ctx, "all")
	if err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}
	sort.Slice(pulls, func(i, j int) bool { return pulls[i].Number < pulls[j].Number })

	if err := r.hydrate(ctx, pulls); err != nil {
		return nil, err
	}

	var linked []types.LinkedPR
	for _, pr := range pulls {
		rec, err := classify(pr, issueNumber, projectItemID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			linked = append(linked, *rec)
		}
	}
	return linked, nil
}

// AssertZeroLinkedPullRequests is the executor-side guard: before a new
// claim, no pull request may already be linked to the issue.
//
// Exactly one linked PR reports linked=true with its reason; more than one
// is an ambiguity error; a forbidden auto-close keyword anywhere is an
// immediate error regardless of other linkage.
func (r *Resolver) AssertZeroLinkedPullRequests(ctx context.Context, issueNumber int, projectItemID string) (*types.LinkageCheck, error) {
	if issueNumber <= 0 {
		return nil, coorderr.Validation("issue number must be positive, got %d", issueNumber)
	}
	if projectItemID == "" {
		return nil, coorderr.Validation("project item id must be non-empty")
	}

	linked, err := r.scan(ctx, issueNumber, projectItemID)
	if err != nil {
		return nil, err
	}

	switch len(linked) {
	case 0:
		return &types.LinkageCheck{Linked: false}, nil
	case 1:
		return &types.LinkageCheck{
			Linked:   true,
			Reason:   linked[0].Reason,
			PRNumber: linked[0].Number,
			PRURL:    linked[0].URL,
		}, nil
	default:
		return nil, &coorderr.Error{
			Code:        coorderr.CodeAmbiguousLinkedPR,
			Message:     fmt.Sprintf("%d pull requests linked to issue #%d", len(linked), issueNumber),
			IssueNumber: issueNumber,
			LinkedCount: len(linked),
		}
	}
}

// ResolveLinkedPullRequestForIssue is the reviewer-side resolver: it
// returns the unique pull request delivering an issue, or a typed error.
//
// The issue must map to exactly one project item, the PR's run marker must
// name that item, and a Refs-only match is a hard failure. The reviewer
// workflow needs certainty, not a best guess.
func (r *Resolver) ResolveLinkedPullRequestForIssue(ctx context.Context, issueNumber int) (*types.LinkedPR, error) {
	if issueNumber <= 0 {
		return nil, coorderr.Validation("issue number must be positive, got %d", issueNumber)
	}

	items, err := r.store.ListProjectItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing project items: %w", err)
	}
	var matches []types.WorkItem
	for _, item := range items {
		if item.IssueNumber == issueNumber {
			matches = append(matches, item)
		}
	}
	if len(matches) != 1 {
		return nil, &coorderr.Error{
			Code: coorderr.CodeAmbiguousProjectItem,
			Message: fmt.Sprintf("issue #%d maps to %d project items, expected exactly one",
				issueNumber, len(matches)),
			IssueNumber: issueNumber,
		}
	}
	itemID := matches[0].ProjectItemID

	linked, err := r.scan(ctx, issueNumber, itemID)
	if err != nil {
		return nil, err
	}

	var marked []types.LinkedPR
	for _, rec := range linked {
		if rec.Reason == types.LinkUnmarkedRefs {
			return nil, &coorderr.Error{
				Code: coorderr.CodeUnmarkedRefs,
				Message: fmt.Sprintf("PR #%d refs issue #%d without a valid run marker",
					rec.Number, issueNumber),
				IssueNumber: issueNumber,
				PRNumber:    rec.Number,
				PRURL:       rec.URL,
			}
		}
		marked = append(marked, rec)
	}

	switch len(marked) {
	case 1:
		return &marked[0], nil
	case 0:
		return nil, &coorderr.Error{
			Code:        coorderr.CodeUnmarkedRefs,
			Message:     fmt.Sprintf("no pull request linked to issue #%d", issueNumber),
			IssueNumber: issueNumber,
		}
	default:
		return nil, &coorderr.Error{
			Code:        coorderr.CodeAmbiguousLinkedPR,
			Message:     fmt.Sprintf("%d pull requests marked for issue #%d", len(marked), issueNumber),
			IssueNumber: issueNumber,
			LinkedCount: len(marked),
		}
	}
}
