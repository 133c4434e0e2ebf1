// Package marker encodes and decodes versioned key:value blocks embedded in
// free-text bodies (issue comments, PR descriptions).
//
// The external tracker offers no structured metadata on comments, so markers
// are the durable facts of the coordination protocol. A block looks like:
//
//	<!-- EXECUTOR_CLAIM_V1
//	issue: 21
//	project_item_id: PVTI_abc
//	run_id: 11111111-1111-4111-8111-111111111111
//	claimed_at: 2026-01-01T12:00:00Z
//	-->
//
// Tolerances, which real bodies rely on: whitespace is allowed after the
// comment-open token and before the closing delimiter, and the closing
// delimiter may share a line with the last field. A body without the
// sentinel decodes to nil; a body where the sentinel is present but the
// block cannot be fully parsed is an ambiguous-parse error, never treated
// as absent.
package marker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
)

// Block sentinels. The version suffix is part of the sentinel: a future
// V2 grammar is a different block, not a variant of this one.
const (
	ClaimSentinel = "EXECUTOR_CLAIM_V1"
	RunSentinel   = "EXECUTOR_RUN_V1"
)

const (
	commentOpen  = "<!--"
	commentClose = "-->"
)

// Timestamp layouts accepted for claimed_at: strict ISO-8601 UTC with
// optional millisecond precision.
const (
	timeLayout      = "2006-01-02T15:04:05Z"
	timeLayoutMilli = "2006-01-02T15:04:05.000Z"
)

// ClaimMarker records that a run claimed a work item, serialized into one
// issue comment. Multiple claim comments from racing writers may coexist;
// the coordinator resolves ties by comment sequence id.
type ClaimMarker struct {
	Issue         int
	ProjectItemID string
	RunID         string
	ClaimedAt     time.Time
}

// RunMarker records that a pull request was produced by a run for an issue,
// serialized into the PR body alongside a human-readable Refs backlink.
type RunMarker struct {
	Issue         int
	ProjectItemID string
	RunID         string
}

// ValidateRunID checks that s is a canonical-form UUID v4.
func ValidateRunID(s string) error {
	if len(s) != 36 {
		return fmt.Errorf("run_id must be a canonical UUID, got %q", s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("run_id is not a valid UUID: %w", err)
	}
	if u.Version() != 4 {
		return fmt.Errorf("run_id must be UUID v4, got version %d", u.Version())
	}
	return nil
}

// FormatTimestamp renders t as the strict ISO-8601 UTC form used in markers.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTimestamp parses a strict ISO-8601 UTC timestamp
// (YYYY-MM-DDTHH:MM:SS[.fff]Z).
func ParseTimestamp(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("timestamp %q must be UTC with a Z suffix", s)
	}
	layout := timeLayout
	if strings.Contains(s, ".") {
		layout = timeLayoutMilli
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601 UTC: %w", s, err)
	}
	return t, nil
}

// Validate checks all field invariants of a claim marker.
func (m *ClaimMarker) Validate() error {
	if m.Issue <= 0 {
		return fmt.Errorf("issue must be a positive integer, got %d", m.Issue)
	}
	if strings.TrimSpace(m.ProjectItemID) == "" {
		return fmt.Errorf("project_item_id must be non-empty")
	}
	if err := ValidateRunID(m.RunID); err != nil {
		return err
	}
	if m.ClaimedAt.IsZero() {
		return fmt.Errorf("claimed_at must be set")
	}
	return nil
}

// Encode renders the claim marker as a comment-embeddable block.
func (m *ClaimMarker) Encode() (string, error) {
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("encoding claim marker: %w", err)
	}
	var b strings.Builder
	b.WriteString(commentOpen + " " + ClaimSentinel + "\n")
	b.WriteString("issue: " + strconv.Itoa(m.Issue) + "\n")
	b.WriteString("project_item_id: " + m.ProjectItemID + "\n")
	b.WriteString("run_id: " + m.RunID + "\n")
	b.WriteString("claimed_at: " + FormatTimestamp(m.ClaimedAt) + "\n")
	b.WriteString(commentClose)
	return b.String(), nil
}

// Validate checks all field invariants of a run marker.
func (m *RunMarker) Validate() error {
	if m.Issue <= 0 {
		return fmt.Errorf("issue must be a positive integer, got %d", m.Issue)
	}
	if strings.TrimSpace(m.ProjectItemID) == "" {
		return fmt.Errorf("project_item_id must be non-empty")
	}
	return ValidateRunID(m.RunID)
}

// Encode renders the run marker as a comment-embeddable block.
func (m *RunMarker) Encode() (string, error) {
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("encoding run marker: %w", err)
	}
	var b strings.Builder
	b.WriteString(commentOpen + " " + RunSentinel + "\n")
	b.WriteString("issue: " + strconv.Itoa(m.Issue) + "\n")
	b.WriteString("project_item_id: " + m.ProjectItemID + "\n")
	b.WriteString("run_id: " + m.RunID + "\n")
	b.WriteString(commentClose)
	return b.String(), nil
}

// RefsLine returns the human-readable backlink line for a PR body.
func RefsLine(issue int) string {
	return "Refs #" + strconv.Itoa(issue)
}

// DecodeClaimMarker extracts a claim marker from a free-text body.
// Returns (nil, nil) when the sentinel is absent; an ambiguous-parse error
// when the sentinel is present but the block cannot be fully parsed.
func DecodeClaimMarker(body string) (*ClaimMarker, error) {
	fields, found, err := decodeBlock(body, ClaimSentinel,
		[]string{"issue", "project_item_id", "run_id", "claimed_at"})
	if err != nil || !found {
		return nil, err
	}

	issue, err := parsePositiveInt(fields["issue"])
	if err != nil {
		return nil, ambiguous(ClaimSentinel, "field issue: %v", err)
	}
	claimedAt, err := ParseTimestamp(fields["claimed_at"])
	if err != nil {
		return nil, ambiguous(ClaimSentinel, "field claimed_at: %v", err)
	}
	m := &ClaimMarker{
		Issue:         issue,
		ProjectItemID: fields["project_item_id"],
		RunID:         fields["run_id"],
		ClaimedAt:     claimedAt,
	}
	if err := m.Validate(); err != nil {
		return nil, ambiguous(ClaimSentinel, "%v", err)
	}
	return m, nil
}

// DecodeRunMarker extracts a run marker from a free-text body.
// Same contract as DecodeClaimMarker.
func DecodeRunMarker(body string) (*RunMarker, error) {
	fields, found, err := decodeBlock(body, RunSentinel,
		[]string{"issue", "project_item_id", "run_id"})
	if err != nil || !found {
		return nil, err
	}

	issue, err := parsePositiveInt(fields["issue"])
	if err != nil {
		return nil, ambiguous(RunSentinel, "field issue: %v", err)
	}
	m := &RunMarker{
		Issue:         issue,
		ProjectItemID: fields["project_item_id"],
		RunID:         fields["run_id"],
	}
	if err := m.Validate(); err != nil {
		return nil, ambiguous(RunSentinel, "%v", err)
	}
	return m, nil
}

// HasSentinel reports whether body contains the opening line of a block
// with the given sentinel, without attempting a full parse. Used by the
// linkage resolver to detect truncated markers in list responses.
func HasSentinel(body, sentinel string) bool {
	for _, line := range strings.Split(body, "\n") {
		if isSentinelLine(line, sentinel) {
			return true
		}
	}
	return false
}

// decodeBlock runs the line-oriented grammar: locate the sentinel line,
// then consume key:value lines until the closing delimiter. Returns the
// field map, whether the sentinel was found, and any parse error.
func decodeBlock(body, sentinel string, allowedKeys []string) (map[string]string, bool, error) {
	allowed := make(map[string]bool, len(allowedKeys))
	for _, k := range allowedKeys {
		allowed[k] = true
	}

	lines := strings.Split(body, "\n")
	start := -1
	for i, line := range lines {
		if isSentinelLine(line, sentinel) {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, false, nil
	}

	fields := make(map[string]string)
	closed := false
	for _, raw := range lines[start+1:] {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if line == commentClose {
			closed = true
			break
		}

		// The closing delimiter may share a line with the last field.
		if trimmed, ok := strings.CutSuffix(line, commentClose); ok {
			line = strings.TrimSpace(trimmed)
			closed = true
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, true, ambiguous(sentinel, "line %q has no key:value separator", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, true, ambiguous(sentinel, "line %q has an empty key", line)
		}
		if !allowed[key] {
			return nil, true, ambiguous(sentinel, "unknown key %q", key)
		}
		if _, dup := fields[key]; dup {
			return nil, true, ambiguous(sentinel, "duplicate key %q", key)
		}
		fields[key] = value

		if closed {
			break
		}
	}
	if !closed {
		return nil, true, ambiguous(sentinel, "missing closing delimiter %q", commentClose)
	}
	for _, k := range allowedKeys {
		if _, ok := fields[k]; !ok {
			return nil, true, ambiguous(sentinel, "missing field %q", k)
		}
	}
	return fields, true, nil
}

// isSentinelLine matches "<!-- SENTINEL" with optional surrounding
// whitespace and optional whitespace after the comment-open token.
func isSentinelLine(line, sentinel string) bool {
	trimmed := strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(trimmed, commentOpen)
	if !ok {
		return false
	}
	return strings.TrimSpace(rest) == sentinel
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

func ambiguous(sentinel, format string, args ...interface{}) error {
	return coorderr.New(coorderr.CodeAmbiguousMarker,
		"%s block: %s", sentinel, fmt.Sprintf(format, args...))
}
