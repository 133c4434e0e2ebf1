package marker

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
)

const testRunID = "11111111-1111-4111-8111-111111111111"

// TestClaimMarkerRoundTrip verifies encode/decode returns the original
// fields exactly.
func TestClaimMarkerRoundTrip(t *testing.T) {
	claimedAt := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	original := &ClaimMarker{
		Issue:         21,
		ProjectItemID: "PVTI_ready_1",
		RunID:         testRunID,
		ClaimedAt:     claimedAt,
	}

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeClaimMarker("Some prose before.\n\n" + encoded + "\n\nAnd after.")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded == nil {
		t.Fatal("expected a marker, got nil")
	}
	if *decoded != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

// TestRunMarkerRoundTrip verifies the PR-body run marker round trip.
func TestRunMarkerRoundTrip(t *testing.T) {
	original := &RunMarker{Issue: 44, ProjectItemID: "PVTI_x9", RunID: testRunID}

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	body := RefsLine(44) + "\n\n" + encoded
	decoded, err := DecodeRunMarker(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decoded != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

// TestDecodeAbsentSentinel verifies a body without the sentinel decodes to
// nil with no error.
func TestDecodeAbsentSentinel(t *testing.T) {
	m, err := DecodeClaimMarker("Just a regular comment mentioning EXECUTOR work.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil marker, got %+v", m)
	}
}

// TestDecodeToleratesWhitespaceAndSameLineClose covers the grammar
// tolerances: whitespace after the comment-open token, indented lines, and
// a closing delimiter sharing the last field's line.
func TestDecodeToleratesWhitespaceAndSameLineClose(t *testing.T) {
	bodies := []string{
		"<!--   EXECUTOR_CLAIM_V1\nissue: 21\nproject_item_id: PVTI_a\nrun_id: " + testRunID + "\nclaimed_at: 2026-01-15T09:30:00Z\n   -->",
		"  <!-- EXECUTOR_CLAIM_V1\n  issue: 21\n  project_item_id: PVTI_a\n  run_id: " + testRunID + "\n  claimed_at: 2026-01-15T09:30:00Z -->",
	}
	for i, body := range bodies {
		m, err := DecodeClaimMarker(body)
		if err != nil {
			t.Errorf("body %d: unexpected error: %v", i, err)
			continue
		}
		if m == nil || m.Issue != 21 || m.ProjectItemID != "PVTI_a" {
			t.Errorf("body %d: unexpected marker %+v", i, m)
		}
	}
}

// TestDecodeAmbiguousFailsClosed verifies that a present-but-broken block
// is an ambiguous-parse error, never silently treated as absent.
func TestDecodeAmbiguousFailsClosed(t *testing.T) {
	valid := "issue: 21\nproject_item_id: PVTI_a\nrun_id: " + testRunID + "\nclaimed_at: 2026-01-15T09:30:00Z"

	tests := []struct {
		name string
		body string
	}{
		{"missing end delimiter", "<!-- EXECUTOR_CLAIM_V1\n" + valid},
		{"line without separator", "<!-- EXECUTOR_CLAIM_V1\nissue 21\n-->"},
		{"unknown key", "<!-- EXECUTOR_CLAIM_V1\n" + valid + "\ncolor: red\n-->"},
		{"duplicate key", "<!-- EXECUTOR_CLAIM_V1\nissue: 21\nissue: 22\n" + valid + "\n-->"},
		{"missing field", "<!-- EXECUTOR_CLAIM_V1\nissue: 21\n-->"},
		{"non-positive issue", strings.Replace("<!-- EXECUTOR_CLAIM_V1\n"+valid+"\n-->", "issue: 21", "issue: 0", 1)},
		{"bad uuid", strings.Replace("<!-- EXECUTOR_CLAIM_V1\n"+valid+"\n-->", testRunID, "not-a-uuid", 1)},
		{"non-v4 uuid", strings.Replace("<!-- EXECUTOR_CLAIM_V1\n"+valid+"\n-->", testRunID, "11111111-1111-1111-8111-111111111111", 1)},
		{"bad timestamp", strings.Replace("<!-- EXECUTOR_CLAIM_V1\n"+valid+"\n-->", "2026-01-15T09:30:00Z", "2026-01-15 09:30:00", 1)},
		{"offset timestamp", strings.Replace("<!-- EXECUTOR_CLAIM_V1\n"+valid+"\n-->", "2026-01-15T09:30:00Z", "2026-01-15T09:30:00+02:00", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeClaimMarker(tt.body)
			if err == nil {
				t.Fatalf("expected ambiguous-parse error, got marker %+v", m)
			}
			if !errors.Is(err, &coorderr.Error{Code: coorderr.CodeAmbiguousMarker}) {
				t.Errorf("expected ambiguous_marker code, got %v", err)
			}
		})
	}
}

// TestDecodeMillisecondTimestamp verifies the optional .fff precision.
func TestDecodeMillisecondTimestamp(t *testing.T) {
	body := "<!-- EXECUTOR_CLAIM_V1\nissue: 7\nproject_item_id: PVTI_b\nrun_id: " + testRunID + "\nclaimed_at: 2026-01-15T09:30:00.250Z\n-->"
	m, err := DecodeClaimMarker(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.ClaimedAt.Nanosecond() != 250_000_000 {
		t.Errorf("expected 250ms, got %v", m.ClaimedAt)
	}
}

// TestHasSentinel verifies truncation detection.
func TestHasSentinel(t *testing.T) {
	if !HasSentinel("prose\n<!-- EXECUTOR_RUN_V1\nissue: 3", RunSentinel) {
		t.Error("expected sentinel to be detected in truncated body")
	}
	if HasSentinel("no marker here", RunSentinel) {
		t.Error("did not expect sentinel")
	}
}

// TestValidateRunID rejects non-canonical and non-v4 UUIDs.
func TestValidateRunID(t *testing.T) {
	if err := ValidateRunID(testRunID); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	for _, bad := range []string{
		"",
		"not-a-uuid",
		"{11111111-1111-4111-8111-111111111111}",
		"11111111-1111-1111-8111-111111111111", // v1 shape
	} {
		if err := ValidateRunID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
