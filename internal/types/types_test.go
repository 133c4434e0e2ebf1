package types

import "testing"

// TestParseStatus checks case-insensitive parsing and rejection of unknowns.
func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{"Ready", StatusReady, false},
		{"ready", StatusReady, false},
		{"  In Progress  ", StatusInProgress, false},
		{"in review", StatusInReview, false},
		{"DONE", StatusDone, false},
		{"Backlog", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseStatus(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseStatus(%q): expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatus(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// TestParseRole checks case-insensitive role parsing.
func TestParseRole(t *testing.T) {
	got, err := ParseRole("executor")
	if err != nil {
		t.Fatalf("ParseRole failed: %v", err)
	}
	if got != RoleExecutor {
		t.Errorf("expected RoleExecutor, got %v", got)
	}

	if _, err := ParseRole("janitor"); err == nil {
		t.Error("expected error for unknown role")
	}
}

// TestSortWorkItems verifies ascending issue-number ordering.
func TestSortWorkItems(t *testing.T) {
	items := []WorkItem{
		{ProjectItemID: "PVTI_c", IssueNumber: 30},
		{ProjectItemID: "PVTI_a", IssueNumber: 10},
		{ProjectItemID: "PVTI_b", IssueNumber: 20},
	}
	SortWorkItems(items)

	want := []int{10, 20, 30}
	for i, n := range want {
		if items[i].IssueNumber != n {
			t.Errorf("position %d: expected issue %d, got %d", i, n, items[i].IssueNumber)
		}
	}
}

// TestSortComments verifies ascending sequence-id ordering, which the
// claim winner rule depends on.
func TestSortComments(t *testing.T) {
	comments := []Comment{{ID: 11}, {ID: 10}, {ID: 12}}
	SortComments(comments)
	if comments[0].ID != 10 || comments[1].ID != 11 || comments[2].ID != 12 {
		t.Errorf("unexpected order: %+v", comments)
	}
}
