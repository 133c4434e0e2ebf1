package types

import "sort"

// SortWorkItems orders work items ascending by issue number.
// The claim coordinator scans candidates in this order so that independent
// coordinators converge on the same candidate sequence.
func SortWorkItems(items []WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].IssueNumber < items[j].IssueNumber
	})
}

// SortComments orders comments ascending by store-assigned sequence id.
// The lowest id wins claim ties, so this ordering must be stable under
// repeated reads.
func SortComments(comments []Comment) {
	sort.Slice(comments, func(i, j int) bool {
		return comments[i].ID < comments[j].ID
	})
}
