// Package storetest provides an in-memory work item store for tests.
//
// The fake keeps all state under one mutex and exposes hooks that fire just
// before mutating operations, which lets tests inject cross-process races
// (a competing claim comment landing between a write and its verifying
// re-read) without goroutine choreography.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stagehand-sh/stagehand/internal/types"
)

// FieldWrite records one UpdateProjectItemField call.
type FieldWrite struct {
	ItemID string
	Field  string
	Value  string
}

// Store is an in-memory store.Store implementation.
type Store struct {
	mu sync.Mutex

	items    []types.WorkItem
	fields   map[string]map[string]string // itemID -> field -> value
	comments map[int][]types.Comment      // issue -> comments, ascending id
	pulls    []types.PullRequest

	nextCommentID int64

	// TruncateListBodies, when > 0, truncates PR bodies to that many bytes
	// in ListPullRequests responses, mimicking the tracker's list-view
	// truncation. GetPullRequest always returns the full body.
	TruncateListBodies int

	// BeforeCreateComment fires before a comment write commits, outside the
	// lock, so tests can inject a competing writer.
	BeforeCreateComment func(issueNumber int, body string)

	// BeforeUpdateField fires before a field write commits, outside the
	// lock, so tests can move a status out from under the protocol.
	BeforeUpdateField func(itemID, field, value string)

	// AfterUpdateField fires after a field write commits, outside the lock,
	// so tests can land a competing write before the verifying re-read.
	AfterUpdateField func(itemID, field, value string)

	// ForcedErr, when set for an operation name, makes that operation fail.
	ForcedErr map[string]error

	// CommentWrites counts CreateIssueComment calls.
	CommentWrites int

	// FieldWrites records every UpdateProjectItemField call.
	FieldWrites []FieldWrite
}

// New creates an empty fake store.
func New() *Store {
	return &Store{
		fields:        make(map[string]map[string]string),
		comments:      make(map[int][]types.Comment),
		nextCommentID: 1,
		ForcedErr:     make(map[string]error),
	}
}

// AddItem seeds a work item and its Status field.
func (s *Store) AddItem(item types.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	if s.fields[item.ProjectItemID] == nil {
		s.fields[item.ProjectItemID] = make(map[string]string)
	}
	s.fields[item.ProjectItemID]["Status"] = string(item.Status)
	if item.Sprint != "" {
		s.fields[item.ProjectItemID]["Sprint"] = item.Sprint
	}
}

// AddPull seeds a pull request.
func (s *Store) AddPull(pr types.PullRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls = append(s.pulls, pr)
}

// AddComment seeds a comment with an explicit sequence id, for tests that
// need precise winner-rule ordering.
func (s *Store) AddComment(issueNumber int, id int64, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[issueNumber] = append(s.comments[issueNumber], types.Comment{ID: id, Body: body})
	if id >= s.nextCommentID {
		s.nextCommentID = id + 1
	}
}

// Comments returns a copy of an issue's comments.
func (s *Store) Comments(issueNumber int) []types.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Comment, len(s.comments[issueNumber]))
	copy(out, s.comments[issueNumber])
	return out
}

func (s *Store) forced(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ForcedErr[op]
}

// ListProjectItems implements store.Store.
func (s *Store) ListProjectItems(ctx context.Context) ([]types.WorkItem, error) {
	if err := s.forced("ListProjectItems"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.WorkItem, len(s.items))
	copy(out, s.items)
	// Reflect the live Status field, the way the tracker would.
	for i := range out {
		if v, ok := s.fields[out[i].ProjectItemID]["Status"]; ok {
			out[i].Status = types.Status(v)
		}
	}
	return out, nil
}

// ListPullRequests implements store.Store.
func (s *Store) ListPullRequests(ctx context.Context, state string) ([]types.PullRequest, error) {
	if err := s.forced("ListPullRequests"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PullRequest
	for _, pr := range s.pulls {
		if state != "" && state != "all" && pr.State != state {
			continue
		}
		if s.TruncateListBodies > 0 && len(pr.Body) > s.TruncateListBodies {
			pr.Body = pr.Body[:s.TruncateListBodies]
		}
		out = append(out, pr)
	}
	return out, nil
}

// GetPullRequest implements store.Store.
func (s *Store) GetPullRequest(ctx context.Context, number int) (*types.PullRequest, error) {
	if err := s.forced("GetPullRequest"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range s.pulls {
		if pr.Number == number {
			out := pr
			return &out, nil
		}
	}
	return nil, fmt.Errorf("pull request #%d not found", number)
}

// ListIssueComments implements store.Store.
func (s *Store) ListIssueComments(ctx context.Context, issueNumber int) ([]types.Comment, error) {
	if err := s.forced("ListIssueComments"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Comment, len(s.comments[issueNumber]))
	copy(out, s.comments[issueNumber])
	return out, nil
}

// CreateIssueComment implements store.Store.
func (s *Store) CreateIssueComment(ctx context.Context, issueNumber int, body string) (*types.Comment, error) {
	if err := s.forced("CreateIssueComment"); err != nil {
		return nil, err
	}
	if s.BeforeCreateComment != nil {
		s.BeforeCreateComment(issueNumber, body)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := types.Comment{ID: s.nextCommentID, Body: body}
	s.nextCommentID++
	s.comments[issueNumber] = append(s.comments[issueNumber], c)
	s.CommentWrites++
	return &c, nil
}

// GetProjectItemFieldValue implements store.Store.
func (s *Store) GetProjectItemFieldValue(ctx context.Context, itemID, field string) (string, error) {
	if err := s.forced("GetProjectItemFieldValue"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.fields[itemID]
	if !ok {
		return "", fmt.Errorf("project item %s not found", itemID)
	}
	return fields[field], nil
}

// UpdateProjectItemField implements store.Store.
func (s *Store) UpdateProjectItemField(ctx context.Context, itemID, field, value string) error {
	if err := s.forced("UpdateProjectItemField"); err != nil {
		return err
	}
	if s.BeforeUpdateField != nil {
		s.BeforeUpdateField(itemID, field, value)
	}
	s.mu.Lock()
	if s.fields[itemID] == nil {
		s.mu.Unlock()
		return fmt.Errorf("project item %s not found", itemID)
	}
	s.fields[itemID][field] = value
	s.FieldWrites = append(s.FieldWrites, FieldWrite{ItemID: itemID, Field: field, Value: value})
	s.mu.Unlock()
	if s.AfterUpdateField != nil {
		s.AfterUpdateField(itemID, field, value)
	}
	return nil
}

// SetField writes a field value directly, bypassing hooks and counters.
// For tests that simulate an external actor's write.
func (s *Store) SetField(itemID, field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fields[itemID] == nil {
		s.fields[itemID] = make(map[string]string)
	}
	s.fields[itemID][field] = value
}
