// Package coorderr defines the typed error taxonomy shared by the claim
// coordinator and linkage resolver.
//
// Every coordination failure carries a stable machine-readable Code so
// callers can pattern-match on error class instead of message text. The
// taxonomy:
//
//   - validation: malformed input, rejected before any store call
//   - ambiguous-state codes: the store's state has more than one plausible
//     interpretation; always fails closed
//   - policy_denied: the policy gate refused a transition; fatal for the
//     whole request
//   - transport: the store is unreachable or returned an unexpected shape
package coorderr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

const (
	// CodeValidation marks malformed input to the call contract.
	CodeValidation Code = "validation"

	// CodeAmbiguousMarker marks a marker block that is present but cannot
	// be unambiguously parsed.
	CodeAmbiguousMarker Code = "ambiguous_marker"

	// CodeItemMismatch marks a claim marker whose project item id does not
	// match the work item under evaluation.
	CodeItemMismatch Code = "project_item_id_mismatch"

	// CodeMarkerIssueMismatch marks a PR whose Refs backlink and run marker
	// disagree about which issue the PR delivers.
	CodeMarkerIssueMismatch Code = "marker_issue_mismatch"

	// CodeForbiddenAutoclose marks a PR body containing an auto-close
	// keyword referencing a tracked issue.
	CodeForbiddenAutoclose Code = "forbidden_autoclose"

	// CodeUnmarkedRefs marks a Refs-only linkage where the reviewer path
	// requires a valid run marker.
	CodeUnmarkedRefs Code = "unmarked_refs"

	// CodeAmbiguousLinkedPR marks more than one pull request qualifying as
	// the delivery for one issue.
	CodeAmbiguousLinkedPR Code = "ambiguous_linked_pr"

	// CodeAmbiguousProjectItem marks an issue mapping to zero or multiple
	// project items.
	CodeAmbiguousProjectItem Code = "ambiguous_project_item"

	// CodePolicyDenied marks a transition refused by the policy gate.
	CodePolicyDenied Code = "policy_denied"

	// CodeTransport marks a store transport or shape failure.
	CodeTransport Code = "transport"
)

// Error is a coordination failure with a stable code and enough context
// for a human to resolve it.
type Error struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	IssueNumber int    `json:"issue_number,omitempty"`
	PRNumber    int    `json:"pr_number,omitempty"`
	PRURL       string `json:"pr_url,omitempty"`
	LinkedCount int    `json:"linked_count,omitempty"`
	Err         error  `json:"-"`
}

// Error implements the error interface. The wrapped cause, when present,
// is part of the surfaced text so the failure is resolvable from the
// message alone.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.IssueNumber > 0 {
		return fmt.Sprintf("%s: %s (issue #%d)", e.Code, msg, e.IssueNumber)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a coorderr.Error with the same code.
// This lets callers match with errors.Is(err, &coorderr.Error{Code: ...}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New constructs an Error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation constructs a validation error.
func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, format, args...)
}

// Transport wraps a store failure.
func Transport(err error, format string, args ...interface{}) *Error {
	return Wrap(CodeTransport, err, format, args...)
}

// CodeOf extracts the machine code from any error in the chain.
// Returns the empty code if err carries no coordination error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsAmbiguous reports whether err is any ambiguous-state failure.
func IsAmbiguous(err error) bool {
	switch CodeOf(err) {
	case CodeAmbiguousMarker, CodeItemMismatch, CodeMarkerIssueMismatch,
		CodeForbiddenAutoclose, CodeUnmarkedRefs, CodeAmbiguousLinkedPR,
		CodeAmbiguousProjectItem:
		return true
	}
	return false
}
