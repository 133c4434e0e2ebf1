// Package policy implements the role/status transition gate.
//
// The gate is a pure table lookup: (role, from, to) -> decision. It performs
// no I/O and holds no mutable state; the claim coordinator consults it
// before any write and treats a denial as fatal for the whole request.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stagehand-sh/stagehand/internal/coorderr"
	"github.com/stagehand-sh/stagehand/internal/types"
)

// Decision is the outcome of a transition lookup.
// AutomationAllowed=false marks transitions that exist in the workflow but
// must always be performed by a human actor, even when an automated role
// nominally could request them (the final sign-off, for example).
type Decision struct {
	Allowed           bool
	AutomationAllowed bool
}

// Transition is a table key.
type Transition struct {
	Role types.Role
	From types.Status
	To   types.Status
}

// Table is an immutable transition policy table.
type Table struct {
	rules map[Transition]Decision
}

// Decide looks up the decision for a transition. Transitions absent from
// the table are denied.
func (t *Table) Decide(role types.Role, from, to types.Status) Decision {
	return t.rules[Transition{Role: role, From: from, To: to}]
}

// Authorize returns a policy_denied error unless the transition is allowed
// for the role. Roles other than HUMAN are automated actors and additionally
// require AutomationAllowed.
func (t *Table) Authorize(role types.Role, from, to types.Status) error {
	d := t.Decide(role, from, to)
	if !d.Allowed {
		return coorderr.New(coorderr.CodePolicyDenied,
			"role %s may not move %q -> %q", role, from, to)
	}
	if role != types.RoleHuman && !d.AutomationAllowed {
		return coorderr.New(coorderr.CodePolicyDenied,
			"transition %q -> %q requires a human actor, denied for %s", from, to, role)
	}
	return nil
}

// Rules returns a copy of the table's rules, for display.
func (t *Table) Rules() map[Transition]Decision {
	out := make(map[Transition]Decision, len(t.rules))
	for k, v := range t.rules {
		out[k] = v
	}
	return out
}

// Default returns the built-in transition table.
func Default() *Table {
	rules := map[Transition]Decision{
		// Executors pick up ready work and hand finished work to review.
		{types.RoleExecutor, types.StatusReady, types.StatusInProgress}:      {Allowed: true, AutomationAllowed: true},
		{types.RoleExecutor, types.StatusInProgress, types.StatusInReview}:   {Allowed: true, AutomationAllowed: true},

		// Reviewers can send work back; the final sign-off exists in the
		// workflow but is reserved for humans.
		{types.RoleReviewer, types.StatusInReview, types.StatusInProgress}:   {Allowed: true, AutomationAllowed: true},
		{types.RoleReviewer, types.StatusInReview, types.StatusDone}:         {Allowed: true, AutomationAllowed: false},

		// The orchestrator shuffles work between ready and in-progress and
		// can pull stalled reviews back.
		{types.RoleOrchestrator, types.StatusReady, types.StatusInProgress}:  {Allowed: true, AutomationAllowed: true},
		{types.RoleOrchestrator, types.StatusInProgress, types.StatusReady}:  {Allowed: true, AutomationAllowed: true},
		{types.RoleOrchestrator, types.StatusInReview, types.StatusInProgress}: {Allowed: true, AutomationAllowed: true},
	}

	// Humans can perform any forward or backward transition.
	for _, from := range types.ValidStatuses() {
		for _, to := range types.ValidStatuses() {
			if from == to {
				continue
			}
			rules[Transition{types.RoleHuman, from, to}] = Decision{Allowed: true, AutomationAllowed: true}
		}
	}

	return &Table{rules: rules}
}

// transitionEntry is the YAML schema for one policy rule.
type transitionEntry struct {
	Role       string `yaml:"role"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	Allowed    bool   `yaml:"allowed"`
	Automation bool   `yaml:"automation"`
}

// policyFile is the YAML schema for a policy table file.
type policyFile struct {
	Transitions []transitionEntry `yaml:"transitions"`
}

// Load reads a transition table from a YAML policy file. The file fully
// replaces the default table; there is no merging, so an incomplete file
// denies everything it omits.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if len(pf.Transitions) == 0 {
		return nil, fmt.Errorf("policy file %s defines no transitions", path)
	}

	rules := make(map[Transition]Decision, len(pf.Transitions))
	for i, e := range pf.Transitions {
		role, err := types.ParseRole(e.Role)
		if err != nil {
			return nil, fmt.Errorf("policy file %s, transition %d: %w", path, i, err)
		}
		from, err := types.ParseStatus(e.From)
		if err != nil {
			return nil, fmt.Errorf("policy file %s, transition %d: %w", path, i, err)
		}
		to, err := types.ParseStatus(e.To)
		if err != nil {
			return nil, fmt.Errorf("policy file %s, transition %d: %w", path, i, err)
		}
		key := Transition{Role: role, From: from, To: to}
		if _, dup := rules[key]; dup {
			return nil, fmt.Errorf("policy file %s: duplicate transition %s %q -> %q", path, role, from, to)
		}
		rules[key] = Decision{Allowed: e.Allowed, AutomationAllowed: e.Automation}
	}

	return &Table{rules: rules}, nil
}
