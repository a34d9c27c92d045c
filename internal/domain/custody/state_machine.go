package custody

import (
	"fmt"
	"sync"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// State is the custody state of an evidence item, derived from its latest
// custody entry.
type State string

const (
	// StateNone means no custody entry exists yet; only SEIZED is valid.
	StateNone           State = ""
	StateSeized         State = "SEIZED"
	StateInCustody      State = "IN_CUSTODY"
	StateAnalyzed       State = "ANALYZED"
	StatePresentedCourt State = "PRESENTED_COURT"
	StateReturned       State = "RETURNED"
	StateDisposed       State = "DISPOSED"
)

// String returns the string representation of the state
func (s State) String() string {
	if s == StateNone {
		return "NONE"
	}
	return string(s)
}

// IsTerminal reports whether the custody chain is closed. Returned evidence
// has left custody and disposed evidence no longer exists, so both end the
// chain; retention deletion requires one of these states.
func (s State) IsTerminal() bool {
	return s == StateReturned || s == StateDisposed
}

// TransitionRule describes one permitted custody action: the states it may
// be applied from and the state it produces.
type TransitionRule struct {
	Action     Action
	FromStates []State
	// FromAnyNonTerminal permits the action from every open state and
	// takes precedence over FromStates.
	FromAnyNonTerminal bool
	ResultState        State
}

// allows reports whether the rule permits the action from the given state
func (r TransitionRule) allows(from State) bool {
	if r.FromAnyNonTerminal {
		return from != StateNone && !from.IsTerminal()
	}
	for _, s := range r.FromStates {
		if s == from {
			return true
		}
	}
	return false
}

// TransitionTable maps custody actions onto transition rules for one
// evidence category.
type TransitionTable struct {
	rules map[Action]TransitionRule
}

// NewTransitionTable builds a table from a rule list
func NewTransitionTable(rules []TransitionRule) *TransitionTable {
	table := &TransitionTable{rules: make(map[Action]TransitionRule, len(rules))}
	for _, rule := range rules {
		table.rules[rule.Action] = rule
	}
	return table
}

// DefaultTransitionTable returns the standard evidence custody rules.
// SEIZED counts as an in-custody state: the first handoff, analysis or court
// presentation may follow seizure directly.
func DefaultTransitionTable() *TransitionTable {
	return NewTransitionTable([]TransitionRule{
		{
			Action:      ActionSeized,
			FromStates:  []State{StateNone},
			ResultState: StateSeized,
		},
		{
			Action:      ActionTransferred,
			FromStates:  []State{StateSeized, StateInCustody, StateAnalyzed, StatePresentedCourt},
			ResultState: StateInCustody,
		},
		{
			Action:      ActionAnalyzed,
			FromStates:  []State{StateSeized, StateInCustody},
			ResultState: StateAnalyzed,
		},
		{
			Action:      ActionPresentedCourt,
			FromStates:  []State{StateSeized, StateInCustody, StateAnalyzed},
			ResultState: StatePresentedCourt,
		},
		{
			Action:             ActionReturned,
			FromAnyNonTerminal: true,
			ResultState:        StateReturned,
		},
		{
			Action:             ActionDisposed,
			FromAnyNonTerminal: true,
			ResultState:        StateDisposed,
		},
	})
}

// Apply validates the action against the current state and returns the
// resulting state. Legal-hold enforcement for DISPOSED happens in the
// custody service, which can see the retention domain.
func (t *TransitionTable) Apply(current State, action Action) (State, error) {
	rule, ok := t.rules[action]
	if !ok {
		return StateNone, errors.NewInvalidTransitionError(
			fmt.Sprintf("no transition rule for action %s", action))
	}

	if !rule.allows(current) {
		return StateNone, errors.NewInvalidTransitionError(
			fmt.Sprintf("action %s is not permitted from state %s", action, current))
	}

	return rule.ResultState, nil
}

// CanApply reports whether an action is permitted from the given state
func (t *TransitionTable) CanApply(current State, action Action) bool {
	rule, ok := t.rules[action]
	return ok && rule.allows(current)
}

// StateForAction returns the state an action produces
func (t *TransitionTable) StateForAction(action Action) (State, bool) {
	rule, ok := t.rules[action]
	if !ok {
		return StateNone, false
	}
	return rule.ResultState, true
}

// RuleRegistry maps evidence categories to transition tables so new
// categories can register custody rules without touching the state machine.
type RuleRegistry struct {
	mu       sync.RWMutex
	fallback *TransitionTable
	tables   map[string]*TransitionTable
}

// NewRuleRegistry creates a registry with the default table as fallback
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{
		fallback: DefaultTransitionTable(),
		tables:   make(map[string]*TransitionTable),
	}
}

// Register installs a category-specific transition table
func (r *RuleRegistry) Register(category string, table *TransitionTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[category] = table
}

// TableFor returns the table for a category, falling back to the default
func (r *RuleRegistry) TableFor(category string) *TransitionTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if table, ok := r.tables[category]; ok {
		return table
	}
	return r.fallback
}

// StateAfter derives the custody state following the given entry. A nil
// entry means no custody has been recorded.
func StateAfter(table *TransitionTable, entry *Entry) State {
	if entry == nil {
		return StateNone
	}
	if state, ok := table.StateForAction(entry.Action); ok {
		return state
	}
	return StateNone
}
