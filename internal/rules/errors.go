package rules

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCacheMiss is returned by ReadFromCache when no projection exists for
// the rule; callers cannot distinguish "disabled" from "expired" and must
// treat a miss as non-authoritative.
var ErrCacheMiss = errors.New("rules: cache miss")

// DuplicateNameError rejects a create or rename that collides with an
// existing rule name.
type DuplicateNameError struct {
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("rule name %q already exists", e.Name)
}

// NotFoundError reports a rule with no durable row, by id or by name.
type NotFoundError struct {
	ID   uuid.UUID
	Name string
}

func (e NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("rule %q not found", e.Name)
	}
	return fmt.Sprintf("rule %s not found", e.ID)
}

// ValidationError rejects malformed rule specifications before any store
// write happens.
type ValidationError struct {
	Field  string
	Detail string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Detail)
}

// DepthExceededError marks a composite evaluation that hit the recursion
// bound. It is carried inside a non-matching Outcome, never raised.
type DepthExceededError struct {
	Rule  string
	Depth int
}

func (e DepthExceededError) Error() string {
	return fmt.Sprintf("composite rule %q exceeded max depth %d", e.Rule, e.Depth)
}

// CycleError marks a composite rule that references itself, directly or
// transitively. Like depth exhaustion it yields a non-matching Outcome so a
// misconfigured rule cannot change fraud-decision semantics.
type CycleError struct {
	Rule string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("composite rule %q references itself", e.Rule)
}
