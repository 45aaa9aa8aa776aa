package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Semantics mirror the Postgres store, including ordering and the running
// execution-time average.
type MemoryStore struct {
	mu         sync.RWMutex
	rules      map[uuid.UUID]*Rule
	executions []*Execution
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty durable store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[uuid.UUID]*Rule)}
}

func cloneRule(r *Rule) *Rule {
	c := *r
	if r.LastExecutedAt != nil {
		t := *r.LastExecutedAt
		c.LastExecutedAt = &t
	}
	c.Params = append([]byte(nil), r.Params...)
	return &c
}

func (s *MemoryStore) InsertRule(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.Name == rule.Name {
			return DuplicateNameError{Name: rule.Name}
		}
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *MemoryStore) GetRule(_ context.Context, id uuid.UUID) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, NotFoundError{ID: id}
	}
	return cloneRule(rule), nil
}

func (s *MemoryStore) GetRuleByName(_ context.Context, name string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if rule.Name == name {
			return cloneRule(rule), nil
		}
	}
	return nil, NotFoundError{Name: name}
}

func (s *MemoryStore) ListRules(_ context.Context, filter ListFilter) ([]*Rule, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Rule
	for _, rule := range s.rules {
		if filter.Enabled != nil && rule.Enabled != *filter.Enabled {
			continue
		}
		if filter.Type != nil && rule.Type != *filter.Type {
			continue
		}
		matched = append(matched, cloneRule(rule))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit >= 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) UpdateRule(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rules[rule.ID]
	if !ok {
		return NotFoundError{ID: rule.ID}
	}
	for _, existing := range s.rules {
		if existing.ID != rule.ID && existing.Name == rule.Name {
			return DuplicateNameError{Name: rule.Name}
		}
	}
	// Execution statistics are owned by ApplyExecutionStats; keep them.
	updated := cloneRule(rule)
	updated.ExecutionCount = current.ExecutionCount
	updated.MatchCount = current.MatchCount
	updated.AvgExecutionTimeMs = current.AvgExecutionTimeMs
	updated.LastExecutedAt = current.LastExecutedAt
	s.rules[rule.ID] = updated
	return nil
}

func (s *MemoryStore) DeleteRule(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)
	return true, nil
}

func (s *MemoryStore) InsertExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *exec
	s.executions = append(s.executions, &c)
	return nil
}

func (s *MemoryStore) ApplyExecutionStats(_ context.Context, id uuid.UUID, matched bool, execMs float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return NotFoundError{ID: id}
	}

	rule.ExecutionCount++
	if matched {
		rule.MatchCount++
	}
	n := float64(rule.ExecutionCount)
	if rule.ExecutionCount == 1 {
		rule.AvgExecutionTimeMs = execMs
	} else {
		rule.AvgExecutionTimeMs = (rule.AvgExecutionTimeMs*(n-1) + execMs) / n
	}
	t := at
	rule.LastExecutedAt = &t
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, ruleID uuid.UUID, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Execution
	// Newest first.
	for i := len(s.executions) - 1; i >= 0; i-- {
		if s.executions[i].RuleID != ruleID {
			continue
		}
		c := *s.executions[i]
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
