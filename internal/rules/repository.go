package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/kvstore"
)

// ListFilter narrows and pages a rule listing. Limit < 0 means unbounded.
type ListFilter struct {
	Enabled *bool
	Type    *RuleType
	Limit   int
	Offset  int
}

// Store is the durable side of the repository. Implemented by the Postgres
// store and by MemoryStore for tests and single-node development.
type Store interface {
	InsertRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (*Rule, error)
	GetRuleByName(ctx context.Context, name string) (*Rule, error)
	// ListRules returns rules ordered by priority descending, then most
	// recently updated first, plus the unpaginated total.
	ListRules(ctx context.Context, filter ListFilter) ([]*Rule, int64, error)
	UpdateRule(ctx context.Context, rule *Rule) error
	// DeleteRule reports whether a row existed.
	DeleteRule(ctx context.Context, id uuid.UUID) (bool, error)

	InsertExecution(ctx context.Context, exec *Execution) error
	// ApplyExecutionStats bumps execution_count (and match_count when
	// matched), folds execMs into the running average, and stamps
	// last_executed_at.
	ApplyExecutionStats(ctx context.Context, id uuid.UUID, matched bool, execMs float64, at time.Time) error
	ListExecutions(ctx context.Context, ruleID uuid.UUID, limit int) ([]*Execution, error)
}

// Spec is the caller-supplied definition for a new rule.
type Spec struct {
	Name        string          `json:"name"`
	Type        RuleType        `json:"type"`
	Params      json.RawMessage `json:"params"`
	Enabled     bool            `json:"enabled"`
	Priority    int             `json:"priority"`
	Critical    bool            `json:"critical"`
	Description string          `json:"description,omitempty"`
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Name        *string          `json:"name,omitempty"`
	Params      *json.RawMessage `json:"params,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	Priority    *int             `json:"priority,omitempty"`
	Critical    *bool            `json:"critical,omitempty"`
	Description *string          `json:"description,omitempty"`
}

// CacheMetrics counts rule projection hits and misses. Implemented by the
// metrics Collector; a nil sink disables counting.
type CacheMetrics interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// Repository keeps the durable rule catalog and its cache projections
// consistent. The durable store is authoritative; every cache write is
// best-effort and a failed one degrades to a warning, repaired by the next
// RefreshCache.
type Repository struct {
	store         Store
	cache         kvstore.Store
	logger        *zap.Logger
	projectionTTL time.Duration
	cacheMetrics  CacheMetrics
}

// NewRepository wires a repository over a durable store and a cache store.
func NewRepository(store Store, cache kvstore.Store, logger *zap.Logger) *Repository {
	return &Repository{
		store:         store,
		cache:         cache,
		logger:        logger,
		projectionTTL: DefaultProjectionTTL,
	}
}

// SetProjectionTTL overrides the cache TTL for rule projections.
func (r *Repository) SetProjectionTTL(ttl time.Duration) {
	r.projectionTTL = ttl
}

// SetCacheMetrics installs the hit/miss sink for projection reads.
func (r *Repository) SetCacheMetrics(m CacheMetrics) {
	r.cacheMetrics = m
}

// Create validates and persists a new rule, then caches it if enabled.
// Duplicate names are rejected before any write.
func (r *Repository) Create(ctx context.Context, spec *Spec, actor string) (*Rule, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	if existing, err := r.store.GetRuleByName(ctx, spec.Name); err == nil && existing != nil {
		return nil, DuplicateNameError{Name: spec.Name}
	} else if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("check rule name: %w", err)
	}

	now := time.Now().UTC()
	rule := &Rule{
		ID:          uuid.New(),
		Name:        spec.Name,
		Type:        spec.Type,
		Params:      spec.Params,
		Enabled:     spec.Enabled,
		Priority:    spec.Priority,
		Critical:    spec.Critical,
		Description: spec.Description,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.store.InsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}

	if rule.Enabled {
		if err := r.WriteToCache(ctx, rule); err != nil {
			r.warnCache("write", rule.ID, err)
		}
	}

	r.logger.Info("rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("rule_name", rule.Name),
		zap.String("rule_type", string(rule.Type)),
		zap.String("created_by", actor))
	return rule, nil
}

// Get loads a rule from the durable store.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return r.store.GetRule(ctx, id)
}

// List pages through the catalog, priority descending then recency.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Rule, int64, error) {
	return r.store.ListRules(ctx, filter)
}

// Update applies a partial patch. A rename is checked for collisions; an
// enable writes the projection, a disable removes it.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, patch *Patch) (*Rule, error) {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil && *patch.Name != rule.Name {
		if existing, err := r.store.GetRuleByName(ctx, *patch.Name); err == nil && existing != nil {
			return nil, DuplicateNameError{Name: *patch.Name}
		} else if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("check rule name: %w", err)
		}
		rule.Name = *patch.Name
	}
	if patch.Params != nil {
		rule.Params = *patch.Params
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.Critical != nil {
		rule.Critical = *patch.Critical
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	rule.UpdatedAt = time.Now().UTC()

	if patch.Params != nil || patch.Name != nil {
		if err := ValidateSpec(&Spec{
			Name:   rule.Name,
			Type:   rule.Type,
			Params: rule.Params,
		}); err != nil {
			return nil, err
		}
	}

	if err := r.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}

	if rule.Enabled {
		if err := r.WriteToCache(ctx, rule); err != nil {
			r.warnCache("write", rule.ID, err)
		}
	} else {
		if err := r.RemoveFromCache(ctx, rule.ID); err != nil {
			r.warnCache("remove", rule.ID, err)
		}
	}

	return rule, nil
}

// Delete removes the durable row and the cache projection. Returns false
// (not an error) when the rule does not exist.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	existed, err := r.store.DeleteRule(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	if err := r.RemoveFromCache(ctx, id); err != nil {
		r.warnCache("remove", id, err)
	}
	if existed {
		r.logger.Info("rule deleted", zap.String("rule_id", id.String()))
	}
	return existed, nil
}

// Activate enables a rule. Already-enabled rules are a no-op.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return r.setEnabled(ctx, id, true)
}

// Deactivate disables a rule. Already-disabled rules are a no-op.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return r.setEnabled(ctx, id, false)
}

func (r *Repository) setEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*Rule, error) {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Enabled == enabled {
		return rule, nil
	}
	return r.Update(ctx, id, &Patch{Enabled: &enabled})
}

// RecordExecution appends one audit row for a rule dispatch and folds the
// observation into the rule's running statistics. The running average is
// avg' = (avg*(n-1) + new) / n with the first observation seeding it.
func (r *Repository) RecordExecution(ctx context.Context, exec *Execution) (*Execution, error) {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}

	if err := r.store.InsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	if err := r.store.ApplyExecutionStats(ctx, exec.RuleID, exec.Matched, exec.ExecutionMs, exec.ExecutedAt); err != nil {
		return nil, fmt.Errorf("apply execution stats: %w", err)
	}
	return exec, nil
}

// DefaultExecutionLimit caps ListExecutions when the caller passes no limit.
const DefaultExecutionLimit = 100

// ListExecutions returns the most recent audit rows for a rule. A limit <= 0
// selects DefaultExecutionLimit regardless of the backing store.
func (r *Repository) ListExecutions(ctx context.Context, ruleID uuid.UUID, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	return r.store.ListExecutions(ctx, ruleID, limit)
}

func (r *Repository) warnCache(op string, id uuid.UUID, err error) {
	r.logger.Warn("rule cache update failed, durable state is authoritative",
		zap.String("op", op),
		zap.String("rule_id", id.String()),
		zap.Error(err))
}

func isNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
