package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache key layout. A projection lives under rulePrefix+id; three auxiliary
// indexes track the set of cached ids. Index writes are best-effort and not
// transactional across structures - RefreshCache is the reconciliation path.
const (
	rulePrefix       = "rule:"
	activeSetKey     = "rules:active"
	typeSetPrefix    = "rules:type:"
	priorityIndexKey = "rules:priority"
)

// DefaultProjectionTTL bounds how stale a cached rule can get before it
// silently drops out and waits for the next refresh.
const DefaultProjectionTTL = time.Hour

func ruleKey(id uuid.UUID) string { return rulePrefix + id.String() }

func typeKey(t RuleType) string { return typeSetPrefix + string(t) }

// WriteToCache stores the rule's projection and registers it in the active
// set, its type set, and the priority index (score = priority). Only enabled
// rules belong in the cache; callers enforce that.
func (r *Repository) WriteToCache(ctx context.Context, rule *Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule projection: %w", err)
	}

	id := rule.ID.String()
	if err := r.cache.Set(ctx, ruleKey(rule.ID), string(data), r.projectionTTL); err != nil {
		return fmt.Errorf("write rule projection: %w", err)
	}
	if _, err := r.cache.SAdd(ctx, activeSetKey, id); err != nil {
		return fmt.Errorf("index active rule: %w", err)
	}
	if _, err := r.cache.SAdd(ctx, typeKey(rule.Type), id); err != nil {
		return fmt.Errorf("index rule type: %w", err)
	}
	if err := r.cache.ZAdd(ctx, priorityIndexKey, id, float64(rule.Priority)); err != nil {
		return fmt.Errorf("index rule priority: %w", err)
	}
	return nil
}

// ReadFromCache loads a rule projection. Returns ErrCacheMiss when absent;
// absence does not imply the rule is disabled.
func (r *Repository) ReadFromCache(ctx context.Context, id uuid.UUID) (*Rule, error) {
	raw, ok, err := r.cache.Get(ctx, ruleKey(id))
	if err != nil {
		return nil, fmt.Errorf("read rule projection: %w", err)
	}
	if !ok {
		if r.cacheMetrics != nil {
			r.cacheMetrics.RecordCacheMiss()
		}
		return nil, ErrCacheMiss
	}
	if r.cacheMetrics != nil {
		r.cacheMetrics.RecordCacheHit()
	}

	var rule Rule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return nil, fmt.Errorf("decode rule projection: %w", err)
	}
	return &rule, nil
}

// RemoveFromCache drops the projection and de-indexes the id everywhere.
// Idempotent; removing an uncached rule is a no-op.
func (r *Repository) RemoveFromCache(ctx context.Context, id uuid.UUID) error {
	// Read first so we can target the right type set; on a miss we sweep
	// every type set since the projection may have expired underneath us.
	var types []RuleType
	if cached, err := r.ReadFromCache(ctx, id); err == nil {
		types = []RuleType{cached.Type}
	} else if errors.Is(err, ErrCacheMiss) {
		types = []RuleType{TypeThreshold, TypePattern, TypeComposite, TypeML}
	} else {
		return err
	}

	key := id.String()
	if _, err := r.cache.Delete(ctx, ruleKey(id)); err != nil {
		return fmt.Errorf("delete rule projection: %w", err)
	}
	if _, err := r.cache.SRem(ctx, activeSetKey, key); err != nil {
		return fmt.Errorf("deindex active rule: %w", err)
	}
	for _, t := range types {
		if _, err := r.cache.SRem(ctx, typeKey(t), key); err != nil {
			return fmt.Errorf("deindex rule type: %w", err)
		}
	}
	if _, err := r.cache.ZRem(ctx, priorityIndexKey, key); err != nil {
		return fmt.Errorf("deindex rule priority: %w", err)
	}
	return nil
}

// ClearCache wipes every projection and all three indexes, returning the
// number of projections removed.
func (r *Repository) ClearCache(ctx context.Context) (int, error) {
	keys, err := r.cache.Keys(ctx, rulePrefix)
	if err != nil {
		return 0, fmt.Errorf("list cached rules: %w", err)
	}

	removed := 0
	if len(keys) > 0 {
		removed, err = r.cache.Delete(ctx, keys...)
		if err != nil {
			return 0, fmt.Errorf("delete cached rules: %w", err)
		}
	}

	indexKeys := []string{activeSetKey, priorityIndexKey,
		typeKey(TypeThreshold), typeKey(TypePattern), typeKey(TypeComposite), typeKey(TypeML)}
	if _, err := r.cache.Delete(ctx, indexKeys...); err != nil {
		return removed, fmt.Errorf("delete cache indexes: %w", err)
	}
	return removed, nil
}

// RefreshCache reloads every enabled rule from the durable store into the
// cache. This is the hot-reload path: the durable store is authoritative and
// any cache drift is repaired here. force clears the cache first.
func (r *Repository) RefreshCache(ctx context.Context, force bool) (int, error) {
	if force {
		if _, err := r.ClearCache(ctx); err != nil {
			return 0, err
		}
	}

	enabled := true
	rules, _, err := r.store.ListRules(ctx, ListFilter{Enabled: &enabled, Limit: -1})
	if err != nil {
		return 0, fmt.Errorf("load enabled rules: %w", err)
	}

	loaded := 0
	for _, rule := range rules {
		if err := r.WriteToCache(ctx, rule); err != nil {
			r.logger.Warn("cache refresh skipped a rule",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_name", rule.Name),
				zap.Error(err))
			continue
		}
		loaded++
	}

	r.logger.Info("rule cache refreshed",
		zap.Int("loaded", loaded),
		zap.Bool("forced", force))
	return loaded, nil
}

// CacheStatus summarizes cache health for ops endpoints.
type CacheStatus struct {
	ActiveCount       int64            `json:"active_count"`
	TypeCounts        map[string]int64 `json:"type_counts"`
	PriorityIndexSize int64            `json:"priority_index_size"`
}

// CacheStatus reports the sizes of the active set, each type bucket, and the
// priority index. Divergence between them indicates drift pending refresh.
func (r *Repository) CacheStatus(ctx context.Context) (*CacheStatus, error) {
	active, err := r.cache.SCard(ctx, activeSetKey)
	if err != nil {
		return nil, fmt.Errorf("active set size: %w", err)
	}

	typeCounts := make(map[string]int64, 4)
	for _, t := range []RuleType{TypeThreshold, TypePattern, TypeComposite, TypeML} {
		n, err := r.cache.SCard(ctx, typeKey(t))
		if err != nil {
			return nil, fmt.Errorf("type set size %s: %w", t, err)
		}
		typeCounts[string(t)] = n
	}

	indexSize, err := r.cache.ZCard(ctx, priorityIndexKey)
	if err != nil {
		return nil, fmt.Errorf("priority index size: %w", err)
	}

	return &CacheStatus{
		ActiveCount:       active,
		TypeCounts:        typeCounts,
		PriorityIndexSize: indexSize,
	}, nil
}

// ActiveRules snapshots the cached rule set in priority order (highest
// first). Expired projections are skipped, not errors - an empty or stale
// cache simply yields fewer rules, and the caller is responsible for
// triggering RefreshCache.
func (r *Repository) ActiveRules(ctx context.Context) ([]*Rule, error) {
	ids, err := r.cache.ZRevRange(ctx, priorityIndexKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read priority index: %w", err)
	}

	rules := make([]*Rule, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			r.logger.Warn("priority index holds a malformed id", zap.String("member", raw))
			continue
		}
		rule, err := r.ReadFromCache(ctx, id)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FindCachedByName resolves a rule name against the cached rule set with a
// linear scan. Composite sub-rule resolution is by name and rule sets are
// expected to stay small, so no name index is maintained.
func (r *Repository) FindCachedByName(ctx context.Context, name string) (*Rule, error) {
	members, err := r.cache.SMembers(ctx, activeSetKey)
	if err != nil {
		return nil, fmt.Errorf("scan active set: %w", err)
	}
	for _, raw := range members {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		rule, err := r.ReadFromCache(ctx, id)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rule.Name == name {
			return rule, nil
		}
	}
	return nil, ErrCacheMiss
}
