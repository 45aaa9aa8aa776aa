package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindSet
	kindZSet
	kindList
)

type entry struct {
	kind      kind
	str       string
	num       int64
	fnum      float64
	set       map[string]struct{}
	zset      map[string]float64
	list      []string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. Expired entries are reaped lazily on access,
// so memory is only reclaimed for keys that are touched again; the rule-cache
// and tracker key spaces are small and recycled, which keeps that acceptable.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry

	now func() time.Time // test seam
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Tests only.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// live returns the entry for key if it exists and has not expired,
// reaping it if it has. Callers must hold the write lock.
func (m *Memory) live(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindString {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if m.live(key) != nil {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &entry{kind: kindInt}
		m.entries[key] = e
	}
	if e.kind != kindInt {
		return 0, ErrWrongType
	}
	e.num += delta
	return e.num, nil
}

func (m *Memory) GetInt(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindInt {
		return 0, ErrWrongType
	}
	return e.num, nil
}

func (m *Memory) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &entry{kind: kindFloat}
		m.entries[key] = e
	}
	if e.kind != kindFloat {
		return 0, ErrWrongType
	}
	e.fnum += delta
	return e.fnum, nil
}

func (m *Memory) GetFloat(_ context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindFloat {
		return 0, ErrWrongType
	}
	return e.fnum, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		m.entries[key] = e
	}
	if e.kind != kindSet {
		return 0, ErrWrongType
	}
	var added int64
	for _, member := range members {
		if _, ok := e.set[member]; !ok {
			e.set[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindSet {
		return 0, ErrWrongType
	}
	var removed int64
	for _, member := range members {
		if _, ok := e.set[member]; ok {
			delete(e.set, member)
			removed++
		}
	}
	if len(e.set) == 0 {
		delete(m.entries, key)
	}
	return removed, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindSet {
		return 0, ErrWrongType
	}
	return int64(len(e.set)), nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindSet {
		return nil, ErrWrongType
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return false, nil
	}
	if e.kind != kindSet {
		return false, ErrWrongType
	}
	_, ok := e.set[member]
	return ok, nil
}

func (m *Memory) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &entry{kind: kindZSet, zset: make(map[string]float64)}
		m.entries[key] = e
	}
	if e.kind != kindZSet {
		return ErrWrongType
	}
	e.zset[member] = score
	return nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindZSet {
		return 0, ErrWrongType
	}
	var removed int64
	for _, member := range members {
		if _, ok := e.zset[member]; ok {
			delete(e.zset, member)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(m.entries, key)
	}
	return removed, nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindZSet {
		return 0, ErrWrongType
	}
	return int64(len(e.zset)), nil
}

func (m *Memory) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindZSet {
		return nil, ErrWrongType
	}

	type scored struct {
		member string
		score  float64
	}
	all := make([]scored, 0, len(e.zset))
	for member, score := range e.zset {
		all = append(all, scored{member, score})
	}
	// Descending score; ties break lexically for determinism.
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].member < all[j].member
	})

	from, to, ok := sliceBounds(start, stop, int64(len(all)))
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, to-from+1)
	for _, s := range all[from : to+1] {
		members = append(members, s.member)
	}
	return members, nil
}

func (m *Memory) LPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &entry{kind: kindList}
		m.entries[key] = e
	}
	if e.kind != kindList {
		return 0, ErrWrongType
	}
	for _, value := range values {
		e.list = append([]string{value}, e.list...)
	}
	return int64(len(e.list)), nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindList {
		return nil, ErrWrongType
	}

	from, to, ok := sliceBounds(start, stop, int64(len(e.list)))
	if !ok {
		return nil, nil
	}
	out := make([]string, to-from+1)
	copy(out, e.list[from:to+1])
	return out, nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return nil
	}
	if e.kind != kindList {
		return ErrWrongType
	}

	from, to, ok := sliceBounds(start, stop, int64(len(e.list)))
	if !ok {
		delete(m.entries, key)
		return nil
	}
	e.list = e.list[from : to+1]
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// sliceBounds resolves start/stop indexes (negative values count from the
// end) against a structure of length n. ok is false for an empty selection.
func sliceBounds(start, stop, n int64) (from, to int64, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
