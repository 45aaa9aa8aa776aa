// Package kvstore provides the key-value cache store used for hot-path rule
// projections and frequency counters. The interface is deliberately generic
// (strings, counters, sets, sorted sets, lists, all TTL-bound) so the backing
// product can be swapped without touching callers.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWrongType is returned when an operation is applied to a key
	// holding a different structure.
	ErrWrongType = errors.New("kvstore: operation against a key holding the wrong kind of value")
)

// Store is the contract every cache backend must satisfy. All mutating
// operations take an explicit TTL where the structure is created on first
// write; a zero TTL means "no expiry". Increment-plus-expire is two calls,
// not one atomic unit - callers accept the TTL-precision race.
type Store interface {
	// Plain string values.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// Keys lists every live key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Expire resets a key's TTL. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Atomic integer counters.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)

	// Atomic float counters (velocity sums).
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	GetFloat(ctx context.Context, key string) (float64, error)

	// Unordered unique-member sets.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Score-ordered sets (priority index).
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRevRange returns members ordered by descending score.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Head-push lists (recent-transaction records).
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
