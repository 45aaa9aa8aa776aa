package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/kvstore"
)

// metric segments of the frequency key space.
const (
	metricTxCount  = "txcount"
	metricTxTo     = "txto"
	metricVelocity = "velocity"
	metricDevices  = "devices"
	metricIPs      = "ips"
	metricTxTypes  = "txtypes"
)

// TransactionEvent is the slice of a transaction the trackers record.
type TransactionEvent struct {
	ID          string
	FromAccount string
	ToAccount   string
	Amount      float64
	DeviceID    string
	IPAddress   string
	Type        string
	Location    string
	Timestamp   time.Time
}

// Frequency maintains per-account counters, unique-value sets and velocity
// sums in the cache store, keyed by fixed time buckets. Every mutating call
// is an increment/add followed by a TTL set; the pair is pipelined, not
// atomic, so the worst interleaving only shortens a TTL, never loses a count.
type Frequency struct {
	store  kvstore.Store
	logger *zap.Logger
}

// NewFrequency creates a frequency tracker over the given cache store.
func NewFrequency(store kvstore.Store, logger *zap.Logger) *Frequency {
	return &Frequency{store: store, logger: logger}
}

func freqKey(metric, account string, w Window, at time.Time) string {
	return fmt.Sprintf("freq:%s:%s:%s:%s", metric, w, w.Bucket(at), account)
}

func (f *Frequency) incr(ctx context.Context, metric, account string, w Window, at time.Time) (int64, error) {
	key := freqKey(metric, account, w, at)
	n, err := f.store.IncrBy(ctx, key, 1)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", metric, err)
	}
	if err := f.store.Expire(ctx, key, w.TTL()); err != nil {
		return n, fmt.Errorf("expire %s: %w", metric, err)
	}
	return n, nil
}

func (f *Frequency) count(ctx context.Context, metric, account string, w Window, at time.Time) (int64, error) {
	n, err := f.store.GetInt(ctx, freqKey(metric, account, w, at))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", metric, err)
	}
	return n, nil
}

func (f *Frequency) addMember(ctx context.Context, metric, account, member string, w Window, at time.Time) (int64, error) {
	key := freqKey(metric, account, w, at)
	if _, err := f.store.SAdd(ctx, key, member); err != nil {
		return 0, fmt.Errorf("add %s member: %w", metric, err)
	}
	if err := f.store.Expire(ctx, key, w.TTL()); err != nil {
		return 0, fmt.Errorf("expire %s: %w", metric, err)
	}
	card, err := f.store.SCard(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("card %s: %w", metric, err)
	}
	return card, nil
}

func (f *Frequency) cardinality(ctx context.Context, metric, account string, w Window, at time.Time) (int64, error) {
	card, err := f.store.SCard(ctx, freqKey(metric, account, w, at))
	if err != nil {
		return 0, fmt.Errorf("card %s: %w", metric, err)
	}
	return card, nil
}

// IncrementTransactionCount bumps the number of transactions originated by
// the account in the current bucket and returns the new count.
func (f *Frequency) IncrementTransactionCount(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.incr(ctx, metricTxCount, account, w, at)
}

// TransactionCount reads the originated-transaction count for the bucket
// containing at. Missing buckets read zero.
func (f *Frequency) TransactionCount(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.count(ctx, metricTxCount, account, w, at)
}

// IncrementTransactionsTo bumps the number of transactions received by the
// destination account in the current bucket.
func (f *Frequency) IncrementTransactionsTo(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.incr(ctx, metricTxTo, account, w, at)
}

// TransactionsTo reads the received-transaction count for an account.
func (f *Frequency) TransactionsTo(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.count(ctx, metricTxTo, account, w, at)
}

// AddVelocity adds a transaction amount to the account's velocity sum and
// returns the running total for the bucket.
func (f *Frequency) AddVelocity(ctx context.Context, account string, amount float64, w Window, at time.Time) (float64, error) {
	key := freqKey(metricVelocity, account, w, at)
	total, err := f.store.IncrByFloat(ctx, key, amount)
	if err != nil {
		return 0, fmt.Errorf("increment velocity: %w", err)
	}
	if err := f.store.Expire(ctx, key, w.TTL()); err != nil {
		return total, fmt.Errorf("expire velocity: %w", err)
	}
	return total, nil
}

// Velocity reads the amount sum for the bucket containing at.
func (f *Frequency) Velocity(ctx context.Context, account string, w Window, at time.Time) (float64, error) {
	total, err := f.store.GetFloat(ctx, freqKey(metricVelocity, account, w, at))
	if err != nil {
		return 0, fmt.Errorf("read velocity: %w", err)
	}
	return total, nil
}

// AddDevice records a device seen for the account and returns the unique
// device count for the bucket.
func (f *Frequency) AddDevice(ctx context.Context, account, deviceID string, w Window, at time.Time) (int64, error) {
	return f.addMember(ctx, metricDevices, account, deviceID, w, at)
}

// UniqueDevices reads the unique device count for the bucket.
func (f *Frequency) UniqueDevices(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.cardinality(ctx, metricDevices, account, w, at)
}

// AddIP records a source IP seen for the account.
func (f *Frequency) AddIP(ctx context.Context, account, ip string, w Window, at time.Time) (int64, error) {
	return f.addMember(ctx, metricIPs, account, ip, w, at)
}

// UniqueIPs reads the unique source-IP count for the bucket.
func (f *Frequency) UniqueIPs(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.cardinality(ctx, metricIPs, account, w, at)
}

// AddTransactionType records a transaction type seen for the account.
func (f *Frequency) AddTransactionType(ctx context.Context, account, txType string, w Window, at time.Time) (int64, error) {
	return f.addMember(ctx, metricTxTypes, account, txType, w, at)
}

// UniqueTransactionTypes reads the unique transaction-type count.
func (f *Frequency) UniqueTransactionTypes(ctx context.Context, account string, w Window, at time.Time) (int64, error) {
	return f.cardinality(ctx, metricTxTypes, account, w, at)
}

// TrackTransaction records every frequency metric for one transaction in a
// single pass, across all the given windows. Individual store failures are
// logged and do not stop the remaining metrics; the trackers are best-effort
// observers, never gatekeepers.
func (f *Frequency) TrackTransaction(ctx context.Context, event *TransactionEvent, windows ...Window) {
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	for _, w := range windows {
		if _, err := f.IncrementTransactionCount(ctx, event.FromAccount, w, at); err != nil {
			f.warn("transaction count", event, w, err)
		}
		if event.ToAccount != "" {
			if _, err := f.IncrementTransactionsTo(ctx, event.ToAccount, w, at); err != nil {
				f.warn("transactions to", event, w, err)
			}
		}
		if _, err := f.AddVelocity(ctx, event.FromAccount, event.Amount, w, at); err != nil {
			f.warn("velocity", event, w, err)
		}
		if event.DeviceID != "" {
			if _, err := f.AddDevice(ctx, event.FromAccount, event.DeviceID, w, at); err != nil {
				f.warn("device", event, w, err)
			}
		}
		if event.IPAddress != "" {
			if _, err := f.AddIP(ctx, event.FromAccount, event.IPAddress, w, at); err != nil {
				f.warn("ip", event, w, err)
			}
		}
		if event.Type != "" {
			if _, err := f.AddTransactionType(ctx, event.FromAccount, event.Type, w, at); err != nil {
				f.warn("transaction type", event, w, err)
			}
		}
	}
}

func (f *Frequency) warn(metric string, event *TransactionEvent, w Window, err error) {
	f.logger.Warn("frequency tracking failed",
		zap.String("metric", metric),
		zap.String("transaction_id", event.ID),
		zap.String("account", event.FromAccount),
		zap.String("window", string(w)),
		zap.Error(err))
}
