package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/kvstore"
)

// defaultMaxRecords bounds each per-account list so a hot account cannot
// grow one unbounded.
const defaultMaxRecords = 500

// Record is the compact transaction summary kept for pattern analysis.
type Record struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	ToAccount string    `json:"to_account"`
	DeviceID  string    `json:"device_id"`
	Type      string    `json:"type"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// Pattern stores recent transaction summaries per account and window in a
// bounded cache list. Entries carry their own timestamp and are filtered to
// the window's duration at read time, independent of the list's TTL.
type Pattern struct {
	store      kvstore.Store
	logger     *zap.Logger
	maxRecords int64
}

// NewPattern creates a pattern tracker over the given cache store.
func NewPattern(store kvstore.Store, logger *zap.Logger) *Pattern {
	return &Pattern{store: store, logger: logger, maxRecords: defaultMaxRecords}
}

func patternKey(account string, w Window) string {
	return fmt.Sprintf("pattern:%s:%s", w, account)
}

// Push records a transaction summary for the account. The list is trimmed to
// the configured bound and refreshed with the window's TTL on every push.
func (p *Pattern) Push(ctx context.Context, account string, w Window, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pattern record: %w", err)
	}

	key := patternKey(account, w)
	if _, err := p.store.LPush(ctx, key, string(data)); err != nil {
		return fmt.Errorf("push pattern record: %w", err)
	}
	if err := p.store.LTrim(ctx, key, 0, p.maxRecords-1); err != nil {
		return fmt.Errorf("trim pattern list: %w", err)
	}
	if err := p.store.Expire(ctx, key, w.TTL()); err != nil {
		return fmt.Errorf("expire pattern list: %w", err)
	}
	return nil
}

// Track records a transaction event across the given windows, logging and
// continuing on failure.
func (p *Pattern) Track(ctx context.Context, event *TransactionEvent, windows ...Window) {
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	rec := &Record{
		ID:        event.ID,
		Amount:    event.Amount,
		ToAccount: event.ToAccount,
		DeviceID:  event.DeviceID,
		Type:      event.Type,
		Location:  event.Location,
		Timestamp: at,
	}
	for _, w := range windows {
		if err := p.Push(ctx, event.FromAccount, w, rec); err != nil {
			p.logger.Warn("pattern tracking failed",
				zap.String("transaction_id", event.ID),
				zap.String("account", event.FromAccount),
				zap.String("window", string(w)),
				zap.Error(err))
		}
	}
}

// Recent returns the account's records whose timestamps fall within the
// window's nominal duration ending at now. Records the list still holds but
// whose timestamps have aged out are dropped; unparseable entries are
// skipped.
func (p *Pattern) Recent(ctx context.Context, account string, w Window, now time.Time) ([]*Record, error) {
	raw, err := p.store.LRange(ctx, patternKey(account, w), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read pattern list: %w", err)
	}

	cutoff := now.Add(-w.Duration())
	records := make([]*Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			p.logger.Warn("skipping malformed pattern record",
				zap.String("account", account),
				zap.Error(err))
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// RecipientStats summarizes the destination accounts in a record set.
type RecipientStats struct {
	UniqueCount  int
	AllIdentical bool
}

// DeviceStats summarizes the devices in a record set.
type DeviceStats struct {
	UniqueCount  int
	AllIdentical bool
	Totals       map[string]float64
	MaxTotal     float64
}

// AmountStats summarizes the amounts in a record set.
type AmountStats struct {
	Sum     float64
	Count   int
	Average float64
	Min     float64
	Max     float64
}

// AnalyzeRecipients derives the recipient pattern of a record set. Pure.
func AnalyzeRecipients(records []*Record) RecipientStats {
	seen := make(map[string]struct{})
	for _, rec := range records {
		seen[rec.ToAccount] = struct{}{}
	}
	return RecipientStats{
		UniqueCount:  len(seen),
		AllIdentical: len(records) > 0 && len(seen) == 1,
	}
}

// AnalyzeDevices derives the device pattern of a record set, including the
// per-device amount totals used for device-velocity checks. Pure.
func AnalyzeDevices(records []*Record) DeviceStats {
	stats := DeviceStats{Totals: make(map[string]float64)}
	for _, rec := range records {
		stats.Totals[rec.DeviceID] += rec.Amount
	}
	stats.UniqueCount = len(stats.Totals)
	stats.AllIdentical = len(records) > 0 && stats.UniqueCount == 1
	for _, total := range stats.Totals {
		if total > stats.MaxTotal {
			stats.MaxTotal = total
		}
	}
	return stats
}

// AnalyzeAmounts derives sum/count/average/min/max over a record set. Pure.
func AnalyzeAmounts(records []*Record) AmountStats {
	var stats AmountStats
	for i, rec := range records {
		stats.Sum += rec.Amount
		if i == 0 {
			stats.Min = rec.Amount
			stats.Max = rec.Amount
		} else {
			if rec.Amount < stats.Min {
				stats.Min = rec.Amount
			}
			if rec.Amount > stats.Max {
				stats.Max = rec.Amount
			}
		}
	}
	stats.Count = len(records)
	if stats.Count > 0 {
		stats.Average = stats.Sum / float64(stats.Count)
	}
	return stats
}
