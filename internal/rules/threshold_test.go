package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/kvstore"
	"github.com/coralbay/tripwire/internal/tracker"
)

func thresholdRule(t *testing.T, params string) *Rule {
	t.Helper()
	return &Rule{
		ID:      uuid.New(),
		Name:    "threshold-under-test",
		Type:    TypeThreshold,
		Params:  json.RawMessage(params),
		Enabled: true,
	}
}

func TestEvaluateThreshold_Amount(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		amount  float64
		matched bool
	}{
		{"gt above limit", `{"max_amount": 5000, "operator": "gt"}`, 6001, true},
		{"gt at limit stays clean", `{"max_amount": 5000, "operator": "gt"}`, 5000, false},
		{"gt below limit", `{"max_amount": 5000, "operator": "gt"}`, 4999.99, false},
		{"gte at limit", `{"max_amount": 5000, "operator": "gte"}`, 5000, true},
		{"lt below floor", `{"min_amount": 10, "operator": "lt"}`, 9.99, true},
		{"lt at floor stays clean", `{"min_amount": 10, "operator": "lt"}`, 10, false},
		{"lte at floor", `{"min_amount": 10, "operator": "lte"}`, 10, true},
		{"eq exact", `{"max_amount": 1234.56, "operator": "eq"}`, 1234.56, true},
		{"ne differs", `{"max_amount": 100, "operator": "ne"}`, 99, true},
		{"ne equal stays clean", `{"max_amount": 100, "operator": "ne"}`, 100, false},
		{"between inside", `{"min_amount": 100, "max_amount": 200, "operator": "between"}`, 150, true},
		{"between boundary is inclusive", `{"min_amount": 100, "max_amount": 200, "operator": "between"}`, 200, true},
		{"between outside", `{"min_amount": 100, "max_amount": 200, "operator": "between"}`, 201, false},
		{"not_between outside", `{"min_amount": 100, "max_amount": 200, "operator": "not_between"}`, 99, true},
		{"not_between boundary stays clean", `{"min_amount": 100, "max_amount": 200, "operator": "not_between"}`, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newEngineHarness(t)
			rule := thresholdRule(t, tt.params)

			out := h.engine.evaluateThreshold(context.Background(), testTx(tt.amount), rule)

			require.NoError(t, out.Err)
			assert.Equal(t, tt.matched, out.Matched)
			if tt.matched {
				assert.Equal(t, RiskHigh, out.Risk)
				assert.InDelta(t, 0.9, out.Confidence, 0.001)
				assert.NotEmpty(t, out.Reason)
			}
		})
	}
}

func TestEvaluateThreshold_AllowedHours(t *testing.T) {
	h := newEngineHarness(t)
	rule := thresholdRule(t, `{"allowed_hour_start": 9, "allowed_hour_end": 17}`)

	t.Run("inside window stays clean", func(t *testing.T) {
		tx := testTx(100)
		tx.Timestamp = time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.False(t, out.Matched)
	})

	t.Run("end hour is exclusive", func(t *testing.T) {
		tx := testTx(100)
		tx.Timestamp = time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC)
		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
		assert.Equal(t, RiskMedium, out.Risk)
		assert.InDelta(t, 0.7, out.Confidence, 0.001)
	})

	t.Run("night transaction matches", func(t *testing.T) {
		tx := testTx(100)
		tx.Timestamp = time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC)
		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
	})
}

func TestEvaluateThreshold_AllowedLocations(t *testing.T) {
	h := newEngineHarness(t)
	rule := thresholdRule(t, `{"allowed_locations": ["US", "CA"]}`)

	t.Run("listed location stays clean", func(t *testing.T) {
		tx := testTx(100)
		tx.Location = "US"
		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.False(t, out.Matched)
	})

	t.Run("unlisted location matches", func(t *testing.T) {
		tx := testTx(100)
		tx.Location = "RU"
		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
		assert.Equal(t, RiskMedium, out.Risk)
	})
}

func TestEvaluateThreshold_Frequency(t *testing.T) {
	seed := func(t *testing.T, h *engineHarness, account string, n int, at time.Time) {
		t.Helper()
		for i := 0; i < n; i++ {
			h.freq.TrackTransaction(context.Background(), &tracker.TransactionEvent{
				ID:          fmt.Sprintf("seed-%d", i),
				FromAccount: account,
				ToAccount:   "dest",
				Amount:      1000,
				DeviceID:    fmt.Sprintf("device-%d", i),
				IPAddress:   fmt.Sprintf("10.0.0.%d", i),
				Type:        "transfer",
				Timestamp:   at,
			}, tracker.WindowHour)
		}
	}

	t.Run("count over limit matches", func(t *testing.T) {
		h := newEngineHarness(t)
		at := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		seed(t, h, "acct-1", 6, at)

		rule := thresholdRule(t, `{"time_window": "hour", "max_transactions": 5}`)
		tx := testTx(100)
		tx.Timestamp = at

		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
		assert.Equal(t, RiskHigh, out.Risk)
		assert.InDelta(t, 0.85, out.Confidence, 0.001)
	})

	t.Run("count at limit stays clean", func(t *testing.T) {
		h := newEngineHarness(t)
		at := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		seed(t, h, "acct-1", 5, at)

		rule := thresholdRule(t, `{"time_window": "hour", "max_transactions": 5}`)
		tx := testTx(100)
		tx.Timestamp = at

		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.False(t, out.Matched)
	})

	t.Run("velocity over limit matches", func(t *testing.T) {
		h := newEngineHarness(t)
		at := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		seed(t, h, "acct-1", 3, at) // 3000 total

		rule := thresholdRule(t, `{"time_window": "hour", "max_total_amount": 2500}`)
		tx := testTx(100)
		tx.Timestamp = at

		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
	})

	t.Run("unique devices over limit match at medium risk", func(t *testing.T) {
		h := newEngineHarness(t)
		at := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		seed(t, h, "acct-1", 4, at) // 4 distinct devices

		rule := thresholdRule(t, `{"time_window": "hour", "max_unique_devices": 3}`)
		tx := testTx(100)
		tx.Timestamp = at

		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
		assert.Equal(t, RiskMedium, out.Risk)
		assert.InDelta(t, 0.75, out.Confidence, 0.001)
	})

	t.Run("first configured check wins the reason", func(t *testing.T) {
		h := newEngineHarness(t)
		at := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		seed(t, h, "acct-1", 6, at)

		// Amount matches first even though frequency also trips.
		rule := thresholdRule(t, `{"max_amount": 50, "operator": "gt", "time_window": "hour", "max_transactions": 5}`)
		tx := testTx(100)
		tx.Timestamp = at

		out := h.engine.evaluateThreshold(context.Background(), tx, rule)
		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
		assert.Contains(t, out.Reason, "amount")
	})

	t.Run("bad window name is an error", func(t *testing.T) {
		h := newEngineHarness(t)
		rule := thresholdRule(t, `{"time_window": "fortnight", "max_transactions": 5}`)

		out := h.engine.evaluateThreshold(context.Background(), testTx(100), rule)
		assert.Error(t, out.Err)
		assert.False(t, out.Matched)
	})
}

func TestEvaluateThreshold_CriticalEscalatesRisk(t *testing.T) {
	h := newEngineHarness(t)
	rule := thresholdRule(t, `{"allowed_locations": ["US"]}`)
	rule.Critical = true

	tx := testTx(100)
	tx.Location = "KP"

	out := h.engine.evaluateThreshold(context.Background(), tx, rule)
	require.NoError(t, out.Err)
	assert.True(t, out.Matched)
	assert.Equal(t, RiskCritical, out.Risk)
}

// faultyKV fails integer reads to simulate a cache outage under the
// frequency tracker.
type faultyKV struct {
	kvstore.Store
}

func (faultyKV) GetInt(context.Context, string) (int64, error) {
	return 0, errors.New("kv store unavailable")
}

func TestEvaluateThreshold_TrackerOutage(t *testing.T) {
	newOutageEngine := func(t *testing.T) *Engine {
		t.Helper()
		logger := zap.NewNop()
		down := faultyKV{Store: kvstore.NewMemory()}
		repo := NewRepository(NewMemoryStore(), kvstore.NewMemory(), logger)
		return NewEngine(repo, nil, tracker.NewFrequency(down, logger), tracker.NewPattern(down, logger), logger)
	}

	params := `{"max_amount": 5000, "operator": "gt", "time_window": "hour", "max_transactions": 5}`

	t.Run("deterministic match survives a tracker failure", func(t *testing.T) {
		e := newOutageEngine(t)

		out := e.evaluateThreshold(context.Background(), testTx(6000), thresholdRule(t, params))

		require.NoError(t, out.Err)
		assert.True(t, out.Matched)
		assert.Contains(t, out.Reason, "amount")
	})

	t.Run("tracker failure still surfaces when nothing matched", func(t *testing.T) {
		e := newOutageEngine(t)

		out := e.evaluateThreshold(context.Background(), testTx(100), thresholdRule(t, params))

		require.Error(t, out.Err)
		assert.False(t, out.Matched)
	})
}
