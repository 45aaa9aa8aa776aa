package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/kvstore"
	"github.com/coralbay/tripwire/internal/tracker"
)

// countingRecorder captures audit rows so tests can observe dispatch order.
type countingRecorder struct {
	execs []*Execution
}

func (c *countingRecorder) RecordExecution(_ context.Context, exec *Execution) (*Execution, error) {
	c.execs = append(c.execs, exec)
	return exec, nil
}

type engineHarness struct {
	repo     *Repository
	engine   *Engine
	recorder *countingRecorder
	store    *kvstore.Memory
	freq     *tracker.Frequency
	patterns *tracker.Pattern
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	logger := zap.NewNop()
	store := kvstore.NewMemory()
	repo := NewRepository(NewMemoryStore(), store, logger)
	recorder := &countingRecorder{}
	freq := tracker.NewFrequency(store, logger)
	patterns := tracker.NewPattern(store, logger)
	return &engineHarness{
		repo:     repo,
		engine:   NewEngine(repo, recorder, freq, patterns, logger),
		recorder: recorder,
		store:    store,
		freq:     freq,
		patterns: patterns,
	}
}

func (h *engineHarness) mustCreate(t *testing.T, spec *Spec) *Rule {
	t.Helper()
	rule, err := h.repo.Create(context.Background(), spec, "test")
	require.NoError(t, err)
	return rule
}

func testTx(amount float64) *Transaction {
	return &Transaction{
		ID:          "tx-" + uuid.NewString(),
		Amount:      amount,
		FromAccount: "acct-1",
		ToAccount:   "acct-2",
		Timestamp:   time.Now().UTC(),
	}
}

func TestEngine_Evaluate(t *testing.T) {
	t.Run("no matches approves with low risk", func(t *testing.T) {
		h := newEngineHarness(t)
		rule := h.mustCreate(t, thresholdSpec("big-amount", 10))

		result := h.engine.Evaluate(context.Background(), testTx(100), []*Rule{rule}, "corr-1", 0)

		assert.Equal(t, StatusApproved, result.Status)
		assert.Equal(t, RiskLow, result.Risk)
		assert.Empty(t, result.MatchedRules)
		assert.Equal(t, 1, result.RulesEvaluated)
	})

	t.Run("non-critical match flags with the max risk", func(t *testing.T) {
		h := newEngineHarness(t)
		rule := h.mustCreate(t, thresholdSpec("big-amount", 10))

		result := h.engine.Evaluate(context.Background(), testTx(6001), []*Rule{rule}, "corr-1", 0)

		assert.Equal(t, StatusFlagged, result.Status)
		assert.Equal(t, RiskHigh, result.Risk)
		require.Len(t, result.MatchedRules, 1)
		assert.Equal(t, "big-amount", result.MatchedRules[0].RuleName)
		assert.False(t, result.CriticalMatch)
	})

	t.Run("rules run in priority order", func(t *testing.T) {
		h := newEngineHarness(t)
		low := h.mustCreate(t, thresholdSpec("low-priority", 1))
		high := h.mustCreate(t, thresholdSpec("high-priority", 100))

		// Hand them over out of order; the engine must sort.
		h.engine.Evaluate(context.Background(), testTx(100), []*Rule{low, high}, "corr-1", 0)

		require.Len(t, h.recorder.execs, 2)
		assert.Equal(t, high.ID, h.recorder.execs[0].RuleID)
		assert.Equal(t, low.ID, h.recorder.execs[1].RuleID)
	})

	t.Run("critical match fails and stops evaluation", func(t *testing.T) {
		h := newEngineHarness(t)
		critical := thresholdSpec("sanctions-block", 100)
		critical.Critical = true
		h.mustCreate(t, critical)
		never := h.mustCreate(t, thresholdSpec("never-reached", 1))

		active, err := h.repo.ActiveRules(context.Background())
		require.NoError(t, err)

		result := h.engine.Evaluate(context.Background(), testTx(9999), active, "corr-1", 0)

		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, RiskCritical, result.Risk)
		assert.True(t, result.CriticalMatch)
		assert.Equal(t, 1, result.RulesEvaluated)

		require.Len(t, h.recorder.execs, 1)
		assert.NotEqual(t, never.ID, h.recorder.execs[0].RuleID)
	})

	t.Run("a failing rule is skipped, the rest still run", func(t *testing.T) {
		h := newEngineHarness(t)

		// Bypass validation to plant a rule with unreadable params.
		broken := &Rule{
			ID:       uuid.New(),
			Name:     "broken",
			Type:     TypeThreshold,
			Params:   json.RawMessage(`{"max_amount": "not a number"}`),
			Enabled:  true,
			Priority: 100,
		}
		healthy := h.mustCreate(t, thresholdSpec("healthy", 1))

		result := h.engine.Evaluate(context.Background(), testTx(6001), []*Rule{broken, healthy}, "corr-1", 0)

		assert.Equal(t, 2, result.RulesEvaluated)
		assert.Equal(t, StatusFlagged, result.Status)
		require.Len(t, result.MatchedRules, 1)
		assert.Equal(t, "healthy", result.MatchedRules[0].RuleName)

		// The failure is still audited with its error message.
		require.Len(t, h.recorder.execs, 2)
		assert.NotEmpty(t, h.recorder.execs[0].ErrorMessage)
		assert.False(t, h.recorder.execs[0].Matched)
	})

	t.Run("unknown rule type is isolated like any other failure", func(t *testing.T) {
		h := newEngineHarness(t)
		alien := &Rule{
			ID:       uuid.New(),
			Name:     "alien",
			Type:     RuleType("graph"),
			Params:   json.RawMessage(`{}`),
			Enabled:  true,
			Priority: 10,
		}

		result := h.engine.Evaluate(context.Background(), testTx(100), []*Rule{alien}, "corr-1", 0)

		assert.Equal(t, StatusApproved, result.Status)
		assert.Equal(t, 1, result.RulesEvaluated)
		assert.Empty(t, result.MatchedRules)
	})

	t.Run("audit rows carry confidence only on match", func(t *testing.T) {
		h := newEngineHarness(t)
		rule := h.mustCreate(t, thresholdSpec("audit-conf", 10))

		h.engine.Evaluate(context.Background(), testTx(100), []*Rule{rule}, "corr-1", 0)
		h.engine.Evaluate(context.Background(), testTx(6001), []*Rule{rule}, "corr-2", 0)

		require.Len(t, h.recorder.execs, 2)
		assert.Nil(t, h.recorder.execs[0].Confidence)
		require.NotNil(t, h.recorder.execs[1].Confidence)
		assert.InDelta(t, 0.9, *h.recorder.execs[1].Confidence, 0.001)
	})

	t.Run("nil recorder evaluates without auditing", func(t *testing.T) {
		h := newEngineHarness(t)
		rule := h.mustCreate(t, thresholdSpec("unaudited", 10))
		engine := NewEngine(h.repo, nil, h.freq, h.patterns, zap.NewNop())

		result := engine.Evaluate(context.Background(), testTx(6001), []*Rule{rule}, "corr-1", 0)
		assert.Equal(t, StatusFlagged, result.Status)
	})
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		name       string
		matched    []*Outcome
		wantStatus Status
		wantRisk   RiskLevel
	}{
		{"no matches", nil, StatusApproved, RiskLow},
		{"single medium", []*Outcome{{Risk: RiskMedium}}, StatusFlagged, RiskMedium},
		{"max of mixed risks", []*Outcome{{Risk: RiskLow}, {Risk: RiskHigh}, {Risk: RiskMedium}}, StatusFlagged, RiskHigh},
		{"critical fails", []*Outcome{{Risk: RiskMedium}, {Risk: RiskCritical}}, StatusFailed, RiskCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, risk := verdict(tt.matched)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantRisk, risk)
		})
	}
}

// countingFailureMetrics stands in for the metrics collector.
type countingFailureMetrics struct {
	byType map[string]int
}

func (m *countingFailureMetrics) RecordRuleFailure(ruleType string) {
	if m.byType == nil {
		m.byType = map[string]int{}
	}
	m.byType[ruleType]++
}

func TestEngine_FailureMetrics(t *testing.T) {
	h := newEngineHarness(t)
	sink := &countingFailureMetrics{}
	h.engine.SetFailureMetrics(sink)

	broken := &Rule{
		ID:       uuid.New(),
		Name:     "broken",
		Type:     TypeThreshold,
		Params:   json.RawMessage(`{"max_amount": "not a number"}`),
		Enabled:  true,
		Priority: 100,
	}
	healthy := h.mustCreate(t, thresholdSpec("healthy", 1))

	result := h.engine.Evaluate(context.Background(), testTx(6001), []*Rule{broken, healthy}, "corr-1", 0)

	// Only the errored dispatch counts; the healthy match does not.
	assert.Equal(t, StatusFlagged, result.Status)
	assert.Equal(t, map[string]int{"threshold": 1}, sink.byType)
}
