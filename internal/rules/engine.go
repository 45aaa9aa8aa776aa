package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/tracker"
)

// DefaultMaxCompositeDepth bounds composite-rule recursion.
const DefaultMaxCompositeDepth = 5

// Resolver looks up active rules by name for composite resolution.
// Implemented by Repository over the cache.
type Resolver interface {
	FindCachedByName(ctx context.Context, name string) (*Rule, error)
}

// Recorder is the audit sink consumed after each rule dispatch.
// Implemented by Repository.
type Recorder interface {
	RecordExecution(ctx context.Context, exec *Execution) (*Execution, error)
}

// FailureMetrics counts rule evaluations that errored and were skipped.
// Implemented by the metrics Collector; a nil sink disables counting.
type FailureMetrics interface {
	RecordRuleFailure(ruleType string)
}

// Engine evaluates transactions against the active rule set. It reads the
// cache and trackers only; all writes belong to the Repository. Evaluation
// is stateless per call and safe for concurrent use.
type Engine struct {
	resolver Resolver
	recorder Recorder
	freq     *tracker.Frequency
	patterns *tracker.Pattern
	logger   *zap.Logger
	failures FailureMetrics
}

// NewEngine creates an evaluation engine. recorder may be nil, in which case
// executions are not audited (tests mostly run this way).
func NewEngine(resolver Resolver, recorder Recorder, freq *tracker.Frequency, patterns *tracker.Pattern, logger *zap.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		recorder: recorder,
		freq:     freq,
		patterns: patterns,
		logger:   logger,
	}
}

// SetFailureMetrics installs the sink for errored rule dispatches.
func (e *Engine) SetFailureMetrics(m FailureMetrics) {
	e.failures = m
}

// Evaluate scores a transaction against the given active rules in priority
// order. A failing rule is logged and skipped, never fatal; a matching rule
// flagged critical ends evaluation immediately. maxDepth <= 0 selects
// DefaultMaxCompositeDepth.
func (e *Engine) Evaluate(ctx context.Context, tx *Transaction, active []*Rule, correlationID string, maxDepth int) *EvaluationResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCompositeDepth
	}
	start := time.Now()

	ordered := make([]*Rule, len(active))
	copy(ordered, active)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	result := &EvaluationResult{
		TransactionID: tx.ID,
		CorrelationID: correlationID,
		Status:        StatusApproved,
		Risk:          RiskLow,
		MatchedRules:  []*Outcome{},
	}

	for _, rule := range ordered {
		outcome := e.dispatch(ctx, tx, rule, 0, maxDepth, map[string]bool{})
		result.RulesEvaluated++

		e.record(ctx, tx, rule, correlationID, outcome)

		if outcome.Err != nil {
			if e.failures != nil {
				e.failures.RecordRuleFailure(string(rule.Type))
			}
			e.logger.Warn("rule evaluation failed, skipping rule",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_name", rule.Name),
				zap.String("transaction_id", tx.ID),
				zap.String("correlation_id", correlationID),
				zap.Error(outcome.Err))
			continue
		}
		if !outcome.Matched {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, outcome)
		if rule.Critical {
			result.CriticalMatch = true
			e.logger.Info("critical rule matched, stopping evaluation",
				zap.String("rule_name", rule.Name),
				zap.String("transaction_id", tx.ID),
				zap.String("correlation_id", correlationID))
			break
		}
	}

	result.Status, result.Risk = verdict(result.MatchedRules)
	result.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result
}

// dispatch routes a rule to its type's evaluator with panic isolation: one
// misconfigured rule must not block fraud screening for the transaction.
func (e *Engine) dispatch(ctx context.Context, tx *Transaction, rule *Rule, depth, maxDepth int, resolving map[string]bool) (outcome *Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = &Outcome{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				RuleType: rule.Type,
				Risk:     RiskLow,
				Err:      fmt.Errorf("rule %s panicked: %v", rule.Name, r),
			}
		}
		outcome.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0
	}()

	switch rule.Type {
	case TypeThreshold:
		outcome = e.evaluateThreshold(ctx, tx, rule)
	case TypePattern:
		outcome = e.evaluatePattern(ctx, tx, rule)
	case TypeComposite:
		outcome = e.evaluateComposite(ctx, tx, rule, depth, maxDepth, resolving)
	case TypeML:
		outcome = e.evaluateML(tx, rule)
	default:
		outcome = &Outcome{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			RuleType: rule.Type,
			Risk:     RiskLow,
			Err:      fmt.Errorf("unknown rule type %q", rule.Type),
		}
	}
	return outcome
}

// record appends the audit row for one dispatch. Audit failures are logged
// and swallowed; auditing never blocks screening.
func (e *Engine) record(ctx context.Context, tx *Transaction, rule *Rule, correlationID string, outcome *Outcome) {
	if e.recorder == nil {
		return
	}

	exec := &Execution{
		RuleID:        rule.ID,
		TransactionID: tx.ID,
		CorrelationID: correlationID,
		Matched:       outcome.Matched,
		ExecutionMs:   outcome.ElapsedMs,
	}
	if outcome.Matched {
		conf := outcome.Confidence
		exec.Confidence = &conf
	}
	if outcome.Err != nil {
		exec.ErrorMessage = outcome.Err.Error()
	}
	if detail, err := json.Marshal(outcome); err == nil {
		exec.Context = detail
	}

	if _, err := e.recorder.RecordExecution(ctx, exec); err != nil {
		e.logger.Warn("failed to record rule execution",
			zap.String("rule_id", rule.ID.String()),
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
}

// verdict folds matched rules into the final status and risk level.
func verdict(matched []*Outcome) (Status, RiskLevel) {
	if len(matched) == 0 {
		return StatusApproved, RiskLow
	}

	risk := RiskLow
	for _, outcome := range matched {
		risk = MaxRisk(risk, outcome.Risk)
	}
	if risk == RiskCritical {
		return StatusFailed, RiskCritical
	}
	return StatusFlagged, risk
}
