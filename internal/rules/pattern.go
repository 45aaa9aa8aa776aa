package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/coralbay/tripwire/internal/tracker"
)

// evaluatePattern checks the account's recent transaction history against
// the rule's pattern limits, in a fixed order; the first satisfied check is
// the match. A missing or unreachable pattern store is a soft failure: the
// rule reports non-matching with an explanatory reason, not an error.
func (e *Engine) evaluatePattern(ctx context.Context, tx *Transaction, rule *Rule) *Outcome {
	outcome := &Outcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		RuleType: rule.Type,
		Risk:     RiskLow,
	}

	params, err := rule.PatternParams()
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if params.TimePeriod == "" {
		outcome.Err = fmt.Errorf("rule %s: pattern rule requires a time_period", rule.Name)
		return outcome
	}
	w, err := tracker.ParseWindow(params.TimePeriod)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	now := tx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	records, err := e.patterns.Recent(ctx, tx.FromAccount, w, now)
	if err != nil {
		// Soft failure: pattern history being unavailable must not fail
		// the rule, it just has nothing to match on.
		outcome.Reason = fmt.Sprintf("pattern history unavailable: %v", err)
		return outcome
	}

	match := func(reason string, confidence float64, risk RiskLevel) *Outcome {
		outcome.Matched = true
		outcome.Reason = reason
		outcome.Confidence = confidence
		outcome.Risk = risk
		if rule.Critical {
			outcome.Risk = RiskCritical
		}
		return outcome
	}

	if params.MinTransactionCount != nil && int64(len(records)) >= *params.MinTransactionCount {
		return match(
			fmt.Sprintf("%d transactions in %s window reaches threshold %d", len(records), w, *params.MinTransactionCount),
			0.85, RiskHigh)
	}

	amounts := tracker.AnalyzeAmounts(records)
	if params.MaxTotalAmount != nil && amounts.Sum >= *params.MaxTotalAmount {
		return match(
			fmt.Sprintf("total amount %.2f in %s window reaches ceiling %.2f", amounts.Sum, w, *params.MaxTotalAmount),
			0.85, RiskHigh)
	}

	recipients := tracker.AnalyzeRecipients(records)
	if params.RequireSameRecipient && recipients.UniqueCount > 1 {
		return match(
			fmt.Sprintf("%d distinct recipients where a single recipient is expected", recipients.UniqueCount),
			0.75, RiskMedium)
	}
	if params.MaxUniqueRecipients != nil && int64(recipients.UniqueCount) > *params.MaxUniqueRecipients {
		return match(
			fmt.Sprintf("%d unique recipients exceeds %d", recipients.UniqueCount, *params.MaxUniqueRecipients),
			0.8, RiskMedium)
	}

	devices := tracker.AnalyzeDevices(records)
	if params.RequireSameDevice && devices.UniqueCount > 1 {
		return match(
			fmt.Sprintf("%d distinct devices where a single device is expected", devices.UniqueCount),
			0.75, RiskMedium)
	}
	if params.MaxDeviceVelocity != nil && devices.MaxTotal >= *params.MaxDeviceVelocity {
		return match(
			fmt.Sprintf("per-device amount %.2f reaches limit %.2f", devices.MaxTotal, *params.MaxDeviceVelocity),
			0.8, RiskHigh)
	}

	return outcome
}

// evaluateML is a stub: model hosting is an external concern, so the rule
// reports non-matching until an inference backend is wired to the
// configured endpoint.
func (e *Engine) evaluateML(_ *Transaction, rule *Rule) *Outcome {
	outcome := &Outcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		RuleType: rule.Type,
		Risk:     RiskLow,
	}

	params, err := rule.MLParams()
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if params.InferenceEndpoint == "" {
		outcome.Reason = "ml inference not configured"
	} else {
		outcome.Reason = fmt.Sprintf("ml inference not wired (model %s at %s)", params.ModelVersion, params.InferenceEndpoint)
	}
	return outcome
}
