package rules

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/tracker"
)

// thresholdCheck is one fired check inside a threshold rule.
type thresholdCheck struct {
	reason     string
	risk       RiskLevel
	confidence float64
}

// evaluateThreshold compares the transaction against the rule's amount
// operator, allowed-hours window, location allow-list, and - when a time
// window is configured - the frequency limits. Frequency checks always run,
// even when an earlier check already matched, so counter-based violations
// are observed; the first matching frequency check short-circuits the rest
// of the frequency list.
func (e *Engine) evaluateThreshold(ctx context.Context, tx *Transaction, rule *Rule) *Outcome {
	outcome := &Outcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		RuleType: rule.Type,
		Risk:     RiskLow,
	}

	params, err := rule.ThresholdParams()
	if err != nil {
		outcome.Err = err
		return outcome
	}

	var first *thresholdCheck
	note := func(c *thresholdCheck) {
		if first == nil {
			first = c
		}
	}

	if c := checkAmount(tx.Amount, params); c != nil {
		note(c)
	}
	if c := checkAllowedHours(tx, params); c != nil {
		note(c)
	}
	if c := checkAllowedLocations(tx, params); c != nil {
		note(c)
	}

	if params.TimeWindow != "" {
		c, err := e.checkFrequencies(ctx, tx, params)
		switch {
		case err != nil && first != nil:
			// A deterministic check already fired; keep that match and
			// degrade the frequency checks instead of discarding it.
			e.logger.Warn("frequency checks unavailable, keeping deterministic match",
				zap.String("rule_name", rule.Name),
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
		case err != nil:
			outcome.Err = err
			return outcome
		case c != nil:
			note(c)
		}
	}

	if first == nil {
		return outcome
	}

	outcome.Matched = true
	outcome.Confidence = first.confidence
	outcome.Reason = first.reason
	outcome.Risk = first.risk
	if rule.Critical {
		outcome.Risk = RiskCritical
	}
	return outcome
}

// checkAmount applies the configured comparison operator to the amount.
// between/not_between read [min, max] inclusive.
func checkAmount(amount float64, p *ThresholdParams) *thresholdCheck {
	if p.Operator == "" {
		return nil
	}

	var matched bool
	var detail string
	switch p.Operator {
	case "gt":
		matched = p.MaxAmount != nil && amount > *p.MaxAmount
		detail = fmt.Sprintf("amount %.2f > %.2f", amount, deref(p.MaxAmount))
	case "gte":
		matched = p.MaxAmount != nil && amount >= *p.MaxAmount
		detail = fmt.Sprintf("amount %.2f >= %.2f", amount, deref(p.MaxAmount))
	case "lt":
		matched = p.MinAmount != nil && amount < *p.MinAmount
		detail = fmt.Sprintf("amount %.2f < %.2f", amount, deref(p.MinAmount))
	case "lte":
		matched = p.MinAmount != nil && amount <= *p.MinAmount
		detail = fmt.Sprintf("amount %.2f <= %.2f", amount, deref(p.MinAmount))
	case "eq":
		matched = p.MaxAmount != nil && amount == *p.MaxAmount
		detail = fmt.Sprintf("amount equals %.2f", deref(p.MaxAmount))
	case "ne":
		matched = p.MaxAmount != nil && amount != *p.MaxAmount
		detail = fmt.Sprintf("amount differs from %.2f", deref(p.MaxAmount))
	case "between":
		matched = p.MinAmount != nil && p.MaxAmount != nil &&
			amount >= *p.MinAmount && amount <= *p.MaxAmount
		detail = fmt.Sprintf("amount %.2f within [%.2f, %.2f]", amount, deref(p.MinAmount), deref(p.MaxAmount))
	case "not_between":
		matched = p.MinAmount != nil && p.MaxAmount != nil &&
			(amount < *p.MinAmount || amount > *p.MaxAmount)
		detail = fmt.Sprintf("amount %.2f outside [%.2f, %.2f]", amount, deref(p.MinAmount), deref(p.MaxAmount))
	default:
		return nil
	}

	if !matched {
		return nil
	}
	return &thresholdCheck{reason: detail, risk: RiskHigh, confidence: 0.9}
}

// checkAllowedHours matches when the transaction falls outside the
// configured [start, end) hour-of-day window. Non-wrapping.
func checkAllowedHours(tx *Transaction, p *ThresholdParams) *thresholdCheck {
	if p.AllowedHourStart == nil || p.AllowedHourEnd == nil {
		return nil
	}
	hour := tx.Timestamp.UTC().Hour()
	if hour >= *p.AllowedHourStart && hour < *p.AllowedHourEnd {
		return nil
	}
	return &thresholdCheck{
		reason:     fmt.Sprintf("hour %d outside allowed window [%d, %d)", hour, *p.AllowedHourStart, *p.AllowedHourEnd),
		risk:       RiskMedium,
		confidence: 0.7,
	}
}

// checkAllowedLocations matches when the transaction's location is not on
// the allow-list. An empty list disables the check.
func checkAllowedLocations(tx *Transaction, p *ThresholdParams) *thresholdCheck {
	if len(p.AllowedLocations) == 0 {
		return nil
	}
	for _, loc := range p.AllowedLocations {
		if loc == tx.Location {
			return nil
		}
	}
	return &thresholdCheck{
		reason:     fmt.Sprintf("location %q not in allowed list", tx.Location),
		risk:       RiskMedium,
		confidence: 0.7,
	}
}

// checkFrequencies runs the six frequency limits against the tracker, in a
// fixed order; the first one to fire wins and the rest are skipped.
func (e *Engine) checkFrequencies(ctx context.Context, tx *Transaction, p *ThresholdParams) (*thresholdCheck, error) {
	w, err := tracker.ParseWindow(p.TimeWindow)
	if err != nil {
		return nil, err
	}
	at := tx.Timestamp

	if p.MaxTransactions != nil {
		n, err := e.freq.TransactionCount(ctx, tx.FromAccount, w, at)
		if err != nil {
			return nil, err
		}
		if n > *p.MaxTransactions {
			return &thresholdCheck{
				reason:     fmt.Sprintf("%d transactions from account in %s window exceeds %d", n, w, *p.MaxTransactions),
				risk:       RiskHigh,
				confidence: 0.85,
			}, nil
		}
	}
	if p.MaxTransactionsTo != nil {
		n, err := e.freq.TransactionsTo(ctx, tx.ToAccount, w, at)
		if err != nil {
			return nil, err
		}
		if n > *p.MaxTransactionsTo {
			return &thresholdCheck{
				reason:     fmt.Sprintf("%d transactions to account in %s window exceeds %d", n, w, *p.MaxTransactionsTo),
				risk:       RiskHigh,
				confidence: 0.85,
			}, nil
		}
	}
	if p.MaxTotalAmount != nil {
		total, err := e.freq.Velocity(ctx, tx.FromAccount, w, at)
		if err != nil {
			return nil, err
		}
		if total > *p.MaxTotalAmount {
			return &thresholdCheck{
				reason:     fmt.Sprintf("velocity %.2f in %s window exceeds %.2f", total, w, *p.MaxTotalAmount),
				risk:       RiskHigh,
				confidence: 0.85,
			}, nil
		}
	}
	if p.MaxUniqueDevices != nil {
		n, err := e.freq.UniqueDevices(ctx, tx.FromAccount, w, at)
		if err != nil {
			return nil, err
		}
		if n > *p.MaxUniqueDevices {
			return &thresholdCheck{
				reason:     fmt.Sprintf("%d unique devices in %s window exceeds %d", n, w, *p.MaxUniqueDevices),
				risk:       RiskMedium,
				confidence: 0.75,
			}, nil
		}
	}
	if p.MaxUniqueIPs != nil {
		n, err := e.freq.UniqueIPs(ctx, tx.FromAccount, w, at)
		if err != nil {
			return nil, err
		}
		if n > *p.MaxUniqueIPs {
			return &thresholdCheck{
				reason:     fmt.Sprintf("%d unique source IPs in %s window exceeds %d", n, w, *p.MaxUniqueIPs),
				risk:       RiskMedium,
				confidence: 0.75,
			}, nil
		}
	}
	if p.MaxUniqueTxTypes != nil {
		n, err := e.freq.UniqueTransactionTypes(ctx, tx.FromAccount, w, at)
		if err != nil {
			return nil, err
		}
		if n > *p.MaxUniqueTxTypes {
			return &thresholdCheck{
				reason:     fmt.Sprintf("%d unique transaction types in %s window exceeds %d", n, w, *p.MaxUniqueTxTypes),
				risk:       RiskMedium,
				confidence: 0.75,
			}, nil
		}
	}
	return nil, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
