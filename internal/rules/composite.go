package rules

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// evaluateComposite resolves the named sub-rules from the cache and combines
// their outcomes with the configured logical operator. Recursion is bounded
// by maxDepth, and a name already being resolved on this call path is a
// cycle; both conditions yield a non-matching outcome with an explanatory
// error, never a fault, so misconfiguration cannot change verdict semantics.
func (e *Engine) evaluateComposite(ctx context.Context, tx *Transaction, rule *Rule, depth, maxDepth int, resolving map[string]bool) *Outcome {
	outcome := &Outcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		RuleType: rule.Type,
		Risk:     RiskLow,
	}

	if depth >= maxDepth {
		outcome.Err = DepthExceededError{Rule: rule.Name, Depth: maxDepth}
		outcome.Reason = outcome.Err.Error()
		return outcome
	}
	if resolving[rule.Name] {
		outcome.Err = CycleError{Rule: rule.Name}
		outcome.Reason = outcome.Err.Error()
		return outcome
	}
	resolving[rule.Name] = true
	defer delete(resolving, rule.Name)

	params, err := rule.CompositeParams()
	if err != nil {
		outcome.Err = err
		return outcome
	}

	var subs []*Outcome
	for _, name := range params.Rules {
		sub, err := e.resolver.FindCachedByName(ctx, name)
		if errors.Is(err, ErrCacheMiss) {
			// Unresolvable names are skipped, not fatal: the referenced
			// rule may be disabled or its projection expired.
			e.logger.Warn("composite sub-rule not resolvable, skipping",
				zap.String("composite", rule.Name),
				zap.String("sub_rule", name),
				zap.String("transaction_id", tx.ID))
			continue
		}
		if err != nil {
			outcome.Err = err
			return outcome
		}
		subs = append(subs, e.dispatch(ctx, tx, sub, depth+1, maxDepth, resolving))
	}

	if len(subs) == 0 {
		outcome.Reason = "no sub-rules resolved"
		return outcome
	}

	switch params.Operator {
	case "AND":
		combineAnd(outcome, subs)
	case "OR":
		combineOr(outcome, subs)
	case "NOT":
		combineNot(outcome, subs)
	default:
		outcome.Err = ValidationError{Field: "operator", Detail: "unknown composite operator " + params.Operator}
	}

	if outcome.Matched && rule.Critical {
		outcome.Risk = RiskCritical
	}
	return outcome
}

// combineAnd: matched iff every sub-result matched; confidence is the
// weakest link. Risk aggregates to the max regardless of match.
func combineAnd(outcome *Outcome, subs []*Outcome) {
	matched := true
	minConfidence := 1.0
	for _, sub := range subs {
		outcome.Risk = MaxRisk(outcome.Risk, sub.Risk)
		if !sub.Matched {
			matched = false
			continue
		}
		if sub.Confidence < minConfidence {
			minConfidence = sub.Confidence
		}
	}
	outcome.Matched = matched
	if matched {
		outcome.Confidence = minConfidence
		outcome.Reason = "all sub-rules matched"
	}
}

// combineOr: matched iff any sub-result matched; confidence is the
// strongest match.
func combineOr(outcome *Outcome, subs []*Outcome) {
	for _, sub := range subs {
		outcome.Risk = MaxRisk(outcome.Risk, sub.Risk)
		if sub.Matched {
			outcome.Matched = true
			if sub.Confidence > outcome.Confidence {
				outcome.Confidence = sub.Confidence
			}
			if outcome.Reason == "" {
				outcome.Reason = "sub-rule matched: " + sub.RuleName
			}
		}
	}
}

// combineNot: NOT(r1 OR r2 OR ...) - matched iff no sub-result matched,
// with confidence 1 - max(sub confidences). Risk still aggregates to the
// max; it is informational and not inverted.
func combineNot(outcome *Outcome, subs []*Outcome) {
	maxConfidence := 0.0
	anyMatched := false
	for _, sub := range subs {
		outcome.Risk = MaxRisk(outcome.Risk, sub.Risk)
		if sub.Matched {
			anyMatched = true
		}
		if sub.Confidence > maxConfidence {
			maxConfidence = sub.Confidence
		}
	}
	outcome.Matched = !anyMatched
	if outcome.Matched {
		outcome.Confidence = 1 - maxConfidence
		outcome.Reason = "no sub-rules matched"
	}
}
