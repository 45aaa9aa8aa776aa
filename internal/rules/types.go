// Package rules implements the fraud-detection rule catalog and the
// evaluation engine that scores transactions against it.
package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleType is the closed set of evaluator families.
type RuleType string

const (
	TypeThreshold RuleType = "threshold"
	TypePattern   RuleType = "pattern"
	TypeComposite RuleType = "composite"
	TypeML        RuleType = "ml"
)

// ValidType reports whether t names a known rule type.
func ValidType(t RuleType) bool {
	switch t {
	case TypeThreshold, TypePattern, TypeComposite, TypeML:
		return true
	}
	return false
}

// RiskLevel is the ordinal severity assigned to a matched rule.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for max() aggregation.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Status is the aggregate verdict for a transaction.
type Status string

const (
	StatusApproved Status = "approved"
	StatusFlagged  Status = "flagged"
	StatusFailed   Status = "failed"
)

// Rule is the durable rule definition. Name is globally unique and is how
// composite rules reference their children.
type Rule struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Type        RuleType        `json:"type"`
	Params      json.RawMessage `json:"params"`
	Enabled     bool            `json:"enabled"`
	Priority    int             `json:"priority"`
	Critical    bool            `json:"critical"`
	Description string          `json:"description,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`

	ExecutionCount     int64      `json:"execution_count"`
	MatchCount         int64      `json:"match_count"`
	AvgExecutionTimeMs float64    `json:"average_execution_time_ms"`
	LastExecutedAt     *time.Time `json:"last_executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThresholdParams configure a threshold rule. Pointer fields are unset
// checks; a nil bound means the corresponding check is skipped.
type ThresholdParams struct {
	MaxAmount *float64 `json:"max_amount,omitempty"`
	MinAmount *float64 `json:"min_amount,omitempty"`
	// Operator selects the amount comparison: gt, gte, lt, lte, eq, ne,
	// between, not_between. between/not_between require both bounds.
	Operator string `json:"operator,omitempty"`

	// AllowedHours is a non-wrapping [start, end) hour-of-day window.
	AllowedHourStart *int `json:"allowed_hour_start,omitempty"`
	AllowedHourEnd   *int `json:"allowed_hour_end,omitempty"`

	AllowedLocations []string `json:"allowed_locations,omitempty"`

	// TimeWindow enables the frequency checks below when set
	// (minute/hour/day/week/month).
	TimeWindow         string   `json:"time_window,omitempty"`
	MaxTransactions    *int64   `json:"max_transactions,omitempty"`
	MaxTransactionsTo  *int64   `json:"max_transactions_to,omitempty"`
	MaxTotalAmount     *float64 `json:"max_total_amount,omitempty"`
	MaxUniqueDevices   *int64   `json:"max_unique_devices,omitempty"`
	MaxUniqueIPs       *int64   `json:"max_unique_ips,omitempty"`
	MaxUniqueTxTypes   *int64   `json:"max_unique_tx_types,omitempty"`
}

// PatternParams configure a pattern rule. TimePeriod is required; checks run
// in declaration order and the first satisfied one is the match.
type PatternParams struct {
	TimePeriod string `json:"time_period"`

	MinTransactionCount  *int64   `json:"min_transaction_count,omitempty"`
	MaxTotalAmount       *float64 `json:"max_total_amount,omitempty"`
	RequireSameRecipient bool     `json:"require_same_recipient,omitempty"`
	MaxUniqueRecipients  *int64   `json:"max_unique_recipients,omitempty"`
	RequireSameDevice    bool     `json:"require_same_device,omitempty"`
	MaxDeviceVelocity    *float64 `json:"max_device_velocity,omitempty"`
}

// CompositeParams configure a composite rule: a logical operator applied to
// other rules referenced by name.
type CompositeParams struct {
	Operator string   `json:"operator"` // AND, OR, NOT
	Rules    []string `json:"rules"`
}

// MLParams configure the ML stub evaluator.
type MLParams struct {
	ModelVersion        string  `json:"model_version,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	InferenceEndpoint   string  `json:"inference_endpoint,omitempty"`
}

// ThresholdParams decodes the rule's params as threshold configuration.
func (r *Rule) ThresholdParams() (*ThresholdParams, error) {
	var p ThresholdParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: decode threshold params: %w", r.Name, err)
	}
	return &p, nil
}

// PatternParams decodes the rule's params as pattern configuration.
func (r *Rule) PatternParams() (*PatternParams, error) {
	var p PatternParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: decode pattern params: %w", r.Name, err)
	}
	return &p, nil
}

// CompositeParams decodes the rule's params as composite configuration.
func (r *Rule) CompositeParams() (*CompositeParams, error) {
	var p CompositeParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: decode composite params: %w", r.Name, err)
	}
	return &p, nil
}

// MLParams decodes the rule's params as ML configuration.
func (r *Rule) MLParams() (*MLParams, error) {
	var p MLParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: decode ml params: %w", r.Name, err)
	}
	return &p, nil
}

// Transaction is the slice of an external transaction record the engine
// reads. The engine never mutates transactions.
type Transaction struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	FromAccount string    `json:"from_account"`
	ToAccount   string    `json:"to_account"`
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Type        string    `json:"type,omitempty"`
}

// Outcome is a single evaluator's result for one rule.
type Outcome struct {
	RuleID     uuid.UUID `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	RuleType   RuleType  `json:"rule_type"`
	Matched    bool      `json:"matched"`
	Confidence float64   `json:"confidence"`
	Risk       RiskLevel `json:"risk_level"`
	Reason     string    `json:"reason,omitempty"`
	Err        error     `json:"-"`
	ElapsedMs  float64   `json:"elapsed_ms"`
}

// EvaluationResult is the aggregate verdict for one transaction.
type EvaluationResult struct {
	TransactionID string     `json:"transaction_id"`
	CorrelationID string     `json:"correlation_id"`
	RulesEvaluated int       `json:"total_rules_evaluated"`
	MatchedRules  []*Outcome `json:"matched_rules"`
	Status        Status     `json:"status"`
	Risk          RiskLevel  `json:"risk_level"`
	CriticalMatch bool       `json:"critical_match"`
	ElapsedMs     float64    `json:"elapsed_ms"`
}

// Execution is one append-only audit record: a single rule evaluated against
// a single transaction. Never mutated after insert.
type Execution struct {
	ID            uuid.UUID       `json:"id"`
	RuleID        uuid.UUID       `json:"rule_id"`
	TransactionID string          `json:"transaction_id"`
	CorrelationID string          `json:"correlation_id"`
	Matched       bool            `json:"matched"`
	Confidence    *float64        `json:"confidence_score,omitempty"`
	ExecutionMs   float64         `json:"execution_time_ms"`
	Context       json.RawMessage `json:"context,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ExecutedAt    time.Time       `json:"executed_at"`
}
