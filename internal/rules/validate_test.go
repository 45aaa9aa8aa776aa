package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSpec(t *testing.T) {
	valid := func(name string, ruleType RuleType, params string) *Spec {
		return &Spec{Name: name, Type: ruleType, Params: json.RawMessage(params)}
	}

	tests := []struct {
		name    string
		spec    *Spec
		wantErr bool
	}{
		{"minimal threshold", valid("t", TypeThreshold, `{"max_amount": 100, "operator": "gt"}`), false},
		{"empty params default to an empty object", &Spec{Name: "t", Type: TypeThreshold}, false},
		{"blank name", valid("   ", TypeThreshold, `{}`), true},
		{"unknown type", valid("t", RuleType("graph"), `{}`), true},
		{"unknown operator", valid("t", TypeThreshold, `{"operator": "like"}`), true},
		{"unknown extra field", valid("t", TypeThreshold, `{"max_amout": 100}`), true},
		{"hour out of range", valid("t", TypeThreshold, `{"allowed_hour_start": 9, "allowed_hour_end": 25}`), true},
		{"bad time window", valid("t", TypeThreshold, `{"time_window": "fortnight"}`), true},
		{"between missing a bound", valid("t", TypeThreshold, `{"operator": "between", "max_amount": 100}`), true},
		{"between with both bounds", valid("t", TypeThreshold, `{"operator": "between", "min_amount": 10, "max_amount": 100}`), false},
		{"start without end", valid("t", TypeThreshold, `{"allowed_hour_start": 9}`), true},
		{"wrapping hour window", valid("t", TypeThreshold, `{"allowed_hour_start": 22, "allowed_hour_end": 6}`), true},
		{"valid hour window", valid("t", TypeThreshold, `{"allowed_hour_start": 9, "allowed_hour_end": 17}`), false},
		{"pattern needs time_period", valid("p", TypePattern, `{"min_transaction_count": 3}`), true},
		{"valid pattern", valid("p", TypePattern, `{"time_period": "hour", "min_transaction_count": 3}`), false},
		{"zero min count", valid("p", TypePattern, `{"time_period": "hour", "min_transaction_count": 0}`), true},
		{"composite needs rules", valid("c", TypeComposite, `{"operator": "AND", "rules": []}`), true},
		{"composite needs a known operator", valid("c", TypeComposite, `{"operator": "XOR", "rules": ["a"]}`), true},
		{"valid composite", valid("c", TypeComposite, `{"operator": "NOT", "rules": ["a"]}`), false},
		{"composite self reference", valid("c", TypeComposite, `{"operator": "OR", "rules": ["c"]}`), true},
		{"valid ml", valid("m", TypeML, `{"model_version": "v1", "confidence_threshold": 0.8}`), false},
		{"ml confidence above one", valid("m", TypeML, `{"confidence_threshold": 1.5}`), true},
		{"params not json", valid("t", TypeThreshold, `{"max_amount":`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpec(tt.spec)
			if tt.wantErr {
				var vErr ValidationError
				require.Error(t, err)
				assert.ErrorAs(t, err, &vErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuleParamDecoding(t *testing.T) {
	t.Run("threshold params round out to pointers", func(t *testing.T) {
		rule := &Rule{Type: TypeThreshold, Params: json.RawMessage(`{"max_amount": 5000, "operator": "gt"}`)}
		p, err := rule.ThresholdParams()
		require.NoError(t, err)
		require.NotNil(t, p.MaxAmount)
		assert.Equal(t, 5000.0, *p.MaxAmount)
		assert.Nil(t, p.MinAmount)
	})

	t.Run("wrong-shape params surface a decode error", func(t *testing.T) {
		rule := &Rule{Type: TypeComposite, Params: json.RawMessage(`{"operator": "AND", "rules": "not-a-list"}`)}
		_, err := rule.CompositeParams()
		assert.Error(t, err)
	})
}
