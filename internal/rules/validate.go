package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Per-type JSON schemas for rule parameters. Validation happens before any
// store write so a malformed rule is never partially applied.
const (
	thresholdSchema = `{
		"type": "object",
		"properties": {
			"max_amount": {"type": "number"},
			"min_amount": {"type": "number"},
			"operator": {"enum": ["gt", "gte", "lt", "lte", "eq", "ne", "between", "not_between"]},
			"allowed_hour_start": {"type": "integer", "minimum": 0, "maximum": 23},
			"allowed_hour_end": {"type": "integer", "minimum": 0, "maximum": 24},
			"allowed_locations": {"type": "array", "items": {"type": "string"}},
			"time_window": {"enum": ["minute", "hour", "day", "week", "month"]},
			"max_transactions": {"type": "integer", "minimum": 0},
			"max_transactions_to": {"type": "integer", "minimum": 0},
			"max_total_amount": {"type": "number", "minimum": 0},
			"max_unique_devices": {"type": "integer", "minimum": 0},
			"max_unique_ips": {"type": "integer", "minimum": 0},
			"max_unique_tx_types": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`

	patternSchema = `{
		"type": "object",
		"required": ["time_period"],
		"properties": {
			"time_period": {"enum": ["minute", "hour", "day", "week", "month"]},
			"min_transaction_count": {"type": "integer", "minimum": 1},
			"max_total_amount": {"type": "number", "minimum": 0},
			"require_same_recipient": {"type": "boolean"},
			"max_unique_recipients": {"type": "integer", "minimum": 1},
			"require_same_device": {"type": "boolean"},
			"max_device_velocity": {"type": "number", "minimum": 0}
		},
		"additionalProperties": false
	}`

	compositeSchema = `{
		"type": "object",
		"required": ["operator", "rules"],
		"properties": {
			"operator": {"enum": ["AND", "OR", "NOT"]},
			"rules": {"type": "array", "items": {"type": "string"}, "minItems": 1}
		},
		"additionalProperties": false
	}`

	mlSchema = `{
		"type": "object",
		"properties": {
			"model_version": {"type": "string"},
			"confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
			"inference_endpoint": {"type": "string"}
		},
		"additionalProperties": false
	}`
)

var paramSchemas = map[RuleType]*gojsonschema.Schema{}

func init() {
	for t, raw := range map[RuleType]string{
		TypeThreshold: thresholdSchema,
		TypePattern:   patternSchema,
		TypeComposite: compositeSchema,
		TypeML:        mlSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("rules: bad %s param schema: %v", t, err))
		}
		paramSchemas[t] = schema
	}
}

// ValidateSpec rejects malformed rule specifications: missing name, unknown
// type, or parameters that fail the type's schema or cross-field rules.
func ValidateSpec(spec *Spec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return ValidationError{Field: "name", Detail: "must not be empty"}
	}
	if !ValidType(spec.Type) {
		return ValidationError{Field: "type", Detail: fmt.Sprintf("unknown rule type %q", spec.Type)}
	}

	params := spec.Params
	if len(params) == 0 {
		params = []byte("{}")
	}

	result, err := paramSchemas[spec.Type].Validate(gojsonschema.NewBytesLoader(params))
	if err != nil {
		return ValidationError{Field: "params", Detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return ValidationError{Field: "params", Detail: strings.Join(details, "; ")}
	}

	return validateCrossField(spec)
}

// validateCrossField covers constraints a per-field schema cannot express.
func validateCrossField(spec *Spec) error {
	params := spec.Params
	if len(params) == 0 {
		params = []byte("{}")
	}

	switch spec.Type {
	case TypeThreshold:
		var p ThresholdParams
		if err := json.Unmarshal(params, &p); err != nil {
			return ValidationError{Field: "params", Detail: err.Error()}
		}
		switch p.Operator {
		case "between", "not_between":
			if p.MinAmount == nil || p.MaxAmount == nil {
				return ValidationError{Field: "params", Detail: p.Operator + " requires both min_amount and max_amount"}
			}
		}
		if (p.AllowedHourStart == nil) != (p.AllowedHourEnd == nil) {
			return ValidationError{Field: "params", Detail: "allowed hours require both start and end"}
		}
		if p.AllowedHourStart != nil && *p.AllowedHourStart >= *p.AllowedHourEnd {
			return ValidationError{Field: "params", Detail: "allowed hours must be a non-wrapping window (start < end)"}
		}
	case TypeComposite:
		var p CompositeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return ValidationError{Field: "params", Detail: err.Error()}
		}
		for _, child := range p.Rules {
			if child == spec.Name {
				return ValidationError{Field: "params", Detail: "composite rule must not reference itself"}
			}
		}
	}
	return nil
}
