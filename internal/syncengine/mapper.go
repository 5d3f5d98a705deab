package syncengine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr/vm"

	"integration-service/internal/models"
)

// FieldError records one per-field mapping failure. Field errors never abort
// a record; the record is stored with the affected target set to null.
type FieldError struct {
	TargetField string `json:"target_field"`
	Reason      string `json:"reason"`
}

// MapResult is the outcome of mapping one raw record.
type MapResult struct {
	Mapped           map[string]interface{}
	RecordIdentifier *string
	Errors           []FieldError
	HasRequiredError bool
}

type preparedRule struct {
	models.FieldMapping
	transform    *vm.Program
	transformErr error
}

// Mapper applies a data source's mapping rule set to raw records. It is
// built once per sync run; MapRecord is safe for concurrent use, so records
// within a page can be mapped in parallel.
type Mapper struct {
	rules []preparedRule
}

// NewMapper prepares a rule set, compiling transformation expressions up
// front so the per-record path only evaluates.
func NewMapper(rules []models.FieldMapping) *Mapper {
	m := &Mapper{rules: make([]preparedRule, 0, len(rules))}
	for _, rule := range rules {
		prepared := preparedRule{FieldMapping: rule}
		if rule.TransformExpr != "" {
			prog, err := CompileTransform(rule.TransformExpr)
			if err != nil {
				prepared.transformErr = err
			} else {
				prepared.transform = prog
			}
		}
		m.rules = append(m.rules, prepared)
	}
	return m
}

// MapRecord produces the typed, flattened projection of one raw record. The
// mapped object contains exactly the configured target fields: failures set
// the target to null and record a FieldError, they never drop the field or
// the record.
func (m *Mapper) MapRecord(raw map[string]interface{}) MapResult {
	result := MapResult{Mapped: make(map[string]interface{}, len(m.rules))}

	for i := range m.rules {
		rule := &m.rules[i]
		value, fieldErr := m.mapField(rule, raw)
		result.Mapped[rule.TargetField] = value
		if fieldErr != nil {
			result.Errors = append(result.Errors, *fieldErr)
			if rule.Required && value == nil {
				result.HasRequiredError = true
			}
		}
	}

	result.RecordIdentifier = m.extractIdentifier(raw)
	return result
}

// mapField resolves, coerces, and transforms one rule against one record.
func (m *Mapper) mapField(rule *preparedRule, raw map[string]interface{}) (interface{}, *FieldError) {
	resolved, ok := ResolvePath(raw, rule.SourcePath)
	if !ok || resolved == nil {
		return m.fallbackValue(rule, fmt.Sprintf("source path %q not found", rule.SourcePath))
	}

	coerced, err := coerceValue(resolved, rule.FieldType)
	if err != nil {
		// A value that cannot be coerced gets the same treatment as a
		// missing one: required policy, then default, then null.
		return m.fallbackValue(rule, err.Error())
	}

	if rule.transformErr != nil {
		// The coerced value is valid; a broken transformation does not
		// null it out.
		return coerced, &FieldError{TargetField: rule.TargetField, Reason: rule.transformErr.Error()}
	}
	if rule.transform != nil {
		transformed, err := RunTransform(rule.transform, coerced)
		if err != nil {
			return coerced, &FieldError{TargetField: rule.TargetField, Reason: err.Error()}
		}
		return transformed, nil
	}
	return coerced, nil
}

// fallbackValue applies the required/default policy after a resolution or
// coercion failure.
func (m *Mapper) fallbackValue(rule *preparedRule, reason string) (interface{}, *FieldError) {
	if rule.Required {
		return nil, &FieldError{TargetField: rule.TargetField, Reason: reason}
	}
	if rule.DefaultValue != "" {
		coerced, err := coerceValue(rule.DefaultValue, rule.FieldType)
		if err != nil {
			return nil, &FieldError{
				TargetField: rule.TargetField,
				Reason:      fmt.Sprintf("default value not coercible to %s: %v", rule.FieldType, err),
			}
		}
		return coerced, nil
	}
	return nil, nil
}

// extractIdentifier finds the best-effort natural key for deduplication:
// a raw field literally named "id", then "identifier", then the value at
// the first string- or number-typed mapping's source path. All lookups are
// against the raw record, not the mapped one.
func (m *Mapper) extractIdentifier(raw map[string]interface{}) *string {
	for _, key := range []string{"id", "identifier"} {
		if v, ok := raw[key]; ok {
			if id := identifierString(v); id != nil {
				return id
			}
		}
	}
	for i := range m.rules {
		rule := &m.rules[i]
		if rule.FieldType != "string" && rule.FieldType != "number" {
			continue
		}
		if v, ok := ResolvePath(raw, rule.SourcePath); ok {
			if id := identifierString(v); id != nil {
				return id
			}
		}
	}
	return nil
}

func identifierString(v interface{}) *string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return &val
	case float64:
		s := strconv.FormatFloat(val, 'f', -1, 64)
		return &s
	default:
		return nil
	}
}

// coerceValue converts an extracted raw value to the mapping's field type.
func coerceValue(v interface{}, fieldType string) (interface{}, error) {
	switch fieldType {
	case "string":
		return coerceString(v), nil
	case "number":
		return coerceNumber(v)
	case "boolean":
		return coerceBoolean(v)
	case "date":
		return coerceDate(v)
	case "json":
		return v, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", fieldType)
	}
}

func coerceString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		// Structured values stringify as their JSON encoding.
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func coerceNumber(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", val)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a number", v)
	}
}

func coerceBoolean(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("value %q is not a boolean", val)
	default:
		return nil, fmt.Errorf("value of type %T is not a boolean", v)
	}
}

// dateLayouts are tried in order for string date values.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceDate(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		// Epoch values sometimes arrive as strings.
		if epoch, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return epochToRFC3339(epoch), nil
		}
		return nil, fmt.Errorf("value %q is not an ISO-8601 or epoch date", val)
	case float64:
		return epochToRFC3339(val), nil
	default:
		return nil, fmt.Errorf("value of type %T is not a date", v)
	}
}

// epochToRFC3339 accepts epoch seconds or milliseconds; values past the year
// 33658 in seconds are taken as milliseconds.
func epochToRFC3339(epoch float64) string {
	sec := int64(epoch)
	if sec > 1e12 {
		return time.UnixMilli(sec).UTC().Format(time.RFC3339)
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
