// Package conditions evaluates guard expressions against a variable
// snapshot. Conditions fail closed: a missing field or a type mismatch makes
// the single condition false and records a warning, so a mis-specified guard
// blocks a transition instead of silently taking an unintended branch.
package conditions

import (
	"fmt"
	"strings"

	"github.com/orchon/orchon/pkg/models"
)

// Diagnostic explains how one condition evaluated, so the engine can audit
// why a branch was or wasn't taken.
type Diagnostic struct {
	Field    string                   `json:"field"`
	Operator models.ConditionOperator `json:"operator"`
	Outcome  bool                     `json:"outcome"`
	Warning  string                   `json:"warning,omitempty"`
}

// Result is the combined guard outcome plus per-condition diagnostics.
type Result struct {
	Value       bool
	Diagnostics []Diagnostic
}

// MetadataValue renders the diagnostics as a value suitable for audit
// entry metadata.
func (r Result) MetadataValue() models.Value {
	items := make([]models.Value, 0, len(r.Diagnostics))

	for _, d := range r.Diagnostics {
		entry := map[string]models.Value{
			"field":    models.String(d.Field),
			"operator": models.String(string(d.Operator)),
			"outcome":  models.Bool(d.Outcome),
		}

		if d.Warning != "" {
			entry["warning"] = models.String(d.Warning)
		}

		items = append(items, models.Map(entry))
	}

	return models.List(items...)
}

// Warnings returns the non-empty warning messages collected while
// evaluating.
func (r Result) Warnings() []string {
	warnings := make([]string, 0)

	for _, d := range r.Diagnostics {
		if d.Warning != "" {
			warnings = append(warnings, d.Warning)
		}
	}

	return warnings
}

// Evaluate combines the conditions under the given logic, short-circuiting
// in field order. An empty condition list evaluates to true (unconditional
// edge). Unknown logic defaults to AND.
func Evaluate(conds []models.Condition, logic models.ConditionLogic, snapshot map[string]models.Value) Result {
	if len(conds) == 0 {
		return Result{Value: true}
	}

	result := Result{Value: logic != models.LogicOr}

	for _, cond := range conds {
		diag := evaluateOne(cond, snapshot)
		result.Diagnostics = append(result.Diagnostics, diag)

		if logic == models.LogicOr {
			if diag.Outcome {
				result.Value = true

				break
			}

			result.Value = false
		} else if !diag.Outcome {
			result.Value = false

			break
		}
	}

	return result
}

func evaluateOne(cond models.Condition, snapshot map[string]models.Value) Diagnostic {
	diag := Diagnostic{Field: cond.Field, Operator: cond.Operator}

	actual, found := snapshot[cond.Field]
	if !found {
		diag.Warning = fmt.Sprintf("field %q is not set", cond.Field)

		return diag
	}

	switch cond.Operator {
	case models.OperatorEquals:
		diag.Outcome = actual.Equal(cond.Value)
	case models.OperatorNotEquals:
		diag.Outcome = !actual.Equal(cond.Value)
	case models.OperatorGreaterThan, models.OperatorLessThan,
		models.OperatorGreaterThanOrEqual, models.OperatorLessThanOrEqual:
		diag.Outcome, diag.Warning = compareNumbers(cond.Operator, actual, cond.Value)
	case models.OperatorContains, models.OperatorNotContains:
		diag.Outcome, diag.Warning = contains(actual, cond.Value)
		if cond.Operator == models.OperatorNotContains && diag.Warning == "" {
			diag.Outcome = !diag.Outcome
		}
	case models.OperatorStartsWith:
		diag.Outcome, diag.Warning = stringAffix(actual, cond.Value, strings.HasPrefix)
	case models.OperatorEndsWith:
		diag.Outcome, diag.Warning = stringAffix(actual, cond.Value, strings.HasSuffix)
	case models.OperatorIsNull:
		diag.Outcome = actual.IsNull()
	case models.OperatorIsNotNull:
		diag.Outcome = !actual.IsNull()
	default:
		diag.Warning = fmt.Sprintf("unknown operator %q", cond.Operator)
	}

	return diag
}

func compareNumbers(op models.ConditionOperator, actual, expected models.Value) (bool, string) {
	left, leftOK := actual.AsNumber()
	right, rightOK := expected.AsNumber()

	if !leftOK || !rightOK {
		return false, fmt.Sprintf(
			"operator %q needs numbers, got %s and %s", op, actual.Kind(), expected.Kind())
	}

	switch op {
	case models.OperatorGreaterThan:
		return left > right, ""
	case models.OperatorLessThan:
		return left < right, ""
	case models.OperatorGreaterThanOrEqual:
		return left >= right, ""
	default:
		return left <= right, ""
	}
}

func contains(actual, expected models.Value) (bool, string) {
	if haystack, ok := actual.AsString(); ok {
		needle, needleOK := expected.AsString()
		if !needleOK {
			return false, fmt.Sprintf("contains on a string needs a string value, got %s", expected.Kind())
		}

		return strings.Contains(haystack, needle), ""
	}

	if items, ok := actual.AsList(); ok {
		for _, item := range items {
			if item.Equal(expected) {
				return true, ""
			}
		}

		return false, ""
	}

	return false, fmt.Sprintf("contains needs a string or list field, got %s", actual.Kind())
}

func stringAffix(actual, expected models.Value, match func(string, string) bool) (bool, string) {
	str, strOK := actual.AsString()
	affix, affixOK := expected.AsString()

	if !strOK || !affixOK {
		return false, fmt.Sprintf(
			"string operator needs strings, got %s and %s", actual.Kind(), expected.Kind())
	}

	return match(str, affix), ""
}
