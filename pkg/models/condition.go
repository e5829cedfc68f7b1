package models

// ConditionLogic combines the conditions of one guard.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// ConditionOperator enumerates the comparison operators a guard may use.
type ConditionOperator string

const (
	OperatorEquals             ConditionOperator = "equals"
	OperatorNotEquals          ConditionOperator = "not_equals"
	OperatorGreaterThan        ConditionOperator = "greater_than"
	OperatorLessThan           ConditionOperator = "less_than"
	OperatorGreaterThanOrEqual ConditionOperator = "greater_than_or_equal"
	OperatorLessThanOrEqual    ConditionOperator = "less_than_or_equal"
	OperatorContains           ConditionOperator = "contains"
	OperatorNotContains        ConditionOperator = "not_contains"
	OperatorStartsWith         ConditionOperator = "starts_with"
	OperatorEndsWith           ConditionOperator = "ends_with"
	OperatorIsNull             ConditionOperator = "is_null"
	OperatorIsNotNull          ConditionOperator = "is_not_null"
)

// ConditionOperators lists every supported operator.
func ConditionOperators() []ConditionOperator {
	return []ConditionOperator{
		OperatorEquals,
		OperatorNotEquals,
		OperatorGreaterThan,
		OperatorLessThan,
		OperatorGreaterThanOrEqual,
		OperatorLessThanOrEqual,
		OperatorContains,
		OperatorNotContains,
		OperatorStartsWith,
		OperatorEndsWith,
		OperatorIsNull,
		OperatorIsNotNull,
	}
}

// Condition is one `field operator value` clause of a guard, evaluated
// against a variable snapshot.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    Value             `json:"value,omitempty"`
}
