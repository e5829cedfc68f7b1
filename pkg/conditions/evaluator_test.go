package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchon/orchon/pkg/models"
)

func snapshot() map[string]models.Value {
	return map[string]models.Value{
		"amount":   models.Number(500),
		"status":   models.String("submitted"),
		"approved": models.Bool(true),
		"tags":     models.List(models.String("finance"), models.String("urgent")),
		"owner":    models.Null(),
	}
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{
			name: "equals on string",
			cond: models.Condition{Field: "status", Operator: models.OperatorEquals, Value: models.String("submitted")},
			want: true,
		},
		{
			name: "not equals",
			cond: models.Condition{Field: "status", Operator: models.OperatorNotEquals, Value: models.String("draft")},
			want: true,
		},
		{
			name: "greater than",
			cond: models.Condition{Field: "amount", Operator: models.OperatorGreaterThan, Value: models.Number(100)},
			want: true,
		},
		{
			name: "less than fails",
			cond: models.Condition{Field: "amount", Operator: models.OperatorLessThan, Value: models.Number(100)},
			want: false,
		},
		{
			name: "greater than or equal boundary",
			cond: models.Condition{Field: "amount", Operator: models.OperatorGreaterThanOrEqual, Value: models.Number(500)},
			want: true,
		},
		{
			name: "less than or equal boundary",
			cond: models.Condition{Field: "amount", Operator: models.OperatorLessThanOrEqual, Value: models.Number(500)},
			want: true,
		},
		{
			name: "contains on string",
			cond: models.Condition{Field: "status", Operator: models.OperatorContains, Value: models.String("mit")},
			want: true,
		},
		{
			name: "contains on list",
			cond: models.Condition{Field: "tags", Operator: models.OperatorContains, Value: models.String("urgent")},
			want: true,
		},
		{
			name: "not contains on list",
			cond: models.Condition{Field: "tags", Operator: models.OperatorNotContains, Value: models.String("hr")},
			want: true,
		},
		{
			name: "starts with",
			cond: models.Condition{Field: "status", Operator: models.OperatorStartsWith, Value: models.String("sub")},
			want: true,
		},
		{
			name: "ends with fails",
			cond: models.Condition{Field: "status", Operator: models.OperatorEndsWith, Value: models.String("draft")},
			want: false,
		},
		{
			name: "is null",
			cond: models.Condition{Field: "owner", Operator: models.OperatorIsNull},
			want: true,
		},
		{
			name: "is not null",
			cond: models.Condition{Field: "approved", Operator: models.OperatorIsNotNull},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate([]models.Condition{tt.cond}, models.LogicAnd, snapshot())
			assert.Equal(t, tt.want, result.Value)
			assert.Empty(t, result.Warnings())
		})
	}
}

func TestEvaluate_MissingFieldFailsClosed(t *testing.T) {
	result := Evaluate([]models.Condition{
		{Field: "does_not_exist", Operator: models.OperatorEquals, Value: models.String("x")},
	}, models.LogicAnd, snapshot())

	assert.False(t, result.Value)
	require.Len(t, result.Warnings(), 1)
	assert.Contains(t, result.Warnings()[0], "does_not_exist")
}

func TestEvaluate_TypeMismatchFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		cond models.Condition
	}{
		{
			name: "greater than on string",
			cond: models.Condition{Field: "status", Operator: models.OperatorGreaterThan, Value: models.Number(10)},
		},
		{
			name: "starts with on number",
			cond: models.Condition{Field: "amount", Operator: models.OperatorStartsWith, Value: models.String("5")},
		},
		{
			name: "contains on bool",
			cond: models.Condition{Field: "approved", Operator: models.OperatorContains, Value: models.String("t")},
		},
		{
			name: "not contains on bool stays false",
			cond: models.Condition{Field: "approved", Operator: models.OperatorNotContains, Value: models.String("t")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate([]models.Condition{tt.cond}, models.LogicAnd, snapshot())
			assert.False(t, result.Value, "mismatches must fail closed, never open")
			assert.NotEmpty(t, result.Warnings())
		})
	}
}

func TestEvaluate_Logic(t *testing.T) {
	pass := models.Condition{Field: "approved", Operator: models.OperatorEquals, Value: models.Bool(true)}
	fail := models.Condition{Field: "amount", Operator: models.OperatorLessThan, Value: models.Number(1)}

	t.Run("and short-circuits on first failure", func(t *testing.T) {
		result := Evaluate([]models.Condition{fail, pass}, models.LogicAnd, snapshot())
		assert.False(t, result.Value)
		assert.Len(t, result.Diagnostics, 1)
	})

	t.Run("or short-circuits on first success", func(t *testing.T) {
		result := Evaluate([]models.Condition{pass, fail}, models.LogicOr, snapshot())
		assert.True(t, result.Value)
		assert.Len(t, result.Diagnostics, 1)
	})

	t.Run("or of all failures is false", func(t *testing.T) {
		result := Evaluate([]models.Condition{fail, fail}, models.LogicOr, snapshot())
		assert.False(t, result.Value)
		assert.Len(t, result.Diagnostics, 2)
	})

	t.Run("empty guard is unconditional", func(t *testing.T) {
		result := Evaluate(nil, models.LogicAnd, snapshot())
		assert.True(t, result.Value)
	})
}
