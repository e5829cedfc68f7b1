package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_FromAny(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    Value
		wantErr bool
	}{
		{name: "nil becomes null", input: nil, want: Null()},
		{name: "string", input: "hello", want: String("hello")},
		{name: "bool", input: true, want: Bool(true)},
		{name: "float64", input: 4.5, want: Number(4.5)},
		{name: "int is widened", input: 7, want: Number(7)},
		{
			name:  "nested map",
			input: map[string]any{"amount": 500.0, "tags": []any{"a", "b"}},
			want: Map(map[string]Value{
				"amount": Number(500),
				"tags":   List(String("a"), String("b")),
			}),
		},
		{name: "unsupported type is rejected", input: struct{}{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "expected %v, got %v", tt.want, got)
		})
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	original := Map(map[string]Value{
		"name":     String("expense"),
		"amount":   Number(500),
		"approved": Bool(false),
		"owner":    Null(),
		"tags":     List(String("finance"), Number(2)),
	})

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Value

	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, original.Equal(decoded))
	assert.Equal(t, KindMap, decoded.Kind())
}

func TestValue_CloneIsDeep(t *testing.T) {
	inner := map[string]Value{"count": Number(1)}
	original := Map(inner)

	cloned := original.Clone()
	inner["count"] = Number(99)

	m, ok := cloned.AsMap()
	require.True(t, ok)
	assert.True(t, Number(1).Equal(m["count"]))
}

func TestStep_ConfigHelpers(t *testing.T) {
	step := Step{
		ID:   "approve",
		Type: StepTypeApproval,
		Name: "Approve request",
		Config: map[string]Value{
			ConfigMaxAttempts:     Number(5),
			ConfigTimeoutSeconds:  Number(3600),
			ConfigAutoEscalate:    Bool(true),
			ConfigOnBranchFailure: String(BranchFailureWait),
		},
	}

	assert.Equal(t, 5, step.MaxAttempts())
	assert.Equal(t, float64(3600), step.Timeout().Seconds())
	assert.True(t, step.AutoEscalate())
	assert.True(t, step.Enabled(), "enabled defaults to true")
	assert.False(t, step.Optional())
	assert.Equal(t, BranchFailureWait, step.BranchFailurePolicy())
}

func TestStep_ConfigDefaults(t *testing.T) {
	step := Step{ID: "s1", Type: StepTypeAutomated, Name: "run"}

	assert.Equal(t, 3, step.MaxAttempts())
	assert.Equal(t, time.Duration(0), step.Timeout())
	assert.Equal(t, 0, step.MaxIterations())
	assert.Equal(t, BranchFailureFailFast, step.BranchFailurePolicy())
}
