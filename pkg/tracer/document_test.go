package tracer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentRoundTrip(t *testing.T) {
	steps := []StepSnapshot{
		{
			ClassName:      "LCounter;",
			MethodName:     "add",
			Locals:         Bindings{"n": {Signature: "I", Payload: Int(2)}, "this": {Signature: "LCounter;", Payload: Reference(2)}},
			InstanceFields: Bindings{"count": {Signature: "I", Payload: Int(0)}},
			ClassFields:    Bindings{"ratio": {Signature: "D", Payload: Double(0.5)}, "on": {Signature: "Z", Payload: Boolean(true)}},
		},
		snapshot("LCounter;", "add", Bindings{"nan": {Signature: "F", Payload: Float(float32(math.NaN()))}}),
		snapshot("LMain;", "main", Bindings{}),
	}

	got, err := ParseDocument(Serialize(steps))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 0, got[0].Ordinal)
	assert.Equal(t, "LCounter;", got[0].ClassName)
	assert.Equal(t, "add", got[0].MethodName)
	assert.Equal(t, map[string]DocValue{
		"n":    {Signature: "I", Value: int64(2)},
		"this": {Signature: "LCounter;", Value: int64(2)},
	}, got[0].Locals)
	assert.Equal(t, map[string]DocValue{"count": {Signature: "I", Value: int64(0)}}, got[0].InstanceFields)
	assert.Equal(t, map[string]DocValue{
		"ratio": {Signature: "D", Value: 0.5},
		"on":    {Signature: "Z", Value: true},
	}, got[0].ClassFields)

	nan, ok := got[1].Locals["nan"].Value.(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(nan))

	assert.Equal(t, "main", got[2].MethodName)
	assert.Empty(t, got[2].Locals)
}

func TestParseDocumentEmpty(t *testing.T) {
	got, err := ParseDocument("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not toml", "[step0", "parsing trace document"},
		{"bad top-level key", "[other.\"LFoo;\".\"bar\"]\n", "unexpected top-level key"},
		{"bad ordinal", "[stepx.\"LFoo;\".\"bar\"]\n", "bad step key"},
		{"gap", "[step0.\"LFoo;\".\"bar\"]\n[step2.\"LFoo;\".\"bar\"]\n", "missing step1"},
		{"two classes", "[step0.\"LFoo;\".\"bar\"]\n[step0.\"LBaz;\".\"bar\"]\n", "class"},
		{"unknown group", "[step0.\"LFoo;\".\"bar\"]\nother.\"x\".signature = \"I\"\n", "unknown group"},
		{"missing value", "[step0.\"LFoo;\".\"bar\"]\nlocal.\"x\".signature = \"I\"\n", "missing value"},
		{"missing signature", "[step0.\"LFoo;\".\"bar\"]\nlocal.\"x\".value = 1\n", "missing signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument(tt.doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
