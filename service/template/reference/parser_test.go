package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		description string
		input       string
		expect      []*Reference
	}{
		{
			description: "single reference",
			input:       "${fetch.orderId}",
			expect:      []*Reference{{Identifier: "fetch", Field: "orderId", Raw: "${fetch.orderId}"}},
		},
		{
			description: "embedded in literal",
			input:       "order ${fetch.orderId} of ${split.batch}",
			expect: []*Reference{
				{Identifier: "fetch", Field: "orderId", Raw: "${fetch.orderId}"},
				{Identifier: "split", Field: "batch", Raw: "${split.batch}"},
			},
		},
		{
			description: "dotted field path",
			input:       "${enrich.payload.total}",
			expect:      []*Reference{{Identifier: "enrich", Field: "payload.total", Raw: "${enrich.payload.total}"}},
		},
		{
			description: "plain literal",
			input:       "no references here",
			expect:      nil,
		},
		{
			description: "env expression is not a node reference",
			input:       "${env.HOME}/data",
			expect:      []*Reference{{Identifier: "env", Field: "HOME", Raw: "${env.HOME}"}},
		},
		{
			description: "unterminated reference is literal",
			input:       "${fetch.orderId",
			expect:      nil,
		},
		{
			description: "missing field is literal",
			input:       "${fetch}",
			expect:      nil,
		},
	}

	for _, testCase := range testCases {
		actual := Parse(testCase.input)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestExpression(t *testing.T) {
	ref, ok := Expression(" ${fetch.orderId} ")
	require.True(t, ok)
	assert.Equal(t, "fetch", ref.Identifier)
	assert.Equal(t, "orderId", ref.Field)

	_, ok = Expression("order ${fetch.orderId}")
	assert.False(t, ok)

	_, ok = Expression("literal")
	assert.False(t, ok)
}
