package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Base_Monotonic(t *testing.T) {
	testCases := []struct {
		name   string
		policy Policy
	}{
		{
			name:   "exponential",
			policy: Policy{Strategy: StrategyExponential, BackoffFactor: 100 * time.Millisecond, Exponent: 2},
		},
		{
			name:   "linear",
			policy: Policy{Strategy: StrategyLinear, BackoffFactor: 250 * time.Millisecond},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			previous := time.Duration(-1)
			for attempt := 1; attempt <= 8; attempt++ {
				base := tc.policy.Base(attempt)
				assert.GreaterOrEqual(t, base, previous, "attempt %d", attempt)
				previous = base
			}
		})
	}
}

func TestPolicy_Base_FixedIsConstant(t *testing.T) {
	policy := Policy{Strategy: StrategyFixed, BackoffFactor: 3 * time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		assert.Equal(t, 3*time.Second, policy.Base(attempt))
	}
}

func TestPolicy_Base_Values(t *testing.T) {
	exponential := Policy{Strategy: StrategyExponential, BackoffFactor: 100 * time.Millisecond, Exponent: 2}
	assert.Equal(t, 100*time.Millisecond, exponential.Base(1))
	assert.Equal(t, 200*time.Millisecond, exponential.Base(2))
	assert.Equal(t, 400*time.Millisecond, exponential.Base(3))

	linear := Policy{Strategy: StrategyLinear, BackoffFactor: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, linear.Base(1))
	assert.Equal(t, 300*time.Millisecond, linear.Base(3))
}

func TestPolicy_Delay_FullJitterBounds(t *testing.T) {
	source := rand.New(rand.NewSource(1))
	policy := Policy{Strategy: StrategyExponentialFullJitter, BackoffFactor: 100 * time.Millisecond, Exponent: 2}
	for attempt := 1; attempt <= 6; attempt++ {
		base := policy.Base(attempt)
		for i := 0; i < 50; i++ {
			delay := policy.Delay(attempt, source)
			assert.GreaterOrEqual(t, delay, time.Duration(0))
			assert.LessOrEqual(t, delay, base)
		}
	}
}

func TestPolicy_Delay_EqualJitterBounds(t *testing.T) {
	source := rand.New(rand.NewSource(7))
	policy := Policy{Strategy: StrategyLinearEqualJitter, BackoffFactor: 200 * time.Millisecond}
	for attempt := 1; attempt <= 6; attempt++ {
		base := policy.Base(attempt)
		for i := 0; i < 50; i++ {
			delay := policy.Delay(attempt, source)
			assert.GreaterOrEqual(t, delay, base/2)
			assert.LessOrEqual(t, delay, base)
		}
	}
}

func TestPolicy_Delay_MaxDelayCap(t *testing.T) {
	source := rand.New(rand.NewSource(42))
	strategies := []Strategy{
		StrategyExponential, StrategyExponentialFullJitter, StrategyExponentialEqualJitter,
		StrategyLinear, StrategyLinearFullJitter, StrategyLinearEqualJitter,
		StrategyFixed, StrategyFixedFullJitter, StrategyFixedEqualJitter,
	}
	for _, strategy := range strategies {
		policy := Policy{
			Strategy:      strategy,
			BackoffFactor: time.Second,
			Exponent:      3,
			MaxDelay:      1500 * time.Millisecond,
		}
		for attempt := 1; attempt <= 10; attempt++ {
			delay := policy.Delay(attempt, source)
			assert.LessOrEqual(t, delay, policy.MaxDelay, "strategy %s attempt %d", strategy, attempt)
		}
	}
}

func TestPolicy_Delay_NoJitterIsDeterministic(t *testing.T) {
	policy := Policy{Strategy: StrategyFixed, BackoffFactor: 750 * time.Millisecond}
	assert.Equal(t, policy.Delay(1, nil), policy.Delay(5, nil))
	assert.Equal(t, 750*time.Millisecond, policy.Delay(3, nil))
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, (&Policy{Strategy: StrategyFixed, BackoffFactor: time.Second}).Validate())
	require.NoError(t, (&Policy{Strategy: StrategyExponential, BackoffFactor: time.Second, Exponent: 2}).Validate())

	assert.Error(t, (&Policy{Strategy: "BOGUS"}).Validate())
	assert.Error(t, (&Policy{Strategy: StrategyExponential, BackoffFactor: time.Second}).Validate())
	assert.Error(t, (&Policy{Strategy: StrategyFixed, MaxRetries: -1}).Validate())
	assert.Error(t, (&Policy{Strategy: StrategyFixed, BackoffFactor: -time.Second}).Validate())
}
