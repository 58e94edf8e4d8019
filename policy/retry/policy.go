// Package retry computes backoff delays for failed state attempts. The
// calculator is a pure function of (strategy, attempt, parameters) plus an
// injectable random source, so tests assert bounds rather than exact values.
package retry

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy selects one of three backoff families crossed with three jitter
// modes.
type Strategy string

const (
	StrategyExponential            Strategy = "EXPONENTIAL"
	StrategyExponentialFullJitter  Strategy = "EXPONENTIAL_FULL_JITTER"
	StrategyExponentialEqualJitter Strategy = "EXPONENTIAL_EQUAL_JITTER"
	StrategyLinear                 Strategy = "LINEAR"
	StrategyLinearFullJitter       Strategy = "LINEAR_FULL_JITTER"
	StrategyLinearEqualJitter      Strategy = "LINEAR_EQUAL_JITTER"
	StrategyFixed                  Strategy = "FIXED"
	StrategyFixedFullJitter        Strategy = "FIXED_FULL_JITTER"
	StrategyFixedEqualJitter       Strategy = "FIXED_EQUAL_JITTER"
)

// Policy governs retries for every node of a graph template.
type Policy struct {
	MaxRetries    int           `json:"maxRetries" yaml:"maxRetries"`
	Strategy      Strategy      `json:"strategy" yaml:"strategy"`
	BackoffFactor time.Duration `json:"backoffFactor" yaml:"backoffFactor"`
	Exponent      float64       `json:"exponent,omitempty" yaml:"exponent,omitempty"`
	MaxDelay      time.Duration `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
}

// Default returns the policy applied when a template declares none: no
// retries at all.
func Default() *Policy {
	return &Policy{MaxRetries: 0, Strategy: StrategyFixed, BackoffFactor: 0}
}

// Validate reports a configuration error or nil.
func (p *Policy) Validate() error {
	if p == nil {
		return nil
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry: maxRetries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BackoffFactor < 0 {
		return fmt.Errorf("retry: backoffFactor must be >= 0, got %v", p.BackoffFactor)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("retry: maxDelay must be >= 0, got %v", p.MaxDelay)
	}
	switch p.family() {
	case familyExponential:
		if p.Exponent <= 0 {
			return fmt.Errorf("retry: exponent must be > 0 for %s", p.Strategy)
		}
	case familyLinear, familyFixed:
	default:
		return fmt.Errorf("retry: unknown strategy %q", p.Strategy)
	}
	return nil
}

type family int

const (
	familyUnknown family = iota
	familyExponential
	familyLinear
	familyFixed
)

func (p *Policy) family() family {
	switch p.Strategy {
	case StrategyExponential, StrategyExponentialFullJitter, StrategyExponentialEqualJitter:
		return familyExponential
	case StrategyLinear, StrategyLinearFullJitter, StrategyLinearEqualJitter:
		return familyLinear
	case StrategyFixed, StrategyFixedFullJitter, StrategyFixedEqualJitter, "":
		return familyFixed
	}
	return familyUnknown
}

type jitter int

const (
	jitterNone jitter = iota
	jitterFull
	jitterEqual
)

func (p *Policy) jitter() jitter {
	switch p.Strategy {
	case StrategyExponentialFullJitter, StrategyLinearFullJitter, StrategyFixedFullJitter:
		return jitterFull
	case StrategyExponentialEqualJitter, StrategyLinearEqualJitter, StrategyFixedEqualJitter:
		return jitterEqual
	}
	return jitterNone
}

// Base computes the pre-jitter delay for the 1-based attempt. It is
// non-decreasing in attempt for the exponential and linear families and
// constant for fixed.
func (p *Policy) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := float64(p.BackoffFactor)
	var computed float64
	switch p.family() {
	case familyExponential:
		computed = factor * math.Pow(p.Exponent, float64(attempt-1))
	case familyLinear:
		computed = factor * float64(attempt)
	default:
		computed = factor
	}
	if computed > math.MaxInt64 {
		computed = math.MaxInt64
	}
	return time.Duration(computed)
}

// Delay computes the backoff for the 1-based attempt, applying the jitter
// mode and the MaxDelay cap (the cap applies after jitter). A nil source
// falls back to the shared package-level generator.
func (p *Policy) Delay(attempt int, source *rand.Rand) time.Duration {
	base := p.Base(attempt)
	delay := base
	switch p.jitter() {
	case jitterFull:
		delay = randomUpTo(base, source)
	case jitterEqual:
		half := base / 2
		delay = half + randomUpTo(base-half, source)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func randomUpTo(limit time.Duration, source *rand.Rand) time.Duration {
	if limit <= 0 {
		return 0
	}
	if source == nil {
		return time.Duration(rand.Int63n(int64(limit) + 1))
	}
	return time.Duration(source.Int63n(int64(limit) + 1))
}
