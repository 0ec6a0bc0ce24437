// File: internal/retry/policy.go
package retry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy selects the shape of the delay sequence between failed attempts.
type Strategy string

const (
	// Constant waits the base delay before every retry.
	Constant Strategy = "constant"
	// Exponential doubles the wait for every retry: base * 2^(attempt-1).
	Exponential Strategy = "exponential"
)

// Defaults used when the retries block is absent or partially specified.
const (
	DefaultMaxAttempts = 8
	DefaultBaseDelay   = 14062500 * time.Microsecond // 14.0625s
	DefaultStrategy    = Constant
)

// ParseStrategy maps a configuration string onto a Strategy. Matching is
// case-insensitive so "EXPONENTIAL" and "exponential" are equivalent.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Constant:
		return Constant, nil
	case Exponential:
		return Exponential, nil
	default:
		return "", fmt.Errorf("unknown retry strategy %q (expected %q or %q)", s, Constant, Exponential)
	}
}

// DelayForAttempt returns how long to wait before the given attempt.
// Attempt 0 is the first, immediate attempt and never waits.
func DelayForAttempt(attempt int, base time.Duration, s Strategy) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	switch s {
	case Exponential:
		shift := attempt - 1
		// Saturate rather than wrap around once the doubling leaves int64 range.
		if shift >= 63 || base > time.Duration(math.MaxInt64>>uint(shift)) {
			return time.Duration(math.MaxInt64)
		}
		return base << uint(shift)
	default:
		return base
	}
}

// Policy is the immutable retry configuration handed to the search engine.
type Policy struct {
	// MaxAttempts bounds the retries after the first attempt, so a unit
	// submits at most MaxAttempts+1 times.
	MaxAttempts int
	BaseDelay   time.Duration
	Strategy    Strategy
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Strategy:    DefaultStrategy,
	}
}

// Delay is DelayForAttempt bound to this policy.
func (p Policy) Delay(attempt int) time.Duration {
	return DelayForAttempt(attempt, p.BaseDelay, p.Strategy)
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retries.max must be >= 0, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retries.base_delay_in_seconds must be >= 0, got %s", p.BaseDelay)
	}
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return err
	}
	return nil
}

// SecondsToDuration converts a fractional second count (as written in the
// config file) into a Duration.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
