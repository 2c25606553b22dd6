// Package backoff computes retry delays for operations against the orchestrator.
//
// A Policy is pure: it never sleeps and holds no counters. Callers keep a
// State per operation, record failures on it, and ask the policy how long to
// wait and whether the operation has run out of attempts.
package backoff

import (
	"math"
	"time"
)

const (
	// DefaultBase is the unit multiplied by 2^attempt.
	DefaultBase = time.Second

	// DefaultMaxAttempts is the number of consecutive failures tolerated
	// before an operation is abandoned.
	DefaultMaxAttempts uint32 = 5
)

// maxShift keeps Base<<attempt inside time.Duration for any sane base.
const maxShift = 30

// Policy maps an attempt number to a delay and an exhaustion verdict.
//
// Attempts are counted from 1: the first failure of an operation is attempt 1
// and waits Base*2. Delay(0) is defined as Base so the series 2^attempt holds
// for every attempt in [0, MaxAttempts].
type Policy struct {
	Base        time.Duration
	MaxAttempts uint32
}

// Default returns the policy used at every retry site: 1s base, 5 attempts,
// giving waits of 2, 4, 8, 16 and 32 seconds.
func Default() Policy {
	return Policy{Base: DefaultBase, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns Base * 2^attempt. Very large attempts saturate at
// Base * 2^30 rather than overflowing.
func (p Policy) Delay(attempt uint32) time.Duration {
	shift := attempt
	if shift > maxShift {
		shift = maxShift
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	if base > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}

// Exhausted reports whether attempt has reached the cap.
func (p Policy) Exhausted(attempt uint32) bool {
	return attempt >= p.MaxAttempts
}

// NewState starts the bookkeeping for one fetch or submit operation.
func (p Policy) NewState() *State {
	return &State{MaxAttempts: p.MaxAttempts}
}

// State is the retry bookkeeping of a single operation. It is discarded on
// success or exhaustion and never shared between operations or workers.
type State struct {
	Attempt     uint32
	MaxAttempts uint32
}

// Fail records one more failed attempt and returns the new attempt number.
func (s *State) Fail() uint32 {
	s.Attempt++
	return s.Attempt
}
