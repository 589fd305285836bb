// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package backoff implements the reconnect delay policy for gateway sessions.
//
// A [Policy] tracks an attempt counter and a reset counter. The delay for the
// current attempt grows exponentially from a first backoff up to a ceiling,
// and is then perturbed by a random jitter:
//
//	delay = min(max, first * 2^(attempts-1))
//	final = delay ± delay*jitter*U(0,1)
//
// A Policy is owned by a single session, and lives for the lifetime of that
// session's reconnect loop so that delays escalate across repeated failures.
// Its methods are safe for concurrent use.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrRetriesExhausted is reported by [Policy.Backoff] when the attempt counter
// has passed the configured retry ceiling.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// Default option values.
const (
	MinFirstBackoff     = 2 * time.Second
	DefaultFirstBackoff = 2 * time.Second
	DefaultMaxBackoff   = 120 * time.Second
	DefaultJitterFactor = 0.5
)

// Options configure a [Policy]. A zero value for a duration or the jitter
// factor selects its default. A nil MaxRetries means unbounded.
//
// Because zero selects the default, JitterFactor cannot express "no jitter":
// a JitterFactor of 0 means 0.5. Set NoJitter to disable jitter.
type Options struct {
	FirstBackoff time.Duration // default 2s, must be ≥ 2s
	MaxBackoff   time.Duration // default 120s, must be ≥ FirstBackoff
	JitterFactor float64       // 0 means 0.5; otherwise must be in (0, 1]

	// NoJitter, if true, sets the jitter factor to zero regardless of
	// JitterFactor. This is the only way to request exact delays.
	NoJitter bool

	// MaxRetries, if non-nil, bounds the number of retries before the policy
	// reports ErrRetriesExhausted. It must be non-negative.
	MaxRetries *int

	// Rand, if set, is used for jitter draws in place of a uniform source in
	// [0, 1).
	Rand func() float64
}

// Retries is a convenience for setting Options.MaxRetries.
func Retries(n int) *int { return &n }

// A Policy computes reconnect delays. Use [New] to construct one.
type Policy struct {
	first, max time.Duration
	jitter     float64
	maxRetries int
	rand       func() float64

	μ        sync.Mutex
	attempts int
	resets   int
}

// New constructs a Policy from opts, or reports an error if the options are
// invalid.
func New(opts Options) (*Policy, error) {
	p := &Policy{
		first:      opts.FirstBackoff,
		max:        opts.MaxBackoff,
		jitter:     opts.JitterFactor,
		maxRetries: math.MaxInt,
		rand:       opts.Rand,
		attempts:   1,
	}
	if p.first == 0 {
		p.first = DefaultFirstBackoff
	}
	if p.max == 0 {
		p.max = max(DefaultMaxBackoff, p.first)
	}
	if p.jitter == 0 {
		p.jitter = DefaultJitterFactor
	}
	if opts.NoJitter {
		p.jitter = 0
	}
	if p.rand == nil {
		p.rand = rand.Float64
	}

	if p.first < MinFirstBackoff {
		return nil, fmt.Errorf("first backoff %v is less than %v", p.first, MinFirstBackoff)
	}
	if p.max < p.first {
		return nil, fmt.Errorf("max backoff %v is less than first backoff %v", p.max, p.first)
	}
	if p.jitter < 0 || p.jitter > 1 || math.IsNaN(p.jitter) {
		return nil, fmt.Errorf("jitter factor %v is not in [0, 1]", p.jitter)
	}
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return nil, fmt.Errorf("max retries %d is negative", *opts.MaxRetries)
		}
		p.maxRetries = *opts.MaxRetries
	}
	return p, nil
}

// MustNew is as New, but panics if the options are invalid.
func MustNew(opts Options) *Policy {
	p, err := New(opts)
	if err != nil {
		panic(err)
	}
	return p
}

// FirstBackoff returns the configured first backoff.
func (p *Policy) FirstBackoff() time.Duration { return p.first }

// MaxBackoff returns the configured backoff ceiling.
func (p *Policy) MaxBackoff() time.Duration { return p.max }

// JitterFactor returns the configured jitter factor.
func (p *Policy) JitterFactor() float64 { return p.jitter }

// Attempts reports the current attempt counter. It begins at 1.
func (p *Policy) Attempts() int {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.attempts
}

// Resets reports how many times Reset has been called.
func (p *Policy) Resets() int {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.resets
}

// Fail records a failed attempt, and returns the updated attempt count.
func (p *Policy) Fail() int {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.attempts < math.MaxInt {
		p.attempts++
	}
	return p.attempts
}

// Reset sets the attempt counter to 1 and increments the reset counter. Call
// Reset when a connection is confirmed healthy.
func (p *Policy) Reset() {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.attempts = 1
	p.resets++
}

// Clear sets the attempt counter to 1 without counting a reset. Call Clear
// when a fresh, unrelated session begins.
func (p *Policy) Clear() {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.attempts = 1
}

// Exhausted reports whether the attempt counter has passed the retry ceiling.
func (p *Policy) Exhausted() bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.exhaustedLocked()
}

func (p *Policy) exhaustedLocked() bool { return p.attempts-1 >= p.maxRetries }

// Delay returns the un-jittered delay for the given attempt number. The
// result is in [FirstBackoff, MaxBackoff] for all attempts ≥ 1.
func (p *Policy) Delay(attempts int) time.Duration {
	if attempts <= 1 {
		return p.first
	}
	shift := attempts - 1
	if shift >= 63 {
		return p.first // overflow
	}
	f := int64(1) << shift
	if int64(p.first) > math.MaxInt64/f {
		return p.first // overflow
	}
	return min(p.max, p.first*time.Duration(f))
}

// Next returns the jittered delay for the current attempt count. It does not
// modify the counters.
func (p *Policy) Next() time.Duration {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.nextLocked()
}

func (p *Policy) nextLocked() time.Duration {
	d := p.Delay(p.attempts)
	if p.jitter == 0 {
		return d
	}
	u := p.rand()
	off := time.Duration(float64(d) * p.jitter * u)
	if p.rand() < 0.5 {
		return d - off
	}
	return d + off
}

// Backoff reports the delay to wait before the next reconnect attempt and
// records the attempt as failed. If the retry ceiling has been passed, it
// reports ErrRetriesExhausted instead. The attempt number returned is the one
// the delay was computed for.
func (p *Policy) Backoff() (attempt int, delay time.Duration, err error) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.exhaustedLocked() {
		return p.attempts, 0, fmt.Errorf("after %d attempts: %w", p.attempts-1, ErrRetriesExhausted)
	}
	attempt, delay = p.attempts, p.nextLocked()
	p.attempts++
	return attempt, delay, nil
}
