// Package ratelimit implements the token-bucket rate meter: a pure,
// allocation-free Check function plus the value types a concurrent
// store wraps with locking. Grounded on a true linear-accrual token
// bucket rather than a fixed-window counter, since the admission law
// in the request's governing properties requires continuous accrual
// (min(current + r*t, capacity)), not discrete window resets.
package ratelimit

import "time"

// Config is a bucket's static policy, derived once from a rule's
// rateLimit/rateLimitPeriod fields.
type Config struct {
	Capacity    float64 // tokens, == rule.RateLimit
	RefillRate  float64 // tokens/sec, == rule.Rate
}

// Bucket is a single (referrer, rule) bucket's mutable state.
type Bucket struct {
	Tokens         float64
	LastReplenish  time.Time
}

// NewBucket returns a bucket at full capacity minus one, as it would
// read immediately after its first admission check at time now.
func NewBucket(cfg Config, now time.Time) Bucket {
	b := Bucket{Tokens: cfg.Capacity, LastReplenish: now}
	b.Tokens -= 1
	return b
}

// Check applies the token-bucket admission rule: accrue
// elapsed*RefillRate tokens (capped at Capacity), then try to deduct
// one. Returns whether the request is admitted and the bucket's new
// state. Check never mutates state in place; callers store the
// returned Bucket.
func Check(b Bucket, cfg Config, now time.Time) (admitted bool, next Bucket) {
	elapsed := now.Sub(b.LastReplenish).Seconds()
	tokens := b.Tokens
	if elapsed > 0 {
		tokens += elapsed * cfg.RefillRate
		if tokens > cfg.Capacity {
			tokens = cfg.Capacity
		}
	}

	admitted = tokens >= 1
	if admitted {
		tokens -= 1
	}

	return admitted, Bucket{Tokens: tokens, LastReplenish: now}
}

// Snapshot is one bucket's state as reported by /status.
type Snapshot struct {
	Referrer     string
	RuleURL      string
	Tokens       float64
	Capacity     float64
	LastUsed     time.Time
}
