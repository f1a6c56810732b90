/*
Copyright 2025 The Kubernetes resource-state-metrics Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides how long a key should wait before its next
// attempt, tracking a per-key failure count.
type RateLimiter[K comparable] interface {
	// When returns the delay to apply before item is next processed, and
	// bumps item's failure count.
	When(item K) time.Duration

	// Forget clears item's failure count, called after a success.
	Forget(item K)

	// NumRequeues reports item's current failure count.
	NumRequeues(item K) int
}

// ExponentialFailureRateLimiter doubles the delay for a key on every
// consecutive failure, from base up to max, without jitter. The token
// bucket DefaultRateLimiter maxes it against adds no jitter either: the
// delays this package's rate limiters return are deterministic.
type ExponentialFailureRateLimiter[K comparable] struct {
	base, max time.Duration

	mu       sync.Mutex
	failures map[K]int
}

// NewExponentialFailureRateLimiter returns a rate limiter whose delay
// for a key doubles per consecutive failure, from base to max.
func NewExponentialFailureRateLimiter[K comparable](base, max time.Duration) *ExponentialFailureRateLimiter[K] {
	return &ExponentialFailureRateLimiter[K]{base: base, max: max, failures: map[K]int{}}
}

func (r *ExponentialFailureRateLimiter[K]) When(item K) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.failures[item]
	r.failures[item] = n + 1

	backoff := float64(r.base.Nanoseconds()) * math.Pow(2, float64(n))
	if backoff > math.MaxInt64 {
		return r.max
	}
	d := time.Duration(backoff)
	if d > r.max || d <= 0 {
		return r.max
	}
	return d
}

func (r *ExponentialFailureRateLimiter[K]) Forget(item K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, item)
}

func (r *ExponentialFailureRateLimiter[K]) NumRequeues(item K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[item]
}

// BucketRateLimiter caps the aggregate throughput of requeues across all
// keys using a shared token bucket, independent of any single key's
// failure count. It answers "how long until the bucket would allow one
// more event", without itself tracking per-key failures.
type BucketRateLimiter[K comparable] struct {
	Limiter *rate.Limiter
}

// NewBucketRateLimiter returns a BucketRateLimiter allowing qps events
// per second, with the given burst.
func NewBucketRateLimiter[K comparable](qps rate.Limit, burst int) *BucketRateLimiter[K] {
	return &BucketRateLimiter[K]{Limiter: rate.NewLimiter(qps, burst)}
}

func (r *BucketRateLimiter[K]) When(_ K) time.Duration {
	return r.Limiter.Reserve().Delay()
}

func (r *BucketRateLimiter[K]) Forget(_ K) {}

func (r *BucketRateLimiter[K]) NumRequeues(_ K) int { return 0 }

// MaxOfRateLimiter composes several rate limiters, returning the longest
// delay any of them demands and forgetting/querying every one of them in
// turn. This mirrors pairing a per-key exponential backoff with a global
// token bucket: whichever is currently stricter wins.
type MaxOfRateLimiter[K comparable] struct {
	limiters []RateLimiter[K]
}

// NewMaxOfRateLimiter composes limiters into one that always applies the
// strictest (longest) delay among them.
func NewMaxOfRateLimiter[K comparable](limiters ...RateLimiter[K]) *MaxOfRateLimiter[K] {
	return &MaxOfRateLimiter[K]{limiters: limiters}
}

func (r *MaxOfRateLimiter[K]) When(item K) time.Duration {
	var longest time.Duration
	for _, l := range r.limiters {
		if d := l.When(item); d > longest {
			longest = d
		}
	}
	return longest
}

func (r *MaxOfRateLimiter[K]) Forget(item K) {
	for _, l := range r.limiters {
		l.Forget(item)
	}
}

func (r *MaxOfRateLimiter[K]) NumRequeues(item K) int {
	var most int
	for _, l := range r.limiters {
		if n := l.NumRequeues(item); n > most {
			most = n
		}
	}
	return most
}

// DefaultRateLimiter returns the runtime's default composition: a
// per-key exponential backoff from 5ms to 5 minutes, maxed against a
// global token bucket allowing 50 events/s with a burst of 300.
func DefaultRateLimiter[K comparable]() RateLimiter[K] {
	return NewMaxOfRateLimiter[K](
		NewExponentialFailureRateLimiter[K](5*time.Millisecond, 5*time.Minute),
		NewBucketRateLimiter[K](rate.Limit(50), 300),
	)
}
