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

package watcher

import (
	"math/rand"
	"time"
)

const (
	// DefaultMinBackoff is the first retry delay after a failed list or a
	// watch that closed without ever connecting.
	DefaultMinBackoff = 100 * time.Millisecond

	// DefaultMaxBackoff caps the exponential backoff before jitter; the
	// jittered delay can exceed it by up to 20%.
	DefaultMaxBackoff = 10 * time.Second

	// DefaultTimeoutSeconds is the per-watch-request idle timeout
	// requested from the server, chosen so long-lived connections cycle
	// before idle middleboxes drop them.
	DefaultTimeoutSeconds = 290
)

// jitteredBackoff tracks a doubling delay between DefaultMinBackoff and
// DefaultMaxBackoff (or caller-chosen bounds), with up to 20% jitter
// applied on each read so that many watchers backing off at once don't
// all retry in lockstep.
type jitteredBackoff struct {
	min, max, current time.Duration
}

func newJitteredBackoff(min, max time.Duration) *jitteredBackoff {
	return &jitteredBackoff{min: min, max: max, current: min}
}

// next returns the delay to wait before the next attempt, and advances
// the internal state towards max.
func (b *jitteredBackoff) next() time.Duration {
	d := b.current
	doubled := b.current * 2
	if doubled > b.max || doubled <= 0 {
		doubled = b.max
	}
	b.current = doubled
	return jitter(d)
}

// reset returns the backoff to its minimum, called after any successful
// connect.
func (b *jitteredBackoff) reset() {
	b.current = b.min
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Up to +20%.
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}
