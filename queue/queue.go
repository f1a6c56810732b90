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

// Package queue implements the controller's work-scheduling primitive: a
// deduplicating, delay-capable, rate-limited queue of keys pending
// reconciliation. At most one entry per key is ever queued; a key
// re-added while its current entry is being processed is buffered and
// released once processing ends.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Interface is the scheduler contract a Controller drives.
type Interface[K comparable] interface {
	// Add enqueues item to run as soon as possible.
	Add(item K)

	// AddAfter enqueues item to run no sooner than delay from now, or
	// shortens an existing longer delay to delay.
	AddAfter(item K, delay time.Duration)

	// AddRateLimited enqueues item after whatever delay the queue's rate
	// limiter demands for it, bumping its failure count.
	AddRateLimited(item K)

	// Get blocks until a ready item exists and returns it, marking it
	// in-flight. The second return value is true once the queue has been
	// shut down and drained; callers must stop processing in that case.
	Get() (item K, shutdown bool)

	// Done marks item as no longer in-flight. If item was re-added while
	// in-flight, it is released onto the ready queue, or back into the
	// delay heap if the re-add carried a not-before that hasn't elapsed.
	Done(item K)

	// Forget clears item's rate-limiter failure count, called after a
	// successful reconcile.
	Forget(item K)

	// NumRequeues reports item's current rate-limiter failure count.
	NumRequeues(item K) int

	// Len reports the number of ready and delayed entries, excluding
	// in-flight items.
	Len() int

	// ShutDown wakes every blocked Get with the terminal signal.
	ShutDown()
}

// waitingEntry is one key parked in the delay heap, not yet ready.
type waitingEntry[K comparable] struct {
	key     K
	readyAt time.Time
	index   int
}

type waitingHeap[K comparable] []*waitingEntry[K]

func (h waitingHeap[K]) Len() int            { return len(h) }
func (h waitingHeap[K]) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h waitingHeap[K]) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *waitingHeap[K]) Push(x interface{}) { e := x.(*waitingEntry[K]); e.index = len(*h); *h = append(*h, e) }
func (h *waitingHeap[K]) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the generic delaying, deduplicating, rate-limited work queue.
type Queue[K comparable] struct {
	clock       clock.Clock
	rateLimiter RateLimiter[K]

	mu   sync.Mutex
	cond *sync.Cond

	ready      []K
	dirty      map[K]struct{}
	processing map[K]struct{}
	waiting    waitingHeap[K]
	waitingIdx map[K]*waitingEntry[K]

	// bufferedReadyAt holds the not-before for a key re-added while it is
	// processing, keyed by item. A zero time.Time means "as soon as
	// possible" (requested via Add, or AddAfter with delay<=0); it always
	// sorts before any later request, so an ASAP re-add can never be
	// pushed back out by a subsequent AddAfter for the same key. Consumed
	// and cleared by Done.
	bufferedReadyAt map[K]time.Time

	shuttingDown bool
	stopHeap     chan struct{}
}

// New returns an empty Queue using the default rate limiter composition
// (DefaultRateLimiter) and the real clock.
func New[K comparable]() *Queue[K] {
	return NewWithOptions[K](DefaultRateLimiter[K](), clock.RealClock{})
}

// NewWithOptions returns an empty Queue using the given rate limiter and
// clock, letting tests substitute a fake clock.
func NewWithOptions[K comparable](rl RateLimiter[K], c clock.Clock) *Queue[K] {
	q := &Queue[K]{
		clock:           c,
		rateLimiter:     rl,
		dirty:           map[K]struct{}{},
		processing:      map[K]struct{}{},
		waitingIdx:      map[K]*waitingEntry[K]{},
		bufferedReadyAt: map[K]time.Time{},
		stopHeap:        make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.runWaitingHeap()
	return q
}

// Add enqueues item to run as soon as possible.
func (q *Queue[K]) Add(item K) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addLocked(item)
}

func (q *Queue[K]) addLocked(item K) {
	if q.shuttingDown {
		return
	}
	if _, ok := q.processing[item]; ok {
		// Will be released by Done. Add asks for ASAP, which always wins
		// over any not-before an earlier AddAfter buffered for this key.
		q.dirty[item] = struct{}{}
		q.bufferedReadyAt[item] = time.Time{}
		return
	}
	if _, ok := q.dirty[item]; ok {
		return
	}
	q.dirty[item] = struct{}{}
	if e, ok := q.waitingIdx[item]; ok {
		// A delayed entry graduates immediately.
		q.removeWaitingLocked(e)
	}
	q.ready = append(q.ready, item)
	q.cond.Signal()
}

// AddAfter enqueues item no sooner than delay from now.
func (q *Queue[K]) AddAfter(item K, delay time.Duration) {
	if delay <= 0 {
		q.Add(item)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shuttingDown {
		return
	}
	if _, ok := q.processing[item]; ok {
		// Already in flight: buffer the not-before for Done to honor on
		// release, shortening it the same way a waiting entry would be
		// shortened below if it weren't in flight.
		q.dirty[item] = struct{}{}
		readyAt := q.clock.Now().Add(delay)
		if existing, ok := q.bufferedReadyAt[item]; !ok || readyAt.Before(existing) {
			q.bufferedReadyAt[item] = readyAt
		}
		return
	}
	if _, ok := q.dirty[item]; ok {
		// Already ready or about to be; don't push a later entry.
		return
	}
	readyAt := q.clock.Now().Add(delay)
	if e, ok := q.waitingIdx[item]; ok {
		if readyAt.Before(e.readyAt) {
			e.readyAt = readyAt
			heap.Fix(&q.waiting, e.index)
		}
		return
	}
	e := &waitingEntry[K]{key: item, readyAt: readyAt}
	q.waitingIdx[item] = e
	heap.Push(&q.waiting, e)
	// The heap-draining goroutine picks this entry up on its next poll.
}

// AddRateLimited enqueues item after the delay the rate limiter demands.
func (q *Queue[K]) AddRateLimited(item K) {
	q.AddAfter(item, q.rateLimiter.When(item))
}

// RateLimiterDelay reports the delay the rate limiter currently demands
// for item, bumping its failure count as a side effect, without
// scheduling anything. Callers that need to compare this delay against
// another before deciding how to requeue (the controller's error path
// does) call this instead of AddRateLimited.
func (q *Queue[K]) RateLimiterDelay(item K) time.Duration {
	return q.rateLimiter.When(item)
}

// Get blocks until a ready item exists, or the queue shuts down.
func (q *Queue[K]) Get() (K, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) == 0 && !q.shuttingDown {
		q.cond.Wait()
	}
	if len(q.ready) == 0 {
		var zero K
		return zero, true
	}
	item := q.ready[0]
	q.ready = q.ready[1:]
	delete(q.dirty, item)
	q.processing[item] = struct{}{}
	return item, false
}

// Done marks item as no longer in-flight. If item was re-added while
// processing, it is released onto ready immediately when no not-before
// was buffered for it (or the buffered one has already elapsed), or
// parked in the waiting heap at its buffered not-before otherwise.
func (q *Queue[K]) Done(item K) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, item)
	if _, ok := q.dirty[item]; !ok {
		return
	}
	readyAt, hasDelay := q.bufferedReadyAt[item]
	delete(q.bufferedReadyAt, item)
	if hasDelay && readyAt.After(q.clock.Now()) {
		delete(q.dirty, item)
		e := &waitingEntry[K]{key: item, readyAt: readyAt}
		q.waitingIdx[item] = e
		heap.Push(&q.waiting, e)
		// The heap-draining goroutine picks this entry up on its next poll.
		return
	}
	q.ready = append(q.ready, item)
	q.cond.Signal()
}

// Forget clears item's rate-limiter failure count.
func (q *Queue[K]) Forget(item K) {
	q.rateLimiter.Forget(item)
}

// NumRequeues reports item's current rate-limiter failure count.
func (q *Queue[K]) NumRequeues(item K) int {
	return q.rateLimiter.NumRequeues(item)
}

// Len reports the number of ready and delayed entries.
func (q *Queue[K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.waiting)
}

// ShutDown wakes every blocked Get with the terminal signal.
func (q *Queue[K]) ShutDown() {
	q.mu.Lock()
	q.shuttingDown = true
	q.mu.Unlock()
	close(q.stopHeap)
	q.cond.Broadcast()
}

func (q *Queue[K]) removeWaitingLocked(e *waitingEntry[K]) {
	heap.Remove(&q.waiting, e.index)
	delete(q.waitingIdx, e.key)
}

// runWaitingHeap wakes up when the earliest delayed entry becomes ready,
// and at least every pollInterval, so that entries pushed after its
// timer was armed (and clock steps of a fake clock) are noticed, moving
// ready entries onto the ready queue. It is the only place Add is
// called from outside a direct caller, so it reuses addLocked under the
// same mutex as everything else.
func (q *Queue[K]) runWaitingHeap() {
	const pollInterval = 10 * time.Millisecond
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	for {
		q.mu.Lock()
		wait := pollInterval
		if len(q.waiting) > 0 {
			wait = q.waiting[0].readyAt.Sub(q.clock.Now())
			if wait < 0 {
				wait = 0
			}
			if wait > pollInterval {
				wait = pollInterval
			}
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.stopHeap:
			return
		case <-timer.C:
			q.mu.Lock()
			now := q.clock.Now()
			for len(q.waiting) > 0 && !q.waiting[0].readyAt.After(now) {
				e := heap.Pop(&q.waiting).(*waitingEntry[K])
				delete(q.waitingIdx, e.key)
				q.addLocked(e.key)
			}
			q.mu.Unlock()
		}
	}
}

var _ Interface[int] = (*Queue[int])(nil)
