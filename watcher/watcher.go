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

// Package watcher turns an ApiClient's raw list-then-watch protocol into
// a resumable, infinite stream of runtime-level events. It hides the
// resume-token bookkeeping (410 Gone, bookmarks, desync) behind
// Applied/Deleted/Restarted; transient transport errors never reach the
// consumer, they become internal reconnects with jittered exponential
// backoff.
package watcher

import (
	"context"
	"math/rand"
	"time"

	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
)

// Watcher drives a single ApiClient through the list/watch protocol and
// exposes the result as a channel of runtime events. A Watcher is
// single-use per call to Watch: each call starts its own goroutine and
// returns a fresh channel.
type Watcher[T any] struct {
	api    capability.ApiClient[T]
	params kruntime.ListParams

	minBackoff, maxBackoff time.Duration
}

// Option configures a Watcher.
type Option[T any] func(*Watcher[T])

// WithBackoffBounds overrides the default jittered exponential backoff
// bounds (100ms..10s).
func WithBackoffBounds[T any](min, max time.Duration) Option[T] {
	return func(w *Watcher[T]) {
		w.minBackoff, w.maxBackoff = min, max
	}
}

// New returns a Watcher for the given ApiClient and list parameters.
func New[T any](api capability.ApiClient[T], params kruntime.ListParams, opts ...Option[T]) *Watcher[T] {
	w := &Watcher[T]{
		api:        api,
		params:     params,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts the watch loop and returns the stream of runtime events.
// The stream never ends on its own; it closes only once ctx is done. The
// first event is always a Restarted carrying the initial list snapshot.
func (w *Watcher[T]) Watch(ctx context.Context) <-chan kruntime.Event[T] {
	out := make(chan kruntime.Event[T])
	go w.run(ctx, out)
	return out
}

func (w *Watcher[T]) run(ctx context.Context, out chan<- kruntime.Event[T]) {
	defer utilruntime.HandleCrash()
	defer close(out)
	logger := klog.FromContext(ctx)
	backoff := newJitteredBackoff(w.minBackoff, w.maxBackoff)

	var rv kruntime.ResourceVersion
	for {
		if ctx.Err() != nil {
			return
		}

		// Empty -> relist.
		result, err := w.api.List(ctx, w.params)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.V(2).Info("list failed, backing off", "err", err)
			if !sleep(ctx, backoff.next()) {
				return
			}
			continue
		}
		backoff.reset()
		rv = result.ResourceVersion
		if !send(ctx, out, kruntime.Restarted(result.Items)) {
			return
		}

		// InitListed(rv) -> Watching(rv), looping on clean reconnects
		// until a desync forces a fresh relist.
		desynced := false
		for !desynced {
			if ctx.Err() != nil {
				return
			}
			watchParams := w.params
			watchParams.TimeoutSeconds = timeoutWithJitter(w.params.TimeoutSeconds)
			session, err := w.api.Watch(ctx, watchParams, rv)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.V(2).Info("watch failed, backing off", "err", err)
				if !sleep(ctx, backoff.next()) {
					return
				}
				continue
			}
			backoff.reset()

			newRV, desyncedNow, ok := w.drain(ctx, logger, session, rv, out)
			if !ok {
				return
			}
			rv = newRV
			desynced = desyncedNow
		}
	}
}

// drain reads session until it ends (EOF, error, or ctx cancellation),
// emitting Applied/Deleted events and advancing rv on every event
// including bookmarks. It reports the resource version to resume from
// next, whether a desync was observed, and whether the caller should
// keep running at all (false only on context cancellation).
func (w *Watcher[T]) drain(
	ctx context.Context,
	logger klog.Logger,
	session capability.WatchSession[T],
	rv kruntime.ResourceVersion,
	out chan<- kruntime.Event[T],
) (kruntime.ResourceVersion, bool, bool) {
	defer session.Stop()
	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			return rv, false, false
		case ev, ok := <-events:
			if !ok {
				// Clean EOF: resume with the same rv, no event emitted.
				return rv, false, true
			}
			switch ev.Type {
			case kruntime.WatchAdded, kruntime.WatchModified:
				rv = ev.ResourceVersion
				if !send(ctx, out, kruntime.Applied(ev.Object)) {
					return rv, false, false
				}
			case kruntime.WatchDeleted:
				rv = ev.ResourceVersion
				if !send(ctx, out, kruntime.Deleted(ev.Object)) {
					return rv, false, false
				}
			case kruntime.WatchBookmark:
				rv = ev.ResourceVersion
			case kruntime.WatchError:
				if capability.IsDesync(ev.Err) {
					logger.V(4).Info("watch desynced, relisting", "err", ev.Err)
					return rv, true, true
				}
				logger.V(1).Info("watch error, reconnecting", "err", ev.Err)
				return rv, false, true
			default:
				logger.Error(nil, "unrecognized watch event type", "type", ev.Type)
			}
		}
	}
}

func send[T any](ctx context.Context, out chan<- kruntime.Event[T], ev kruntime.Event[T]) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// timeoutWithJitter spreads watch-request timeouts across
// [seconds, 2*seconds) the way client-go's reflector spreads its own
// watch timeouts, so that many watchers reconnecting on a shared period
// don't all cycle at once. A non-positive seconds falls back to
// DefaultTimeoutSeconds.
func timeoutWithJitter(seconds int) int {
	if seconds <= 0 {
		seconds = DefaultTimeoutSeconds
	}
	return seconds + rand.Intn(seconds)
}
