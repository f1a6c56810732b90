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

// Package controller assembles a watcher, store and reflector for one
// root kind into a reconcile loop: it routes root, owned, and
// user-mapped related-object events into a work queue, drives a bounded
// worker pool against a caller-provided Reconciler, and applies an
// ErrorPolicy plus rate-limited backoff on failure.
package controller

import (
	"context"

	"golang.org/x/sync/errgroup"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
	"github.com/kruntime/kruntime/queue"
	"github.com/kruntime/kruntime/reflector"
	"github.com/kruntime/kruntime/store"
	"github.com/kruntime/kruntime/watcher"
)

// Reconciler drives cluster state for key toward its desired state. obj
// is the root store's current value for key; found is false when key has
// no known object (it was deleted, or was never observed).
type Reconciler[T any] func(ctx context.Context, key kruntime.Key, obj T, found bool) kruntime.ReconcileResult

// ErrorPolicy decides what should happen to a key after its reconciler
// returned err. The returned Action is honored the same way a
// successful reconcile's Action would be, except the queue's per-key
// rate limiter is always consulted too and the longer of the two delays
// wins.
type ErrorPolicy func(ctx context.Context, err error) kruntime.Action

// extraRunner is a type-erased watch loop contributed by Owns or
// Watches. It runs for the lifetime of Run, calling enqueue for every
// key it derives from its own child kind's event stream.
type extraRunner func(ctx context.Context, enqueue func(kruntime.Key)) error

// Controller reconciles one root kind, identified by resource and api,
// optionally augmented with owned child kinds (Owns) and arbitrary
// related kinds (Watches).
type Controller[T any] struct {
	kind     string
	resource capability.Resource[T]

	store     *store.Store[T]
	reflector *reflector.Reflector[T]
	queue     *queue.Queue[kruntime.Key]

	extras []extraRunner
}

// Option configures a Controller at construction time.
type Option[T any] func(*Controller[T], *watcherConfig[T])

type watcherConfig[T any] struct {
	opts []watcher.Option[T]
}

// WithWatcherOptions forwards opts to the root watcher.Watcher.
func WithWatcherOptions[T any](opts ...watcher.Option[T]) Option[T] {
	return func(_ *Controller[T], wc *watcherConfig[T]) {
		wc.opts = append(wc.opts, opts...)
	}
}

// WithQueue overrides the Controller's default work queue (real clock,
// DefaultRateLimiter). Tests use this to substitute a queue built with
// a fake clock, so delay/backoff behavior can be asserted on actual
// re-invocation timing rather than just the reported Outcome.Action.
func WithQueue[T any](q *queue.Queue[kruntime.Key]) Option[T] {
	return func(c *Controller[T], _ *watcherConfig[T]) {
		c.queue = q
	}
}

// NewController returns a Controller for the root kind identified by
// kind (its Kubernetes Kind string, used to match owner references from
// Owns child kinds), resource and api. params selects which root
// objects are watched.
func NewController[T any](
	kind string,
	resource capability.Resource[T],
	api capability.ApiClient[T],
	params kruntime.ListParams,
	opts ...Option[T],
) *Controller[T] {
	c := &Controller[T]{kind: kind, resource: resource}
	wc := &watcherConfig[T]{}
	for _, opt := range opts {
		opt(c, wc)
	}

	c.store = store.New[T](resource)
	w := watcher.New[T](api, params, wc.opts...)
	c.reflector = reflector.New[T](c.store, w)
	if c.queue == nil {
		c.queue = queue.New[kruntime.Key]()
	}

	return c
}

// Store exposes the root store for read-only inspection, e.g. by
// HTTP handlers reporting current controller state.
func (c *Controller[T]) Store() *store.Store[T] {
	return c.store
}

// QueueLen reports the number of keys currently queued, ready or
// delayed, for metrics polling.
func (c *Controller[T]) QueueLen() int {
	return c.queue.Len()
}

// Owns registers a child kind C whose objects carry a controller owner
// reference of kind root back to this Controller's root kind. A child
// event is routed to the owner's key only when the owner reference's
// uid matches a root object currently known to the store; otherwise it
// is dropped. Owns is a free function, not a method, because Go methods
// cannot introduce a new type parameter (C) beyond the receiver's own.
func Owns[T, C any](
	c *Controller[T],
	resource capability.Resource[C],
	api capability.ApiClient[C],
	params kruntime.ListParams,
	opts ...watcher.Option[C],
) *Controller[T] {
	rootKind := c.kind
	root := c.store
	rootResource := c.resource

	runner := func(ctx context.Context, enqueue func(kruntime.Key)) error {
		w := watcher.New[C](api, params, opts...)
		events := w.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				routeOwnedEvent(ev, resource, rootKind, root, rootResource, enqueue)
			}
		}
	}
	c.extras = append(c.extras, runner)
	return c
}

// Watches registers a related kind C whose events are translated to
// root keys by mapper, with no owner-reference relationship required.
// Like Owns, this is a free function so it can introduce the type
// parameter C.
func Watches[T, C any](
	c *Controller[T],
	resource capability.Resource[C],
	api capability.ApiClient[C],
	params kruntime.ListParams,
	mapper func(obj C) []kruntime.Key,
	opts ...watcher.Option[C],
) *Controller[T] {
	runner := func(ctx context.Context, enqueue func(kruntime.Key)) error {
		w := watcher.New[C](api, params, opts...)
		events := w.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				routeMappedEvent(ev, mapper, enqueue)
			}
		}
	}
	c.extras = append(c.extras, runner)
	return c
}

func routeOwnedEvent[T, C any](
	ev kruntime.Event[C],
	resource capability.Resource[C],
	rootKind string,
	root *store.Store[T],
	rootResource capability.Resource[T],
	enqueue func(kruntime.Key),
) {
	switch ev.Type {
	case kruntime.EventApplied, kruntime.EventDeleted:
		routeOwnedObject(ev.Object, resource, rootKind, root, rootResource, enqueue)
	case kruntime.EventRestarted:
		for _, obj := range ev.Snapshot {
			routeOwnedObject(obj, resource, rootKind, root, rootResource, enqueue)
		}
	}
}

// routeOwnedObject locates obj's controller owner reference of kind
// rootKind and, if its uid matches a currently known root object,
// enqueues that root's key. Absent or UID-mismatched owner references
// are dropped without enqueuing anything, per the owner-routing
// contract: a child is only ever attributed to an owner the root store
// can still vouch for.
func routeOwnedObject[T, C any](
	obj C,
	resource capability.Resource[C],
	rootKind string,
	root *store.Store[T],
	rootResource capability.Resource[T],
	enqueue func(kruntime.Key),
) {
	childKey := resource.Key(obj)
	for _, owner := range resource.OwnerReferences(obj) {
		if !owner.Controller || owner.Kind != rootKind {
			continue
		}
		rootKey := kruntime.Key{Namespace: childKey.Namespace, Name: owner.Name}
		rootObj, ok := root.Get(rootKey)
		if !ok || rootResource.UID(rootObj) != owner.UID {
			continue
		}
		enqueue(rootKey)
		return
	}
}

func routeMappedEvent[C any](ev kruntime.Event[C], mapper func(obj C) []kruntime.Key, enqueue func(kruntime.Key)) {
	switch ev.Type {
	case kruntime.EventApplied, kruntime.EventDeleted:
		for _, key := range mapper(ev.Object) {
			enqueue(key)
		}
	case kruntime.EventRestarted:
		for _, obj := range ev.Snapshot {
			for _, key := range mapper(obj) {
				enqueue(key)
			}
		}
	}
}

// Run starts the root reflector, every registered Owns/Watches watch
// loop, and workers reconcile goroutines, and returns a stream of
// per-key reconcile outcomes without blocking. The returned channel is
// closed once ctx is cancelled and every goroutine in its errgroup has
// exited.
func (c *Controller[T]) Run(ctx context.Context, workers int, reconcile Reconciler[T], onError ErrorPolicy) <-chan kruntime.Outcome {
	if workers <= 0 {
		workers = 1
	}
	logger := klog.FromContext(ctx)
	out := make(chan kruntime.Outcome)

	rootEvents := c.reflector.Run(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.routeRootEvents(gctx, rootEvents)
	})

	for _, extra := range c.extras {
		extra := extra
		g.Go(func() error {
			return extra(gctx, c.queue.Add)
		})
	}

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			c.runWorker(gctx, reconcile, onError, out)
			return nil
		})
	}

	go func() {
		<-ctx.Done()
		c.queue.ShutDown()
	}()

	go func() {
		defer close(out)
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			logger.Error(err, "controller goroutine exited unexpectedly")
		}
	}()

	return out
}

// routeRootEvents maps root watcher events to queue keys. Restarted
// events are diffed against a locally tracked set of previously known
// keys — rather than the shared store, which the reflector has already
// reset to the new snapshot by the time this event arrives — so that
// keys present before the restart but missing from it are still
// enqueued once, letting the reconciler observe their deletion via a
// root store miss.
func (c *Controller[T]) routeRootEvents(ctx context.Context, events <-chan kruntime.Event[T]) error {
	prev := map[kruntime.Key]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case kruntime.EventApplied:
				key := c.resource.Key(ev.Object)
				prev[key] = struct{}{}
				c.queue.Add(key)
			case kruntime.EventDeleted:
				key := c.resource.Key(ev.Object)
				delete(prev, key)
				c.queue.Add(key)
			case kruntime.EventRestarted:
				next := make(map[kruntime.Key]struct{}, len(ev.Snapshot))
				for _, obj := range ev.Snapshot {
					key := c.resource.Key(obj)
					next[key] = struct{}{}
					c.queue.Add(key)
				}
				for key := range prev {
					if _, ok := next[key]; !ok {
						c.queue.Add(key)
					}
				}
				prev = next
			}
		}
	}
}

func (c *Controller[T]) runWorker(ctx context.Context, reconcile Reconciler[T], onError ErrorPolicy, out chan<- kruntime.Outcome) {
	defer utilruntime.HandleCrash()
	for {
		key, shutdown := c.queue.Get()
		if shutdown {
			return
		}
		c.processKey(ctx, key, reconcile, onError, out)
	}
}

// processKey runs exactly one reconcile for key. Whatever the outcome,
// Done is called exactly once, satisfying the queue's per-key
// serialization guarantee: a re-add buffered while this reconcile was
// running is only released back onto the ready set now.
func (c *Controller[T]) processKey(ctx context.Context, key kruntime.Key, reconcile Reconciler[T], onError ErrorPolicy, out chan<- kruntime.Outcome) {
	defer c.queue.Done(key)

	obj, found := c.store.Get(key)
	result := reconcile(ctx, key, obj, found)

	outcome := kruntime.Outcome{Key: key}
	if result.Err != nil {
		outcome.Err = result.Err
		action := onError(ctx, result.Err)

		// Always consult the rate limiter, even when the policy asked for
		// a shorter delay (or none at all): an error always costs at
		// least the limiter's backoff, so a lenient policy can never
		// silently drop a failing key's retry.
		limiterDelay := c.queue.RateLimiterDelay(key)
		delay := limiterDelay
		if after, requeue := action.After(); requeue && after > delay {
			delay = after
		}
		c.queue.AddAfter(key, delay)
		outcome.Action = kruntime.RequeueAfter(delay)
	} else {
		c.queue.Forget(key)
		outcome.Action = result.Action
		if after, requeue := result.Action.After(); requeue {
			c.queue.AddAfter(key, after)
		}
	}

	select {
	case <-ctx.Done():
	case out <- outcome:
	}
}
