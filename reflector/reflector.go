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

// Package reflector drives a watcher and mirrors its events into a
// store, guaranteeing the store reflects an event before that event is
// yielded downstream.
package reflector

import (
	"context"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/store"
)

// eventSource is the subset of watcher.Watcher a Reflector needs; it
// lets tests supply a canned event stream without depending on the
// watcher package.
type eventSource[T any] interface {
	Watch(ctx context.Context) <-chan kruntime.Event[T]
}

// Reflector mirrors a watcher's event stream into a Store, writing the
// store before re-emitting each event so that any consumer observing an
// event from the Reflector sees a store already consistent with it.
type Reflector[T any] struct {
	store  *store.Store[T]
	source eventSource[T]
}

// New returns a Reflector writing into st, driven by w.
func New[T any](st *store.Store[T], w eventSource[T]) *Reflector[T] {
	return &Reflector[T]{store: st, source: w}
}

// Run starts the underlying watcher and returns a stream identical to
// its events, with the side effect that the store is updated
// immediately before each event is forwarded.
func (r *Reflector[T]) Run(ctx context.Context) <-chan kruntime.Event[T] {
	in := r.source.Watch(ctx)
	out := make(chan kruntime.Event[T])
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				switch ev.Type {
				case kruntime.EventApplied:
					r.store.Apply(ev.Object)
				case kruntime.EventDeleted:
					// The store key comes from the object itself; Remove
					// needs the key, not the object, so reconstruct it the
					// same way Apply derives it.
					r.store.Remove(r.store.KeyOf(ev.Object))
				case kruntime.EventRestarted:
					r.store.Reset(ev.Snapshot)
				}
				select {
				case <-ctx.Done():
					return
				case out <- ev:
				}
			}
		}
	}()
	return out
}
