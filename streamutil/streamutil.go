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

// Package streamutil provides channel adapters over a watcher's or
// reflector's kruntime.Event stream, for callers that only care about
// the plain objects, not the Applied/Deleted/Restarted envelope.
package streamutil

import (
	"context"

	"github.com/kruntime/kruntime"
)

// TryFlattenApplied yields only the objects of Applied events, dropping
// Deleted and Restarted events entirely. It is named for client-go's
// informer "update" stream: useful for caches that only ever add or
// overwrite, never explicitly remove.
func TryFlattenApplied[T any](ctx context.Context, in <-chan kruntime.Event[T]) <-chan T {
	out := make(chan T)
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
				if ev.Type != kruntime.EventApplied {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- ev.Object:
				}
			}
		}
	}()
	return out
}

// TryFlattenTouched yields every object the stream currently believes
// exists: Applied objects, and every object in a Restarted snapshot.
// Deleted events are dropped rather than translated, since the deleted
// object is no longer believed to exist. Consumers wanting deletions
// explicitly should read the underlying kruntime.Event stream instead.
func TryFlattenTouched[T any](ctx context.Context, in <-chan kruntime.Event[T]) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		emit := func(obj T) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- obj:
				return true
			}
		}
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
					if !emit(ev.Object) {
						return
					}
				case kruntime.EventRestarted:
					for _, obj := range ev.Snapshot {
						if !emit(obj) {
							return
						}
					}
				}
			}
		}
	}()
	return out
}
