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

// Package store holds the concurrent key->object cache a Reflector keeps
// in sync with a cluster's watch stream.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
)

// Store is a thread-safe mapping from object key to the latest known
// object. Writes are expected to come only from the owning Reflector,
// serialized by mu; reads (Get, List, Len) never block behind a write
// beyond the time it takes to swap an immutable snapshot pointer.
type Store[T any] struct {
	resource capability.Resource[T]

	mu       sync.Mutex
	snapshot atomic.Pointer[map[kruntime.Key]T]
}

// New returns an empty Store keyed using resource.
func New[T any](resource capability.Resource[T]) *Store[T] {
	s := &Store[T]{resource: resource}
	empty := map[kruntime.Key]T{}
	s.snapshot.Store(&empty)
	return s
}

// Apply records obj as the latest known state for its key, overwriting
// whatever was there before.
func (s *Store[T]) Apply(obj T) {
	key := s.resource.Key(obj)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copySnapshot()
	next[key] = obj
	s.snapshot.Store(&next)
}

// Remove deletes key from the store, if present.
func (s *Store[T]) Remove(key kruntime.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.snapshot.Load()
	if _, ok := cur[key]; !ok {
		return
	}
	next := s.copySnapshot()
	delete(next, key)
	s.snapshot.Store(&next)
}

// Reset atomically replaces the full set of known objects with items,
// the behavior a Reflector relies on after a watcher Restarted event.
func (s *Store[T]) Reset(items []T) {
	next := make(map[kruntime.Key]T, len(items))
	for _, obj := range items {
		next[s.resource.Key(obj)] = obj
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Store(&next)
}

// Get returns the object known for key, if any. The returned object is
// not aliased to store storage; callers may hold it indefinitely.
func (s *Store[T]) Get(key kruntime.Key) (T, bool) {
	cur := *s.snapshot.Load()
	obj, ok := cur[key]
	return obj, ok
}

// List returns a consistent snapshot of every object known at the time
// of the call.
func (s *Store[T]) List() []T {
	cur := *s.snapshot.Load()
	out := make([]T, 0, len(cur))
	for _, obj := range cur {
		out = append(out, obj)
	}
	return out
}

// Keys returns the keys known at the time of the call.
func (s *Store[T]) Keys() []kruntime.Key {
	cur := *s.snapshot.Load()
	out := make([]kruntime.Key, 0, len(cur))
	for k := range cur {
		out = append(out, k)
	}
	return out
}

// Len returns the number of objects currently known.
func (s *Store[T]) Len() int {
	return len(*s.snapshot.Load())
}

// KeyOf returns the key the store would use for obj, using the same
// Resource it was constructed with.
func (s *Store[T]) KeyOf(obj T) kruntime.Key {
	return s.resource.Key(obj)
}

// copySnapshot must be called with mu held; it returns a fresh map
// carrying every entry of the current snapshot, ready for one more
// mutation before being published.
func (s *Store[T]) copySnapshot() map[kruntime.Key]T {
	cur := *s.snapshot.Load()
	next := make(map[kruntime.Key]T, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}
