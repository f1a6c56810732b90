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

// Package fake provides an in-memory capability.ApiClient driven entirely
// by a test-supplied script, for deterministic tests of watcher,
// reflector and controller without a real API server.
package fake

import (
	"context"
	"sync"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
)

// ListResponse is one canned reply to a List call.
type ListResponse[T any] struct {
	Result capability.ListResult[T]
	Err    error
}

// Client is a scripted capability.ApiClient: each call to List pops the
// next ListResponse off Lists (repeating the last one once exhausted),
// and Watch returns a Session whose event channel the test feeds
// directly via Session.Emit.
type Client[T any] struct {
	mu       sync.Mutex
	lists    []ListResponse[T]
	listCall int

	sessions   []*Session[T]
	watchCalls []WatchCall
}

// WatchCall records the resource version a Watch call resumed from, for
// tests asserting resume behavior.
type WatchCall struct {
	ResourceVersion kruntime.ResourceVersion
}

// NewClient returns a Client that answers List calls from lists in
// order, repeating the final entry for any call beyond len(lists).
func NewClient[T any](lists ...ListResponse[T]) *Client[T] {
	return &Client[T]{lists: lists}
}

// List implements capability.ApiClient.
func (c *Client[T]) List(_ context.Context, _ kruntime.ListParams) (capability.ListResult[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lists) == 0 {
		return capability.ListResult[T]{}, nil
	}
	idx := c.listCall
	if idx >= len(c.lists) {
		idx = len(c.lists) - 1
	}
	c.listCall++
	resp := c.lists[idx]
	return resp.Result, resp.Err
}

// Watch implements capability.ApiClient, returning a new Session the
// test drives by calling its Emit method.
func (c *Client[T]) Watch(_ context.Context, _ kruntime.ListParams, rv kruntime.ResourceVersion) (capability.WatchSession[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchCalls = append(c.watchCalls, WatchCall{ResourceVersion: rv})
	s := newSession[T]()
	c.sessions = append(c.sessions, s)
	return s, nil
}

// WatchCalls returns every Watch call observed so far, in order.
func (c *Client[T]) WatchCalls() []WatchCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WatchCall, len(c.watchCalls))
	copy(out, c.watchCalls)
	return out
}

// Sessions returns every Session handed out so far, in order, letting a
// test drive the most recent one.
func (c *Client[T]) Sessions() []*Session[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session[T], len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Session is a fake capability.WatchSession a test feeds events into.
type Session[T any] struct {
	events chan kruntime.WatchEvent[T]

	mu      sync.Mutex
	stopped bool
}

func newSession[T any]() *Session[T] {
	return &Session[T]{events: make(chan kruntime.WatchEvent[T], 16)}
}

// Events implements capability.WatchSession.
func (s *Session[T]) Events() <-chan kruntime.WatchEvent[T] {
	return s.events
}

// Stop implements capability.WatchSession. It is idempotent.
func (s *Session[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
}

// Emit delivers ev to the session's consumer. Emitting after Stop is a
// no-op rather than a panic, since a test's script may race a watcher's
// own Stop call.
func (s *Session[T]) Emit(ev kruntime.WatchEvent[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.events <- ev
}

// Close ends the session as a clean server EOF, without a WatchError
// event, the way a real watch connection closing idly would look.
func (s *Session[T]) Close() {
	s.Stop()
}
