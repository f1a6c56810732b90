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

package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
	"github.com/kruntime/kruntime/capability/fake"
	"github.com/kruntime/kruntime/queue"
)

type root struct {
	ns, name, uid, rv string
}

type rootResource struct{}

func (rootResource) GroupVersionResource() (string, string, string) { return "test", "v1", "roots" }
func (rootResource) Namespaced() bool                                { return true }
func (rootResource) Key(r root) kruntime.Key                         { return kruntime.Key{Namespace: r.ns, Name: r.name} }
func (rootResource) UID(r root) string                               { return r.uid }
func (rootResource) ResourceVersion(r root) kruntime.ResourceVersion { return kruntime.ResourceVersion(r.rv) }
func (rootResource) OwnerReferences(root) []kruntime.OwnerReference   { return nil }

type child struct {
	ns, name, rv string
	owners       []kruntime.OwnerReference
}

type childResource struct{}

func (childResource) GroupVersionResource() (string, string, string) { return "test", "v1", "children" }
func (childResource) Namespaced() bool                                { return true }
func (childResource) Key(c child) kruntime.Key                       { return kruntime.Key{Namespace: c.ns, Name: c.name} }
func (childResource) UID(c child) string                             { return c.name }
func (childResource) ResourceVersion(c child) kruntime.ResourceVersion {
	return kruntime.ResourceVersion(c.rv)
}
func (childResource) OwnerReferences(c child) []kruntime.OwnerReference { return c.owners }

func waitForSession[T any](t *testing.T, client *fake.Client[T], n int) *fake.Session[T] {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		sessions := client.Sessions()
		if len(sessions) > n {
			return sessions[n]
		}
		select {
		case <-deadline:
			t.Fatalf("never got session #%d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOwnedEventRoutesToOwnerKey(t *testing.T) {
	rootClient := fake.NewClient[root](fake.ListResponse[root]{
		Result: capability.ListResult[root]{ResourceVersion: "1", Items: []root{{ns: "ns", name: "R1", uid: "u1", rv: "1"}}},
	})
	childClient := fake.NewClient[child](fake.ListResponse[child]{
		Result: capability.ListResult[child]{ResourceVersion: "1"},
	})

	c := NewController[root]("Root", rootResource{}, rootClient, kruntime.ListParams{})
	Owns[root, child](c, childResource{}, childClient, kruntime.ListParams{})

	var mu sync.Mutex
	var seen []kruntime.Key

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := c.Run(ctx, 1, func(_ context.Context, key kruntime.Key, _ root, _ bool) kruntime.ReconcileResult {
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()
		return kruntime.Ok(kruntime.Await())
	}, func(_ context.Context, err error) kruntime.Action {
		return kruntime.Await()
	})

	go func() {
		for range out {
		}
	}()

	childSession := waitForSession(t, childClient, 0)
	childSession.Emit(kruntime.WatchEvent[child]{
		Type: kruntime.WatchAdded,
		Object: child{
			ns: "ns", name: "P1", rv: "5",
			owners: []kruntime.OwnerReference{{Kind: "Root", Name: "R1", UID: "u1", Controller: true}},
		},
		ResourceVersion: "5",
	})
	childSession.Emit(kruntime.WatchEvent[child]{
		Type: kruntime.WatchAdded,
		Object: child{
			ns: "ns", name: "P2", rv: "6",
			owners: []kruntime.OwnerReference{{Kind: "Root", Name: "Unknown", UID: "u9", Controller: true}},
		},
		ResourceVersion: "6",
	})

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 { // initial root R1 reconcile + P1-routed owner reconcile
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, seen so far: %+v", seen)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := kruntime.Key{Namespace: "ns", Name: "R1"}
	found := false
	for _, k := range seen {
		if k == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("seen keys = %+v, want at least one %v", seen, want)
	}
	// P2's unknown owner must never have produced an enqueue of its own
	// (unrelated) key.
	for _, k := range seen {
		if k.Name == "P2" {
			t.Fatalf("unowned/mismatched child P2 incorrectly routed: %+v", seen)
		}
	}
}

func TestErrorPolicyBackoffTakesMax(t *testing.T) {
	rootClient := fake.NewClient[root](fake.ListResponse[root]{
		Result: capability.ListResult[root]{ResourceVersion: "1", Items: []root{{ns: "ns", name: "R1", uid: "u1", rv: "1"}}},
	})

	// A fake-clock-backed queue lets this test assert on actual
	// re-invocation timing, not just the Outcome.Action a reconcile
	// reports: the delay the rate limiter demands only matters if the
	// queue actually withholds the key until it elapses.
	const base = 30 * time.Millisecond
	fc := testingclock.NewFakeClock(time.Now())
	rl := queue.NewExponentialFailureRateLimiter[kruntime.Key](base, time.Minute)
	q := queue.NewWithOptions[kruntime.Key](rl, fc)

	c := NewController[root]("Root", rootResource{}, rootClient, kruntime.ListParams{}, WithQueue[root](q))

	var mu sync.Mutex
	attempts := 0
	var gotDelays []time.Duration

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := c.Run(ctx, 1, func(_ context.Context, _ kruntime.Key, _ root, _ bool) kruntime.ReconcileResult {
		mu.Lock()
		attempts++
		mu.Unlock()
		return kruntime.ErrResult(errors.New("boom"))
	}, func(_ context.Context, _ error) kruntime.Action {
		// Policy asks for a very short requeue; the limiter should force
		// at least its own exponential backoff on top.
		return kruntime.RequeueAfter(time.Nanosecond)
	})

	drain := func() kruntime.Outcome {
		select {
		case outcome := <-out:
			return outcome
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for error outcome")
			return kruntime.Outcome{}
		}
	}

	first := drain()
	if first.Err == nil {
		t.Fatal("expected an error outcome")
	}
	firstDelay, requeue := first.Action.After()
	if !requeue {
		t.Fatal("expected a requeue action on error")
	}
	gotDelays = append(gotDelays, firstDelay)

	// Without advancing the fake clock, the buffered backoff must never
	// elapse: a second reconcile here would mean the requeue's not-before
	// was lost and the key is busy-looping instead of backing off.
	time.Sleep(5 * base)
	mu.Lock()
	stillOne := attempts == 1
	mu.Unlock()
	if !stillOne {
		t.Fatalf("attempts = %d after %v with no clock advance, want 1 (backoff must not be skipped)", attempts, 5*base)
	}

	fc.Step(time.Minute)

	second := drain()
	if second.Err == nil {
		t.Fatal("expected an error outcome")
	}
	secondDelay, requeue := second.Action.After()
	if !requeue {
		t.Fatal("expected a requeue action on error")
	}
	gotDelays = append(gotDelays, secondDelay)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("attempts = %d after stepping the clock past the backoff, want 2", attempts)
	}
	for i := 1; i < len(gotDelays); i++ {
		if gotDelays[i] < gotDelays[i-1] {
			t.Fatalf("delays not non-decreasing: %v", gotDelays)
		}
	}
	if gotDelays[0] < base {
		t.Fatalf("first delay = %v, want at least the limiter's base backoff %v", gotDelays[0], base)
	}
}
