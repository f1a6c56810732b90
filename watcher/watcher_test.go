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
	"context"
	"errors"
	"testing"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
	"github.com/kruntime/kruntime/capability/fake"
)

type obj struct {
	name, rv string
}

func recvWithin(t *testing.T, ch <-chan kruntime.Event[obj], d time.Duration) kruntime.Event[obj] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for event")
		}
		return ev
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return kruntime.Event[obj]{}
	}
}

func TestWatchEmitsRestartedThenDeltas(t *testing.T) {
	client := fake.NewClient[obj](fake.ListResponse[obj]{
		Result: capability.ListResult[obj]{
			ResourceVersion: "10",
			Items:           []obj{{name: "A", rv: "10"}},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New[obj](client, kruntime.ListParams{})
	events := w.Watch(ctx)

	restarted := recvWithin(t, events, time.Second)
	if restarted.Type != kruntime.EventRestarted || len(restarted.Snapshot) != 1 {
		t.Fatalf("first event = %+v, want Restarted with 1 item", restarted)
	}

	// Wait for the watch call to be issued before emitting on its session.
	var session *fake.Session[obj]
	deadline := time.After(time.Second)
	for session == nil {
		sessions := client.Sessions()
		if len(sessions) > 0 {
			session = sessions[0]
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never called Watch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	session.Emit(kruntime.WatchEvent[obj]{Type: kruntime.WatchModified, Object: obj{name: "A", rv: "11"}, ResourceVersion: "11"})
	session.Emit(kruntime.WatchEvent[obj]{Type: kruntime.WatchAdded, Object: obj{name: "B", rv: "12"}, ResourceVersion: "12"})
	session.Emit(kruntime.WatchEvent[obj]{Type: kruntime.WatchDeleted, Object: obj{name: "A", rv: "13"}, ResourceVersion: "13"})

	ev1 := recvWithin(t, events, time.Second)
	if ev1.Type != kruntime.EventApplied || ev1.Object.rv != "11" {
		t.Fatalf("ev1 = %+v, want Applied(A@11)", ev1)
	}
	ev2 := recvWithin(t, events, time.Second)
	if ev2.Type != kruntime.EventApplied || ev2.Object.name != "B" {
		t.Fatalf("ev2 = %+v, want Applied(B@12)", ev2)
	}
	ev3 := recvWithin(t, events, time.Second)
	if ev3.Type != kruntime.EventDeleted || ev3.Object.name != "A" {
		t.Fatalf("ev3 = %+v, want Deleted(A@13)", ev3)
	}
}

func TestDesyncTriggersRelist(t *testing.T) {
	client := fake.NewClient[obj](
		fake.ListResponse[obj]{Result: capability.ListResult[obj]{ResourceVersion: "10", Items: []obj{{name: "A", rv: "10"}}}},
		fake.ListResponse[obj]{Result: capability.ListResult[obj]{ResourceVersion: "15", Items: []obj{{name: "B", rv: "15"}, {name: "C", rv: "15"}}}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New[obj](client, kruntime.ListParams{}, WithBackoffBounds[obj](time.Millisecond, 10*time.Millisecond))
	events := w.Watch(ctx)

	first := recvWithin(t, events, time.Second)
	if first.Type != kruntime.EventRestarted {
		t.Fatalf("first event = %+v, want Restarted", first)
	}

	waitForSession := func(n int) *fake.Session[obj] {
		deadline := time.After(time.Second)
		for {
			sessions := client.Sessions()
			if len(sessions) > n {
				return sessions[n]
			}
			select {
			case <-deadline:
				t.Fatalf("never got watch session #%d", n)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	session := waitForSession(0)
	session.Emit(kruntime.WatchEvent[obj]{
		Type: kruntime.WatchError,
		Err:  apierrors.NewGone("resourceVersion too old"),
	})

	second := recvWithin(t, events, time.Second)
	if second.Type != kruntime.EventRestarted || len(second.Snapshot) != 2 {
		t.Fatalf("post-desync event = %+v, want Restarted with 2 items", second)
	}

	calls := client.WatchCalls()
	if len(calls) < 1 || calls[0].ResourceVersion != "10" {
		t.Fatalf("first watch call resumed from %+v, want rv=10", calls)
	}
}

func TestTransientWatchErrorReconnectsSameRV(t *testing.T) {
	client := fake.NewClient[obj](fake.ListResponse[obj]{
		Result: capability.ListResult[obj]{ResourceVersion: "10", Items: nil},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New[obj](client, kruntime.ListParams{}, WithBackoffBounds[obj](time.Millisecond, 5*time.Millisecond))
	events := w.Watch(ctx)
	recvWithin(t, events, time.Second) // initial Restarted

	waitForSession := func(n int) *fake.Session[obj] {
		deadline := time.After(time.Second)
		for {
			sessions := client.Sessions()
			if len(sessions) > n {
				return sessions[n]
			}
			select {
			case <-deadline:
				t.Fatalf("never got watch session #%d", n)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	s0 := waitForSession(0)
	s0.Emit(kruntime.WatchEvent[obj]{Type: kruntime.WatchError, Err: errors.New("transport reset")})

	waitForSession(1) // reconnected without emitting a Restarted

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after transient error: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	calls := client.WatchCalls()
	if len(calls) != 2 || calls[1].ResourceVersion != "10" {
		t.Fatalf("reconnect calls = %+v, want second call to resume at rv=10", calls)
	}
}

