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

package streamutil

import (
	"context"
	"testing"
	"time"

	"github.com/kruntime/kruntime"
)

func TestTryFlattenAppliedDropsDeleteAndRestarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan kruntime.Event[string], 4)
	in <- kruntime.Restarted([]string{"a", "b"})
	in <- kruntime.Applied("c")
	in <- kruntime.Deleted("a")
	close(in)

	out := TryFlattenApplied(ctx, in)

	var got []string
	for v := range out {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("got %v, want [c]", got)
	}
}

func TestTryFlattenTouchedIncludesSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan kruntime.Event[string], 4)
	in <- kruntime.Restarted([]string{"a", "b"})
	in <- kruntime.Applied("c")
	in <- kruntime.Deleted("a")
	close(in)

	out := TryFlattenTouched(ctx, in)

	var got []string
	for v := range out {
		got = append(got, v)
	}
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 objects (a, b, c)", got)
	}
}

func TestTryFlattenAppliedStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan kruntime.Event[string])
	out := TryFlattenApplied(ctx, in)

	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("output channel never closed after cancel")
	}
}
