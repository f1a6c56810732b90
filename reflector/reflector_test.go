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

package reflector

import (
	"context"
	"testing"
	"time"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/store"
)

type widget struct {
	ns, name, rv string
}

type widgetResource struct{}

func (widgetResource) GroupVersionResource() (string, string, string) { return "test", "v1", "widgets" }
func (widgetResource) Namespaced() bool                                { return true }
func (widgetResource) Key(w widget) kruntime.Key                       { return kruntime.Key{Namespace: w.ns, Name: w.name} }
func (widgetResource) UID(w widget) string                             { return w.name }
func (widgetResource) ResourceVersion(w widget) kruntime.ResourceVersion {
	return kruntime.ResourceVersion(w.rv)
}
func (widgetResource) OwnerReferences(widget) []kruntime.OwnerReference { return nil }

// scriptedSource is a canned eventSource a test drives by writing to ch.
type scriptedSource struct {
	ch chan kruntime.Event[widget]
}

func (s *scriptedSource) Watch(ctx context.Context) <-chan kruntime.Event[widget] {
	return s.ch
}

func TestStoreUpdatedBeforeEventDelivered(t *testing.T) {
	src := &scriptedSource{ch: make(chan kruntime.Event[widget], 4)}
	st := store.New[widget](widgetResource{})
	r := New[widget](st, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := r.Run(ctx)

	src.ch <- kruntime.Restarted([]widget{{ns: "a", name: "x", rv: "1"}})
	ev := <-out
	if ev.Type != kruntime.EventRestarted {
		t.Fatalf("ev.Type = %v, want Restarted", ev.Type)
	}
	if st.Len() != 1 {
		t.Fatalf("store.Len() = %d, want 1 (by the time event is observed)", st.Len())
	}

	src.ch <- kruntime.Applied(widget{ns: "a", name: "y", rv: "2"})
	ev = <-out
	if _, ok := st.Get(kruntime.Key{Namespace: "a", Name: "y"}); !ok {
		t.Fatal("store missing applied object at event-delivery time")
	}
	_ = ev

	src.ch <- kruntime.Deleted(widget{ns: "a", name: "x", rv: "3"})
	<-out
	if _, ok := st.Get(kruntime.Key{Namespace: "a", Name: "x"}); ok {
		t.Fatal("store still has deleted object at event-delivery time")
	}
}

func TestRunClosesOutputOnSourceClose(t *testing.T) {
	src := &scriptedSource{ch: make(chan kruntime.Event[widget])}
	st := store.New[widget](widgetResource{})
	r := New[widget](st, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := r.Run(ctx)
	close(src.ch)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected output channel to close, got an event instead")
		}
	case <-time.After(time.Second):
		t.Fatal("output channel never closed after source closed")
	}
}
