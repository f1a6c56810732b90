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

package store

import (
	"testing"

	"github.com/kruntime/kruntime"
)

type widget struct {
	ns, name, uid, rv string
}

type widgetResource struct{}

func (widgetResource) GroupVersionResource() (string, string, string) { return "test", "v1", "widgets" }
func (widgetResource) Namespaced() bool                                { return true }
func (widgetResource) Key(w widget) kruntime.Key                       { return kruntime.Key{Namespace: w.ns, Name: w.name} }
func (widgetResource) UID(w widget) string                             { return w.uid }
func (widgetResource) ResourceVersion(w widget) kruntime.ResourceVersion {
	return kruntime.ResourceVersion(w.rv)
}
func (widgetResource) OwnerReferences(widget) []kruntime.OwnerReference { return nil }

func TestApplyAndGet(t *testing.T) {
	s := New[widget](widgetResource{})
	s.Apply(widget{ns: "a", name: "x", uid: "1", rv: "10"})

	got, ok := s.Get(kruntime.Key{Namespace: "a", Name: "x"})
	if !ok || got.uid != "1" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
}

func TestApplyOverwrites(t *testing.T) {
	s := New[widget](widgetResource{})
	s.Apply(widget{ns: "a", name: "x", uid: "1", rv: "10"})
	s.Apply(widget{ns: "a", name: "x", uid: "1", rv: "11"})

	got, _ := s.Get(kruntime.Key{Namespace: "a", Name: "x"})
	if got.rv != "11" {
		t.Fatalf("rv = %q, want %q", got.rv, "11")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestRemove(t *testing.T) {
	s := New[widget](widgetResource{})
	key := kruntime.Key{Namespace: "a", Name: "x"}
	s.Apply(widget{ns: "a", name: "x", uid: "1", rv: "10"})
	s.Remove(key)

	if _, ok := s.Get(key); ok {
		t.Fatal("Get() found a removed key")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestResetReplacesContents(t *testing.T) {
	s := New[widget](widgetResource{})
	s.Apply(widget{ns: "a", name: "x", uid: "1", rv: "10"})
	s.Apply(widget{ns: "a", name: "y", uid: "2", rv: "10"})

	s.Reset([]widget{{ns: "a", name: "y", uid: "2", rv: "20"}})

	if _, ok := s.Get(kruntime.Key{Namespace: "a", Name: "x"}); ok {
		t.Fatal("x survived Reset, should have been dropped")
	}
	got, ok := s.Get(kruntime.Key{Namespace: "a", Name: "y"})
	if !ok || got.rv != "20" {
		t.Fatalf("Get(y) = %+v, %v", got, ok)
	}
}

func TestListIsIndependentSnapshot(t *testing.T) {
	s := New[widget](widgetResource{})
	s.Apply(widget{ns: "a", name: "x", uid: "1", rv: "10"})

	items := s.List()
	s.Apply(widget{ns: "a", name: "z", uid: "3", rv: "10"})

	if len(items) != 1 {
		t.Fatalf("List() snapshot mutated after later Apply: len=%d", len(items))
	}
}

func TestKeyOf(t *testing.T) {
	s := New[widget](widgetResource{})
	w := widget{ns: "a", name: "x", uid: "1", rv: "10"}
	if got, want := s.KeyOf(w), (kruntime.Key{Namespace: "a", Name: "x"}); got != want {
		t.Fatalf("KeyOf() = %v, want %v", got, want)
	}
}
