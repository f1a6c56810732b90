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

package capability

import (
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kruntime/kruntime"
)

// MetaResource adapts any type satisfying metav1.Object (every generated
// Kubernetes API type does) into a Resource, using
// k8s.io/apimachinery/pkg/api/meta.Accessor the same way client-go's own
// reflector does. It is the Resource implementation most callers reach
// for first; write a bespoke Resource only for non-standard objects.
type MetaResource[T metav1.Object] struct {
	GVR          schema.GroupVersionResource
	IsNamespaced bool
}

// NewMetaResource returns a MetaResource for the given GroupVersionResource.
func NewMetaResource[T metav1.Object](gvr schema.GroupVersionResource, namespaced bool) MetaResource[T] {
	return MetaResource[T]{GVR: gvr, IsNamespaced: namespaced}
}

// GroupVersionResource returns the configured group, version and plural.
func (m MetaResource[T]) GroupVersionResource() (group, version, resource string) {
	return m.GVR.Group, m.GVR.Version, m.GVR.Resource
}

// Namespaced reports whether this kind is namespace-scoped.
func (m MetaResource[T]) Namespaced() bool { return m.IsNamespaced }

// Key returns obj's (namespace, name) key.
func (m MetaResource[T]) Key(obj T) kruntime.Key {
	return kruntime.Key{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// UID returns obj's unique, server-assigned identifier.
func (m MetaResource[T]) UID(obj T) string {
	return string(obj.GetUID())
}

// ResourceVersion returns obj's resource version.
func (m MetaResource[T]) ResourceVersion(obj T) kruntime.ResourceVersion {
	return kruntime.ResourceVersion(obj.GetResourceVersion())
}

// OwnerReferences translates obj's metav1.OwnerReference list into the
// runtime's OwnerReference type.
func (m MetaResource[T]) OwnerReferences(obj T) []kruntime.OwnerReference {
	refs := obj.GetOwnerReferences()
	out := make([]kruntime.OwnerReference, 0, len(refs))
	for _, r := range refs {
		out = append(out, kruntime.OwnerReference{
			Kind:       r.Kind,
			Name:       r.Name,
			UID:        string(r.UID),
			Controller: r.Controller != nil && *r.Controller,
		})
	}
	return out
}

// Accessor is a convenience wrapper over meta.Accessor for ApiClient
// implementations that only have a runtime.Object (e.g. an unstructured
// list item) and need the same metadata a Resource would extract.
func Accessor(obj any) (metav1.Object, error) {
	return meta.Accessor(obj)
}
