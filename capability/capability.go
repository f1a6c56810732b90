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

// Package capability declares the two external collaborators the runtime
// depends on but never implements itself: Resource, which knows how to
// pull identity out of an object of a given kind, and ApiClient, which
// knows how to list and watch that kind against an API server. Nothing
// else about the API server — authentication, TLS, kubeconfig parsing,
// body decoding, typed schemas — is visible past this boundary.
package capability

import (
	"context"

	"github.com/kruntime/kruntime"
)

// Resource identifies a kind's (group, version, plural) and knows how to
// extract the bits of object metadata the runtime needs: key, UID,
// resource version, and owner references. Implementations are expected
// to be thin adapters over typed or unstructured Kubernetes objects.
type Resource[T any] interface {
	// GroupVersionResource identifies the kind this Resource extracts
	// metadata for, for logging and metrics labeling.
	GroupVersionResource() (group, version, resource string)

	// Namespaced reports whether objects of this kind are scoped under a
	// namespace.
	Namespaced() bool

	// Key returns obj's object key.
	Key(obj T) kruntime.Key

	// UID returns obj's unique, server-assigned identifier.
	UID(obj T) string

	// ResourceVersion returns obj's resource version.
	ResourceVersion(obj T) kruntime.ResourceVersion

	// OwnerReferences returns obj's owner references.
	OwnerReferences(obj T) []kruntime.OwnerReference
}

// ListResult is the decoded response to an ApiClient.List call: the
// resource version at the moment of listing, and the items found.
type ListResult[T any] struct {
	ResourceVersion kruntime.ResourceVersion
	Items           []T
}

// WatchSession is a live, cancellable watch stream opened by
// ApiClient.Watch. Events must stop arriving once Stop is called, and
// Events must be closed once the underlying stream ends for any reason
// (server EOF, context cancellation, transport error).
type WatchSession[T any] interface {
	// Events returns the channel of protocol-level watch events. It is
	// closed when the session ends.
	Events() <-chan kruntime.WatchEvent[T]

	// Stop ends the session and releases its resources. Stop is
	// idempotent.
	Stop()
}

// ApiClient issues list and watch requests for a single (kind,
// namespace, selector) tuple, identified implicitly by T and the
// ListParams passed to each call.
type ApiClient[T any] interface {
	// List returns every object currently matching params, along with the
	// resource version observed at the moment of listing.
	List(ctx context.Context, params kruntime.ListParams) (ListResult[T], error)

	// Watch opens a watch session starting from resourceVersion. An empty
	// resourceVersion means "start now"; it is never inferred by the
	// client, only ever passed through from a prior List or Watch result.
	Watch(ctx context.Context, params kruntime.ListParams, resourceVersion kruntime.ResourceVersion) (WatchSession[T], error)
}
