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

// Package dynamicapi adapts k8s.io/client-go's dynamic.Interface into a
// capability.ApiClient[*unstructured.Unstructured], the thin seam the
// watcher/reflector/controller runtime needs to talk to a real API
// server without depending on a typed clientset per kind.
package dynamicapi

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/kruntime/kruntime"
	"github.com/kruntime/kruntime/capability"
)

// Client lists and watches a single (GroupVersionResource, namespace)
// pair through a dynamic.Interface. An empty namespace means
// cluster-scoped, or cluster-wide across every namespace for a
// namespaced resource.
type Client struct {
	dyn       dynamic.Interface
	gvr       schema.GroupVersionResource
	namespace string
}

var _ capability.ApiClient[*unstructured.Unstructured] = &Client{}

// New returns a Client for gvr, scoped to namespace (empty for
// cluster-scoped kinds or an all-namespaces watch).
func New(dyn dynamic.Interface, gvr schema.GroupVersionResource, namespace string) *Client {
	return &Client{dyn: dyn, gvr: gvr, namespace: namespace}
}

func (c *Client) resourceInterface() dynamic.ResourceInterface {
	r := c.dyn.Resource(c.gvr)
	if c.namespace == "" {
		return r
	}
	return r.Namespace(c.namespace)
}

// List implements capability.ApiClient.
func (c *Client) List(ctx context.Context, params kruntime.ListParams) (capability.ListResult[*unstructured.Unstructured], error) {
	list, err := c.resourceInterface().List(ctx, toListOptions(params, ""))
	if err != nil {
		return capability.ListResult[*unstructured.Unstructured]{}, fmt.Errorf("dynamicapi: listing %s: %w", c.gvr, err)
	}

	items := make([]*unstructured.Unstructured, 0, len(list.Items))
	for i := range list.Items {
		items = append(items, &list.Items[i])
	}
	return capability.ListResult[*unstructured.Unstructured]{
		ResourceVersion: kruntime.ResourceVersion(list.GetResourceVersion()),
		Items:           items,
	}, nil
}

// Watch implements capability.ApiClient.
func (c *Client) Watch(ctx context.Context, params kruntime.ListParams, resourceVersion kruntime.ResourceVersion) (capability.WatchSession[*unstructured.Unstructured], error) {
	w, err := c.resourceInterface().Watch(ctx, toListOptions(params, resourceVersion))
	if err != nil {
		return nil, fmt.Errorf("dynamicapi: watching %s from rv=%s: %w", c.gvr, resourceVersion, err)
	}
	return newSession(w), nil
}

func toListOptions(params kruntime.ListParams, resourceVersion kruntime.ResourceVersion) metav1.ListOptions {
	opts := metav1.ListOptions{
		LabelSelector:       params.LabelSelector,
		FieldSelector:       params.FieldSelector,
		Limit:               params.Limit,
		AllowWatchBookmarks: params.AllowBookmarks,
	}
	if resourceVersion != "" {
		opts.ResourceVersion = string(resourceVersion)
	}
	if params.TimeoutSeconds > 0 {
		seconds := int64(params.TimeoutSeconds)
		opts.TimeoutSeconds = &seconds
	}
	return opts
}

// session adapts client-go's watch.Interface to capability.WatchSession,
// translating watch.Event into kruntime.WatchEvent and recovering a
// genuine error from Error-typed events via apierrors.FromObject so
// capability.IsDesync can recognize a 410 the same way it would from any
// other ApiClient implementation.
type session struct {
	src  watch.Interface
	out  chan kruntime.WatchEvent[*unstructured.Unstructured]
	stop chan struct{}
}

func newSession(src watch.Interface) *session {
	s := &session{
		src:  src,
		out:  make(chan kruntime.WatchEvent[*unstructured.Unstructured]),
		stop: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *session) run() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.src.ResultChan():
			if !ok {
				return
			}
			translated, ok := s.translate(ev)
			if !ok {
				continue
			}
			select {
			case <-s.stop:
				return
			case s.out <- translated:
			}
		}
	}
}

func (s *session) translate(ev watch.Event) (kruntime.WatchEvent[*unstructured.Unstructured], bool) {
	if ev.Type == watch.Error {
		return kruntime.WatchEvent[*unstructured.Unstructured]{
			Type: kruntime.WatchError,
			Err:  apierrors.FromObject(ev.Object),
		}, true
	}

	obj, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		return kruntime.WatchEvent[*unstructured.Unstructured]{}, false
	}
	rv := kruntime.ResourceVersion(obj.GetResourceVersion())

	switch ev.Type {
	case watch.Added:
		return kruntime.WatchEvent[*unstructured.Unstructured]{Type: kruntime.WatchAdded, Object: obj, ResourceVersion: rv}, true
	case watch.Modified:
		return kruntime.WatchEvent[*unstructured.Unstructured]{Type: kruntime.WatchModified, Object: obj, ResourceVersion: rv}, true
	case watch.Deleted:
		return kruntime.WatchEvent[*unstructured.Unstructured]{Type: kruntime.WatchDeleted, Object: obj, ResourceVersion: rv}, true
	case watch.Bookmark:
		return kruntime.WatchEvent[*unstructured.Unstructured]{Type: kruntime.WatchBookmark, ResourceVersion: rv}, true
	default:
		return kruntime.WatchEvent[*unstructured.Unstructured]{}, false
	}
}

// Events implements capability.WatchSession.
func (s *session) Events() <-chan kruntime.WatchEvent[*unstructured.Unstructured] {
	return s.out
}

// Stop implements capability.WatchSession. It is idempotent.
func (s *session) Stop() {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}
	s.src.Stop()
}
