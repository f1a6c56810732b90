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

// Package kruntime holds the shared data model for the watch/reflect/
// reconcile runtime: object keys, resource versions, the protocol- and
// runtime-level event types, list parameters and owner references. The
// watcher, store, reflector, queue and controller packages all build on
// these types.
package kruntime

import (
	"fmt"
	"time"
)

// Key identifies an object by namespace and name. Cluster-scoped objects
// use the empty string for Namespace. Keys are the unit of identity
// everywhere in the runtime: stores are keyed by them, the work queue
// dedups and schedules them, reconcilers receive them.
type Key struct {
	Namespace string
	Name      string
}

// String renders the key as "namespace/name", or just "name" for
// cluster-scoped objects, matching the conventional Kubernetes log format.
func (k Key) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "/" + k.Name
}

// Less orders keys lexicographically by namespace then name, giving keys
// a total order.
func (k Key) Less(other Key) bool {
	if k.Namespace != other.Namespace {
		return k.Namespace < other.Namespace
	}
	return k.Name < other.Name
}

// ResourceVersion is an opaque, server-assigned resume token. The runtime
// never parses or compares it beyond equality; it is only ever echoed
// back to the server as a resume point. The empty ResourceVersion means
// "no resume point, relist".
type ResourceVersion string

// OwnerReference mirrors the subset of a Kubernetes owner reference the
// runtime needs to route a child event to its controlling parent's key.
type OwnerReference struct {
	Kind       string
	Name       string
	UID        string
	Controller bool
}

// WatchEventType is the protocol-level event type returned by an
// ApiClient's watch stream.
type WatchEventType int

const (
	// WatchAdded signals a newly observed object.
	WatchAdded WatchEventType = iota
	// WatchModified signals an update to a previously observed object.
	WatchModified
	// WatchDeleted signals object removal.
	WatchDeleted
	// WatchBookmark carries only a resource version, advancing the resume
	// token during quiet periods.
	WatchBookmark
	// WatchError signals a server-side error on the watch stream. Reason
	// Expired/Gone (HTTP 410) is the desync signal; anything else is a
	// transient transport error.
	WatchError
)

func (t WatchEventType) String() string {
	switch t {
	case WatchAdded:
		return "ADDED"
	case WatchModified:
		return "MODIFIED"
	case WatchDeleted:
		return "DELETED"
	case WatchBookmark:
		return "BOOKMARK"
	case WatchError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// WatchEvent is a single protocol-level event read off an ApiClient's
// watch stream.
type WatchEvent[T any] struct {
	Type            WatchEventType
	Object          T
	ResourceVersion ResourceVersion
	Err             error
}

// EventType is the runtime-level event kind exposed to watcher/reflector
// consumers, replacing the watch protocol's resume-token bookkeeping with
// a clean Applied/Deleted/Restarted view.
type EventType int

const (
	// EventApplied means the object is present at the event's resource
	// version, covering both first sight and updates.
	EventApplied EventType = iota
	// EventDeleted means the object has been removed; Object carries the
	// last-known state.
	EventDeleted
	// EventRestarted means the watcher relisted; Snapshot is the full set
	// of objects currently matching the query. Consumers must treat any
	// object previously known but absent from Snapshot as deleted.
	EventRestarted
)

func (t EventType) String() string {
	switch t {
	case EventApplied:
		return "Applied"
	case EventDeleted:
		return "Deleted"
	case EventRestarted:
		return "Restarted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Event is the runtime-level event emitted by a watcher or reflector.
type Event[T any] struct {
	Type     EventType
	Object   T
	Snapshot []T
}

// Applied builds an Applied event for obj.
func Applied[T any](obj T) Event[T] {
	return Event[T]{Type: EventApplied, Object: obj}
}

// Deleted builds a Deleted event carrying the last-known state of obj.
func Deleted[T any](obj T) Event[T] {
	return Event[T]{Type: EventDeleted, Object: obj}
}

// Restarted builds a Restarted event carrying the full relisted snapshot.
func Restarted[T any](snapshot []T) Event[T] {
	return Event[T]{Type: EventRestarted, Snapshot: snapshot}
}

// ListParams are the selection and transport parameters recognized by an
// ApiClient's List and Watch operations. Unknown options are rejected at
// construction via NewListParams so a typo in a functional option never
// silently becomes a no-op.
type ListParams struct {
	LabelSelector  string
	FieldSelector  string
	TimeoutSeconds int
	Limit          int64
	AllowBookmarks bool
}

// ListParamOption configures a ListParams. Options are applied in
// NewListParams, which is the only supported constructor: it guarantees
// every recognized field has been through validation.
type ListParamOption func(*ListParams) error

// WithLabelSelector sets the label selector. Multiple selectors supplied
// across options are combined with logical AND, matching server
// semantics.
func WithLabelSelector(selector string) ListParamOption {
	return func(p *ListParams) error {
		if p.LabelSelector == "" {
			p.LabelSelector = selector
		} else {
			p.LabelSelector = p.LabelSelector + "," + selector
		}
		return nil
	}
}

// WithFieldSelector sets the field selector, combined with logical AND
// across multiple calls, matching server semantics.
func WithFieldSelector(selector string) ListParamOption {
	return func(p *ListParams) error {
		if p.FieldSelector == "" {
			p.FieldSelector = selector
		} else {
			p.FieldSelector = p.FieldSelector + "," + selector
		}
		return nil
	}
}

// WithTimeoutSeconds sets the per-watch-request idle timeout. The
// implementation-chosen default (see watcher.DefaultTimeoutSeconds) keeps
// connections cycling before idle middleboxes drop them.
func WithTimeoutSeconds(seconds int) ListParamOption {
	return func(p *ListParams) error {
		if seconds <= 0 {
			return fmt.Errorf("kruntime: timeout_seconds must be positive, got %d", seconds)
		}
		p.TimeoutSeconds = seconds
		return nil
	}
}

// WithLimit sets the chunk size for paginated list requests.
func WithLimit(limit int64) ListParamOption {
	return func(p *ListParams) error {
		if limit < 0 {
			return fmt.Errorf("kruntime: limit must be non-negative, got %d", limit)
		}
		p.Limit = limit
		return nil
	}
}

// WithBookmarks toggles whether watch requests should ask the server for
// bookmark events. The runtime always requests them when available; this
// option exists so tests and non-conformant servers can turn them off.
func WithBookmarks(allow bool) ListParamOption {
	return func(p *ListParams) error {
		p.AllowBookmarks = allow
		return nil
	}
}

// NewListParams builds a validated ListParams from the given options. An
// error from any option aborts construction; this is how an unrecognized
// or malformed option is rejected rather than silently ignored.
func NewListParams(opts ...ListParamOption) (ListParams, error) {
	p := ListParams{AllowBookmarks: true}
	for _, opt := range opts {
		if err := opt(&p); err != nil {
			return ListParams{}, err
		}
	}
	return p, nil
}

// Action is a reconciler's or error policy's verdict on what should
// happen to a key after a reconcile attempt: either await the next
// observed event (no requeue), or requeue after a delay.
type Action struct {
	after   time.Duration
	requeue bool
}

// Await means the reconcile succeeded and the key should not be
// requeued; the next reconcile happens only when a new event for this
// key (or one that maps to it) arrives.
func Await() Action {
	return Action{}
}

// RequeueAfter means the key should be requeued after d, regardless of
// whether any new event arrives in the meantime.
func RequeueAfter(d time.Duration) Action {
	return Action{after: d, requeue: true}
}

// IsAwait reports whether the action carries no requeue delay.
func (a Action) IsAwait() bool { return !a.requeue }

// After returns the requested requeue delay and whether one was
// requested at all.
func (a Action) After() (time.Duration, bool) { return a.after, a.requeue }

// ReconcileResult is what a Reconciler or an ErrorPolicy returns.
type ReconcileResult struct {
	Action Action
	Err    error
}

// Ok builds a successful ReconcileResult carrying the given action.
func Ok(action Action) ReconcileResult { return ReconcileResult{Action: action} }

// ErrResult builds a failed ReconcileResult carrying the given error. The
// action is decided by the controller's ErrorPolicy, not by the
// reconciler itself.
func ErrResult(err error) ReconcileResult { return ReconcileResult{Err: err} }

// Outcome is emitted on a Controller's result stream for every
// reconcile attempt.
type Outcome struct {
	Key    Key
	Action Action
	Err    error
}
