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

// Package controllerhealth exposes healthz/livez/readyz http.Handlers
// for a running Controller, mirroring the probe-per-endpoint structure
// of a Kubernetes control plane component's self server.
package controllerhealth

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Prober reports one boolean-valued health signal.
type Prober interface {
	// Text is the path this prober is mounted at, e.g. "/healthz".
	Text() string

	// Healthy reports whether the signal currently passes.
	Healthy() bool
}

// probe is the common implementation every concrete prober embeds.
type probe struct {
	asString string
	source   string
	healthy  func() bool
}

func (p probe) Text() string   { return p.asString }
func (p probe) Healthy() bool  { return p.healthy() }
func (p probe) server() string { return p.source }

// Handler returns an http.Handler that answers 200 while p is healthy
// and 503 otherwise, logging write failures the way the teacher's
// genericProbe does.
func Handler(logger klog.Logger, p Prober) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !p.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			if n, err := w.Write([]byte(http.StatusText(http.StatusServiceUnavailable))); err != nil {
				logger.Error(err, fmt.Sprintf("error writing response after %d bytes", n), "probe", p.Text())
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if n, err := w.Write([]byte(http.StatusText(http.StatusOK))); err != nil {
			logger.Error(err, fmt.Sprintf("error writing response after %d bytes", n), "probe", p.Text())
		}
	})
}

// Livez reports whether the process is still running its main loop. It
// reports the value the caller last passed to SetAlive; there is no
// timeout, so a heartbeat that simply stops being ticked does not make
// it unhealthy.
type Livez struct {
	probe
	alive atomic.Bool
}

// NewLivez returns a Livez starting in the alive state.
func NewLivez() *Livez {
	l := &Livez{probe: probe{asString: "/livez", source: "main"}}
	l.alive.Store(true)
	l.probe.healthy = l.alive.Load
	return l
}

// SetAlive updates the heartbeat. Callers typically tick this true on
// every successful worker iteration and never set it false except in
// tests, since a genuinely wedged process can't run code to flip it.
func (l *Livez) SetAlive(alive bool) { l.alive.Store(alive) }

// Readyz reports whether the root store has completed its first
// Restarted sync and is therefore safe to read for reconciliation or
// to serve to external callers.
type Readyz struct {
	probe
	synced atomic.Bool
}

// NewReadyz returns a Readyz starting in the not-ready state.
func NewReadyz() *Readyz {
	r := &Readyz{probe: probe{asString: "/readyz", source: "main"}}
	r.probe.healthy = r.synced.Load
	return r
}

// MarkSynced flips Readyz to ready. It is idempotent and irreversible:
// once a store has been synced once, a later relist does not make the
// controller unready again, it only changes store contents.
func (r *Readyz) MarkSynced() { r.synced.Store(true) }

// Healthz is an always-on liveness probe mounted on the telemetry
// server, answering whether the process itself is up, independent of
// any controller state.
type Healthz struct {
	probe
}

// NewHealthz returns a Healthz that is always healthy for as long as
// the process serving it is alive to answer the request at all.
func NewHealthz() *Healthz {
	h := &Healthz{probe: probe{asString: "/healthz", source: "self"}}
	h.probe.healthy = func() bool { return true }
	return h
}
