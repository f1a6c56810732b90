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

// Package controllermetrics registers the Prometheus collectors a
// running Controller exposes: queue depth, reconcile outcomes and
// duration, watcher desync counts, and root store size. It is kept
// separate from controller.Controller itself so that instrumenting a
// controller is opt-in, the way the teacher's telemetry registry is
// built up alongside its controller rather than inside it.
package controllermetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors a Controller reports through. Callers
// register Registry with their own telemetry HTTP server.
type Metrics struct {
	Registry *prometheus.Registry

	QueueDepth         prometheus.Gauge
	QueueRequeues      prometheus.Counter
	ReconcileTotal      *prometheus.CounterVec
	ReconcileDuration   *prometheus.HistogramVec
	WatcherDesyncTotal  prometheus.Counter
	WatcherRelistTotal  prometheus.Counter
	StoreSize          prometheus.Gauge
}

// New builds a Metrics bundle and a fresh registry carrying it plus the
// standard Go/process collectors, namespaced under namespace (typically
// the controller's snake_case name).
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace, ReportErrors: true}),
	)

	m := &Metrics{
		Registry: registry,
		QueueDepth: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of keys currently queued for reconciliation, ready or delayed.",
		}),
		QueueRequeues: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "requeues_total",
			Help:      "Total number of times a key was re-added to the queue after a failed reconcile.",
		}),
		ReconcileTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "total",
			Help:      "Total reconcile attempts, labeled by outcome.",
		}, []string{"result"}),
		ReconcileDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconcile call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		WatcherDesyncTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "desync_total",
			Help:      "Total number of 410 Gone/Expired desyncs observed, each followed by a relist.",
		}),
		WatcherRelistTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "relist_total",
			Help:      "Total number of list calls issued, including the initial one and every desync-triggered relist.",
		}),
		StoreSize: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "size",
			Help:      "Number of objects currently held in the root store.",
		}),
	}
	return m
}

// ObserveReconcile records one reconcile attempt's outcome and latency.
func (m *Metrics) ObserveReconcile(result string, d time.Duration) {
	m.ReconcileTotal.WithLabelValues(result).Inc()
	m.ReconcileDuration.WithLabelValues(result).Observe(d.Seconds())
}
