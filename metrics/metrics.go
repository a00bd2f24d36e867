// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes publisher metrics to Prometheus.
//
// A nil *Collector is valid and records nothing, so packages can accept one
// unconditionally.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "opcpublisher"

// Collector holds the publisher metrics.
type Collector struct {
	// Complex types
	typesLoaded      prometheus.Gauge
	typesUnresolved  prometheus.Gauge
	typesRejected    *prometheus.CounterVec // by reason
	typeLoadDuration prometheus.Histogram

	// Subscriptions
	reconcileItems      *prometheus.CounterVec // by operation
	reconcileErrors     *prometheus.CounterVec // by operation
	sequenceGaps        prometheus.Counter
	sequenceResets      prometheus.Counter
	subscriptionsOnline prometheus.Gauge
	monitoredItems      prometheus.Gauge
	notifications       prometheus.Counter

	// Sessions
	sessionRefs     *prometheus.GaugeVec   // by connection key
	sessionConnects *prometheus.CounterVec // by connection key and result
	connectDuration prometheus.Histogram

	// NATS bridge
	bridgeRequests *prometheus.CounterVec // by operation and result
}

// New creates the collectors and registers them with reg. A nil reg
// registers nothing.
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		typesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "types",
			Name:      "loaded",
			Help:      "Number of complex types registered for the session",
		}),
		typesUnresolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "types",
			Name:      "unresolved",
			Help:      "Number of data types left unresolved by the last load",
		}),
		typesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "types",
			Name:      "rejected_total",
			Help:      "Data type definitions rejected by validation or the builder",
		}, []string{"reason"}),
		typeLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "types",
			Name:      "load_duration_seconds",
			Help:      "Duration of complex type loads",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		reconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconciled_items_total",
			Help:      "Monitored items applied to subscriptions",
		}, []string{"operation"}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconcile_errors_total",
			Help:      "Failed monitored item operations",
		}, []string{"operation"}),
		sequenceGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "sequence_gaps_total",
			Help:      "Notification sequence gaps detected",
		}),
		sequenceResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "sequence_resets_total",
			Help:      "Sequence tracking resets caused by a new subscription id",
		}),
		subscriptionsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "online",
			Help:      "Number of subscriptions in the online state",
		}),
		monitoredItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "monitored_items",
			Help:      "Number of monitored items applied on the server",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "notifications_total",
			Help:      "Data change notifications received",
		}),

		sessionRefs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "references",
			Help:      "Outstanding handles per shared session",
		}, []string{"key"}),
		sessionConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Session connect attempts",
		}, []string{"key", "result"}),
		connectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_duration_seconds",
			Help:      "Duration of session connects",
			Buckets:   prometheus.DefBuckets,
		}),

		bridgeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "NATS bridge requests handled",
		}, []string{"operation", "result"}),
	}

	if reg == nil {
		return c, nil
	}

	for _, col := range []prometheus.Collector{
		c.typesLoaded, c.typesUnresolved, c.typesRejected, c.typeLoadDuration,
		c.reconcileItems, c.reconcileErrors, c.sequenceGaps, c.sequenceResets,
		c.subscriptionsOnline, c.monitoredItems, c.notifications,
		c.sessionRefs, c.sessionConnects, c.connectDuration,
		c.bridgeRequests,
	} {
		if err := reg.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics: collector already registered: %w", err)
			}
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// TypesLoaded records the outcome of a complex type load.
func (c *Collector) TypesLoaded(registered, unresolved int, d time.Duration) {
	if c == nil {
		return
	}
	c.typesLoaded.Set(float64(registered))
	c.typesUnresolved.Set(float64(unresolved))
	c.typeLoadDuration.Observe(d.Seconds())
}

// TypeRejected counts a rejected definition.
func (c *Collector) TypeRejected(reason string) {
	if c == nil {
		return
	}
	c.typesRejected.WithLabelValues(reason).Inc()
}

// ItemsApplied counts monitored items applied by a reconcile.
func (c *Collector) ItemsApplied(op string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.reconcileItems.WithLabelValues(op).Add(float64(n))
}

// ApplyFailed counts a failed monitored item operation.
func (c *Collector) ApplyFailed(op string) {
	if c == nil {
		return
	}
	c.reconcileErrors.WithLabelValues(op).Inc()
}

// SequenceGap counts a detected gap in notification sequence numbers.
func (c *Collector) SequenceGap() {
	if c == nil {
		return
	}
	c.sequenceGaps.Inc()
}

// SequenceReset counts a sequence reset caused by a new subscription id.
func (c *Collector) SequenceReset() {
	if c == nil {
		return
	}
	c.sequenceResets.Inc()
}

// SubscriptionOnline adjusts the online subscription gauge.
func (c *Collector) SubscriptionOnline(online bool) {
	if c == nil {
		return
	}
	if online {
		c.subscriptionsOnline.Inc()
		return
	}
	c.subscriptionsOnline.Dec()
}

// MonitoredItems adjusts the applied monitored item gauge by delta.
func (c *Collector) MonitoredItems(delta int) {
	if c == nil || delta == 0 {
		return
	}
	c.monitoredItems.Add(float64(delta))
}

// Notification counts a received data change notification.
func (c *Collector) Notification() {
	if c == nil {
		return
	}
	c.notifications.Inc()
}

// SessionRefs sets the outstanding handle count for a connection key.
func (c *Collector) SessionRefs(key string, refs int) {
	if c == nil {
		return
	}
	c.sessionRefs.WithLabelValues(key).Set(float64(refs))
}

// SessionConnect records a connect attempt.
func (c *Collector) SessionConnect(key string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.sessionConnects.WithLabelValues(key, result).Inc()
	c.connectDuration.Observe(d.Seconds())
}

// BridgeRequest counts a NATS bridge request.
func (c *Collector) BridgeRequest(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.bridgeRequests.WithLabelValues(op, result).Inc()
}
