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

package subscription

import (
	"log/slog"
	"time"

	"github.com/edgeo-scada/opcpublisher/metrics"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger            *slog.Logger
	metrics           *metrics.Collector
	onEvent           func(Event)
	heartbeatInterval time.Duration
	parallelism       int
	lifetimeCount     uint32
	maxKeepAliveCount uint32
	priority          uint8
}

func defaultOptions() *options {
	return &options{
		logger:            slog.Default(),
		onEvent:           func(Event) {},
		heartbeatInterval: time.Second,
		parallelism:       4,
		lifetimeCount:     10000,
		maxKeepAliveCount: 10,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithEventHandler sets the function receiving forwarded values. It must
// not block.
func WithEventHandler(fn func(Event)) Option {
	return func(o *options) {
		if fn != nil {
			o.onEvent = fn
		}
	}
}

// WithHeartbeatResolution sets how often heartbeats are checked. Values
// <= 0 are ignored.
func WithHeartbeatResolution(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithSyncParallelism bounds the subscriptions synced at once by SyncAll.
func WithSyncParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithLifetimeCount sets the lifetime count of created subscriptions.
func WithLifetimeCount(count uint32) Option {
	return func(o *options) {
		o.lifetimeCount = count
	}
}

// WithMaxKeepAliveCount sets the max keep alive count of created
// subscriptions.
func WithMaxKeepAliveCount(count uint32) Option {
	return func(o *options) {
		o.maxKeepAliveCount = count
	}
}

// WithPriority sets the priority of created subscriptions.
func WithPriority(priority uint8) Option {
	return func(o *options) {
		o.priority = priority
	}
}
