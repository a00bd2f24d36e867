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

package publisher

import (
	"log/slog"
	"time"

	"github.com/edgeo-scada/opcpublisher/metrics"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

// Option configures a Publisher.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	metrics        *metrics.Collector
	sink           func(Message)
	idleTimeout    time.Duration
	connectTimeout time.Duration
	resyncInterval time.Duration
	loadTypes      bool
	typeOpts       []typesystem.Option
	subOpts        []subscription.Option
}

func defaultOptions() *options {
	return &options{
		logger:         slog.Default(),
		sink:           func(Message) {},
		idleTimeout:    10 * time.Second,
		connectTimeout: 30 * time.Second,
		resyncInterval: 5 * time.Second,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector shared by every component.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSink sets the function receiving messages. It is called from the
// session's delivery goroutine and must not block.
func WithSink(fn func(Message)) Option {
	return func(o *options) {
		if fn != nil {
			o.sink = fn
		}
	}
}

// WithIdleTimeout keeps unused sessions open for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithConnectTimeout bounds session connects.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithResyncInterval sets how often sessions are checked and pending
// items retried.
func WithResyncInterval(d time.Duration) Option {
	return func(o *options) {
		o.resyncInterval = d
	}
}

// WithTypes loads the complex types of every server items are published
// from, so structure values are decoded.
func WithTypes(opts ...typesystem.Option) Option {
	return func(o *options) {
		o.loadTypes = true
		o.typeOpts = opts
	}
}

// WithSubscriptionOptions passes options to the subscription manager.
func WithSubscriptionOptions(opts ...subscription.Option) Option {
	return func(o *options) {
		o.subOpts = append(o.subOpts, opts...)
	}
}
