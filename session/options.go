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

package session

import (
	"log/slog"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/metrics"
)

// Option configures a Holder.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	metrics        *metrics.Collector
	idleTimeout    time.Duration
	connectTimeout time.Duration
	closeTimeout   time.Duration
	onStateChange  func(key string, state opcua.ConnectionState)
}

func defaultOptions() *options {
	return &options{
		logger:        slog.Default(),
		closeTimeout:  5 * time.Second,
		onStateChange: func(string, opcua.ConnectionState) {},
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

// WithIdleTimeout keeps a session open for d after its last handle is
// released. Zero disconnects immediately.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithConnectTimeout bounds the background connect started by Acquire.
// Zero means no bound.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithCloseTimeout bounds closing a session that is no longer used.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

// WithOnStateChange sets a callback invoked on every state transition of a
// session. It is called with the session lock held and must not block.
func WithOnStateChange(fn func(key string, state opcua.ConnectionState)) Option {
	return func(o *options) {
		if fn != nil {
			o.onStateChange = fn
		}
	}
}
