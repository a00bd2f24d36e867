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

package typesystem

import (
	"log/slog"

	"github.com/edgeo-scada/opcpublisher/metrics"
)

// Option configures a ComplexTypeSystem and its Builder.
type Option func(*options)

type options struct {
	logger            *slog.Logger
	metrics           *metrics.Collector
	disableDictionary bool
	throwOnError      bool
	includeNamespace0 bool
}

func defaultOptions() *options {
	return &options{
		logger: slog.Default(),
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
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

// WithDisableDictionary turns off the fallback to binary and XML schema
// dictionaries when a DataTypeDefinition attribute is unusable.
func WithDisableDictionary(disable bool) Option {
	return func(o *options) {
		o.disableDictionary = disable
	}
}

// WithThrowOnError makes Load return ErrTypesNotFullyLoaded instead of
// false when some types stay unresolved.
func WithThrowOnError(throw bool) Option {
	return func(o *options) {
		o.throwOnError = throw
	}
}

// WithNamespaceZero includes the standard namespace when browsing for
// types. By default namespace 0 types are only loaded on demand, as
// dependencies of server types.
func WithNamespaceZero(include bool) Option {
	return func(o *options) {
		o.includeNamespace0 = include
	}
}
