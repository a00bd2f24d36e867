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

// Package typesystem resolves server defined enumerations and structures
// into runtime type descriptors and encodes values of those types.
package typesystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/metrics"
)

// ComplexTypeSystem loads the complex data types of one server.
type ComplexTypeSystem struct {
	source   NodeSource
	resolver *Resolver
	builder  *Builder
	registry *Registry
	codec    *Codec
	opts     *options
	logger   *slog.Logger
	metrics  *metrics.Collector

	loadMu sync.Mutex
}

// New creates a type system reading from src.
func New(src NodeSource, opts ...Option) *ComplexTypeSystem {
	o := applyOptions(opts)
	reg := NewRegistry()
	return &ComplexTypeSystem{
		source:   src,
		resolver: NewResolver(src, opts...),
		builder:  NewBuilder(reg, src, opts...),
		registry: reg,
		codec:    NewCodec(reg),
		opts:     o,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Registry returns the registry of loaded types.
func (s *ComplexTypeSystem) Registry() *Registry { return s.registry }

// Codec returns a codec over the loaded types.
func (s *ComplexTypeSystem) Codec() *Codec { return s.codec }

// Load resolves every enumeration and structure on the server, excluding
// namespace 0 unless WithNamespaceZero is set. It reports whether all of
// them were loaded.
func (s *ComplexTypeSystem) Load(ctx context.Context) (bool, error) {
	return s.loadBrowsed(ctx, func(n DataTypeNode) bool {
		return s.opts.includeNamespace0 || n.NodeID.Namespace != 0
	})
}

// LoadNamespace resolves the types of the namespace with the given URI.
func (s *ComplexTypeSystem) LoadNamespace(ctx context.Context, uri string) (bool, error) {
	namespaces, err := s.source.NamespaceArray(ctx)
	if err != nil {
		return false, fmt.Errorf("read namespace array: %w", err)
	}
	idx := -1
	for i, ns := range namespaces {
		if ns == uri {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("namespace %q not found on server", uri)
	}
	return s.loadBrowsed(ctx, func(n DataTypeNode) bool {
		return int(n.NodeID.Namespace) == idx
	})
}

// LoadType resolves one data type and its dependencies.
func (s *ComplexTypeSystem) LoadType(ctx context.Context, id opcua.NodeID) (bool, error) {
	if _, ok := s.registry.Lookup(id); ok {
		return true, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.load(ctx, []DataTypeNode{s.resolver.Node(id)})
}

func (s *ComplexTypeSystem) loadBrowsed(ctx context.Context, keep func(DataTypeNode) bool) (bool, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	nodes, err := s.resolver.Browse(ctx)
	if err != nil {
		return false, err
	}
	selected := nodes[:0:0]
	for _, n := range nodes {
		if keep(n) {
			selected = append(selected, n)
		}
	}
	return s.load(ctx, selected)
}

// load reads definitions for nodes, builds them, and fetches missing
// dependencies until nothing new turns up or MaxLoopCount rounds ran.
func (s *ComplexTypeSystem) load(ctx context.Context, nodes []DataTypeNode) (bool, error) {
	start := time.Now()

	attempted := make(map[opcua.NodeID]bool, len(nodes))
	for _, n := range nodes {
		attempted[n.NodeID] = true
	}
	pending, unavailable, err := s.definitions(ctx, nodes)
	if err != nil {
		return false, err
	}

	var (
		unresolved []opcua.NodeID
		rejected   []opcua.NodeID
	)
	for loop := 0; loop < MaxLoopCount; loop++ {
		res, err := s.builder.Build(ctx, pending)
		var nf *opcua.DataTypeNotFoundError
		if err != nil && !errors.As(err, &nf) {
			return false, err
		}
		rejected = append(rejected, res.Rejected...)
		unresolved = res.Unresolved
		pending = s.stillPending(pending, res.Rejected)
		if nf == nil {
			break
		}

		var next []DataTypeNode
		for _, id := range nf.NodeIDs {
			if attempted[id] {
				continue
			}
			attempted[id] = true
			next = append(next, s.resolver.Node(id))
		}
		if len(next) == 0 {
			break
		}
		more, missing, err := s.definitions(ctx, next)
		if err != nil {
			return false, err
		}
		unavailable = append(unavailable, missing...)
		if len(more) == 0 {
			break
		}
		pending = append(pending, more...)
	}

	failed := make([]opcua.NodeID, 0, len(unresolved)+len(unavailable)+len(rejected))
	failed = append(failed, unresolved...)
	failed = append(failed, unavailable...)
	failed = append(failed, rejected...)
	sort.Slice(failed, func(i, j int) bool { return failed[i].Less(failed[j]) })

	s.metrics.TypesLoaded(s.registry.Len(), len(failed), time.Since(start))
	s.logger.Info("complex types loaded",
		slog.Int("registered", s.registry.Len()),
		slog.Int("unresolved", len(unresolved)),
		slog.Int("unavailable", len(unavailable)),
		slog.Int("rejected", len(rejected)),
		slog.Duration("elapsed", time.Since(start)))

	if len(failed) == 0 {
		return true, nil
	}
	if s.opts.throwOnError {
		return false, fmt.Errorf("%w: %w", opcua.ErrTypesNotFullyLoaded, &opcua.DataTypeNotFoundError{NodeIDs: failed})
	}
	return false, nil
}

// stillPending drops registered and rejected definitions.
func (s *ComplexTypeSystem) stillPending(defs []*DataTypeDefinition, rejected []opcua.NodeID) []*DataTypeDefinition {
	drop := make(map[opcua.NodeID]bool, len(rejected))
	for _, id := range rejected {
		drop[id] = true
	}
	out := defs[:0:0]
	for _, d := range defs {
		if drop[d.TypeID] {
			continue
		}
		if _, ok := s.registry.Lookup(d.TypeID); ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// definitions reads the definition of each node, falling back to the
// dictionaries when the attribute is unusable. An invalid attribute
// definition without a dictionary replacement is passed on so the builder
// rejects it. Nodes without any definition are returned as unavailable.
func (s *ComplexTypeSystem) definitions(ctx context.Context, nodes []DataTypeNode) ([]*DataTypeDefinition, []opcua.NodeID, error) {
	var (
		out         []*DataTypeDefinition
		unavailable []opcua.NodeID
	)
	for _, n := range nodes {
		if _, ok := s.registry.Lookup(n.NodeID); ok {
			continue
		}
		def, err := s.resolver.Definition(ctx, n)
		if err == nil {
			out = append(out, def)
			continue
		}
		if !errors.Is(err, opcua.ErrDefinitionUnavailable) {
			return nil, nil, err
		}

		if !s.opts.disableDictionary {
			dd, ok, derr := s.resolver.DictionaryDefinition(ctx, n.NodeID)
			if derr != nil {
				return nil, nil, derr
			}
			if ok {
				out = append(out, dd)
				continue
			}
		}
		if def != nil {
			out = append(out, def)
			continue
		}
		s.logger.Debug("no definition for data type",
			slog.String("type", n.NodeID.String()),
			slog.Any("error", err))
		unavailable = append(unavailable, n.NodeID)
	}
	return out, unavailable, nil
}
