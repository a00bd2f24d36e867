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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	opcua "github.com/edgeo-scada/opcpublisher"
)

type nameKey struct {
	ns   uint16
	name string
}

// Resolver discovers data types on a server and reads their definitions,
// from the DataTypeDefinition attribute or from schema dictionaries.
type Resolver struct {
	source            NodeSource
	logger            *slog.Logger
	disableDictionary bool

	mu         sync.Mutex
	byID       map[opcua.NodeID]DataTypeNode
	byName     map[nameKey]DataTypeNode
	dictLoaded bool
	dictDefs   map[opcua.NodeID]*DataTypeDefinition
}

// NewResolver creates a resolver reading from src.
func NewResolver(src NodeSource, opts ...Option) *Resolver {
	o := applyOptions(opts)
	return &Resolver{
		source:            src,
		logger:            o.logger,
		disableDictionary: o.disableDictionary,
		byID:              make(map[opcua.NodeID]DataTypeNode),
		byName:            make(map[nameKey]DataTypeNode),
	}
}

// Browse walks the HasSubtype hierarchy breadth first below Enumeration and
// Structure. Enumerations come before structures. Namespace 0 nodes are
// included; callers filter them.
func (r *Resolver) Browse(ctx context.Context) ([]DataTypeNode, error) {
	enums, err := r.browseFrom(ctx, enumerationID)
	if err != nil {
		return nil, err
	}
	structs, err := r.browseFrom(ctx, structureID)
	if err != nil {
		return nil, err
	}
	return append(enums, structs...), nil
}

func (r *Resolver) browseFrom(ctx context.Context, root opcua.NodeID) ([]DataTypeNode, error) {
	var out []DataTypeNode
	seen := map[opcua.NodeID]bool{root: true}
	queue := []opcua.NodeID{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parent := queue[0]
		queue = queue[1:]

		children, err := r.source.BrowseSubtypes(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("browse subtypes of %s: %w", parent, err)
		}
		for _, c := range children {
			if seen[c.NodeID] {
				continue
			}
			seen[c.NodeID] = true
			out = append(out, c)
			queue = append(queue, c.NodeID)
			r.remember(c)
		}
	}
	return out, nil
}

func (r *Resolver) remember(n DataTypeNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[n.NodeID] = n
	if n.BrowseName.Name != "" {
		r.byName[nameKey{n.BrowseName.NamespaceIndex, n.BrowseName.Name}] = n
	}
}

// Node returns a node seen by Browse, or a bare node for unknown ids.
func (r *Resolver) Node(id opcua.NodeID) DataTypeNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.byID[id]; ok {
		return n
	}
	return DataTypeNode{NodeID: id}
}

// Definition reads and validates the DataTypeDefinition attribute of node.
// Every failure wraps opcua.ErrDefinitionUnavailable. When the attribute was
// read but is invalid, the definition is returned along with the error.
func (r *Resolver) Definition(ctx context.Context, node DataTypeNode) (*DataTypeDefinition, error) {
	def, err := r.source.ReadDefinition(ctx, node)
	if err != nil {
		if errors.Is(err, opcua.ErrDefinitionUnavailable) {
			return nil, err
		}
		if opcua.IsConnectivity(err) || opcua.IsSessionLost(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", opcua.ErrDefinitionUnavailable, err)
	}
	if def == nil {
		return nil, opcua.ErrDefinitionUnavailable
	}
	if def.Name == "" {
		def.Name = node.BrowseName.Name
	}
	if def.Kind == DefinitionStructure && def.Structure != nil && def.BinaryEncodingID.IsNull() {
		def.BinaryEncodingID = def.Structure.DefaultEncodingID
	}
	if err := def.Validate(); err != nil {
		return def, fmt.Errorf("%w: %w", opcua.ErrDefinitionUnavailable, err)
	}
	return def, nil
}

// DictionaryDefinition returns the definition of id found in the server's
// schema dictionaries. Dictionaries are read and parsed once.
func (r *Resolver) DictionaryDefinition(ctx context.Context, id opcua.NodeID) (*DataTypeDefinition, bool, error) {
	if r.disableDictionary {
		return nil, false, nil
	}
	defs, err := r.DictionaryDefinitions(ctx)
	if err != nil {
		return nil, false, err
	}
	d, ok := defs[id]
	return d, ok, nil
}

// DictionaryDefinitions reads the binary and XML schema dictionaries and
// binds their types to the browsed data type nodes by browse name. Binary
// dictionaries take precedence. Unreadable dictionaries are logged and
// skipped.
func (r *Resolver) DictionaryDefinitions(ctx context.Context) (map[opcua.NodeID]*DataTypeDefinition, error) {
	if r.disableDictionary {
		return nil, nil
	}

	r.mu.Lock()
	if r.dictLoaded {
		defs := r.dictDefs
		r.mu.Unlock()
		return defs, nil
	}
	browsed := len(r.byID) > 0
	r.mu.Unlock()

	if !browsed {
		if _, err := r.Browse(ctx); err != nil {
			return nil, err
		}
	}

	namespaces, err := r.source.NamespaceArray(ctx)
	if err != nil {
		return nil, fmt.Errorf("read namespace array: %w", err)
	}

	defs := make(map[opcua.NodeID]*DataTypeDefinition)
	systems := []struct {
		id    opcua.NodeID
		parse func([]byte) (*ParsedDictionary, error)
	}{
		{opcua.NewNumericNodeID(0, opcua.IDBinarySchemaTypeSystem), ParseBinaryDictionary},
		{opcua.NewNumericNodeID(0, opcua.IDXMLSchemaTypeSystem), ParseXMLDictionary},
	}
	for _, sys := range systems {
		dicts, err := r.source.ReadDictionaries(ctx, sys.id)
		if err != nil {
			if ctx.Err() != nil || opcua.IsConnectivity(err) {
				return nil, err
			}
			r.logger.Warn("reading dictionaries failed",
				slog.String("type_system", sys.id.String()),
				slog.Any("error", err))
			continue
		}
		for _, raw := range dicts {
			parsed, err := sys.parse(raw.Data)
			if err != nil {
				r.logger.Warn("skipping unparsable dictionary",
					slog.String("dictionary", raw.NodeID.String()),
					slog.Any("error", err))
				continue
			}
			if parsed.TargetNamespace == "" {
				parsed.TargetNamespace = raw.NamespaceURI
			}
			if err := r.bind(ctx, parsed, namespaces, defs); err != nil {
				return nil, err
			}
		}
	}

	r.mu.Lock()
	r.dictLoaded = true
	r.dictDefs = defs
	r.mu.Unlock()
	return defs, nil
}

// bind turns the named types of a parsed dictionary into definitions keyed
// by data type id. Types whose node or field types are unknown are skipped.
func (r *Resolver) bind(ctx context.Context, p *ParsedDictionary, namespaces []string, out map[opcua.NodeID]*DataTypeDefinition) error {
	nsIndex := func(uri string) (uint16, bool) {
		for i, ns := range namespaces {
			if ns == uri {
				return uint16(i), true
			}
		}
		return 0, false
	}

	target, ok := nsIndex(p.TargetNamespace)
	if !ok {
		r.logger.Debug("dictionary namespace not on server", slog.String("namespace", p.TargetNamespace))
		return nil
	}

	lookup := func(ns uint16, name string) (DataTypeNode, bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		n, ok := r.byName[nameKey{ns, name}]
		return n, ok
	}

	fieldType := func(n TypeName) (opcua.NodeID, bool) {
		if bt, ok := dictionaryBuiltin(n); ok {
			return bt.NodeID(), true
		}
		idx, ok := nsIndex(n.Namespace)
		if !ok {
			if n.Namespace == UATypesNamespace {
				idx = 0
			} else {
				idx = target
			}
		}
		node, ok := lookup(idx, n.Name)
		return node.NodeID, ok
	}

	for _, t := range p.Types {
		node, ok := lookup(target, t.Name)
		if !ok {
			continue
		}
		if _, dup := out[node.NodeID]; dup {
			continue
		}

		def := &DataTypeDefinition{
			Kind:   t.Kind,
			TypeID: node.NodeID,
			Name:   t.Name,
			Source: p.Source,
		}
		if t.Kind == DefinitionEnum {
			def.Enum = t.Enum
			out[node.NodeID] = def
			continue
		}

		bin, xml, err := r.source.Encodings(ctx, node.NodeID)
		if err != nil {
			if opcua.IsConnectivity(err) {
				return err
			}
			r.logger.Debug("no encodings for dictionary type",
				slog.String("type", node.NodeID.String()),
				slog.Any("error", err))
			continue
		}
		def.BinaryEncodingID = bin
		def.XMLEncodingID = xml

		base, err := r.source.SuperType(ctx, node.NodeID)
		if err != nil || base.IsNull() {
			base = structureID
		}
		sd := &StructureDefinition{
			DefaultEncodingID: bin,
			BaseDataType:      base,
			StructureType:     t.StructureType,
		}
		complete := true
		for _, f := range t.Fields {
			id, ok := fieldType(f.Type)
			if !ok {
				r.logger.Debug("unknown dictionary field type",
					slog.String("type", t.Name),
					slog.String("field", f.Name),
					slog.String("field_type", f.Type.String()))
				complete = false
				break
			}
			sd.Fields = append(sd.Fields, StructureField{
				Name:       f.Name,
				DataType:   id,
				ValueRank:  f.ValueRank,
				IsOptional: f.IsOptional,
			})
		}
		if !complete {
			continue
		}
		def.Structure = sd
		out[node.NodeID] = def
	}
	return nil
}
