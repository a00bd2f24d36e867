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
	"log/slog"
	"sort"
	"sync"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/metrics"
)

// MaxLoopCount bounds every retry loop of the type system: builder passes,
// supertype walks and dependency fetches.
const MaxLoopCount = 100

const abstractStructureReason = "Invalid definition of a abstract subtype of a structure"

// SuperTyper resolves the direct supertype of a data type.
type SuperTyper interface {
	SuperType(ctx context.Context, id opcua.NodeID) (opcua.NodeID, error)
}

// BuildResult summarizes one Build call.
type BuildResult struct {
	// Built holds the descriptors registered by this call.
	Built []*TypeDescriptor
	// Unresolved holds structures whose dependencies never resolved.
	Unresolved []opcua.NodeID
	// Rejected holds definitions that failed validation or use an
	// unsupported shape.
	Rejected []opcua.NodeID
	// Missing holds dependencies that were not part of the batch.
	Missing []opcua.NodeID
}

// Builder turns definitions into registered type descriptors.
type Builder struct {
	registry *Registry
	source   SuperTyper
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu         sync.Mutex
	supertypes map[opcua.NodeID]opcua.NodeID
}

// NewBuilder creates a builder that registers into reg and walks supertypes
// through src.
func NewBuilder(reg *Registry, src SuperTyper, opts ...Option) *Builder {
	o := applyOptions(opts)
	return &Builder{
		registry:   reg,
		source:     src,
		logger:     o.logger,
		metrics:    o.metrics,
		supertypes: make(map[opcua.NodeID]opcua.NodeID),
	}
}

// Build registers enumerations first, then structures in passes until no
// pass makes progress or MaxLoopCount passes ran. Rejected definitions are
// logged and skipped. When some structures depend on types outside defs,
// Build returns the partial result with a *opcua.DataTypeNotFoundError
// naming them.
func (b *Builder) Build(ctx context.Context, defs []*DataTypeDefinition) (*BuildResult, error) {
	res := &BuildResult{}

	var structs []*DataTypeDefinition
	for _, d := range defs {
		if _, ok := b.registry.Lookup(d.TypeID); ok {
			continue
		}
		switch d.Kind {
		case DefinitionEnum:
			if err := d.Validate(); err != nil {
				b.reject(res, d, err)
				continue
			}
			stored, _ := b.registry.Add(buildEnum(d))
			res.Built = append(res.Built, stored)
		case DefinitionStructure:
			structs = append(structs, d)
		default:
			b.reject(res, d, d.Validate())
		}
	}

	// Namespace index first, declaration order within a namespace.
	sort.SliceStable(structs, func(i, j int) bool {
		return structs[i].TypeID.Namespace < structs[j].TypeID.Namespace
	})

	pending := structs
	deps := make(map[opcua.NodeID][]opcua.NodeID)
	for loop := 0; loop < MaxLoopCount && len(pending) > 0; loop++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var retry []*DataTypeDefinition
		for _, d := range pending {
			desc, unresolved, err := b.buildStructure(ctx, d)
			switch {
			case isRejection(err):
				b.reject(res, d, err)
			case err != nil:
				return res, err
			case len(unresolved) > 0:
				deps[d.TypeID] = unresolved
				retry = append(retry, d)
			default:
				delete(deps, d.TypeID)
				stored, _ := b.registry.Add(desc)
				res.Built = append(res.Built, stored)
			}
		}

		progress := len(retry) < len(pending)
		pending = retry
		if !progress {
			break
		}
	}

	inBatch := make(map[opcua.NodeID]bool, len(pending))
	for _, d := range pending {
		inBatch[d.TypeID] = true
		res.Unresolved = append(res.Unresolved, d.TypeID)
	}
	seen := make(map[opcua.NodeID]bool)
	for _, d := range pending {
		for _, id := range deps[d.TypeID] {
			if inBatch[id] || seen[id] {
				continue
			}
			seen[id] = true
			res.Missing = append(res.Missing, id)
		}
	}

	if len(res.Unresolved) > 0 {
		b.logger.Debug("structures left unresolved",
			slog.Int("count", len(res.Unresolved)),
			slog.Int("missing", len(res.Missing)))
	}
	if len(res.Missing) > 0 {
		sort.Slice(res.Missing, func(i, j int) bool { return res.Missing[i].Less(res.Missing[j]) })
		return res, &opcua.DataTypeNotFoundError{NodeIDs: res.Missing}
	}
	return res, nil
}

func buildEnum(d *DataTypeDefinition) *TypeDescriptor {
	desc := &TypeDescriptor{
		ID:               d.TypeID,
		Name:             d.Name,
		Kind:             KindEnum,
		BaseType:         opcua.NewNumericNodeID(0, opcua.IDEnumeration),
		BinaryEncodingID: d.BinaryEncodingID,
		XMLEncodingID:    d.XMLEncodingID,
		Source:           d.Source,
		Values:           make([]EnumValue, len(d.Enum.Fields)),
	}
	for i, f := range d.Enum.Fields {
		desc.Values[i] = EnumValue{Name: f.Name, Value: f.Value}
	}
	return desc
}

// buildStructure returns either a descriptor, the field types that are
// not resolvable yet, or a rejection error.
func (b *Builder) buildStructure(ctx context.Context, d *DataTypeDefinition) (*TypeDescriptor, []opcua.NodeID, error) {
	if s := d.Structure; s != nil {
		for _, f := range s.Fields {
			if f.ValueRank != opcua.ValueRankScalar && f.ValueRank < opcua.ValueRankOneDimension {
				return nil, nil, &opcua.DataTypeNotSupportedError{TypeID: d.TypeID, Field: f.Name, ValueRank: f.ValueRank}
			}
		}
	}
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	s := d.Structure

	desc := &TypeDescriptor{
		ID:               d.TypeID,
		Name:             d.Name,
		Kind:             structureKind(s.StructureType),
		BaseType:         s.BaseDataType,
		BinaryEncodingID: d.BinaryEncodingID,
		XMLEncodingID:    d.XMLEncodingID,
		Source:           d.Source,
		Fields:           make([]FieldDescriptor, 0, len(s.Fields)),
	}
	allowSubTypes := s.StructureType.AllowSubTypes()

	var unresolved []opcua.NodeID
	for _, f := range s.Fields {
		fd := FieldDescriptor{
			Name:            f.Name,
			DataType:        f.DataType,
			Optional:        f.IsOptional && s.StructureType == StructureTypeStructureWithOptionalFields,
			ValueRank:       f.ValueRank,
			ArrayDimensions: f.ArrayDimensions,
		}

		switch {
		case f.ValueRank == opcua.ValueRankScalar:
			fd.Shape = ShapeScalar
		case f.ValueRank == opcua.ValueRankOneDimension:
			fd.Shape = ShapeSequence
		default:
			fd.Shape = ShapeMatrix
		}

		if f.DataType == d.TypeID {
			fd.Recursive = true
			desc.Fields = append(desc.Fields, fd)
			continue
		}
		if bt, ok := directBuiltin(f.DataType); ok {
			fd.Builtin = bt
			desc.Fields = append(desc.Fields, fd)
			continue
		}
		if t, ok := b.registry.Lookup(f.DataType); ok {
			fd.Type = t
			desc.Fields = append(desc.Fields, fd)
			continue
		}

		super, err := b.builtinSuperType(ctx, d.TypeID, f.DataType, allowSubTypes, f.IsOptional)
		if err != nil {
			var nf *opcua.DataTypeNotFoundError
			if errors.As(err, &nf) {
				unresolved = append(unresolved, f.DataType)
				continue
			}
			return nil, nil, err
		}
		switch {
		case super == nil:
			unresolved = append(unresolved, f.DataType)
			continue
		case *super == structureID:
			fd.Abstract = true
			fd.Builtin = opcua.TypeExtensionObject
		default:
			fd.Builtin, _ = opcua.BuiltinType(*super)
		}
		desc.Fields = append(desc.Fields, fd)
	}

	if len(unresolved) > 0 {
		return nil, unresolved, nil
	}
	return desc, nil, nil
}

var (
	structureID    = opcua.NewNumericNodeID(0, opcua.IDStructure)
	enumerationID  = opcua.NewNumericNodeID(0, opcua.IDEnumeration)
	baseDataTypeID = opcua.NewNumericNodeID(0, opcua.IDBaseDataType)
)

// directBuiltin maps a field data type to a built-in type without walking
// the hierarchy. Structure (i=22) is excluded: it is the abstract base of
// all structures, not a concrete field type.
func directBuiltin(id opcua.NodeID) (opcua.TypeID, bool) {
	if id == structureID {
		return opcua.TypeNull, false
	}
	return opcua.BuiltinType(id)
}

// builtinSuperType walks the supertype chain of dataType upward:
//   - Enumeration yields UInt32 for namespace 0 types and nil otherwise;
//   - Structure yields Structure when allowSubTypes and isOptional are both
//     set, an error when dataType is Structure itself, and nil otherwise;
//   - a namespace 0 built-in id yields that id;
//   - BaseDataType yields nil.
func (b *Builder) builtinSuperType(ctx context.Context, owner, dataType opcua.NodeID, allowSubTypes, isOptional bool) (*opcua.NodeID, error) {
	superType := dataType
	for i := 0; i < MaxLoopCount; i++ {
		if superType.Namespace == 0 && superType.Type == opcua.NodeIDTypeNumeric {
			switch superType {
			case baseDataTypeID:
				return nil, nil
			case enumerationID:
				if dataType.Namespace == 0 {
					u := opcua.TypeUInt32.NodeID()
					return &u, nil
				}
				return nil, nil
			case structureID:
				if dataType == structureID && !(allowSubTypes && isOptional) {
					return nil, &opcua.InvalidDefinitionError{TypeID: owner, Reason: abstractStructureReason}
				}
				if allowSubTypes && isOptional {
					s := structureID
					return &s, nil
				}
				return nil, nil
			}
			if _, ok := opcua.BuiltinType(superType); ok {
				found := superType
				return &found, nil
			}
		}

		next, err := b.superType(ctx, superType)
		if err != nil {
			return nil, err
		}
		if next.IsNull() {
			return nil, nil
		}
		superType = next
	}
	return nil, nil
}

func (b *Builder) superType(ctx context.Context, id opcua.NodeID) (opcua.NodeID, error) {
	b.mu.Lock()
	st, ok := b.supertypes[id]
	b.mu.Unlock()
	if ok {
		return st, nil
	}
	if b.source == nil {
		return opcua.NodeID{}, &opcua.DataTypeNotFoundError{NodeIDs: []opcua.NodeID{id}}
	}

	st, err := b.source.SuperType(ctx, id)
	if err != nil {
		return opcua.NodeID{}, err
	}
	b.mu.Lock()
	b.supertypes[id] = st
	b.mu.Unlock()
	return st, nil
}

func (b *Builder) reject(res *BuildResult, d *DataTypeDefinition, err error) {
	res.Rejected = append(res.Rejected, d.TypeID)
	reason := "invalid"
	var ns *opcua.DataTypeNotSupportedError
	if errors.As(err, &ns) {
		reason = "not_supported"
	}
	b.metrics.TypeRejected(reason)
	b.logger.Warn("skipping data type definition",
		slog.String("type", d.TypeID.String()),
		slog.String("name", d.Name),
		slog.String("reason", reason),
		slog.Any("error", err))
}

func isRejection(err error) bool {
	if err == nil {
		return false
	}
	var inv *opcua.InvalidDefinitionError
	var ns *opcua.DataTypeNotSupportedError
	return errors.As(err, &inv) || errors.As(err, &ns)
}

func structureKind(st StructureType) Kind {
	switch st {
	case StructureTypeStructureWithOptionalFields:
		return KindStructureWithOptionalFields
	case StructureTypeUnion, StructureTypeUnionWithSubtypedValues:
		return KindUnion
	default:
		return KindStructure
	}
}
