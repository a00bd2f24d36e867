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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcpublisher"
)

func TestBuilderSelfRecursiveStructure(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())

	tree := structDef(100, "Tree", StructureTypeStructure,
		scalar("Name", opcua.TypeString.NodeID()),
		sequence("Children", ns2(100)),
	)

	res, err := b.Build(context.Background(), []*DataTypeDefinition{tree})
	require.NoError(t, err)
	require.Len(t, res.Built, 1)
	assert.Empty(t, res.Unresolved)

	desc, ok := reg.Lookup(ns2(100))
	require.True(t, ok)
	children, ok := desc.Field("Children")
	require.True(t, ok)
	assert.True(t, children.Recursive)
	assert.Equal(t, ShapeSequence, children.Shape)
	name, _ := desc.Field("Name")
	assert.Equal(t, opcua.TypeString, name.Builtin)
}

func TestBuilderResolvesOutOfOrderDependencies(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())

	// A needs B needs C, declared in reverse.
	a := structDef(1, "A", StructureTypeStructure, scalar("B", ns2(2)))
	bb := structDef(2, "B", StructureTypeStructure, scalar("C", ns2(3)))
	c := structDef(3, "C", StructureTypeStructure, scalar("V", opcua.TypeInt32.NodeID()))

	res, err := b.Build(context.Background(), []*DataTypeDefinition{a, bb, c})
	require.NoError(t, err)
	assert.Len(t, res.Built, 3)
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, 3, reg.Len())

	descA, _ := reg.Lookup(ns2(1))
	fb, _ := descA.Field("B")
	require.NotNil(t, fb.Type)
	assert.Equal(t, ns2(2), fb.Type.ID)
}

func TestBuilderIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())
	def := structDef(10, "Point", StructureTypeStructure,
		scalar("X", opcua.TypeDouble.NodeID()),
		scalar("Y", opcua.TypeDouble.NodeID()),
	)

	_, err := b.Build(context.Background(), []*DataTypeDefinition{def})
	require.NoError(t, err)
	first, _ := reg.Lookup(ns2(10))

	res, err := b.Build(context.Background(), []*DataTypeDefinition{def})
	require.NoError(t, err)
	assert.Empty(t, res.Built)

	second, _ := reg.Lookup(ns2(10))
	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Len())
}

func TestBuilderEnumsBeforeStructures(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())

	s := structDef(20, "Lamp", StructureTypeStructure, scalar("Color", ns2(21)))
	e := enumDef(21, "Color", "Red", "Green")

	_, err := b.Build(context.Background(), []*DataTypeDefinition{s, e})
	require.NoError(t, err)

	lamp, ok := reg.Lookup(ns2(20))
	require.True(t, ok)
	color, _ := lamp.Field("Color")
	require.NotNil(t, color.Type)
	assert.Equal(t, KindEnum, color.Type.Kind)
	assert.Equal(t, "Green", color.Type.EnumName(1))
}

func TestBuilderSuperTypeWalk(t *testing.T) {
	src := newFakeSource()
	nodeClass := opcua.NewNumericNodeID(0, 257)
	src.supers[nodeClass] = enumerationID
	duration := opcua.NewNumericNodeID(0, 290)
	src.supers[duration] = opcua.TypeDouble.NodeID()
	serverEnum := ns2(31)
	src.supers[serverEnum] = enumerationID
	number := opcua.NewNumericNodeID(0, 26)
	src.supers[number] = baseDataTypeID

	tests := []struct {
		name    string
		field   opcua.NodeID
		builtin opcua.TypeID
		missing bool
	}{
		{"namespace 0 enumeration", nodeClass, opcua.TypeUInt32, false},
		{"builtin subtype", duration, opcua.TypeDouble, false},
		{"base data type", baseDataTypeID, opcua.TypeVariant, false},
		{"server enumeration", serverEnum, opcua.TypeNull, true},
		{"abstract number", number, opcua.TypeNull, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			b := NewBuilder(reg, src)
			id := uint32(300 + i)
			def := structDef(id, "Holder", StructureTypeStructure, scalar("F", tt.field))

			res, err := b.Build(context.Background(), []*DataTypeDefinition{def})
			if tt.missing {
				var nf *opcua.DataTypeNotFoundError
				require.True(t, errors.As(err, &nf))
				assert.Equal(t, []opcua.NodeID{tt.field}, nf.NodeIDs)
				assert.Equal(t, []opcua.NodeID{ns2(id)}, res.Unresolved)
				return
			}
			require.NoError(t, err)
			desc, ok := reg.Lookup(ns2(id))
			require.True(t, ok)
			assert.Equal(t, tt.builtin, desc.Fields[0].Builtin)
		})
	}
}

func TestBuilderAbstractSubtypeMatrix(t *testing.T) {
	src := newFakeSource()
	derived := ns2(400)
	src.supers[derived] = structureID

	tests := []struct {
		name     string
		st       StructureType
		field    StructureField
		abstract bool
		rejected bool
		missing  bool
	}{
		{"structure field in plain structure", StructureTypeStructure, scalar("F", structureID), false, true, false},
		{"optional structure field without subtypes", StructureTypeStructureWithOptionalFields, optional(scalar("F", structureID)), false, true, false},
		{"non optional structure field with subtypes", StructureTypeStructureWithSubtypedValues, scalar("F", structureID), false, true, false},
		{"optional structure field with subtypes", StructureTypeStructureWithSubtypedValues, optional(scalar("F", structureID)), true, false, false},
		{"union field with subtypes", StructureTypeUnionWithSubtypedValues, optional(scalar("F", structureID)), true, false, false},
		{"derived structure with subtypes", StructureTypeStructureWithSubtypedValues, optional(scalar("F", derived)), true, false, false},
		{"derived structure without subtypes", StructureTypeStructure, scalar("F", derived), false, false, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			b := NewBuilder(reg, src)
			id := uint32(500 + i)
			def := structDef(id, "Holder", tt.st, tt.field)

			res, err := b.Build(context.Background(), []*DataTypeDefinition{def})
			switch {
			case tt.rejected:
				require.NoError(t, err)
				assert.Equal(t, []opcua.NodeID{ns2(id)}, res.Rejected)
				_, ok := reg.Lookup(ns2(id))
				assert.False(t, ok)
			case tt.missing:
				var nf *opcua.DataTypeNotFoundError
				require.True(t, errors.As(err, &nf))
				assert.Equal(t, []opcua.NodeID{ns2(id)}, res.Unresolved)
			default:
				require.NoError(t, err)
				desc, ok := reg.Lookup(ns2(id))
				require.True(t, ok)
				assert.Equal(t, tt.abstract, desc.Fields[0].Abstract)
				assert.Equal(t, opcua.TypeExtensionObject, desc.Fields[0].Builtin)
			}
		})
	}
}

func TestBuilderRejectsUnsupportedValueRank(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())

	bad := structDef(600, "Bad", StructureTypeStructure, StructureField{
		Name: "Any", DataType: opcua.TypeInt32.NodeID(), ValueRank: opcua.ValueRankOneOrMoreDimensions,
	})
	good := structDef(601, "Good", StructureTypeStructure, StructureField{
		Name: "Grid", DataType: opcua.TypeInt32.NodeID(), ValueRank: 2,
	})

	res, err := b.Build(context.Background(), []*DataTypeDefinition{bad, good})
	require.NoError(t, err)
	assert.Equal(t, []opcua.NodeID{ns2(600)}, res.Rejected)

	desc, ok := reg.Lookup(ns2(601))
	require.True(t, ok)
	assert.Equal(t, ShapeMatrix, desc.Fields[0].Shape)

	_, _, buildErr := b.buildStructure(context.Background(), bad)
	var ns *opcua.DataTypeNotSupportedError
	require.True(t, errors.As(buildErr, &ns))
	assert.Equal(t, "Any", ns.Field)
}

func TestBuilderRejectsInvalidDefinitions(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())

	noEncoding := structDef(700, "NoEncoding", StructureTypeStructure, scalar("X", opcua.TypeInt32.NodeID()))
	noEncoding.BinaryEncodingID = opcua.NodeID{}
	unnamed := structDef(701, "Unnamed", StructureTypeStructure, scalar("", opcua.TypeInt32.NodeID()))
	emptyEnum := &DataTypeDefinition{Kind: DefinitionEnum, TypeID: ns2(702), Enum: &EnumDefinition{}}

	res, err := b.Build(context.Background(), []*DataTypeDefinition{noEncoding, unnamed, emptyEnum})
	require.NoError(t, err)
	assert.ElementsMatch(t, []opcua.NodeID{ns2(700), ns2(701), ns2(702)}, res.Rejected)
	assert.Equal(t, 0, reg.Len())
}
