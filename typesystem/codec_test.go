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

// demoTypes registers Color, Point, Shape (optional fields), Reading
// (union), Tree (recursive) and Envelope (abstract payload).
func demoTypes(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	b := NewBuilder(reg, newFakeSource())
	defs := []*DataTypeDefinition{
		enumDef(1, "Color", "Red", "Green", "Blue"),
		structDef(2, "Point", StructureTypeStructure,
			scalar("X", opcua.TypeDouble.NodeID()),
			scalar("Y", opcua.TypeDouble.NodeID()),
		),
		structDef(3, "Shape", StructureTypeStructureWithOptionalFields,
			sequence("Points", ns2(2)),
			optional(scalar("Label", opcua.TypeString.NodeID())),
			optional(scalar("Weight", opcua.TypeFloat.NodeID())),
			scalar("Color", ns2(1)),
		),
		structDef(4, "Reading", StructureTypeUnion,
			scalar("Number", opcua.TypeDouble.NodeID()),
			scalar("Text", opcua.TypeString.NodeID()),
		),
		structDef(5, "Tree", StructureTypeStructure,
			scalar("Name", opcua.TypeString.NodeID()),
			sequence("Children", ns2(5)),
		),
		structDef(6, "Envelope", StructureTypeStructureWithSubtypedValues,
			scalar("Seq", opcua.TypeUInt32.NodeID()),
			optional(scalar("Payload", structureID)),
		),
		structDef(7, "Grid", StructureTypeStructure,
			StructureField{Name: "Cells", DataType: opcua.TypeInt16.NodeID(), ValueRank: 2},
		),
	}
	_, err := b.Build(context.Background(), defs)
	require.NoError(t, err)
	require.Equal(t, len(defs), reg.Len())
	return reg
}

func mustType(t *testing.T, reg *Registry, id uint32) *TypeDescriptor {
	t.Helper()
	desc, ok := reg.Lookup(ns2(id))
	require.True(t, ok)
	return desc
}

func TestCodecStructureRoundTrip(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	point := mustType(t, reg, 2)

	in := NewStructure(point).Set("X", 1.5).Set("Y", -2.0)
	data, err := c.Encode(in)
	require.NoError(t, err)
	assert.Len(t, data, 16)

	out, err := c.Decode(point, data)
	require.NoError(t, err)
	assert.Equal(t, in.Fields, out.Fields)
}

func TestCodecOptionalFields(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	shape := mustType(t, reg, 3)
	point := mustType(t, reg, 2)

	in := NewStructure(shape).
		Set("Points", []interface{}{
			NewStructure(point).Set("X", 0.0).Set("Y", 1.0),
		}).
		Set("Weight", float32(2.5)).
		Set("Color", int32(2))

	data, err := c.Encode(in)
	require.NoError(t, err)
	// Label is bit 0 and absent, Weight is bit 1 and present.
	assert.Equal(t, []byte{0x02, 0, 0, 0}, data[:4])

	out, err := c.Decode(shape, data)
	require.NoError(t, err)
	_, hasLabel := out.Get("Label")
	assert.False(t, hasLabel)
	weight, _ := out.Get("Weight")
	assert.Equal(t, float32(2.5), weight)
	color, _ := out.Get("Color")
	assert.Equal(t, int32(2), color)

	points, _ := out.Get("Points")
	require.Len(t, points, 1)
	p := points.([]interface{})[0].(*Structure)
	assert.Equal(t, 1.0, p.Fields["Y"])
}

func TestCodecMissingMandatoryField(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)

	_, err := c.Encode(NewStructure(mustType(t, reg, 2)).Set("X", 1.0))
	assert.True(t, errors.Is(err, opcua.ErrInvalidMessage))
}

func TestCodecUnion(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	reading := mustType(t, reg, 4)

	data, err := c.Encode(NewStructure(reading).Set("Text", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0, 0, 0, 0x02, 0, 0, 0, 'h', 'i'}, data)

	out, err := c.Decode(reading, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Text": "hi"}, out.Fields)

	empty, err := c.Encode(NewStructure(reading))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, empty)

	_, err = c.Decode(reading, []byte{0x09, 0, 0, 0})
	assert.True(t, errors.Is(err, opcua.ErrInvalidMessage))
}

func TestCodecRecursiveStructure(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	tree := mustType(t, reg, 5)

	leaf := NewStructure(tree).Set("Name", "leaf").Set("Children", nil)
	root := NewStructure(tree).Set("Name", "root").Set("Children", []interface{}{leaf})

	data, err := c.Encode(root)
	require.NoError(t, err)

	out, err := c.Decode(tree, data)
	require.NoError(t, err)
	assert.Equal(t, "root", out.Fields["Name"])
	children := out.Fields["Children"].([]interface{})
	require.Len(t, children, 1)
	child := children[0].(*Structure)
	assert.Equal(t, "leaf", child.Fields["Name"])
	assert.Nil(t, child.Fields["Children"])
}

func TestCodecAbstractField(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	envelope := mustType(t, reg, 6)
	point := mustType(t, reg, 2)

	in := NewStructure(envelope).
		Set("Seq", uint32(7)).
		Set("Payload", NewStructure(point).Set("X", 3.0).Set("Y", 4.0))
	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(envelope, data)
	require.NoError(t, err)
	payload, ok := out.Fields["Payload"].(*Structure)
	require.True(t, ok)
	assert.Equal(t, point, payload.Type)
	assert.Equal(t, 4.0, payload.Fields["Y"])

	unknown := opcua.ExtensionObject{TypeID: opcua.NewNumericNodeID(3, 1), Body: []byte{1, 2}}
	data, err = c.Encode(NewStructure(envelope).Set("Seq", uint32(8)).Set("Payload", unknown))
	require.NoError(t, err)
	out, err = c.Decode(envelope, data)
	require.NoError(t, err)
	raw, ok := out.Fields["Payload"].(opcua.ExtensionObject)
	require.True(t, ok)
	assert.Equal(t, unknown.TypeID, raw.TypeID)
	assert.Equal(t, []byte{1, 2}, raw.Body)
}

func TestCodecMatrix(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	grid := mustType(t, reg, 7)

	m := Matrix{Dimensions: []int32{2, 2}, Values: []interface{}{int16(1), int16(2), int16(3), int16(4)}}
	data, err := c.Encode(NewStructure(grid).Set("Cells", m))
	require.NoError(t, err)

	out, err := c.Decode(grid, data)
	require.NoError(t, err)
	assert.Equal(t, m, out.Fields["Cells"])

	_, err = c.Encode(NewStructure(grid).Set("Cells", Matrix{Dimensions: []int32{3}, Values: []interface{}{int16(1)}}))
	assert.True(t, errors.Is(err, opcua.ErrInvalidMessage))
}

func TestCodecMatrixDimensionsExceedData(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	grid := mustType(t, reg, 7)

	for _, dims := range [][]int32{
		{0x7fffffff, 0x7fffffff, 4},
		{65536, 65536},
		{3, 3},
	} {
		e := opcua.NewEncoder()
		e.WriteInt32(int32(len(dims)))
		for _, d := range dims {
			e.WriteInt32(d)
		}
		e.WriteInt16(1)
		e.WriteInt16(2)

		_, err := c.Decode(grid, e.Bytes())
		assert.ErrorIs(t, err, opcua.ErrInvalidMessage, "dimensions %v", dims)
	}
}

func TestCodecExtensionObject(t *testing.T) {
	reg := demoTypes(t)
	c := NewCodec(reg)
	point := mustType(t, reg, 2)

	x, err := c.EncodeExtensionObject(NewStructure(point).Set("X", 1.0).Set("Y", 2.0))
	require.NoError(t, err)
	assert.Equal(t, point.BinaryEncodingID, x.TypeID)

	s, err := c.DecodeExtensionObject(x)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Fields["Y"])

	_, err = c.DecodeExtensionObject(opcua.ExtensionObject{TypeID: ns2(9999)})
	assert.True(t, errors.Is(err, opcua.ErrUnknownEncoding))
}
