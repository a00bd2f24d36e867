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
	opcua "github.com/edgeo-scada/opcpublisher"
)

// Kind is the encoding layout of a runtime type.
type Kind uint8

const (
	KindEnum Kind = iota + 1
	KindStructure
	KindStructureWithOptionalFields
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindStructure:
		return "structure"
	case KindStructureWithOptionalFields:
		return "structure-optional"
	case KindUnion:
		return "union"
	default:
		return "unknown"
	}
}

// Shape is the array shape of a field.
type Shape uint8

const (
	ShapeScalar Shape = iota
	ShapeSequence
	ShapeMatrix
)

func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeSequence:
		return "sequence"
	case ShapeMatrix:
		return "matrix"
	default:
		return "unknown"
	}
}

// FieldDescriptor is one entry of a structure's field table. Exactly one of
// the following describes the element type:
//   - Builtin, for built-in and builtin-derived types;
//   - Type, for another registered enum or structure;
//   - Recursive, for the structure's own type;
//   - Abstract, for a subtyped Structure carried in an ExtensionObject.
type FieldDescriptor struct {
	Name            string
	DataType        opcua.NodeID
	Builtin         opcua.TypeID
	Type            *TypeDescriptor
	Recursive       bool
	Abstract        bool
	Optional        bool
	Shape           Shape
	ValueRank       int32
	ArrayDimensions []uint32
}

// EnumValue is a named value of an enum descriptor.
type EnumValue struct {
	Name  string
	Value int64
}

// TypeDescriptor is the runtime form of a complex type. Descriptors are
// immutable once registered.
type TypeDescriptor struct {
	ID               opcua.NodeID
	Name             string
	Kind             Kind
	BaseType         opcua.NodeID
	BinaryEncodingID opcua.NodeID
	XMLEncodingID    opcua.NodeID
	Fields           []FieldDescriptor
	Values           []EnumValue
	Source           DefinitionSource
}

// Field returns the field with the given name.
func (t *TypeDescriptor) Field(name string) (*FieldDescriptor, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// EnumName returns the name of an enum value, or "" when undefined.
func (t *TypeDescriptor) EnumName(v int64) string {
	for _, ev := range t.Values {
		if ev.Value == v {
			return ev.Name
		}
	}
	return ""
}

// elementType returns the descriptor a non-builtin field element uses.
func (f *FieldDescriptor) elementType(owner *TypeDescriptor) *TypeDescriptor {
	if f.Recursive {
		return owner
	}
	return f.Type
}
