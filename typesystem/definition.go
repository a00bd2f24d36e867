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
	"fmt"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// DefinitionKind tags a DataTypeDefinition.
type DefinitionKind uint8

const (
	DefinitionEnum DefinitionKind = iota + 1
	DefinitionStructure
)

func (k DefinitionKind) String() string {
	switch k {
	case DefinitionEnum:
		return "enum"
	case DefinitionStructure:
		return "structure"
	default:
		return "unknown"
	}
}

// DefinitionSource records where a definition was read from.
type DefinitionSource uint8

const (
	SourceAttribute DefinitionSource = iota
	SourceBinaryDictionary
	SourceXMLDictionary
)

func (s DefinitionSource) String() string {
	switch s {
	case SourceAttribute:
		return "attribute"
	case SourceBinaryDictionary:
		return "binary-dictionary"
	case SourceXMLDictionary:
		return "xml-dictionary"
	default:
		return "unknown"
	}
}

// StructureType mirrors the OPC UA StructureType enumeration.
type StructureType int32

const (
	StructureTypeStructure                   StructureType = 0
	StructureTypeStructureWithOptionalFields StructureType = 1
	StructureTypeUnion                       StructureType = 2
	StructureTypeStructureWithSubtypedValues StructureType = 3
	StructureTypeUnionWithSubtypedValues     StructureType = 4
)

// AllowSubTypes reports whether fields may carry subtypes of their
// declared data type.
func (s StructureType) AllowSubTypes() bool {
	return s == StructureTypeStructureWithSubtypedValues || s == StructureTypeUnionWithSubtypedValues
}

// IsUnion reports whether exactly one field is encoded per value.
func (s StructureType) IsUnion() bool {
	return s == StructureTypeUnion || s == StructureTypeUnionWithSubtypedValues
}

// EnumField is one named value of an enumeration.
type EnumField struct {
	Name  string
	Value int64
}

// EnumDefinition describes an enumeration.
type EnumDefinition struct {
	Fields []EnumField
}

// StructureField describes one field of a structure.
type StructureField struct {
	Name            string
	DataType        opcua.NodeID
	ValueRank       int32
	ArrayDimensions []uint32
	MaxStringLength uint32
	IsOptional      bool
}

// StructureDefinition describes a structure.
type StructureDefinition struct {
	DefaultEncodingID opcua.NodeID
	BaseDataType      opcua.NodeID
	StructureType     StructureType
	Fields            []StructureField
}

// DataTypeDefinition is the shape of one enumeration or structure data
// type, independent of its encoding. Exactly one of Enum and Structure is
// set, matching Kind.
type DataTypeDefinition struct {
	Kind             DefinitionKind
	TypeID           opcua.NodeID
	Name             string
	BinaryEncodingID opcua.NodeID
	XMLEncodingID    opcua.NodeID
	Source           DefinitionSource

	Enum      *EnumDefinition
	Structure *StructureDefinition
}

// Validate checks the definition. A structure is rejected as a whole when
// its type id, binary encoding id or base type is null, when a field lacks
// a name or data type, or when a field's value rank is neither scalar nor
// one or more dimensions.
func (d *DataTypeDefinition) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &opcua.InvalidDefinitionError{TypeID: d.TypeID, Reason: fmt.Sprintf(format, args...)}
	}

	if d.TypeID.IsNull() {
		return invalid("null type id")
	}

	switch d.Kind {
	case DefinitionEnum:
		if d.Enum == nil || len(d.Enum.Fields) == 0 {
			return invalid("enumeration without fields")
		}
		for i, f := range d.Enum.Fields {
			if f.Name == "" {
				return invalid("enum field %d has no name", i)
			}
		}
		return nil

	case DefinitionStructure:
		s := d.Structure
		if s == nil {
			return invalid("missing structure definition")
		}
		if d.BinaryEncodingID.IsNull() {
			return invalid("null binary encoding id")
		}
		if s.BaseDataType.IsNull() {
			return invalid("null base data type")
		}
		for i, f := range s.Fields {
			if f.Name == "" {
				return invalid("field %d has no name", i)
			}
			if f.DataType.IsNull() {
				return invalid("field %q has no data type", f.Name)
			}
			if f.ValueRank != opcua.ValueRankScalar && f.ValueRank < opcua.ValueRankOneDimension {
				return invalid("field %q has value rank %d", f.Name, f.ValueRank)
			}
		}
		return nil
	}
	return invalid("unknown definition kind %d", d.Kind)
}
