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
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Well-known namespaces of schema dictionaries.
const (
	BinarySchemaNamespace = "http://opcfoundation.org/BinarySchema/"
	XMLSchemaNamespace    = "http://www.w3.org/2001/XMLSchema"
	UANamespace           = "http://opcfoundation.org/UA/"
	UATypesNamespace      = "http://opcfoundation.org/UA/2008/02/Types.xsd"
)

// TypeName is a namespace qualified type name from a dictionary.
type TypeName struct {
	Namespace string
	Name      string
}

func (n TypeName) String() string {
	return n.Namespace + "#" + n.Name
}

// DictionaryField is a structure field read from a dictionary.
type DictionaryField struct {
	Name       string
	Type       TypeName
	ValueRank  int32
	IsOptional bool
}

// DictionaryType is an enumeration or structure read from a dictionary,
// before its type names are bound to node ids.
type DictionaryType struct {
	Name          string
	Kind          DefinitionKind
	Enum          *EnumDefinition
	StructureType StructureType
	Fields        []DictionaryField
}

// ParsedDictionary is the content of one schema dictionary.
type ParsedDictionary struct {
	TargetNamespace string
	Source          DefinitionSource
	Types           []DictionaryType
}

type bsdDictionary struct {
	TargetNamespace string      `xml:"TargetNamespace,attr"`
	Enums           []bsdEnum   `xml:"EnumeratedType"`
	Structs         []bsdStruct `xml:"StructuredType"`
}

type bsdEnum struct {
	Name   string `xml:"Name,attr"`
	Values []struct {
		Name  string `xml:"Name,attr"`
		Value int64  `xml:"Value,attr"`
	} `xml:"EnumeratedValue"`
}

type bsdStruct struct {
	Name     string     `xml:"Name,attr"`
	BaseType string     `xml:"BaseType,attr"`
	Fields   []bsdField `xml:"Field"`
}

type bsdField struct {
	Name        string  `xml:"Name,attr"`
	TypeName    string  `xml:"TypeName,attr"`
	LengthField string  `xml:"LengthField,attr"`
	SwitchField string  `xml:"SwitchField,attr"`
	SwitchValue *uint32 `xml:"SwitchValue,attr"`
}

// ParseBinaryDictionary parses an opc:TypeDictionary (OPC UA Part 3,
// Annex C). Length fields, padding bits and union switch fields are folded
// into the fields that use them.
func ParseBinaryDictionary(data []byte) (*ParsedDictionary, error) {
	var dict bsdDictionary
	prefixes, err := decodeRoot(data, &dict)
	if err != nil {
		return nil, fmt.Errorf("binary dictionary: %w", err)
	}

	out := &ParsedDictionary{TargetNamespace: dict.TargetNamespace, Source: SourceBinaryDictionary}
	resolve := qnameResolver(prefixes, dict.TargetNamespace)

	for _, e := range dict.Enums {
		def := &EnumDefinition{}
		for _, v := range e.Values {
			def.Fields = append(def.Fields, EnumField{Name: v.Name, Value: v.Value})
		}
		out.Types = append(out.Types, DictionaryType{Name: e.Name, Kind: DefinitionEnum, Enum: def})
	}

	for _, s := range dict.Structs {
		skip := make(map[string]bool)
		union := false
		for _, f := range s.Fields {
			if f.LengthField != "" {
				skip[f.LengthField] = true
			}
			if f.SwitchValue != nil {
				union = true
				skip[f.SwitchField] = true
			}
		}

		t := DictionaryType{Name: s.Name, Kind: DefinitionStructure, StructureType: StructureTypeStructure}
		optional := false
		for _, f := range s.Fields {
			typ := resolve(f.TypeName)
			if skip[f.Name] || (typ.Namespace == BinarySchemaNamespace && typ.Name == "Bit") {
				continue
			}
			df := DictionaryField{Name: f.Name, Type: typ, ValueRank: opcua.ValueRankScalar}
			if f.LengthField != "" {
				df.ValueRank = opcua.ValueRankOneDimension
			}
			if f.SwitchField != "" && f.SwitchValue == nil {
				df.IsOptional = true
				optional = true
			}
			t.Fields = append(t.Fields, df)
		}
		switch {
		case union:
			t.StructureType = StructureTypeUnion
		case optional:
			t.StructureType = StructureTypeStructureWithOptionalFields
		}
		out.Types = append(out.Types, t)
	}
	return out, nil
}

type xsdSchema struct {
	TargetNamespace string           `xml:"targetNamespace,attr"`
	SimpleTypes     []xsdSimpleType  `xml:"simpleType"`
	ComplexTypes    []xsdComplexType `xml:"complexType"`
}

type xsdSimpleType struct {
	Name        string `xml:"name,attr"`
	Restriction struct {
		Base         string `xml:"base,attr"`
		Enumerations []struct {
			Value string `xml:"value,attr"`
		} `xml:"enumeration"`
	} `xml:"restriction"`
}

type xsdComplexType struct {
	Name           string      `xml:"name,attr"`
	Sequence       xsdSequence `xml:"sequence"`
	ComplexContent struct {
		Extension struct {
			Base     string      `xml:"base,attr"`
			Sequence xsdSequence `xml:"sequence"`
		} `xml:"extension"`
	} `xml:"complexContent"`
}

type xsdSequence struct {
	Elements []xsdElement `xml:"element"`
	Choice   *struct {
		Elements []xsdElement `xml:"element"`
	} `xml:"choice"`
}

type xsdElement struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	MinOccurs string `xml:"minOccurs,attr"`
	MaxOccurs string `xml:"maxOccurs,attr"`
}

// ParseXMLDictionary parses an XML schema dictionary. ListOf wrapper types
// are folded into one dimensional fields of their element type.
func ParseXMLDictionary(data []byte) (*ParsedDictionary, error) {
	var schema xsdSchema
	prefixes, err := decodeRoot(data, &schema)
	if err != nil {
		return nil, fmt.Errorf("xml dictionary: %w", err)
	}

	out := &ParsedDictionary{TargetNamespace: schema.TargetNamespace, Source: SourceXMLDictionary}
	resolve := qnameResolver(prefixes, schema.TargetNamespace)

	for _, st := range schema.SimpleTypes {
		if len(st.Restriction.Enumerations) == 0 {
			continue
		}
		def := &EnumDefinition{}
		for i, e := range st.Restriction.Enumerations {
			name, value := splitEnumValue(e.Value, int64(i))
			def.Fields = append(def.Fields, EnumField{Name: name, Value: value})
		}
		out.Types = append(out.Types, DictionaryType{Name: st.Name, Kind: DefinitionEnum, Enum: def})
	}

	for _, ct := range schema.ComplexTypes {
		if strings.HasPrefix(ct.Name, "ListOf") {
			continue
		}
		seq := ct.Sequence
		if len(seq.Elements) == 0 && seq.Choice == nil {
			seq = ct.ComplexContent.Extension.Sequence
		}

		t := DictionaryType{Name: ct.Name, Kind: DefinitionStructure, StructureType: StructureTypeStructure}
		elements := seq.Elements
		switch {
		case seq.Choice != nil:
			t.StructureType = StructureTypeUnion
			elements = seq.Choice.Elements
		case len(elements) > 0 && elements[0].Name == "EncodingMask":
			t.StructureType = StructureTypeStructureWithOptionalFields
			elements = elements[1:]
		}

		for _, el := range elements {
			if el.Name == "SwitchField" {
				continue
			}
			df := DictionaryField{Name: el.Name, Type: resolve(el.Type), ValueRank: opcua.ValueRankScalar}
			if el.MaxOccurs == "unbounded" {
				df.ValueRank = opcua.ValueRankOneDimension
			}
			if strings.HasPrefix(df.Type.Name, "ListOf") {
				df.Type.Name = strings.TrimPrefix(df.Type.Name, "ListOf")
				df.ValueRank = opcua.ValueRankOneDimension
			}
			if t.StructureType == StructureTypeStructureWithOptionalFields && el.MinOccurs == "0" {
				df.IsOptional = true
			}
			t.Fields = append(t.Fields, df)
		}
		out.Types = append(out.Types, t)
	}
	return out, nil
}

// splitEnumValue splits the "Name_Value" form used by XML dictionaries.
func splitEnumValue(s string, fallback int64) (string, int64) {
	idx := strings.LastIndexByte(s, '_')
	if idx <= 0 {
		return s, fallback
	}
	v, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return s, fallback
	}
	return s[:idx], v
}

// decodeRoot decodes the document element into v and returns the namespace
// prefixes it declares.
func decodeRoot(data []byte, v interface{}) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		prefixes := make(map[string]string)
		for _, a := range start.Attr {
			switch {
			case a.Name.Space == "xmlns":
				prefixes[a.Name.Local] = a.Value
			case a.Name.Space == "" && a.Name.Local == "xmlns":
				prefixes[""] = a.Value
			}
		}
		if err := dec.DecodeElement(v, &start); err != nil {
			return nil, err
		}
		return prefixes, nil
	}
}

func qnameResolver(prefixes map[string]string, target string) func(string) TypeName {
	return func(q string) TypeName {
		prefix, local := "", q
		if idx := strings.IndexByte(q, ':'); idx >= 0 {
			prefix, local = q[:idx], q[idx+1:]
		}
		ns, ok := prefixes[prefix]
		if !ok {
			ns = target
		}
		return TypeName{Namespace: ns, Name: local}
	}
}

var xsdBuiltins = map[string]opcua.TypeID{
	"boolean":       opcua.TypeBoolean,
	"byte":          opcua.TypeSByte,
	"unsignedByte":  opcua.TypeByte,
	"short":         opcua.TypeInt16,
	"unsignedShort": opcua.TypeUInt16,
	"int":           opcua.TypeInt32,
	"unsignedInt":   opcua.TypeUInt32,
	"long":          opcua.TypeInt64,
	"unsignedLong":  opcua.TypeUInt64,
	"float":         opcua.TypeFloat,
	"double":        opcua.TypeDouble,
	"string":        opcua.TypeString,
	"dateTime":      opcua.TypeDateTime,
	"base64Binary":  opcua.TypeByteString,
}

var bsdAliases = map[string]opcua.TypeID{
	"Char":      opcua.TypeByte,
	"CharArray": opcua.TypeString,
	"WideChar":  opcua.TypeUInt16,
}

// dictionaryBuiltin maps a dictionary type name in one of the standard
// namespaces to a built-in type.
func dictionaryBuiltin(n TypeName) (opcua.TypeID, bool) {
	switch n.Namespace {
	case XMLSchemaNamespace:
		t, ok := xsdBuiltins[n.Name]
		return t, ok
	case BinarySchemaNamespace:
		if t, ok := bsdAliases[n.Name]; ok {
			return t, true
		}
		return opcua.BuiltinTypeByName(n.Name)
	case UANamespace, UATypesNamespace:
		return opcua.BuiltinTypeByName(n.Name)
	}
	return opcua.TypeNull, false
}
