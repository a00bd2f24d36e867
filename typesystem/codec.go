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

// maxNestingDepth bounds nested and recursive structure values.
const maxNestingDepth = 100

// Structure is a value of a structure descriptor. Field values use the Go
// types of opcua.Decoder.ReadBuiltin for built-in fields, int32 for enum
// fields, *Structure for nested structures and opcua.ExtensionObject or
// *Structure for abstract fields. Sequences are []interface{} and matrices
// are Matrix. Absent optional fields and unselected union fields are left
// out of Fields.
type Structure struct {
	Type   *TypeDescriptor
	Fields map[string]interface{}
}

// NewStructure creates an empty value of t.
func NewStructure(t *TypeDescriptor) *Structure {
	return &Structure{Type: t, Fields: make(map[string]interface{})}
}

// Set sets a field value and returns s.
func (s *Structure) Set(name string, v interface{}) *Structure {
	s.Fields[name] = v
	return s
}

// Get returns a field value.
func (s *Structure) Get(name string) (interface{}, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Matrix is a multi-dimensional array with values in row-major order.
type Matrix struct {
	Dimensions []int32
	Values     []interface{}
}

// Codec encodes and decodes structure values in the OPC UA binary encoding
// by interpreting their descriptors.
type Codec struct {
	registry *Registry
}

// NewCodec creates a codec resolving extension objects through reg.
func NewCodec(reg *Registry) *Codec {
	return &Codec{registry: reg}
}

// Encode returns the binary body of s.
func (c *Codec) Encode(s *Structure) ([]byte, error) {
	e := opcua.NewEncoder()
	if err := c.encodeStructure(e, s, 0); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Decode decodes a binary body of type t.
func (c *Codec) Decode(t *TypeDescriptor, data []byte) (*Structure, error) {
	d := opcua.NewDecoder(data)
	s, err := c.decodeStructure(d, t, 0)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.Name, err)
	}
	return s, nil
}

// EncodeExtensionObject wraps s in an ExtensionObject with its binary
// encoding id.
func (c *Codec) EncodeExtensionObject(s *Structure) (opcua.ExtensionObject, error) {
	return c.encodeExtensionObject(s, 0)
}

// DecodeExtensionObject decodes the body of x with the descriptor
// registered for its encoding id.
func (c *Codec) DecodeExtensionObject(x opcua.ExtensionObject) (*Structure, error) {
	return c.decodeExtensionObject(x, 0)
}

func (c *Codec) encodeExtensionObject(s *Structure, depth int) (opcua.ExtensionObject, error) {
	if s == nil || s.Type == nil {
		return opcua.ExtensionObject{}, nil
	}
	e := opcua.NewEncoder()
	if err := c.encodeStructure(e, s, depth); err != nil {
		return opcua.ExtensionObject{}, err
	}
	return opcua.ExtensionObject{TypeID: s.Type.BinaryEncodingID, Body: e.Bytes(), Value: s}, nil
}

func (c *Codec) decodeExtensionObject(x opcua.ExtensionObject, depth int) (*Structure, error) {
	t, ok := c.registry.ByEncoding(x.TypeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", opcua.ErrUnknownEncoding, x.TypeID)
	}
	return c.decodeStructure(opcua.NewDecoder(x.Body), t, depth)
}

func (c *Codec) encodeStructure(e *opcua.Encoder, s *Structure, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: nesting deeper than %d", opcua.ErrInvalidMessage, maxNestingDepth)
	}
	if s == nil || s.Type == nil {
		return fmt.Errorf("%w: nil structure", opcua.ErrInvalidMessage)
	}
	t := s.Type

	switch t.Kind {
	case KindStructure:
		for i := range t.Fields {
			f := &t.Fields[i]
			v, ok := s.Fields[f.Name]
			if !ok {
				return fmt.Errorf("%w: %s.%s not set", opcua.ErrInvalidMessage, t.Name, f.Name)
			}
			if err := c.writeValue(e, f, t, v, depth); err != nil {
				return err
			}
		}
		return nil

	case KindStructureWithOptionalFields:
		var mask uint32
		bit := 0
		for i := range t.Fields {
			f := &t.Fields[i]
			if !f.Optional {
				continue
			}
			if _, ok := s.Fields[f.Name]; ok {
				mask |= 1 << bit
			}
			bit++
		}
		e.WriteUInt32(mask)
		for i := range t.Fields {
			f := &t.Fields[i]
			v, ok := s.Fields[f.Name]
			if !ok {
				if f.Optional {
					continue
				}
				return fmt.Errorf("%w: %s.%s not set", opcua.ErrInvalidMessage, t.Name, f.Name)
			}
			if err := c.writeValue(e, f, t, v, depth); err != nil {
				return err
			}
		}
		return nil

	case KindUnion:
		for i := range t.Fields {
			f := &t.Fields[i]
			if v, ok := s.Fields[f.Name]; ok {
				e.WriteUInt32(uint32(i + 1))
				return c.writeValue(e, f, t, v, depth)
			}
		}
		e.WriteUInt32(0)
		return nil
	}
	return fmt.Errorf("%w: cannot encode %s value", opcua.ErrInvalidMessage, t.Kind)
}

func (c *Codec) decodeStructure(d *opcua.Decoder, t *TypeDescriptor, depth int) (*Structure, error) {
	if depth > maxNestingDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", opcua.ErrInvalidMessage, maxNestingDepth)
	}
	s := NewStructure(t)

	switch t.Kind {
	case KindStructure:
		for i := range t.Fields {
			f := &t.Fields[i]
			v, err := c.readValue(d, f, t, depth)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			s.Fields[f.Name] = v
		}

	case KindStructureWithOptionalFields:
		mask, err := d.ReadUInt32()
		if err != nil {
			return nil, err
		}
		bit := 0
		for i := range t.Fields {
			f := &t.Fields[i]
			if f.Optional {
				present := mask&(1<<bit) != 0
				bit++
				if !present {
					continue
				}
			}
			v, err := c.readValue(d, f, t, depth)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			s.Fields[f.Name] = v
		}

	case KindUnion:
		sw, err := d.ReadUInt32()
		if err != nil {
			return nil, err
		}
		if sw == 0 {
			return s, nil
		}
		if int(sw) > len(t.Fields) {
			return nil, fmt.Errorf("%w: union switch %d out of range", opcua.ErrInvalidMessage, sw)
		}
		f := &t.Fields[sw-1]
		v, err := c.readValue(d, f, t, depth)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		s.Fields[f.Name] = v

	default:
		return nil, fmt.Errorf("%w: cannot decode %s value", opcua.ErrInvalidMessage, t.Kind)
	}
	return s, nil
}

func (c *Codec) writeValue(e *opcua.Encoder, f *FieldDescriptor, owner *TypeDescriptor, v interface{}, depth int) error {
	switch f.Shape {
	case ShapeScalar:
		return c.writeElement(e, f, owner, v, depth)

	case ShapeSequence:
		if v == nil {
			e.WriteInt32(-1)
			return nil
		}
		arr, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("%w: %s wants []interface{}, got %T", opcua.ErrInvalidMessage, f.Name, v)
		}
		e.WriteInt32(int32(len(arr)))
		for _, item := range arr {
			if err := c.writeElement(e, f, owner, item, depth); err != nil {
				return err
			}
		}
		return nil

	case ShapeMatrix:
		m, ok := v.(Matrix)
		if !ok {
			return fmt.Errorf("%w: %s wants Matrix, got %T", opcua.ErrInvalidMessage, f.Name, v)
		}
		total := 1
		e.WriteInt32(int32(len(m.Dimensions)))
		for _, dim := range m.Dimensions {
			e.WriteInt32(dim)
			total *= int(dim)
		}
		if total != len(m.Values) {
			return fmt.Errorf("%w: %s has %d values for %d cells", opcua.ErrInvalidMessage, f.Name, len(m.Values), total)
		}
		for _, item := range m.Values {
			if err := c.writeElement(e, f, owner, item, depth); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown shape %d", opcua.ErrInvalidMessage, f.Shape)
}

func (c *Codec) readValue(d *opcua.Decoder, f *FieldDescriptor, owner *TypeDescriptor, depth int) (interface{}, error) {
	switch f.Shape {
	case ShapeScalar:
		return c.readElement(d, f, owner, depth)

	case ShapeSequence:
		n, err := d.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		if int(n) > d.Remaining() {
			return nil, fmt.Errorf("%w: sequence length %d exceeds data", opcua.ErrInvalidMessage, n)
		}
		arr := make([]interface{}, n)
		for i := range arr {
			if arr[i], err = c.readElement(d, f, owner, depth); err != nil {
				return nil, err
			}
		}
		return arr, nil

	case ShapeMatrix:
		n, err := d.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 || int(n)*4 > d.Remaining() {
			return nil, fmt.Errorf("%w: bad matrix rank %d", opcua.ErrInvalidMessage, n)
		}
		m := Matrix{Dimensions: make([]int32, n)}
		total := 1
		for i := range m.Dimensions {
			if m.Dimensions[i], err = d.ReadInt32(); err != nil {
				return nil, err
			}
			if m.Dimensions[i] < 0 {
				return nil, fmt.Errorf("%w: negative matrix dimension", opcua.ErrInvalidMessage)
			}
			// Bounding total by the remaining data keeps the product from
			// overflowing.
			total *= int(m.Dimensions[i])
			if total > d.Remaining() {
				return nil, fmt.Errorf("%w: matrix dimensions %v exceed data", opcua.ErrInvalidMessage, m.Dimensions[:i+1])
			}
		}
		m.Values = make([]interface{}, total)
		for i := range m.Values {
			if m.Values[i], err = c.readElement(d, f, owner, depth); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown shape %d", opcua.ErrInvalidMessage, f.Shape)
}

func (c *Codec) writeElement(e *opcua.Encoder, f *FieldDescriptor, owner *TypeDescriptor, v interface{}, depth int) error {
	if f.Abstract {
		switch x := v.(type) {
		case nil:
			e.WriteExtensionObject(opcua.ExtensionObject{})
		case opcua.ExtensionObject:
			e.WriteExtensionObject(x)
		case *Structure:
			xo, err := c.encodeExtensionObject(x, depth+1)
			if err != nil {
				return err
			}
			e.WriteExtensionObject(xo)
		default:
			return fmt.Errorf("%w: %s wants a structure, got %T", opcua.ErrInvalidMessage, f.Name, v)
		}
		return nil
	}
	if f.Builtin != opcua.TypeNull {
		return e.WriteBuiltin(f.Builtin, v)
	}

	t := f.elementType(owner)
	if t == nil {
		return fmt.Errorf("%w: %s has no type", opcua.ErrInvalidMessage, f.Name)
	}
	if t.Kind == KindEnum {
		x, ok := v.(int32)
		if !ok {
			return fmt.Errorf("%w: %s wants int32, got %T", opcua.ErrInvalidMessage, f.Name, v)
		}
		e.WriteInt32(x)
		return nil
	}
	s, ok := v.(*Structure)
	if !ok {
		return fmt.Errorf("%w: %s wants *Structure, got %T", opcua.ErrInvalidMessage, f.Name, v)
	}
	if s.Type == nil {
		s.Type = t
	}
	return c.encodeStructure(e, s, depth+1)
}

func (c *Codec) readElement(d *opcua.Decoder, f *FieldDescriptor, owner *TypeDescriptor, depth int) (interface{}, error) {
	if f.Abstract {
		x, err := d.ReadExtensionObject()
		if err != nil {
			return nil, err
		}
		if x.TypeID.IsNull() {
			return nil, nil
		}
		if _, known := c.registry.ByEncoding(x.TypeID); !known {
			return x, nil
		}
		return c.decodeExtensionObject(x, depth+1)
	}
	if f.Builtin != opcua.TypeNull {
		return d.ReadBuiltin(f.Builtin)
	}

	t := f.elementType(owner)
	if t == nil {
		return nil, fmt.Errorf("%w: %s has no type", opcua.ErrInvalidMessage, f.Name)
	}
	if t.Kind == KindEnum {
		return d.ReadInt32()
	}
	return c.decodeStructure(d, t, depth+1)
}
