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

package opcua

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Binary encoding of the OPC UA built-in types (Part 6, 5.2).

// epochDiff is the number of 100ns ticks between 1601-01-01 and 1970-01-01.
const epochDiff = 116444736000000000

// NodeID encoding bytes.
const (
	nodeIDTwoByte  byte = 0x00
	nodeIDFourByte byte = 0x01
	nodeIDNumeric  byte = 0x02
	nodeIDString   byte = 0x03
	nodeIDGUID     byte = 0x04
	nodeIDOpaque   byte = 0x05

	expandedFlagServerIndex  byte = 0x40
	expandedFlagNamespaceURI byte = 0x80
)

// ExtensionObject body encodings.
const (
	extensionObjectNoBody byte = 0x00
	extensionObjectBinary byte = 0x01
	extensionObjectXML    byte = 0x02
)

// Encoder appends binary encoded values to a byte slice.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Reset resets the encoder.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// WriteBoolean writes a boolean value.
func (e *Encoder) WriteBoolean(v bool) {
	if v {
		e.buf = append(e.buf, 1)
		return
	}
	e.buf = append(e.buf, 0)
}

// WriteByte writes a byte value. It never fails.
func (e *Encoder) WriteByte(v byte) error {
	e.buf = append(e.buf, v)
	return nil
}

// WriteSByte writes a signed byte value.
func (e *Encoder) WriteSByte(v int8) {
	e.buf = append(e.buf, byte(v))
}

// WriteUInt16 writes a uint16 value.
func (e *Encoder) WriteUInt16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

// WriteInt16 writes an int16 value.
func (e *Encoder) WriteInt16(v int16) {
	e.WriteUInt16(uint16(v))
}

// WriteUInt32 writes a uint32 value.
func (e *Encoder) WriteUInt32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// WriteInt32 writes an int32 value.
func (e *Encoder) WriteInt32(v int32) {
	e.WriteUInt32(uint32(v))
}

// WriteUInt64 writes a uint64 value.
func (e *Encoder) WriteUInt64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

// WriteInt64 writes an int64 value.
func (e *Encoder) WriteInt64(v int64) {
	e.WriteUInt64(uint64(v))
}

// WriteFloat writes a float32 value.
func (e *Encoder) WriteFloat(v float32) {
	e.WriteUInt32(math.Float32bits(v))
}

// WriteDouble writes a float64 value.
func (e *Encoder) WriteDouble(v float64) {
	e.WriteUInt64(math.Float64bits(v))
}

// WriteString writes a string value. The empty string is written as null.
func (e *Encoder) WriteString(v string) {
	if v == "" {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf = append(e.buf, v...)
}

// WriteByteString writes a byte string value. A nil slice is written as null.
func (e *Encoder) WriteByteString(v []byte) {
	if v == nil {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf = append(e.buf, v...)
}

// WriteDateTime writes a DateTime value.
func (e *Encoder) WriteDateTime(t time.Time) {
	if t.IsZero() {
		e.WriteInt64(0)
		return
	}
	e.WriteInt64(t.UnixNano()/100 + epochDiff)
}

// WriteGUID writes a GUID value held in RFC 4122 byte order.
func (e *Encoder) WriteGUID(v [16]byte) {
	e.WriteUInt32(binary.BigEndian.Uint32(v[0:4]))
	e.WriteUInt16(binary.BigEndian.Uint16(v[4:6]))
	e.WriteUInt16(binary.BigEndian.Uint16(v[6:8]))
	e.buf = append(e.buf, v[8:16]...)
}

// WriteNodeID writes a NodeID value using the most compact form.
func (e *Encoder) WriteNodeID(n NodeID) {
	e.writeNodeID(n, 0)
}

func (e *Encoder) writeNodeID(n NodeID, flags byte) {
	switch n.Type {
	case NodeIDTypeNumeric:
		switch {
		case n.Namespace == 0 && n.Numeric <= 0xFF:
			e.buf = append(e.buf, nodeIDTwoByte|flags, byte(n.Numeric))
		case n.Namespace <= 0xFF && n.Numeric <= 0xFFFF:
			e.buf = append(e.buf, nodeIDFourByte|flags, byte(n.Namespace))
			e.WriteUInt16(uint16(n.Numeric))
		default:
			e.buf = append(e.buf, nodeIDNumeric|flags)
			e.WriteUInt16(n.Namespace)
			e.WriteUInt32(n.Numeric)
		}
	case NodeIDTypeString:
		e.buf = append(e.buf, nodeIDString|flags)
		e.WriteUInt16(n.Namespace)
		e.WriteString(n.Text)
	case NodeIDTypeGUID:
		e.buf = append(e.buf, nodeIDGUID|flags)
		e.WriteUInt16(n.Namespace)
		e.WriteGUID(n.GUID)
	case NodeIDTypeOpaque:
		e.buf = append(e.buf, nodeIDOpaque|flags)
		e.WriteUInt16(n.Namespace)
		e.WriteByteString([]byte(n.Opaque))
	}
}

// WriteExpandedNodeID writes an ExpandedNodeID value.
func (e *Encoder) WriteExpandedNodeID(x ExpandedNodeID) {
	var flags byte
	if x.NamespaceURI != "" {
		flags |= expandedFlagNamespaceURI
	}
	if x.ServerIndex != 0 {
		flags |= expandedFlagServerIndex
	}
	e.writeNodeID(x.NodeID, flags)
	if x.NamespaceURI != "" {
		e.WriteString(x.NamespaceURI)
	}
	if x.ServerIndex != 0 {
		e.WriteUInt32(x.ServerIndex)
	}
}

// WriteQualifiedName writes a QualifiedName value.
func (e *Encoder) WriteQualifiedName(q QualifiedName) {
	e.WriteUInt16(q.NamespaceIndex)
	e.WriteString(q.Name)
}

// WriteLocalizedText writes a LocalizedText value.
func (e *Encoder) WriteLocalizedText(l LocalizedText) {
	var mask byte
	if l.Locale != "" {
		mask |= 0x01
	}
	if l.Text != "" {
		mask |= 0x02
	}
	e.buf = append(e.buf, mask)
	if l.Locale != "" {
		e.WriteString(l.Locale)
	}
	if l.Text != "" {
		e.WriteString(l.Text)
	}
}

// WriteStatusCode writes a StatusCode value.
func (e *Encoder) WriteStatusCode(s StatusCode) {
	e.WriteUInt32(uint32(s))
}

// WriteExtensionObject writes an ExtensionObject whose body is already
// encoded. A nil body is written without a body.
func (e *Encoder) WriteExtensionObject(x ExtensionObject) {
	e.WriteNodeID(x.TypeID)
	if x.Body == nil {
		e.buf = append(e.buf, extensionObjectNoBody)
		return
	}
	e.buf = append(e.buf, extensionObjectBinary)
	e.WriteByteString(x.Body)
}

// WriteVariant writes a Variant holding a scalar or a one dimensional
// array of a built-in type.
func (e *Encoder) WriteVariant(v Variant) error {
	if v.Type == TypeNull || v.Value == nil {
		e.buf = append(e.buf, 0)
		return nil
	}
	if arr, ok := v.Value.([]interface{}); ok {
		e.buf = append(e.buf, byte(v.Type)|0x80)
		e.WriteInt32(int32(len(arr)))
		for _, item := range arr {
			if err := e.WriteBuiltin(v.Type, item); err != nil {
				return err
			}
		}
		return nil
	}
	e.buf = append(e.buf, byte(v.Type))
	return e.WriteBuiltin(v.Type, v.Value)
}

// WriteDataValue writes a DataValue.
func (e *Encoder) WriteDataValue(dv DataValue) error {
	var mask byte
	if dv.Value.Type != TypeNull {
		mask |= 0x01
	}
	if dv.StatusCode != StatusGood {
		mask |= 0x02
	}
	if !dv.SourceTimestamp.IsZero() {
		mask |= 0x04
	}
	if !dv.ServerTimestamp.IsZero() {
		mask |= 0x08
	}
	e.buf = append(e.buf, mask)
	if mask&0x01 != 0 {
		if err := e.WriteVariant(dv.Value); err != nil {
			return err
		}
	}
	if mask&0x02 != 0 {
		e.WriteStatusCode(dv.StatusCode)
	}
	if mask&0x04 != 0 {
		e.WriteDateTime(dv.SourceTimestamp)
	}
	if mask&0x08 != 0 {
		e.WriteDateTime(dv.ServerTimestamp)
	}
	return nil
}

// WriteBuiltin writes v as the built-in type t. The Go type of v must match
// the one ReadBuiltin returns for t.
func (e *Encoder) WriteBuiltin(t TypeID, v interface{}) error {
	ok := true
	switch t {
	case TypeBoolean:
		var b bool
		b, ok = v.(bool)
		e.WriteBoolean(b)
	case TypeSByte:
		var x int8
		x, ok = v.(int8)
		e.WriteSByte(x)
	case TypeByte:
		var x byte
		x, ok = v.(byte)
		e.buf = append(e.buf, x)
	case TypeInt16:
		var x int16
		x, ok = v.(int16)
		e.WriteInt16(x)
	case TypeUInt16:
		var x uint16
		x, ok = v.(uint16)
		e.WriteUInt16(x)
	case TypeInt32:
		var x int32
		x, ok = v.(int32)
		e.WriteInt32(x)
	case TypeUInt32:
		var x uint32
		x, ok = v.(uint32)
		e.WriteUInt32(x)
	case TypeInt64:
		var x int64
		x, ok = v.(int64)
		e.WriteInt64(x)
	case TypeUInt64:
		var x uint64
		x, ok = v.(uint64)
		e.WriteUInt64(x)
	case TypeFloat:
		var x float32
		x, ok = v.(float32)
		e.WriteFloat(x)
	case TypeDouble:
		var x float64
		x, ok = v.(float64)
		e.WriteDouble(x)
	case TypeString, TypeXMLElement:
		var x string
		x, ok = v.(string)
		e.WriteString(x)
	case TypeDateTime:
		var x time.Time
		x, ok = v.(time.Time)
		e.WriteDateTime(x)
	case TypeGUID:
		var x [16]byte
		x, ok = v.([16]byte)
		e.WriteGUID(x)
	case TypeByteString:
		var x []byte
		x, ok = v.([]byte)
		e.WriteByteString(x)
	case TypeNodeID:
		var x NodeID
		x, ok = v.(NodeID)
		e.WriteNodeID(x)
	case TypeExpandedNodeID:
		var x ExpandedNodeID
		x, ok = v.(ExpandedNodeID)
		e.WriteExpandedNodeID(x)
	case TypeStatusCode:
		var x StatusCode
		x, ok = v.(StatusCode)
		e.WriteStatusCode(x)
	case TypeQualifiedName:
		var x QualifiedName
		x, ok = v.(QualifiedName)
		e.WriteQualifiedName(x)
	case TypeLocalizedText:
		var x LocalizedText
		x, ok = v.(LocalizedText)
		e.WriteLocalizedText(x)
	case TypeExtensionObject:
		var x ExtensionObject
		x, ok = v.(ExtensionObject)
		e.WriteExtensionObject(x)
	case TypeDataValue:
		x, isDV := v.(DataValue)
		if !isDV {
			return fmt.Errorf("%w: want DataValue, got %T", ErrInvalidMessage, v)
		}
		return e.WriteDataValue(x)
	case TypeVariant:
		x, isVariant := v.(Variant)
		if !isVariant {
			return fmt.Errorf("%w: want Variant, got %T", ErrInvalidMessage, v)
		}
		return e.WriteVariant(x)
	default:
		return fmt.Errorf("%w: cannot encode %s", ErrInvalidMessage, t)
	}
	if !ok {
		return fmt.Errorf("%w: cannot encode %T as %s", ErrInvalidMessage, v, t)
	}
	return nil
}

// Decoder reads binary encoded values from a byte slice.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a new decoder.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of remaining bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

func (d *Decoder) next(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrInvalidMessage)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadBoolean reads a boolean value.
func (d *Decoder) ReadBoolean() (bool, error) {
	b, err := d.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadByte reads a byte value.
func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadSByte reads a signed byte value.
func (d *Decoder) ReadSByte() (int8, error) {
	b, err := d.ReadByte()
	return int8(b), err
}

// ReadUInt16 reads a uint16 value.
func (d *Decoder) ReadUInt16() (uint16, error) {
	b, err := d.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads an int16 value.
func (d *Decoder) ReadInt16() (int16, error) {
	v, err := d.ReadUInt16()
	return int16(v), err
}

// ReadUInt32 reads a uint32 value.
func (d *Decoder) ReadUInt32() (uint32, error) {
	b, err := d.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads an int32 value.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUInt32()
	return int32(v), err
}

// ReadUInt64 reads a uint64 value.
func (d *Decoder) ReadUInt64() (uint64, error) {
	b, err := d.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt64 reads an int64 value.
func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUInt64()
	return int64(v), err
}

// ReadFloat reads a float32 value.
func (d *Decoder) ReadFloat() (float32, error) {
	v, err := d.ReadUInt32()
	return math.Float32frombits(v), err
}

// ReadDouble reads a float64 value.
func (d *Decoder) ReadDouble() (float64, error) {
	v, err := d.ReadUInt64()
	return math.Float64frombits(v), err
}

// ReadString reads a string value. Null decodes as the empty string.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadByteString()
	return string(b), err
}

// ReadByteString reads a byte string value. Null decodes as nil.
func (d *Decoder) ReadByteString() ([]byte, error) {
	n, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	b, err := d.next(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: byte string truncated", ErrInvalidMessage)
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadDateTime reads a DateTime value.
func (d *Decoder) ReadDateTime() (time.Time, error) {
	ticks, err := d.ReadInt64()
	if err != nil || ticks == 0 {
		return time.Time{}, err
	}
	return time.Unix(0, (ticks-epochDiff)*100).UTC(), nil
}

// ReadGUID reads a GUID value into RFC 4122 byte order.
func (d *Decoder) ReadGUID() ([16]byte, error) {
	var g [16]byte
	b, err := d.next(16)
	if err != nil {
		return g, err
	}
	binary.BigEndian.PutUint32(g[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(g[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(g[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(g[8:], b[8:16])
	return g, nil
}

// ReadNodeID reads a NodeID value.
func (d *Decoder) ReadNodeID() (NodeID, error) {
	n, _, err := d.readNodeID()
	return n, err
}

func (d *Decoder) readNodeID() (NodeID, byte, error) {
	enc, err := d.ReadByte()
	if err != nil {
		return NodeID{}, 0, err
	}
	flags := enc & (expandedFlagNamespaceURI | expandedFlagServerIndex)

	switch enc &^ flags {
	case nodeIDTwoByte:
		id, err := d.ReadByte()
		return NewNumericNodeID(0, uint32(id)), flags, err
	case nodeIDFourByte:
		ns, err := d.ReadByte()
		if err != nil {
			return NodeID{}, flags, err
		}
		id, err := d.ReadUInt16()
		return NewNumericNodeID(uint16(ns), uint32(id)), flags, err
	}

	ns, err := d.ReadUInt16()
	if err != nil {
		return NodeID{}, flags, err
	}
	switch enc &^ flags {
	case nodeIDNumeric:
		id, err := d.ReadUInt32()
		return NewNumericNodeID(ns, id), flags, err
	case nodeIDString:
		id, err := d.ReadString()
		return NewStringNodeID(ns, id), flags, err
	case nodeIDGUID:
		id, err := d.ReadGUID()
		return NewGUIDNodeID(ns, id), flags, err
	case nodeIDOpaque:
		id, err := d.ReadByteString()
		return NewOpaqueNodeID(ns, id), flags, err
	}
	return NodeID{}, flags, fmt.Errorf("%w: unknown node id encoding 0x%02x", ErrInvalidMessage, enc)
}

// ReadExpandedNodeID reads an ExpandedNodeID value.
func (d *Decoder) ReadExpandedNodeID() (ExpandedNodeID, error) {
	n, flags, err := d.readNodeID()
	if err != nil {
		return ExpandedNodeID{}, err
	}
	x := ExpandedNodeID{NodeID: n}
	if flags&expandedFlagNamespaceURI != 0 {
		if x.NamespaceURI, err = d.ReadString(); err != nil {
			return x, err
		}
	}
	if flags&expandedFlagServerIndex != 0 {
		if x.ServerIndex, err = d.ReadUInt32(); err != nil {
			return x, err
		}
	}
	return x, nil
}

// ReadQualifiedName reads a QualifiedName value.
func (d *Decoder) ReadQualifiedName() (QualifiedName, error) {
	ns, err := d.ReadUInt16()
	if err != nil {
		return QualifiedName{}, err
	}
	name, err := d.ReadString()
	return QualifiedName{NamespaceIndex: ns, Name: name}, err
}

// ReadLocalizedText reads a LocalizedText value.
func (d *Decoder) ReadLocalizedText() (LocalizedText, error) {
	var lt LocalizedText
	mask, err := d.ReadByte()
	if err != nil {
		return lt, err
	}
	if mask&0x01 != 0 {
		if lt.Locale, err = d.ReadString(); err != nil {
			return lt, err
		}
	}
	if mask&0x02 != 0 {
		if lt.Text, err = d.ReadString(); err != nil {
			return lt, err
		}
	}
	return lt, nil
}

// ReadStatusCode reads a StatusCode value.
func (d *Decoder) ReadStatusCode() (StatusCode, error) {
	v, err := d.ReadUInt32()
	return StatusCode(v), err
}

// ReadExtensionObject reads an ExtensionObject. The body is returned
// undecoded.
func (d *Decoder) ReadExtensionObject() (ExtensionObject, error) {
	var x ExtensionObject
	var err error
	if x.TypeID, err = d.ReadNodeID(); err != nil {
		return x, err
	}
	enc, err := d.ReadByte()
	if err != nil {
		return x, err
	}
	switch enc {
	case extensionObjectNoBody:
		return x, nil
	case extensionObjectBinary, extensionObjectXML:
		x.Body, err = d.ReadByteString()
		return x, err
	}
	return x, fmt.Errorf("%w: unknown extension object encoding 0x%02x", ErrInvalidMessage, enc)
}

// ReadVariant reads a Variant holding a scalar or a one dimensional array.
func (d *Decoder) ReadVariant() (Variant, error) {
	mask, err := d.ReadByte()
	if err != nil {
		return Variant{}, err
	}
	t := TypeID(mask & 0x3F)
	if t == TypeNull {
		return Variant{}, nil
	}
	if mask&0x40 != 0 {
		return Variant{}, fmt.Errorf("%w: multi-dimensional variant", ErrInvalidMessage)
	}
	if mask&0x80 == 0 {
		v, err := d.ReadBuiltin(t)
		return Variant{Type: t, Value: v}, err
	}
	n, err := d.ReadInt32()
	if err != nil {
		return Variant{}, err
	}
	if n < 0 {
		return Variant{Type: t}, nil
	}
	if int(n) > d.Remaining() {
		return Variant{}, fmt.Errorf("%w: array length %d exceeds data", ErrInvalidMessage, n)
	}
	arr := make([]interface{}, n)
	for i := range arr {
		if arr[i], err = d.ReadBuiltin(t); err != nil {
			return Variant{}, err
		}
	}
	return Variant{Type: t, Value: arr}, nil
}

// ReadDataValue reads a DataValue.
func (d *Decoder) ReadDataValue() (DataValue, error) {
	var dv DataValue
	mask, err := d.ReadByte()
	if err != nil {
		return dv, err
	}
	if mask&0x01 != 0 {
		if dv.Value, err = d.ReadVariant(); err != nil {
			return dv, err
		}
	}
	if mask&0x02 != 0 {
		if dv.StatusCode, err = d.ReadStatusCode(); err != nil {
			return dv, err
		}
	}
	if mask&0x04 != 0 {
		if dv.SourceTimestamp, err = d.ReadDateTime(); err != nil {
			return dv, err
		}
	}
	if mask&0x10 != 0 {
		if _, err = d.ReadUInt16(); err != nil {
			return dv, err
		}
	}
	if mask&0x08 != 0 {
		if dv.ServerTimestamp, err = d.ReadDateTime(); err != nil {
			return dv, err
		}
	}
	if mask&0x20 != 0 {
		if _, err = d.ReadUInt16(); err != nil {
			return dv, err
		}
	}
	return dv, nil
}

// ReadBuiltin reads a value of built-in type t.
func (d *Decoder) ReadBuiltin(t TypeID) (interface{}, error) {
	switch t {
	case TypeBoolean:
		return d.ReadBoolean()
	case TypeSByte:
		return d.ReadSByte()
	case TypeByte:
		return d.ReadByte()
	case TypeInt16:
		return d.ReadInt16()
	case TypeUInt16:
		return d.ReadUInt16()
	case TypeInt32:
		return d.ReadInt32()
	case TypeUInt32:
		return d.ReadUInt32()
	case TypeInt64:
		return d.ReadInt64()
	case TypeUInt64:
		return d.ReadUInt64()
	case TypeFloat:
		return d.ReadFloat()
	case TypeDouble:
		return d.ReadDouble()
	case TypeString, TypeXMLElement:
		return d.ReadString()
	case TypeDateTime:
		return d.ReadDateTime()
	case TypeGUID:
		return d.ReadGUID()
	case TypeByteString:
		return d.ReadByteString()
	case TypeNodeID:
		return d.ReadNodeID()
	case TypeExpandedNodeID:
		return d.ReadExpandedNodeID()
	case TypeStatusCode:
		return d.ReadStatusCode()
	case TypeQualifiedName:
		return d.ReadQualifiedName()
	case TypeLocalizedText:
		return d.ReadLocalizedText()
	case TypeExtensionObject:
		return d.ReadExtensionObject()
	case TypeDataValue:
		return d.ReadDataValue()
	case TypeVariant:
		return d.ReadVariant()
	}
	return nil, fmt.Errorf("%w: cannot decode %s", ErrInvalidMessage, t)
}
