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

// Package opcua holds the node identifiers, status codes, error types and
// builtin binary encoding shared by the publisher packages.
package opcua

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeIDType represents the type of a NodeID.
type NodeIDType uint8

// NodeID types.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// NodeID represents an OPC UA NodeID.
//
// NodeID is comparable and can be used as a map key. Opaque identifiers
// are held as a string of raw bytes for that reason.
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	Text      string
	GUID      [16]byte
	Opaque    string
}

// NewNumericNodeID creates a new numeric NodeID.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{
		Type:      NodeIDTypeNumeric,
		Namespace: namespace,
		Numeric:   id,
	}
}

// NewStringNodeID creates a new string NodeID.
func NewStringNodeID(namespace uint16, id string) NodeID {
	return NodeID{
		Type:      NodeIDTypeString,
		Namespace: namespace,
		Text:      id,
	}
}

// NewGUIDNodeID creates a new GUID NodeID.
func NewGUIDNodeID(namespace uint16, id [16]byte) NodeID {
	return NodeID{
		Type:      NodeIDTypeGUID,
		Namespace: namespace,
		GUID:      id,
	}
}

// NewOpaqueNodeID creates a new opaque NodeID.
func NewOpaqueNodeID(namespace uint16, id []byte) NodeID {
	return NodeID{
		Type:      NodeIDTypeOpaque,
		Namespace: namespace,
		Opaque:    string(id),
	}
}

// IsNull reports whether n is the null NodeID (ns=0;i=0).
func (n NodeID) IsNull() bool {
	switch n.Type {
	case NodeIDTypeNumeric:
		return n.Namespace == 0 && n.Numeric == 0
	case NodeIDTypeString:
		return n.Namespace == 0 && n.Text == ""
	case NodeIDTypeGUID:
		return n.Namespace == 0 && n.GUID == [16]byte{}
	case NodeIDTypeOpaque:
		return n.Namespace == 0 && n.Opaque == ""
	}
	return true
}

// String returns the standard text form, e.g. "ns=2;s=Boiler".
func (n NodeID) String() string {
	var id string
	switch n.Type {
	case NodeIDTypeNumeric:
		id = "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	case NodeIDTypeString:
		id = "s=" + n.Text
	case NodeIDTypeGUID:
		id = "g=" + uuid.UUID(n.GUID).String()
	case NodeIDTypeOpaque:
		id = "b=" + base64.StdEncoding.EncodeToString([]byte(n.Opaque))
	default:
		return "invalid"
	}
	if n.Namespace == 0 {
		return id
	}
	return "ns=" + strconv.FormatUint(uint64(n.Namespace), 10) + ";" + id
}

// Less orders node ids by namespace, identifier type and identifier.
func (n NodeID) Less(o NodeID) bool {
	if n.Namespace != o.Namespace {
		return n.Namespace < o.Namespace
	}
	if n.Type != o.Type {
		return n.Type < o.Type
	}
	switch n.Type {
	case NodeIDTypeNumeric:
		return n.Numeric < o.Numeric
	case NodeIDTypeString:
		return n.Text < o.Text
	case NodeIDTypeGUID:
		return string(n.GUID[:]) < string(o.GUID[:])
	default:
		return n.Opaque < o.Opaque
	}
}

// ParseNodeID parses the text form of a NodeID. A bare number is taken as
// a numeric id in namespace 0.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NodeID{}, fmt.Errorf("%w: empty", ErrInvalidNodeID)
	}

	var ns uint16
	if strings.HasPrefix(s, "ns=") {
		idx := strings.IndexByte(s, ';')
		if idx < 0 {
			return NodeID{}, fmt.Errorf("%w: %q missing identifier", ErrInvalidNodeID, s)
		}
		v, err := strconv.ParseUint(s[3:idx], 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: bad namespace", ErrInvalidNodeID, s)
		}
		ns = uint16(v)
		s = s[idx+1:]
	}

	if len(s) < 2 || s[1] != '=' {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		return NewNumericNodeID(ns, uint32(v)), nil
	}

	body := s[2:]
	switch s[0] {
	case 'i':
		v, err := strconv.ParseUint(body, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: bad numeric id", ErrInvalidNodeID, s)
		}
		return NewNumericNodeID(ns, uint32(v)), nil
	case 's':
		return NewStringNodeID(ns, body), nil
	case 'g':
		g, err := uuid.Parse(body)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, s, err)
		}
		return NewGUIDNodeID(ns, g), nil
	case 'b':
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, s, err)
		}
		return NewOpaqueNodeID(ns, b), nil
	}
	return NodeID{}, fmt.Errorf("%w: %q: unknown identifier type", ErrInvalidNodeID, s)
}

// MustParseNodeID is like ParseNodeID but panics on error.
func MustParseNodeID(s string) NodeID {
	n, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Well-known numeric node ids in namespace 0.
const (
	IDBaseDataType            uint32 = 24
	IDStructure               uint32 = 22
	IDEnumeration             uint32 = 29
	IDNumber                  uint32 = 26
	IDInteger                 uint32 = 27
	IDUInteger                uint32 = 28
	IDHasSubtype              uint32 = 45
	IDHasEncoding             uint32 = 38
	IDHasComponent            uint32 = 47
	IDHasProperty             uint32 = 46
	IDXMLSchemaTypeSystem     uint32 = 92
	IDBinarySchemaTypeSystem  uint32 = 93
	IDNamespaceArray          uint32 = 2255
	IDEnumStrings             uint32 = 11432
	IDEnumValues              uint32 = 3524
	IDServerStatusCurrentTime uint32 = 2258
)

// AttributeID represents an OPC UA attribute identifier.
type AttributeID uint32

// OPC UA attribute ids used by the publisher.
const (
	AttributeNodeID             AttributeID = 1
	AttributeNodeClass          AttributeID = 2
	AttributeBrowseName         AttributeID = 3
	AttributeDisplayName        AttributeID = 4
	AttributeIsAbstract         AttributeID = 8
	AttributeEventNotifier      AttributeID = 12
	AttributeValue              AttributeID = 13
	AttributeDataType           AttributeID = 14
	AttributeValueRank          AttributeID = 15
	AttributeDataTypeDefinition AttributeID = 23
)

// Value rank special values.
const (
	ValueRankScalarOrOneDimension int32 = -3
	ValueRankAny                  int32 = -2
	ValueRankScalar               int32 = -1
	ValueRankOneOrMoreDimensions  int32 = 0
	ValueRankOneDimension         int32 = 1
)

// TypeID represents an OPC UA built-in type.
type TypeID uint8

// OPC UA Built-in Types.
const (
	TypeNull            TypeID = 0
	TypeBoolean         TypeID = 1
	TypeSByte           TypeID = 2
	TypeByte            TypeID = 3
	TypeInt16           TypeID = 4
	TypeUInt16          TypeID = 5
	TypeInt32           TypeID = 6
	TypeUInt32          TypeID = 7
	TypeInt64           TypeID = 8
	TypeUInt64          TypeID = 9
	TypeFloat           TypeID = 10
	TypeDouble          TypeID = 11
	TypeString          TypeID = 12
	TypeDateTime        TypeID = 13
	TypeGUID            TypeID = 14
	TypeByteString      TypeID = 15
	TypeXMLElement      TypeID = 16
	TypeNodeID          TypeID = 17
	TypeExpandedNodeID  TypeID = 18
	TypeStatusCode      TypeID = 19
	TypeQualifiedName   TypeID = 20
	TypeLocalizedText   TypeID = 21
	TypeExtensionObject TypeID = 22
	TypeDataValue       TypeID = 23
	TypeVariant         TypeID = 24
	TypeDiagnosticInfo  TypeID = 25
)

var typeNames = [...]string{
	"Null", "Boolean", "SByte", "Byte", "Int16", "UInt16", "Int32", "UInt32",
	"Int64", "UInt64", "Float", "Double", "String", "DateTime", "Guid",
	"ByteString", "XmlElement", "NodeId", "ExpandedNodeId", "StatusCode",
	"QualifiedName", "LocalizedText", "ExtensionObject", "DataValue",
	"Variant", "DiagnosticInfo",
}

// String returns the OPC UA name of the built-in type.
func (t TypeID) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TypeID(%d)", uint8(t))
}

// BuiltinTypeByName returns the built-in type with the given OPC UA name.
func BuiltinTypeByName(name string) (TypeID, bool) {
	for i, n := range typeNames {
		if i > 0 && strings.EqualFold(n, name) {
			return TypeID(i), true
		}
	}
	return TypeNull, false
}

// BuiltinType reports whether n is the node id of a built-in type
// (ns=0;i=1..25) and returns it.
func BuiltinType(n NodeID) (TypeID, bool) {
	if n.Namespace != 0 || n.Type != NodeIDTypeNumeric {
		return TypeNull, false
	}
	if n.Numeric >= uint32(TypeBoolean) && n.Numeric <= uint32(TypeDiagnosticInfo) {
		return TypeID(n.Numeric), true
	}
	return TypeNull, false
}

// NodeID returns the namespace 0 node id of the built-in type.
func (t TypeID) NodeID() NodeID {
	return NewNumericNodeID(0, uint32(t))
}

// StatusCode represents an OPC UA status code.
type StatusCode uint32

// QualifiedName represents an OPC UA QualifiedName.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// LocalizedText represents an OPC UA LocalizedText.
type LocalizedText struct {
	Locale string
	Text   string
}

// ExpandedNodeID is a NodeID with an optional namespace URI and server index.
type ExpandedNodeID struct {
	NodeID       NodeID
	NamespaceURI string
	ServerIndex  uint32
}

// ExtensionObject carries an encoded or decoded structure.
type ExtensionObject struct {
	TypeID NodeID
	Body   []byte
	Value  interface{}
}

// DataValue represents an OPC UA DataValue.
type DataValue struct {
	Value           Variant
	StatusCode      StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// Variant represents an OPC UA Variant.
type Variant struct {
	Type  TypeID
	Value interface{}
}

// ConnectionState represents the state of a shared session.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
