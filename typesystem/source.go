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

	opcua "github.com/edgeo-scada/opcpublisher"
)

// DataTypeNode is a DataType node found while browsing the type hierarchy.
type DataTypeNode struct {
	NodeID     opcua.NodeID
	BrowseName opcua.QualifiedName
	IsAbstract bool
}

// Dictionary is a raw data type dictionary read from the server.
type Dictionary struct {
	NodeID       opcua.NodeID
	NamespaceURI string
	Data         []byte
}

// NodeSource is the read access to a server's type information.
type NodeSource interface {
	// BrowseSubtypes returns the direct subtypes of a data type.
	BrowseSubtypes(ctx context.Context, parent opcua.NodeID) ([]DataTypeNode, error)

	// SuperType returns the direct supertype of a data type. It returns a
	// *opcua.DataTypeNotFoundError when the node is unknown.
	SuperType(ctx context.Context, id opcua.NodeID) (opcua.NodeID, error)

	// ReadDefinition reads the DataTypeDefinition attribute. It returns
	// opcua.ErrDefinitionUnavailable when the attribute is missing or
	// cannot be decoded.
	ReadDefinition(ctx context.Context, node DataTypeNode) (*DataTypeDefinition, error)

	// Encodings returns the Default Binary and Default XML encoding ids.
	Encodings(ctx context.Context, id opcua.NodeID) (binary, xml opcua.NodeID, err error)

	// ReadDictionaries reads every dictionary of a type system
	// (OPCBinarySchema_TypeSystem or XmlSchema_TypeSystem).
	ReadDictionaries(ctx context.Context, typeSystem opcua.NodeID) ([]Dictionary, error)

	// NamespaceArray returns the server namespace table.
	NamespaceArray(ctx context.Context) ([]string, error)
}
