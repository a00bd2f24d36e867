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

package uaclient

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

const (
	defaultBinaryName = "Default Binary"
	defaultXMLName    = "Default XML"
	namespaceURIName  = "NamespaceUri"
)

// browse returns every reference of one node, following continuation
// points.
func (s *Session) browse(ctx context.Context, desc *ua.BrowseDescription) ([]*ua.ReferenceDescription, error) {
	res, err := s.Browse(ctx, &ua.BrowseRequest{
		View:          &ua.ViewDescription{ViewID: ua.NewTwoByteNodeID(0)},
		NodesToBrowse: []*ua.BrowseDescription{desc},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, nil
	}

	result := res.Results[0]
	var refs []*ua.ReferenceDescription
	for {
		if result.StatusCode != ua.StatusOK {
			return refs, convertError("browse", result.StatusCode)
		}
		refs = append(refs, result.References...)
		if len(result.ContinuationPoint) == 0 {
			return refs, nil
		}
		next, err := send[*ua.BrowseNextResponse](ctx, s.client, "browse next", &ua.BrowseNextRequest{
			ContinuationPoints: [][]byte{result.ContinuationPoint},
		})
		if err != nil {
			return refs, err
		}
		if len(next.Results) == 0 {
			return refs, nil
		}
		result = next.Results[0]
	}
}

func browseDescription(node *ua.NodeID, dir ua.BrowseDirection, refType uint32, class ua.NodeClass) *ua.BrowseDescription {
	return &ua.BrowseDescription{
		NodeID:          node,
		BrowseDirection: dir,
		ReferenceTypeID: ua.NewNumericNodeID(0, refType),
		IncludeSubtypes: true,
		NodeClassMask:   uint32(class),
		ResultMask:      uint32(ua.BrowseResultMaskAll),
	}
}

// readValues reads one attribute of several nodes.
func (s *Session) readValues(ctx context.Context, attr ua.AttributeID, nodes ...*ua.NodeID) ([]*ua.DataValue, error) {
	req := &ua.ReadRequest{TimestampsToReturn: ua.TimestampsToReturnNeither}
	for _, n := range nodes {
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{NodeID: n, AttributeID: attr})
	}
	res, err := s.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Results) != len(nodes) {
		return nil, fmt.Errorf("read: %d results for %d nodes", len(res.Results), len(nodes))
	}
	return res.Results, nil
}

// BrowseSubtypes returns the direct subtypes of parent with their
// IsAbstract attribute.
func (s *Session) BrowseSubtypes(ctx context.Context, parent opcua.NodeID) ([]typesystem.DataTypeNode, error) {
	node, err := toUANodeID(parent)
	if err != nil {
		return nil, err
	}
	refs, err := s.browse(ctx, browseDescription(node, ua.BrowseDirectionForward, id.HasSubtype, ua.NodeClassDataType))
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	out := make([]typesystem.DataTypeNode, 0, len(refs))
	ids := make([]*ua.NodeID, 0, len(refs))
	for _, ref := range refs {
		if ref.NodeID == nil || ref.NodeID.NodeID == nil {
			continue
		}
		n := typesystem.DataTypeNode{NodeID: fromUAExpandedNodeID(ref.NodeID)}
		if ref.BrowseName != nil {
			n.BrowseName = opcua.QualifiedName{NamespaceIndex: ref.BrowseName.NamespaceIndex, Name: ref.BrowseName.Name}
		}
		out = append(out, n)
		ids = append(ids, ref.NodeID.NodeID)
	}

	abstract, err := s.readValues(ctx, ua.AttributeIDIsAbstract, ids...)
	if err != nil {
		return nil, err
	}
	for i, dv := range abstract {
		if dv == nil || dv.Value == nil {
			continue
		}
		if b, ok := dv.Value.Value().(bool); ok {
			out[i].IsAbstract = b
		}
	}
	return out, nil
}

// SuperType returns the direct supertype of a data type.
func (s *Session) SuperType(ctx context.Context, n opcua.NodeID) (opcua.NodeID, error) {
	node, err := toUANodeID(n)
	if err != nil {
		return opcua.NodeID{}, err
	}
	refs, err := s.browse(ctx, browseDescription(node, ua.BrowseDirectionInverse, id.HasSubtype, ua.NodeClassDataType))
	if err != nil && !opcua.IsStatusCode(err, opcua.StatusBadNodeIDUnknown) {
		return opcua.NodeID{}, err
	}
	for _, ref := range refs {
		if super := fromUAExpandedNodeID(ref.NodeID); !super.IsNull() {
			return super, nil
		}
	}
	return opcua.NodeID{}, &opcua.DataTypeNotFoundError{NodeIDs: []opcua.NodeID{n}}
}

// ReadDefinition reads the DataTypeDefinition attribute.
func (s *Session) ReadDefinition(ctx context.Context, node typesystem.DataTypeNode) (*typesystem.DataTypeDefinition, error) {
	n, err := toUANodeID(node.NodeID)
	if err != nil {
		return nil, err
	}
	values, err := s.readValues(ctx, ua.AttributeIDDataTypeDefinition, n)
	if err != nil {
		return nil, err
	}
	dv := values[0]
	if dv == nil || dv.Status != ua.StatusOK || dv.Value == nil {
		return nil, opcua.ErrDefinitionUnavailable
	}
	def, err := definitionFromUA(node, dv.Value.Value())
	if err != nil {
		return nil, err
	}
	if def.Kind == typesystem.DefinitionStructure {
		bin, xml, err := s.Encodings(ctx, node.NodeID)
		if err != nil {
			return nil, err
		}
		if !bin.IsNull() {
			def.BinaryEncodingID = bin
		}
		def.XMLEncodingID = xml
	}
	return def, nil
}

// Encodings returns the Default Binary and Default XML encodings of a data
// type.
func (s *Session) Encodings(ctx context.Context, n opcua.NodeID) (binary, xml opcua.NodeID, err error) {
	node, err := toUANodeID(n)
	if err != nil {
		return binary, xml, err
	}
	refs, err := s.browse(ctx, browseDescription(node, ua.BrowseDirectionForward, id.HasEncoding, ua.NodeClassObject))
	if err != nil {
		return binary, xml, err
	}
	for _, ref := range refs {
		if ref.BrowseName == nil {
			continue
		}
		switch ref.BrowseName.Name {
		case defaultBinaryName:
			binary = fromUAExpandedNodeID(ref.NodeID)
		case defaultXMLName:
			xml = fromUAExpandedNodeID(ref.NodeID)
		}
	}
	return binary, xml, nil
}

// ReadDictionaries reads the dictionaries of a type system.
func (s *Session) ReadDictionaries(ctx context.Context, typeSystem opcua.NodeID) ([]typesystem.Dictionary, error) {
	node, err := toUANodeID(typeSystem)
	if err != nil {
		return nil, err
	}
	refs, err := s.browse(ctx, browseDescription(node, ua.BrowseDirectionForward, id.HasComponent, ua.NodeClassVariable))
	if err != nil {
		return nil, err
	}

	var out []typesystem.Dictionary
	for _, ref := range refs {
		if ref.NodeID == nil || ref.NodeID.NodeID == nil {
			continue
		}
		values, err := s.readValues(ctx, ua.AttributeIDValue, ref.NodeID.NodeID)
		if err != nil {
			return out, err
		}
		dv := values[0]
		if dv == nil || dv.Value == nil {
			continue
		}
		data, ok := dv.Value.Value().([]byte)
		if !ok {
			continue
		}
		dict := typesystem.Dictionary{NodeID: fromUAExpandedNodeID(ref.NodeID), Data: data}
		dict.NamespaceURI, _ = s.namespaceURIProperty(ctx, ref.NodeID.NodeID)
		out = append(out, dict)
	}
	return out, nil
}

func (s *Session) namespaceURIProperty(ctx context.Context, dict *ua.NodeID) (string, error) {
	refs, err := s.browse(ctx, browseDescription(dict, ua.BrowseDirectionForward, id.HasProperty, ua.NodeClassVariable))
	if err != nil {
		return "", err
	}
	for _, ref := range refs {
		if ref.BrowseName == nil || ref.BrowseName.Name != namespaceURIName || ref.NodeID == nil {
			continue
		}
		values, err := s.readValues(ctx, ua.AttributeIDValue, ref.NodeID.NodeID)
		if err != nil {
			return "", err
		}
		if dv := values[0]; dv != nil && dv.Value != nil {
			uri, _ := dv.Value.Value().(string)
			return uri, nil
		}
	}
	return "", nil
}

// NamespaceArray reads the server namespace table.
func (s *Session) NamespaceArray(ctx context.Context) ([]string, error) {
	values, err := s.readValues(ctx, ua.AttributeIDValue, ua.NewNumericNodeID(0, id.Server_NamespaceArray))
	if err != nil {
		return nil, err
	}
	dv := values[0]
	if dv == nil || dv.Value == nil {
		return nil, fmt.Errorf("read namespace array: no value")
	}
	if dv.Status != ua.StatusOK {
		return nil, fmt.Errorf("read namespace array: %w", convertError("read", dv.Status))
	}
	ns, ok := dv.Value.Value().([]string)
	if !ok {
		return nil, fmt.Errorf("read namespace array: unexpected value %T", dv.Value.Value())
	}
	return ns, nil
}
