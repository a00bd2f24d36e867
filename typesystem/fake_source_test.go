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
	"sync"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// fakeSource is an in-memory NodeSource.
type fakeSource struct {
	mu         sync.Mutex
	children   map[opcua.NodeID][]DataTypeNode
	supers     map[opcua.NodeID]opcua.NodeID
	defs       map[opcua.NodeID]*DataTypeDefinition
	encodings  map[opcua.NodeID][2]opcua.NodeID
	dicts      map[opcua.NodeID][]Dictionary
	namespaces []string

	defReads  map[opcua.NodeID]int
	dictReads int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		children:   make(map[opcua.NodeID][]DataTypeNode),
		supers:     make(map[opcua.NodeID]opcua.NodeID),
		defs:       make(map[opcua.NodeID]*DataTypeDefinition),
		encodings:  make(map[opcua.NodeID][2]opcua.NodeID),
		dicts:      make(map[opcua.NodeID][]Dictionary),
		namespaces: []string{UANamespace, "urn:local", "urn:demo"},
		defReads:   make(map[opcua.NodeID]int),
	}
}

// addType links id below parent and stores its definition, which may be nil.
func (f *fakeSource) addType(parent opcua.NodeID, id opcua.NodeID, name string, def *DataTypeDefinition) {
	f.children[parent] = append(f.children[parent], DataTypeNode{
		NodeID:     id,
		BrowseName: opcua.QualifiedName{NamespaceIndex: id.Namespace, Name: name},
	})
	f.supers[id] = parent
	if def != nil {
		f.defs[id] = def
		f.encodings[id] = [2]opcua.NodeID{def.BinaryEncodingID, def.XMLEncodingID}
	}
}

func (f *fakeSource) BrowseSubtypes(_ context.Context, parent opcua.NodeID) ([]DataTypeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[parent], nil
}

func (f *fakeSource) SuperType(_ context.Context, id opcua.NodeID) (opcua.NodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.supers[id]
	if !ok {
		return opcua.NodeID{}, &opcua.DataTypeNotFoundError{NodeIDs: []opcua.NodeID{id}}
	}
	return st, nil
}

func (f *fakeSource) ReadDefinition(_ context.Context, node DataTypeNode) (*DataTypeDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defReads[node.NodeID]++
	def, ok := f.defs[node.NodeID]
	if !ok {
		return nil, opcua.ErrDefinitionUnavailable
	}
	cp := *def
	return &cp, nil
}

func (f *fakeSource) Encodings(_ context.Context, id opcua.NodeID) (opcua.NodeID, opcua.NodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc, ok := f.encodings[id]
	if !ok {
		return opcua.NodeID{}, opcua.NodeID{}, &opcua.DataTypeNotFoundError{NodeIDs: []opcua.NodeID{id}}
	}
	return enc[0], enc[1], nil
}

func (f *fakeSource) ReadDictionaries(_ context.Context, typeSystem opcua.NodeID) ([]Dictionary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dictReads++
	return f.dicts[typeSystem], nil
}

func (f *fakeSource) NamespaceArray(context.Context) ([]string, error) {
	return f.namespaces, nil
}

func ns2(id uint32) opcua.NodeID { return opcua.NewNumericNodeID(2, id) }

func structDef(id uint32, name string, st StructureType, fields ...StructureField) *DataTypeDefinition {
	enc := ns2(id + 5000)
	return &DataTypeDefinition{
		Kind:             DefinitionStructure,
		TypeID:           ns2(id),
		Name:             name,
		BinaryEncodingID: enc,
		Structure: &StructureDefinition{
			DefaultEncodingID: enc,
			BaseDataType:      structureID,
			StructureType:     st,
			Fields:            fields,
		},
	}
}

func enumDef(id uint32, name string, values ...string) *DataTypeDefinition {
	def := &DataTypeDefinition{Kind: DefinitionEnum, TypeID: ns2(id), Name: name, Enum: &EnumDefinition{}}
	for i, v := range values {
		def.Enum.Fields = append(def.Enum.Fields, EnumField{Name: v, Value: int64(i)})
	}
	return def
}

func scalar(name string, dt opcua.NodeID) StructureField {
	return StructureField{Name: name, DataType: dt, ValueRank: opcua.ValueRankScalar}
}

func sequence(name string, dt opcua.NodeID) StructureField {
	return StructureField{Name: name, DataType: dt, ValueRank: opcua.ValueRankOneDimension}
}

func optional(f StructureField) StructureField {
	f.IsOptional = true
	return f
}
