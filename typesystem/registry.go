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
	"sort"
	"sync"
	"sync/atomic"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Registry maps type ids and encoding ids to descriptors for one session.
// It is append-only: the first descriptor stored for an id wins and is never
// replaced.
type Registry struct {
	types     sync.Map // opcua.NodeID -> *TypeDescriptor
	encodings sync.Map // opcua.NodeID -> *TypeDescriptor
	count     atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores t unless a descriptor with the same id exists. It returns the
// stored descriptor and whether it was already present.
func (r *Registry) Add(t *TypeDescriptor) (*TypeDescriptor, bool) {
	actual, loaded := r.types.LoadOrStore(t.ID, t)
	stored := actual.(*TypeDescriptor)
	if loaded {
		return stored, true
	}
	r.count.Add(1)
	if !t.BinaryEncodingID.IsNull() {
		r.encodings.LoadOrStore(t.BinaryEncodingID, t)
	}
	if !t.XMLEncodingID.IsNull() {
		r.encodings.LoadOrStore(t.XMLEncodingID, t)
	}
	return stored, false
}

// Lookup returns the descriptor registered for a type id.
func (r *Registry) Lookup(id opcua.NodeID) (*TypeDescriptor, bool) {
	v, ok := r.types.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*TypeDescriptor), true
}

// ByEncoding returns the descriptor registered for an encoding id.
func (r *Registry) ByEncoding(id opcua.NodeID) (*TypeDescriptor, bool) {
	v, ok := r.encodings.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*TypeDescriptor), true
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Types returns all registered descriptors ordered by type id.
func (r *Registry) Types() []*TypeDescriptor {
	var out []*TypeDescriptor
	r.types.Range(func(_, v interface{}) bool {
		out = append(out, v.(*TypeDescriptor))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}
