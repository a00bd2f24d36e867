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

package subscription

import (
	"context"
	"io"
	"log/slog"
	"sync"

	opcua "github.com/edgeo-scada/opcpublisher"
)

type serverSub struct {
	params Parameters
	notify NotifyFunc
	items  map[uint32]ItemRequest
}

// fakeBackend keeps subscriptions in memory like a server would.
type fakeBackend struct {
	mu       sync.Mutex
	nextSub  uint32
	nextItem uint32
	subs     map[uint32]*serverSub

	// itemStatus fails create requests for the given nodes.
	itemStatus map[opcua.NodeID]opcua.StatusCode
	// callErr fails every item service call.
	callErr error

	creates, modifies, deletes int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		subs:       make(map[uint32]*serverSub),
		itemStatus: make(map[opcua.NodeID]opcua.StatusCode),
	}
}

func (b *fakeBackend) CreateSubscription(_ context.Context, params Parameters, notify NotifyFunc) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.subs[b.nextSub] = &serverSub{params: params, notify: notify, items: make(map[uint32]ItemRequest)}
	return b.nextSub, nil
}

func (b *fakeBackend) DeleteSubscription(_ context.Context, id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return opcua.StatusBadSubscriptionIDInvalid
	}
	delete(b.subs, id)
	return nil
}

func (b *fakeBackend) CreateItems(_ context.Context, id uint32, items []ItemRequest) ([]ItemResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	sub, ok := b.subs[id]
	if !ok {
		return nil, opcua.StatusBadSubscriptionIDInvalid
	}
	b.creates++
	out := make([]ItemResult, len(items))
	for i, item := range items {
		if sc, bad := b.itemStatus[item.NodeID]; bad {
			out[i] = ItemResult{StatusCode: sc}
			continue
		}
		b.nextItem++
		sub.items[b.nextItem] = item
		out[i] = ItemResult{ServerID: b.nextItem}
	}
	return out, nil
}

func (b *fakeBackend) ModifyItems(_ context.Context, id uint32, items []ItemRequest) ([]ItemResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	sub, ok := b.subs[id]
	if !ok {
		return nil, opcua.StatusBadSubscriptionIDInvalid
	}
	b.modifies++
	out := make([]ItemResult, len(items))
	for i, item := range items {
		if _, ok := sub.items[item.ServerID]; !ok {
			out[i] = ItemResult{StatusCode: opcua.StatusBadMonitoredItemIDInvalid}
			continue
		}
		sub.items[item.ServerID] = item
		out[i] = ItemResult{ServerID: item.ServerID}
	}
	return out, nil
}

func (b *fakeBackend) DeleteItems(_ context.Context, id uint32, serverIDs []uint32) ([]opcua.StatusCode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	sub, ok := b.subs[id]
	if !ok {
		return nil, opcua.StatusBadSubscriptionIDInvalid
	}
	b.deletes++
	out := make([]opcua.StatusCode, len(serverIDs))
	for i, sid := range serverIDs {
		if _, ok := sub.items[sid]; !ok {
			out[i] = opcua.StatusBadMonitoredItemIDInvalid
			continue
		}
		delete(sub.items, sid)
	}
	return out, nil
}

// items returns the items of one server subscription keyed by node id.
func (b *fakeBackend) items(id uint32) map[opcua.NodeID]ItemRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[opcua.NodeID]ItemRequest)
	if sub, ok := b.subs[id]; ok {
		for _, item := range sub.items {
			out[item.NodeID] = item
		}
	}
	return out
}

func (b *fakeBackend) subscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// notify delivers a data change for node on subscription id.
func (b *fakeBackend) notify(id, seq uint32, node opcua.NodeID, v opcua.Variant) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	var handle uint32
	found := false
	if ok {
		for _, item := range sub.items {
			if item.NodeID == node {
				handle, found = item.ClientHandle, true
				break
			}
		}
	}
	b.mu.Unlock()
	if !found {
		return false
	}
	sub.notify(Notification{
		SubscriptionID: id,
		SequenceNumber: seq,
		ClientHandle:   handle,
		Value:          opcua.DataValue{Value: v},
	})
	return true
}

// fakeProvider hands out one backend per connection key.
type fakeProvider struct {
	mu       sync.Mutex
	backends map[string]*fakeBackend
	acquired int
	released int
	err      error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{backends: make(map[string]*fakeBackend)}
}

func (p *fakeProvider) Backend(_ context.Context, key string) (Backend, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, nil, p.err
	}
	b, ok := p.backends[key]
	if !ok {
		b = newFakeBackend()
		p.backends[key] = b
	}
	p.acquired++
	return b, func() {
		p.mu.Lock()
		p.released++
		p.mu.Unlock()
	}, nil
}

func (p *fakeProvider) backend(key string) *fakeBackend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backends[key]
}

func (p *fakeProvider) counts() (acquired, released int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired, p.released
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testEndpoint = "opc.tcp://plc:4840"

func testItem(subscriber string, id uint32) MonitoredItem {
	return MonitoredItem{
		Subscriber: subscriber,
		NodeID:     opcua.NewNumericNodeID(2, id),
		Endpoint:   testEndpoint,
	}
}
