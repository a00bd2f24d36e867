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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcpublisher"
)

var defaultKey = Key{Connection: testEndpoint, PublishingInterval: DefaultPublishingInterval}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeProvider) {
	t.Helper()
	p := newFakeProvider()
	m := NewManager(p, append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, p
}

func TestManagerStartStopRange(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	var items []MonitoredItem
	for i := uint32(1000); i < 1100; i++ {
		items = append(items, testItem("sub", i))
	}
	require.NoError(t, m.StartPublish(ctx, items...))

	for i := uint32(1000); i < 1050; i++ {
		require.NoError(t, m.StopPublish(ctx, testItem("sub", i).Identity()))
	}

	got := m.List("sub")
	require.Len(t, got, 50)
	for i, item := range got {
		assert.Equal(t, opcua.NewNumericNodeID(2, uint32(1050+i)), item.NodeID)
	}

	sub, ok := m.Subscription(defaultKey)
	require.True(t, ok)
	assert.Equal(t, StateOnline, sub.State())
	assert.Len(t, p.backend(testEndpoint).items(sub.ID()), 50)
}

func TestManagerStartTwiceKeepsLastParameters(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	first := testItem("sub", 1)
	first.SamplingInterval = 100 * time.Millisecond
	require.NoError(t, m.StartPublish(ctx, first))

	second := first
	second.SamplingInterval = 500 * time.Millisecond
	require.NoError(t, m.StartPublish(ctx, second))

	got := m.List("")
	require.Len(t, got, 1)
	assert.Equal(t, 500*time.Millisecond, got[0].SamplingInterval)

	b := p.backend(testEndpoint)
	sub, _ := m.Subscription(defaultKey)
	server := b.items(sub.ID())
	require.Len(t, server, 1)
	assert.Equal(t, 500*time.Millisecond, server[first.NodeID].SamplingInterval)
	assert.Equal(t, 1, b.modifies)
}

func TestManagerDuplicateInOneCall(t *testing.T) {
	m, _ := newTestManager(t)

	a := testItem("sub", 1)
	a.QueueSize = 5
	b := a
	b.QueueSize = 10
	require.NoError(t, m.StartPublish(context.Background(), a, b))

	got := m.List("sub")
	require.Len(t, got, 1)
	assert.Equal(t, uint32(10), got[0].QueueSize)
}

func TestManagerStopTwice(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	item := testItem("sub", 7)
	require.NoError(t, m.StartPublish(ctx, item))
	require.NoError(t, m.StopPublish(ctx, item.Identity()))

	err := m.StopPublish(ctx, item.Identity())
	require.Error(t, err)
	assert.ErrorIs(t, err, opcua.ErrMonitoredItemNotFound)

	// The empty subscription is deleted and its session released.
	_, ok := m.Subscription(defaultKey)
	assert.False(t, ok)
	assert.Zero(t, p.backend(testEndpoint).subscriptionCount())
	acquired, released := p.counts()
	assert.Equal(t, acquired, released)
}

func TestManagerSubscribersAreIndependent(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	require.NoError(t, m.StartPublish(ctx, testItem("a", 1), testItem("b", 1)))
	require.NoError(t, m.StopPublish(ctx, testItem("a", 1).Identity()))

	assert.Empty(t, m.List("a"))
	require.Len(t, m.List("b"), 1)

	sub, _ := m.Subscription(defaultKey)
	assert.Len(t, p.backend(testEndpoint).items(sub.ID()), 1)
}

func TestManagerCredentialSelectsConnection(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	anon := testItem("sub", 1)
	user := anon
	user.Credential = "operator"
	require.NoError(t, m.StartPublish(ctx, anon, user))

	assert.Len(t, m.List("sub"), 2)
	assert.NotNil(t, p.backend(testEndpoint))
	assert.NotNil(t, p.backend(testEndpoint+"#operator"))
	assert.Len(t, m.Snapshot(), 2)
}

func TestManagerPublishingIntervalMovesItem(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	item := testItem("sub", 1)
	require.NoError(t, m.StartPublish(ctx, item))

	item.PublishingInterval = 2 * time.Second
	require.NoError(t, m.StartPublish(ctx, item))

	_, ok := m.Subscription(defaultKey)
	assert.False(t, ok)
	moved, ok := m.Subscription(Key{Connection: testEndpoint, PublishingInterval: 2 * time.Second})
	require.True(t, ok)
	assert.Len(t, moved.Applied(), 1)
	assert.Equal(t, 1, p.backend(testEndpoint).subscriptionCount())
}

func TestManagerValidation(t *testing.T) {
	m, p := newTestManager(t)

	item := testItem("", 1)
	err := m.StartPublish(context.Background(), testItem("ok", 2), item)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscriber is required")

	// Nothing from a rejected call is published.
	assert.Empty(t, m.List(""))
	assert.Nil(t, p.backend(testEndpoint))
}

func TestManagerPartialFailure(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	// Create the backend before the first sync so the failure can be armed.
	_, release, err := p.Backend(ctx, testEndpoint)
	require.NoError(t, err)
	release()
	bad := opcua.NewNumericNodeID(2, 2)
	p.backend(testEndpoint).itemStatus[bad] = opcua.StatusBadNodeIDUnknown

	err = m.StartPublish(ctx, testItem("sub", 1), testItem("sub", 2), testItem("sub", 3))
	require.Error(t, err)
	assert.True(t, opcua.IsStatusCode(err, opcua.StatusBadNodeIDUnknown))

	sub, _ := m.Subscription(defaultKey)
	assert.Len(t, sub.Applied(), 2)
	assert.Equal(t, StateOffline, sub.State())
	// The failed item stays desired and is retried.
	assert.Len(t, m.List("sub"), 3)

	delete(p.backend(testEndpoint).itemStatus, bad)
	require.NoError(t, m.SyncAll(ctx))
	assert.Len(t, sub.Applied(), 3)
	assert.Equal(t, StateOnline, sub.State())
}

func TestManagerCallErrorAbortsSync(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	require.NoError(t, m.StartPublish(ctx, testItem("sub", 1)))
	b := p.backend(testEndpoint)
	b.mu.Lock()
	b.callErr = opcua.StatusBadTimeout
	b.mu.Unlock()

	err := m.StartPublish(ctx, testItem("sub", 2))
	require.Error(t, err)
	assert.True(t, opcua.IsStatusCode(err, opcua.StatusBadTimeout))

	b.mu.Lock()
	b.callErr = nil
	b.mu.Unlock()
	require.NoError(t, m.SyncAll(ctx))

	sub, _ := m.Subscription(defaultKey)
	assert.Len(t, sub.Applied(), 2)
}

func TestManagerBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)
	p.err = opcua.ErrNotConnected

	err := m.StartPublish(ctx, testItem("sub", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, opcua.ErrNotConnected))
	assert.Len(t, m.List("sub"), 1)

	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	require.NoError(t, m.SyncAll(ctx))
	sub, _ := m.Subscription(defaultKey)
	assert.Equal(t, StateOnline, sub.State())
}

func TestManagerOfflineResync(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	require.NoError(t, m.StartPublish(ctx, testItem("sub", 1), testItem("sub", 2), testItem("sub", 3)))
	sub, _ := m.Subscription(defaultKey)
	firstID := sub.ID()

	m.SetOffline(testEndpoint)
	assert.Equal(t, StateOffline, sub.State())
	assert.Zero(t, sub.ID())
	assert.Empty(t, sub.Applied())
	assert.Len(t, sub.Items(), 3)

	require.NoError(t, m.SyncAll(ctx))
	assert.Equal(t, StateOnline, sub.State())
	assert.NotEqual(t, firstID, sub.ID())
	assert.Len(t, p.backend(testEndpoint).items(sub.ID()), 3)
}

func TestManagerDeliversNotifications(t *testing.T) {
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []Event
	)
	m, p := newTestManager(t, WithEventHandler(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	item := testItem("sub", 42)
	item.DisplayName = "Temperature"
	item.HeartbeatInterval = time.Second
	require.NoError(t, m.StartPublish(ctx, item))

	sub, _ := m.Subscription(defaultKey)
	b := p.backend(testEndpoint)
	id := sub.ID()
	require.True(t, b.notify(id, 1, item.NodeID, opcua.Variant{Type: opcua.TypeDouble, Value: 21.5}))

	mu.Lock()
	require.Len(t, events, 1)
	ev := events[0]
	mu.Unlock()
	assert.Equal(t, "sub", ev.Subscriber)
	assert.Equal(t, "Temperature", ev.DisplayName)
	assert.Equal(t, 21.5, ev.Value.Value.Value)
	assert.Equal(t, id, ev.SubscriptionID)
	assert.False(t, ev.Heartbeat)

	sub.heartbeat(time.Now().Add(2 * time.Second))
	mu.Lock()
	require.Len(t, events, 2)
	hb := events[1]
	mu.Unlock()
	assert.True(t, hb.Heartbeat)
	assert.Equal(t, 21.5, hb.Value.Value.Value)

	// Notifications of a subscription lost to SetOffline are dropped.
	m.SetOffline(testEndpoint)
	b.notify(id, 2, item.NodeID, opcua.Variant{Type: opcua.TypeDouble, Value: 22.0})
	mu.Lock()
	assert.Len(t, events, 2)
	mu.Unlock()
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, WithHeartbeatResolution(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerRunIgnoresNonPositiveHeartbeatResolution(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		m, _ := newTestManager(t, WithHeartbeatResolution(d))
		assert.Equal(t, time.Second, m.opts.heartbeatInterval)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		assert.NotPanics(t, func() { m.Run(ctx) })
		cancel()
	}
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	m, p := newTestManager(t)

	require.NoError(t, m.StartPublish(ctx, testItem("sub", 1)))
	require.NoError(t, m.Close(ctx))

	assert.Empty(t, m.List(""))
	assert.Zero(t, p.backend(testEndpoint).subscriptionCount())
	acquired, released := p.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}
