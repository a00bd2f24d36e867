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

// Package subscription keeps server subscriptions in line with the
// monitored items subscribers ask for.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Manager owns the subscriptions of a publisher. Items are grouped into
// subscriptions by connection key and publishing interval.
type Manager struct {
	provider BackendProvider
	opts     *options
	logger   *slog.Logger

	mu    sync.Mutex
	subs  map[Key]*Subscription
	index map[Identity]Key
}

// NewManager creates a manager applying changes through provider.
func NewManager(provider BackendProvider, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Manager{
		provider: provider,
		opts:     o,
		logger:   o.logger,
		subs:     make(map[Key]*Subscription),
		index:    make(map[Identity]Key),
	}
}

// StartPublish adds or updates items and syncs the affected
// subscriptions. An identity given twice keeps the last parameters. Items
// stay desired when the sync fails and are retried by SyncAll.
func (m *Manager) StartPublish(ctx context.Context, items ...MonitoredItem) error {
	normalized := make([]MonitoredItem, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
		normalized = append(normalized, item.Normalize())
	}

	touched := make(map[Key]*Subscription)
	m.mu.Lock()
	for _, item := range normalized {
		id := item.Identity()
		key := Key{Connection: item.ConnectionKey(), PublishingInterval: item.PublishingInterval}

		if old, ok := m.index[id]; ok && old != key {
			if sub := m.subs[old]; sub != nil {
				sub.remove(id)
				touched[old] = sub
			}
		}
		sub := m.subs[key]
		if sub == nil {
			sub = newSubscription(key, m.provider, m.opts)
			m.subs[key] = sub
		}
		sub.put(item)
		m.index[id] = key
		touched[key] = sub
	}
	m.mu.Unlock()

	return m.syncSubscriptions(ctx, touched)
}

// StopPublish removes an item. It returns an error wrapping
// opcua.ErrMonitoredItemNotFound when the item is not published.
func (m *Manager) StopPublish(ctx context.Context, id Identity) error {
	m.mu.Lock()
	key, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("stop %s: %w", id, opcua.ErrMonitoredItemNotFound)
	}
	delete(m.index, id)
	sub := m.subs[key]
	sub.remove(id)
	m.mu.Unlock()

	return m.syncSubscriptions(ctx, map[Key]*Subscription{key: sub})
}

// List returns the published items of a subscriber, or of all subscribers
// when subscriber is empty, ordered by node id.
func (m *Manager) List(subscriber string) []MonitoredItem {
	var out []MonitoredItem
	for _, sub := range m.subscriptions() {
		for _, item := range sub.Items() {
			if subscriber == "" || item.Subscriber == subscriber {
				out = append(out, item)
			}
		}
	}
	sortItems(out)
	return out
}

// Subscription returns the subscription for key.
func (m *Manager) Subscription(key Key) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[key]
	return sub, ok
}

// SyncAll syncs every subscription. A failing subscription does not stop
// the others; the errors are joined.
func (m *Manager) SyncAll(ctx context.Context) error {
	subs := make(map[Key]*Subscription)
	for _, sub := range m.subscriptions() {
		subs[sub.key] = sub
	}
	return m.syncSubscriptions(ctx, subs)
}

func (m *Manager) syncSubscriptions(ctx context.Context, subs map[Key]*Subscription) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	if m.opts.parallelism > 0 {
		g.SetLimit(m.opts.parallelism)
	}
	for _, sub := range subs {
		g.Go(func() error {
			if err := sub.Sync(ctx); err != nil {
				m.logger.Warn("subscription sync failed",
					slog.String("subscription", sub.key.String()),
					slog.Any("error", err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := m.dropEmpty(ctx, subs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// dropEmpty closes subscriptions without desired items.
func (m *Manager) dropEmpty(ctx context.Context, subs map[Key]*Subscription) error {
	var empty []*Subscription
	m.mu.Lock()
	for key, sub := range subs {
		if len(sub.Items()) > 0 || m.subs[key] != sub {
			continue
		}
		delete(m.subs, key)
		empty = append(empty, sub)
	}
	m.mu.Unlock()

	var errs []error
	for _, sub := range empty {
		if err := sub.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetOffline marks every subscription on a connection as lost, typically
// after the session was recreated.
func (m *Manager) SetOffline(connection string) {
	for _, sub := range m.subscriptions() {
		if sub.key.Connection == connection {
			sub.SetOffline()
		}
	}
}

// Info describes one subscription.
type Info struct {
	Key            Key
	ID             uint32
	State          State
	Items          int
	Applied        int
	SequenceID     uint32
	SequenceNumber uint32
}

// Snapshot describes every subscription, ordered by key.
func (m *Manager) Snapshot() []Info {
	subs := m.subscriptions()
	out := make([]Info, 0, len(subs))
	for _, sub := range subs {
		seqID, seq := sub.Sequence()
		sub.mu.Lock()
		out = append(out, Info{
			Key:            sub.key,
			ID:             sub.id,
			State:          sub.state,
			Items:          len(sub.desired),
			Applied:        len(sub.applied),
			SequenceID:     seqID,
			SequenceNumber: seq,
		})
		sub.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Connection != out[j].Key.Connection {
			return out[i].Key.Connection < out[j].Key.Connection
		}
		return out[i].Key.PublishingInterval < out[j].Key.PublishingInterval
	})
	return out
}

// Run emits heartbeats until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sub := range m.subscriptions() {
				sub.heartbeat(now)
			}
		}
	}
}

// Close deletes every subscription on the servers.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[Key]*Subscription)
	m.index = make(map[Identity]Key)
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) subscriptions() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	return out
}
