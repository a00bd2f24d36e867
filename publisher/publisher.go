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

// Package publisher ties shared sessions, subscriptions and complex type
// decoding into one service.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/session"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
	"github.com/edgeo-scada/opcpublisher/uaclient"
)

// healthChecker is implemented by sessions that can tell the server
// dropped them.
type healthChecker interface {
	Err() error
}

// Publisher publishes monitored items of any number of servers.
type Publisher struct {
	opts    *options
	logger  *slog.Logger
	holder  *session.Holder
	manager *subscription.Manager

	mu    sync.Mutex
	types map[string]*typesystem.ComplexTypeSystem
	wg    sync.WaitGroup
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a publisher opening sessions through connector.
func New(connector session.Connector, opts ...Option) *Publisher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		opts:   o,
		logger: o.logger,
		types:  make(map[string]*typesystem.ComplexTypeSystem),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	p.holder = session.New(connector,
		session.WithLogger(o.logger),
		session.WithMetrics(o.metrics),
		session.WithIdleTimeout(o.idleTimeout),
		session.WithConnectTimeout(o.connectTimeout),
		session.WithOnStateChange(p.stateChanged),
	)

	subOpts := []subscription.Option{
		subscription.WithLogger(o.logger),
		subscription.WithMetrics(o.metrics),
		subscription.WithEventHandler(p.forward),
	}
	p.manager = subscription.NewManager(uaclient.NewProvider(p.holder), append(subOpts, o.subOpts...)...)
	return p
}

// Holder returns the session holder.
func (p *Publisher) Holder() *session.Holder { return p.holder }

// Manager returns the subscription manager.
func (p *Publisher) Manager() *subscription.Manager { return p.manager }

// StartPublish adds or updates items. Types of newly used servers are
// loaded in the background.
func (p *Publisher) StartPublish(ctx context.Context, items ...subscription.MonitoredItem) error {
	err := p.manager.StartPublish(ctx, items...)
	if p.opts.loadTypes {
		for _, item := range items {
			if item.Validate() == nil {
				p.ensureTypes(item.ConnectionKey())
			}
		}
	}
	return err
}

// StopPublish removes an item.
func (p *Publisher) StopPublish(ctx context.Context, id subscription.Identity) error {
	return p.manager.StopPublish(ctx, id)
}

// List returns the items of a subscriber.
func (p *Publisher) List(subscriber string) []subscription.MonitoredItem {
	return p.manager.List(subscriber)
}

// Types returns the type system of a connection, once loading started.
func (p *Publisher) Types(connection string) (*typesystem.ComplexTypeSystem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts, ok := p.types[connection]
	return ts, ok
}

func (p *Publisher) ensureTypes(key string) {
	p.mu.Lock()
	if _, ok := p.types[key]; ok || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	hd := p.holder.Acquire(key)
	ts := typesystem.New(uaclient.HandleSource{Handle: hd},
		append([]typesystem.Option{typesystem.WithLogger(p.logger), typesystem.WithMetrics(p.opts.metrics)}, p.opts.typeOpts...)...)
	p.types[key] = ts
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer hd.Release()
		p.loadTypes(key, ts)
	}()
}

func (p *Publisher) loadTypes(key string, ts *typesystem.ComplexTypeSystem) {
	logger := p.logger.With(slog.String("connection", key))
	ok, err := ts.Load(p.ctx)
	switch {
	case err != nil:
		logger.Warn("loading complex types failed", slog.Any("error", err))
		// Forget the type system so the next start retries.
		p.mu.Lock()
		if p.types[key] == ts && ts.Registry().Len() == 0 {
			delete(p.types, key)
		}
		p.mu.Unlock()
	case !ok:
		logger.Warn("complex types partially loaded", slog.Int("types", ts.Registry().Len()))
	default:
		logger.Info("complex types loaded", slog.Int("types", ts.Registry().Len()))
	}
}

func (p *Publisher) forward(ev subscription.Event) {
	var codec *typesystem.Codec
	if ts, ok := p.Types(ev.Connection); ok {
		codec = ts.Codec()
	}
	p.opts.sink(newMessage(ev, codec))
}

// stateChanged runs inside the session holder.
func (p *Publisher) stateChanged(key string, state opcua.ConnectionState) {
	p.logger.Debug("session state changed", slog.String("connection", key), slog.String("state", state.String()))
	switch state {
	case opcua.StateReconnecting:
		p.manager.SetOffline(key)
	case opcua.StateConnected:
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Run emits heartbeats, reconnects lost sessions and retries pending
// items until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.manager.Run(ctx)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(p.opts.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.Resync(ctx)
	}
}

// Resync reconnects sessions the server dropped and syncs every
// subscription.
func (p *Publisher) Resync(ctx context.Context) {
	seen := make(map[string]bool)
	for _, info := range p.manager.Snapshot() {
		key := info.Key.Connection
		if seen[key] {
			continue
		}
		seen[key] = true
		p.checkSession(ctx, key)
	}
	if err := p.manager.SyncAll(ctx); err != nil {
		p.logger.Debug("resync incomplete", slog.Any("error", err))
	}
}

// checkSession reconnects key when its session is gone. Connections
// nobody holds are left to the next sync.
func (p *Publisher) checkSession(ctx context.Context, key string) {
	if p.holder.Refs(key) == 0 {
		return
	}
	hd := p.holder.Acquire(key)
	defer hd.Release()

	err := hd.Do(ctx, func(s session.Session) error {
		if hc, ok := s.(healthChecker); ok {
			return hc.Err()
		}
		return nil
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, opcua.ErrHolderClosed) {
		return
	}
	if !opcua.IsSessionLost(err) && !opcua.IsConnectivity(err) {
		return
	}

	p.logger.Warn("reconnecting session", slog.String("connection", key), slog.Any("error", err))
	if err := hd.Reconnect(ctx); err != nil {
		p.logger.Warn("reconnect failed", slog.String("connection", key), slog.Any("error", err))
	}
}

// Close removes every subscription and closes all sessions.
func (p *Publisher) Close(ctx context.Context) error {
	p.cancel()
	p.wg.Wait()
	return errors.Join(p.manager.Close(ctx), p.holder.Close(ctx))
}
