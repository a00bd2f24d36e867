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

// Package session shares connected server sessions among many callers.
//
// A Holder keeps one session per connection key. Callers Acquire a Handle,
// run service calls through Handle.Do and Release the handle when done. The
// session is connected when the first handle is acquired and disconnected
// once the last one is released, optionally after an idle timeout.
//
// Service calls hold a shared lock on the session, so the session is never
// replaced or closed while a call runs. Connect, Reconnect and disconnect
// hold the lock exclusively. All lock waits honour the caller's context and
// nothing else.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Session is a connected server session.
type Session interface {
	Close(ctx context.Context) error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, key string) (Session, error)
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(ctx context.Context, key string) (Session, error)

// Connect calls f(ctx, key).
func (f ConnectorFunc) Connect(ctx context.Context, key string) (Session, error) {
	return f(ctx, key)
}

// Holder shares sessions by connection key.
type Holder struct {
	connector Connector
	opts      *options
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	// disconnects tracks sessions closing after their last release.
	disconnects sync.WaitGroup
}

// New creates a holder opening sessions through connector.
func New(connector Connector, opts ...Option) *Holder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Holder{
		connector: connector,
		opts:      o,
		logger:    o.logger,
		entries:   make(map[string]*entry),
	}
}

type entry struct {
	key  string
	h    *Holder
	lock *rwLock

	// Guarded by Holder.mu.
	refs int
	idle *time.Timer

	// Guarded by lock.
	session Session
	err     error
	closed  bool

	closing atomic.Bool
	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
}

// Acquire returns a handle on the session for key. The first handle of a
// key starts connecting in the background; use Handle.Wait to block until
// the session is connected.
func (h *Holder) Acquire(key string) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return &Handle{key: key}
	}

	e, ok := h.entries[key]
	if ok {
		if e.idle != nil {
			e.idle.Stop()
			e.idle = nil
		}
		e.refs++
		h.opts.metrics.SessionRefs(key, e.refs)
		e.retryFailed()
		return &Handle{key: key, e: e}
	}

	e = &entry{key: key, h: h, lock: newRWLock(), refs: 1}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	h.entries[key] = e
	h.opts.metrics.SessionRefs(key, 1)

	// Holding the lock before returning makes every caller wait for the
	// first connect.
	e.lock.TryLock()
	go e.backgroundConnect()

	return &Handle{key: key, e: e}
}

// Refs returns the number of live handles for key.
func (h *Holder) Refs(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[key]; ok {
		return e.refs
	}
	return 0
}

// State returns the connection state of key.
func (h *Holder) State(key string) opcua.ConnectionState {
	h.mu.Lock()
	e, ok := h.entries[key]
	h.mu.Unlock()
	if !ok {
		return opcua.StateDisconnected
	}
	return opcua.ConnectionState(e.state.Load())
}

// Close disconnects every session. Handles fail with opcua.ErrHolderClosed
// afterwards.
func (h *Holder) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	entries := make([]*entry, 0, len(h.entries))
	for _, e := range h.entries {
		if e.idle != nil {
			e.idle.Stop()
			e.idle = nil
		}
		entries = append(entries, e)
	}
	h.entries = make(map[string]*entry)
	h.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.disconnects.Wait()
	return errors.Join(errs...)
}

func (h *Holder) release(e *entry) {
	h.mu.Lock()
	e.refs--
	h.opts.metrics.SessionRefs(e.key, e.refs)
	if e.refs > 0 || h.entries[e.key] != e {
		h.mu.Unlock()
		return
	}
	if d := h.opts.idleTimeout; d > 0 {
		e.idle = time.AfterFunc(d, func() { h.expire(e) })
		h.mu.Unlock()
		return
	}
	delete(h.entries, e.key)
	h.disconnects.Add(1)
	h.mu.Unlock()
	go func() {
		defer h.disconnects.Done()
		h.disconnect(e)
	}()
}

// expire disconnects e unless it was acquired again in the meantime.
func (h *Holder) expire(e *entry) {
	h.mu.Lock()
	if e.refs > 0 || h.entries[e.key] != e {
		h.mu.Unlock()
		return
	}
	delete(h.entries, e.key)
	e.idle = nil
	h.disconnects.Add(1)
	h.mu.Unlock()
	defer h.disconnects.Done()
	h.disconnect(e)
}

// disconnect closes the session of an entry already removed from the
// holder. A later Acquire of the same key opens a new session.
func (h *Holder) disconnect(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.closeTimeout)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		h.logger.Warn("session close failed", slog.String("key", e.key), slog.Any("error", err))
	}
}

func (e *entry) setState(s opcua.ConnectionState) {
	if opcua.ConnectionState(e.state.Swap(int32(s))) != s {
		e.h.opts.onStateChange(e.key, s)
	}
}

// retryFailed starts a new connect when the last one failed and nobody
// is using the entry. The caller holds Holder.mu.
func (e *entry) retryFailed() {
	if !e.lock.TryLock() {
		return
	}
	if e.session != nil || e.err == nil || e.closed || e.closing.Load() {
		e.lock.Unlock()
		return
	}
	go e.backgroundConnect()
}

// backgroundConnect connects and releases the write lock taken by the
// caller.
func (e *entry) backgroundConnect() {
	defer e.lock.Unlock()

	ctx := e.ctx
	if d := e.h.opts.connectTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	_ = e.connectLocked(ctx)
}

// connectLocked opens a session. The caller holds the write lock.
func (e *entry) connectLocked(ctx context.Context) error {
	e.setState(opcua.StateConnecting)
	start := time.Now()
	s, err := e.h.connector.Connect(ctx, e.key)
	e.h.opts.metrics.SessionConnect(e.key, time.Since(start), err)
	if err != nil {
		e.err = err
		e.setState(opcua.StateDisconnected)
		e.h.logger.Warn("session connect failed", slog.String("key", e.key), slog.Any("error", err))
		return &opcua.ConnectivityError{Key: e.key, Err: err}
	}
	e.session, e.err = s, nil
	e.setState(opcua.StateConnected)
	e.h.logger.Info("session connected", slog.String("key", e.key), slog.Duration("elapsed", time.Since(start)))
	return nil
}

// closeLocked closes the session. The caller holds the write lock.
func (e *entry) closeLocked(ctx context.Context) error {
	if e.session == nil {
		return nil
	}
	err := e.session.Close(ctx)
	e.session = nil
	return err
}

// shutdown cancels a pending connect and closes the session for good.
func (e *entry) shutdown(ctx context.Context) error {
	e.closing.Store(true)
	e.cancel()
	if err := e.lock.Lock(ctx); err != nil {
		return err
	}
	defer e.lock.Unlock()

	e.closed = true
	err := e.closeLocked(ctx)
	e.setState(opcua.StateClosed)
	e.h.logger.Debug("session closed", slog.String("key", e.key))
	return err
}

func (e *entry) unavailable() error {
	switch {
	case e.closed:
		return opcua.ErrHolderClosed
	case e.err != nil:
		return &opcua.ConnectivityError{Key: e.key, Err: e.err}
	default:
		return &opcua.ConnectivityError{Key: e.key, Err: opcua.ErrNotConnected}
	}
}

// Handle is one reference on a shared session.
type Handle struct {
	key      string
	e        *entry
	released atomic.Bool
}

// Key returns the connection key.
func (hd *Handle) Key() string { return hd.key }

func (hd *Handle) check() error {
	if hd.e == nil {
		return opcua.ErrHolderClosed
	}
	if hd.released.Load() {
		return opcua.ErrHandleReleased
	}
	return nil
}

// Wait blocks until the session is connected. A failed connect yields an
// *opcua.ConnectivityError.
func (hd *Handle) Wait(ctx context.Context) error {
	if err := hd.check(); err != nil {
		return err
	}
	if err := hd.e.lock.RLock(ctx); err != nil {
		return err
	}
	defer hd.e.lock.RUnlock()
	if hd.e.session == nil {
		return hd.e.unavailable()
	}
	return nil
}

// Do runs fn with the session. The session is not replaced or closed while
// fn runs.
func (hd *Handle) Do(ctx context.Context, fn func(Session) error) error {
	if err := hd.check(); err != nil {
		return err
	}
	if err := hd.e.lock.RLock(ctx); err != nil {
		return err
	}
	defer hd.e.lock.RUnlock()
	if hd.e.session == nil {
		return hd.e.unavailable()
	}
	return fn(hd.e.session)
}

// Reconnect closes the session and opens a new one. It waits for running
// calls to finish.
func (hd *Handle) Reconnect(ctx context.Context) error {
	if err := hd.check(); err != nil {
		return err
	}
	e := hd.e
	if err := e.lock.Lock(ctx); err != nil {
		return err
	}
	defer e.lock.Unlock()
	if e.closed || e.closing.Load() {
		return opcua.ErrHolderClosed
	}

	e.setState(opcua.StateReconnecting)
	if err := e.closeLocked(ctx); err != nil {
		e.h.logger.Debug("closing stale session", slog.String("key", e.key), slog.Any("error", err))
	}
	return e.connectLocked(ctx)
}

// Release drops the reference. Further calls are no-ops.
func (hd *Handle) Release() {
	if hd.e == nil || !hd.released.CompareAndSwap(false, true) {
		return
	}
	hd.e.h.release(hd.e)
}
