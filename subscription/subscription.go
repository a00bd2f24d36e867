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
	"fmt"
	"log/slog"
	"sync"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// State is the online state of a subscription.
type State int

const (
	StateOffline State = iota
	StateOnline
)

func (s State) String() string {
	if s == StateOnline {
		return "online"
	}
	return "offline"
}

// Key groups monitored items into one server subscription.
type Key struct {
	Connection         string
	PublishingInterval time.Duration
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.Connection, k.PublishingInterval)
}

type appliedItem struct {
	item         MonitoredItem
	clientHandle uint32
	serverID     uint32

	last     opcua.DataValue
	hasValue bool
	lastEmit time.Time
}

// Subscription is the reconciled state of one server subscription: the
// desired items, the items applied on the server and the sequence tracking.
// Sync calls are serialized; different subscriptions sync independently.
type Subscription struct {
	key      Key
	provider BackendProvider
	opts     *options
	logger   *slog.Logger

	syncMu sync.Mutex

	mu         sync.Mutex
	desired    map[Identity]MonitoredItem
	applied    map[Identity]*appliedItem
	byHandle   map[uint32]*appliedItem
	backend    Backend
	release    func()
	id         uint32
	state      State
	nextHandle uint32
	closed     bool

	seq sequenceTracker
}

func newSubscription(key Key, provider BackendProvider, o *options) *Subscription {
	return &Subscription{
		key:      key,
		provider: provider,
		opts:     o,
		logger:   o.logger.With(slog.String("subscription", key.String())),
		desired:  make(map[Identity]MonitoredItem),
		applied:  make(map[Identity]*appliedItem),
		byHandle: make(map[uint32]*appliedItem),
	}
}

// Key returns the subscription key.
func (s *Subscription) Key() Key { return s.key }

// State returns the online state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the server subscription id, or 0 when none exists.
func (s *Subscription) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Sequence returns the subscription id and the last sequence number seen.
func (s *Subscription) Sequence() (subscriptionID, sequence uint32) {
	return s.seq.last()
}

// Observe records a sequence number and reports whether numbers were
// skipped. A new subscription id resets tracking.
func (s *Subscription) Observe(subscriptionID, sequence uint32) bool {
	gap, reset := s.seq.observe(subscriptionID, sequence)
	if reset {
		s.opts.metrics.SequenceReset()
	}
	if gap {
		s.opts.metrics.SequenceGap()
		s.logger.Warn("notification sequence gap",
			slog.Uint64("subscription_id", uint64(subscriptionID)),
			slog.Uint64("sequence", uint64(sequence)))
	}
	return gap
}

// Items returns the desired items.
func (s *Subscription) Items() []MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MonitoredItem, 0, len(s.desired))
	for _, item := range s.desired {
		out = append(out, item)
	}
	return out
}

// Applied returns the items currently applied on the server.
func (s *Subscription) Applied() []MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Subscription) currentLocked() []MonitoredItem {
	out := make([]MonitoredItem, 0, len(s.applied))
	for _, a := range s.applied {
		out = append(out, a.item)
	}
	return out
}

func (s *Subscription) put(item MonitoredItem) {
	s.mu.Lock()
	s.desired[item.Identity()] = item
	s.mu.Unlock()
}

func (s *Subscription) remove(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.desired[id]; !ok {
		return false
	}
	delete(s.desired, id)
	return true
}

// SetOffline marks the server subscription as lost. Applied items are
// forgotten; the next Sync recreates the subscription.
func (s *Subscription) SetOffline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOfflineLocked()
}

func (s *Subscription) setOfflineLocked() {
	if s.state == StateOnline {
		s.opts.metrics.SubscriptionOnline(false)
	}
	s.opts.metrics.MonitoredItems(-len(s.applied))
	s.state = StateOffline
	s.id = 0
	s.applied = make(map[Identity]*appliedItem)
	s.byHandle = make(map[uint32]*appliedItem)
}

// Sync reconciles the server subscription with the desired items. Changes
// applied before a failure or cancellation are kept, so calling Sync again
// converges.
func (s *Subscription) Sync(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", opcua.ErrSubscriptionNotFound, s.key)
	}
	backend, id := s.backend, s.id
	desired := make([]MonitoredItem, 0, len(s.desired))
	for _, item := range s.desired {
		desired = append(desired, item)
	}
	current := s.currentLocked()
	s.mu.Unlock()

	if backend == nil {
		if len(desired) == 0 {
			return nil
		}
		b, release, err := s.provider.Backend(ctx, s.key.Connection)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", s.key, err)
		}
		s.mu.Lock()
		s.backend, s.release = b, release
		s.mu.Unlock()
		backend = b
	}

	if id == 0 {
		if len(desired) == 0 {
			return nil
		}
		newID, err := backend.CreateSubscription(ctx, Parameters{
			PublishingInterval: s.key.PublishingInterval,
			LifetimeCount:      s.opts.lifetimeCount,
			MaxKeepAliveCount:  s.opts.maxKeepAliveCount,
			Priority:           s.opts.priority,
		}, s.handleNotification)
		if err != nil {
			return fmt.Errorf("create subscription %s: %w", s.key, err)
		}
		s.mu.Lock()
		s.id = newID
		s.mu.Unlock()
		id = newID
		current = nil
		s.logger.Info("subscription created", slog.Uint64("subscription_id", uint64(newID)))
	}

	delta := Reconcile(desired, current)
	var errs []error

	if len(delta.Remove) > 0 {
		if err := s.applyRemove(ctx, backend, id, delta.Remove); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil || isCallError(err) {
				return errors.Join(errs...)
			}
		}
	}
	if len(delta.Update) > 0 {
		if err := s.applyUpdate(ctx, backend, id, delta.Update); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil || isCallError(err) {
				return errors.Join(errs...)
			}
		}
	}
	if len(delta.Add) > 0 {
		if err := s.applyAdd(ctx, backend, id, delta.Add); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.mu.Lock()
	if s.state == StateOffline && s.id == id {
		s.state = StateOnline
		s.opts.metrics.SubscriptionOnline(true)
	}
	s.mu.Unlock()
	if !delta.Empty() {
		s.logger.Debug("subscription synced",
			slog.Int("added", len(delta.Add)),
			slog.Int("updated", len(delta.Update)),
			slog.Int("removed", len(delta.Remove)))
	}
	return nil
}

// callError marks a failed service call, as opposed to per item failures.
type callError struct {
	op  string
	err error
}

func (e *callError) Error() string { return e.op + ": " + e.err.Error() }
func (e *callError) Unwrap() error { return e.err }

func isCallError(err error) bool {
	var ce *callError
	return errors.As(err, &ce)
}

func (s *Subscription) applyRemove(ctx context.Context, backend Backend, id uint32, items []MonitoredItem) error {
	s.mu.Lock()
	ids := make([]uint32, 0, len(items))
	targets := make([]*appliedItem, 0, len(items))
	for _, item := range items {
		if a, ok := s.applied[item.Identity()]; ok {
			ids = append(ids, a.serverID)
			targets = append(targets, a)
		}
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	results, err := backend.DeleteItems(ctx, id, ids)
	if err != nil {
		s.opts.metrics.ApplyFailed("remove")
		return &callError{op: "delete monitored items", err: err}
	}

	var errs []error
	removed := 0
	s.mu.Lock()
	for i, a := range targets {
		sc := opcua.StatusGood
		if i < len(results) {
			sc = results[i]
		}
		if sc.IsBad() && sc != opcua.StatusBadMonitoredItemIDInvalid {
			errs = append(errs, fmt.Errorf("delete %s: %w", a.item.Identity(), sc))
			continue
		}
		delete(s.applied, a.item.Identity())
		delete(s.byHandle, a.clientHandle)
		removed++
	}
	s.mu.Unlock()

	s.opts.metrics.ItemsApplied("remove", removed)
	s.opts.metrics.MonitoredItems(-removed)
	if len(errs) > 0 {
		s.opts.metrics.ApplyFailed("remove")
	}
	return errors.Join(errs...)
}

func (s *Subscription) applyUpdate(ctx context.Context, backend Backend, id uint32, items []MonitoredItem) error {
	var reqs []ItemRequest
	var targets []*appliedItem

	s.mu.Lock()
	local := 0
	for _, item := range items {
		a, ok := s.applied[item.Identity()]
		if !ok {
			continue
		}
		if a.item.sameServerParams(item) {
			a.item = item
			local++
			continue
		}
		reqs = append(reqs, ItemRequest{MonitoredItem: item, ClientHandle: a.clientHandle, ServerID: a.serverID})
		targets = append(targets, a)
	}
	s.mu.Unlock()
	s.opts.metrics.ItemsApplied("update", local)
	if len(reqs) == 0 {
		return nil
	}

	results, err := backend.ModifyItems(ctx, id, reqs)
	if err != nil {
		s.opts.metrics.ApplyFailed("update")
		return &callError{op: "modify monitored items", err: err}
	}

	var errs []error
	updated := 0
	s.mu.Lock()
	for i, a := range targets {
		if i >= len(results) || results[i].StatusCode.IsBad() {
			sc := opcua.StatusBadUnexpectedError
			if i < len(results) {
				sc = results[i].StatusCode
			}
			errs = append(errs, fmt.Errorf("modify %s: %w", a.item.Identity(), sc))
			continue
		}
		a.item = reqs[i].MonitoredItem
		updated++
	}
	s.mu.Unlock()

	s.opts.metrics.ItemsApplied("update", updated)
	if len(errs) > 0 {
		s.opts.metrics.ApplyFailed("update")
	}
	return errors.Join(errs...)
}

func (s *Subscription) applyAdd(ctx context.Context, backend Backend, id uint32, items []MonitoredItem) error {
	s.mu.Lock()
	reqs := make([]ItemRequest, len(items))
	for i, item := range items {
		s.nextHandle++
		reqs[i] = ItemRequest{MonitoredItem: item, ClientHandle: s.nextHandle}
	}
	s.mu.Unlock()

	results, err := backend.CreateItems(ctx, id, reqs)
	if err != nil {
		s.opts.metrics.ApplyFailed("add")
		return &callError{op: "create monitored items", err: err}
	}

	var errs []error
	added := 0
	s.mu.Lock()
	for i, req := range reqs {
		if i >= len(results) || results[i].StatusCode.IsBad() {
			sc := opcua.StatusBadUnexpectedError
			if i < len(results) {
				sc = results[i].StatusCode
			}
			errs = append(errs, fmt.Errorf("create %s: %w", req.Identity(), sc))
			continue
		}
		a := &appliedItem{item: req.MonitoredItem, clientHandle: req.ClientHandle, serverID: results[i].ServerID}
		s.applied[req.Identity()] = a
		s.byHandle[req.ClientHandle] = a
		added++
	}
	s.mu.Unlock()

	s.opts.metrics.ItemsApplied("add", added)
	s.opts.metrics.MonitoredItems(added)
	if len(errs) > 0 {
		s.opts.metrics.ApplyFailed("add")
	}
	return errors.Join(errs...)
}

func (s *Subscription) handleNotification(n Notification) {
	s.mu.Lock()
	current := s.id
	s.mu.Unlock()
	// Late messages of a deleted subscription must not move tracking back.
	if n.SubscriptionID != current {
		return
	}
	s.Observe(n.SubscriptionID, n.SequenceNumber)

	s.mu.Lock()
	if n.SubscriptionID != s.id {
		s.mu.Unlock()
		return
	}
	a, ok := s.byHandle[n.ClientHandle]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("notification for unknown client handle", slog.Uint64("client_handle", uint64(n.ClientHandle)))
		return
	}
	a.last = n.Value
	a.hasValue = true
	a.lastEmit = time.Now()
	ev := Event{
		Connection:     a.item.ConnectionKey(),
		Subscriber:     a.item.Subscriber,
		NodeID:         a.item.NodeID,
		DisplayName:    a.item.DisplayName,
		Value:          n.Value,
		EventFields:    n.EventFields,
		SubscriptionID: n.SubscriptionID,
		SequenceNumber: n.SequenceNumber,
	}
	s.mu.Unlock()

	s.opts.metrics.Notification()
	s.opts.onEvent(ev)
}

// heartbeat re-emits the last value of items whose heartbeat interval
// elapsed without a notification.
func (s *Subscription) heartbeat(now time.Time) {
	var events []Event
	s.mu.Lock()
	for _, a := range s.applied {
		hb := a.item.HeartbeatInterval
		if hb <= 0 || !a.hasValue || now.Sub(a.lastEmit) < hb {
			continue
		}
		a.lastEmit = now
		subID, seq := s.seq.last()
		events = append(events, Event{
			Connection:     a.item.ConnectionKey(),
			Subscriber:     a.item.Subscriber,
			NodeID:         a.item.NodeID,
			DisplayName:    a.item.DisplayName,
			Value:          a.last,
			SubscriptionID: subID,
			SequenceNumber: seq,
			Heartbeat:      true,
		})
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.opts.onEvent(ev)
	}
}

// close deletes the server subscription and releases the backend.
func (s *Subscription) close(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	backend, release, id := s.backend, s.release, s.id
	s.setOfflineLocked()
	s.backend, s.release = nil, nil
	s.mu.Unlock()

	var err error
	if backend != nil && id != 0 {
		err = backend.DeleteSubscription(ctx, id)
		if err != nil && !opcua.IsStatusCode(err, opcua.StatusBadSubscriptionIDInvalid) {
			err = fmt.Errorf("delete subscription %s: %w", s.key, err)
		} else {
			err = nil
		}
	}
	if release != nil {
		release()
	}
	return err
}

// sequenceTracker keeps the last sequence number per subscription id.
type sequenceTracker struct {
	mu     sync.Mutex
	subID  uint32
	seq    uint32
	primed bool
}

func (t *sequenceTracker) observe(subID, seq uint32) (gap, reset bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.primed || subID != t.subID {
		reset = t.primed
		t.subID, t.seq, t.primed = subID, seq, true
		return false, reset
	}
	// Sequence numbers wrap from MaxUint32 to 1; compare them as serial
	// numbers.
	d := seq - t.seq
	if d == 0 || d >= 1<<31 {
		return false, false
	}
	if seq < t.seq {
		d-- // 0 is never used
	}
	t.seq = seq
	return d > 1, false
}

func (t *sequenceTracker) last() (uint32, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subID, t.seq
}
