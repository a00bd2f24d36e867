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

// Package natsbridge exposes a publisher over NATS.
//
// Requests arrive on <prefix>.publish.start, <prefix>.publish.stop and
// <prefix>.publish.list and are answered with a JSON Response. Values are
// published as JSON to <prefix>.data.<subscriber>.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/metrics"
	"github.com/edgeo-scada/opcpublisher/publisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
)

// Service is the publisher as seen by the bridge.
type Service interface {
	StartPublish(ctx context.Context, items ...subscription.MonitoredItem) error
	StopPublish(ctx context.Context, id subscription.Identity) error
	List(subscriber string) []subscription.MonitoredItem
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithRequestTimeout bounds the handling of one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// Bridge connects a Service to NATS.
type Bridge struct {
	nc      *nats.Conn
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a bridge on nc. Subjects start with prefix.
func New(nc *nats.Conn, prefix string, opts ...Option) *Bridge {
	b := &Bridge{
		nc:      nc,
		prefix:  strings.TrimSuffix(prefix, "."),
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject joins parts to the prefix.
func (b *Bridge) Subject(parts ...string) string {
	return strings.Join(append([]string{b.prefix}, parts...), ".")
}

// DataSubject is the subject values for subscriber are published on.
func (b *Bridge) DataSubject(subscriber string) string {
	return b.Subject("data", token(subscriber))
}

// token makes s usable as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Serve subscribes the request subjects.
func (b *Bridge) Serve(svc Service) error {
	handlers := map[string]func(context.Context, []byte) Response{
		"start": func(ctx context.Context, data []byte) Response { return b.start(ctx, svc, data) },
		"stop":  func(ctx context.Context, data []byte) Response { return b.stop(ctx, svc, data) },
		"list":  func(_ context.Context, data []byte) Response { return b.list(svc, data) },
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for op, fn := range handlers {
		subject := b.Subject("publish", op)
		sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) { b.handle(msg, op, fn) })
		if err != nil {
			for _, s := range b.subs {
				_ = s.Unsubscribe()
			}
			b.subs = nil
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	b.logger.Info("nats bridge serving", slog.String("prefix", b.prefix))
	return nil
}

func (b *Bridge) handle(msg *nats.Msg, op string, fn func(context.Context, []byte) Response) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	resp := fn(ctx, msg.Data)
	var err error
	if !resp.Success {
		err = errors.New(resp.Error)
		b.logger.Warn("bridge request failed", slog.String("op", op), slog.String("error", resp.Error))
	}
	b.metrics.BridgeRequest(op, err)

	if msg.Reply == "" {
		return
	}
	data, merr := json.Marshal(resp)
	if merr != nil {
		data, _ = json.Marshal(Response{Error: merr.Error()})
	}
	if rerr := msg.Respond(data); rerr != nil {
		b.logger.Warn("bridge reply failed", slog.String("op", op), slog.Any("error", rerr))
	}
}

func failure(err error) Response {
	return Response{Error: err.Error()}
}

func (b *Bridge) start(ctx context.Context, svc Service, data []byte) Response {
	var req StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(fmt.Errorf("invalid request: %w", err))
	}
	items, err := req.Items()
	if err != nil {
		return failure(err)
	}
	if err := svc.StartPublish(ctx, items...); err != nil {
		return Response{Error: err.Error(), Count: len(items)}
	}
	return Response{Success: true, Count: len(items)}
}

func (b *Bridge) stop(ctx context.Context, svc Service, data []byte) Response {
	var req StopRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(fmt.Errorf("invalid request: %w", err))
	}
	if req.Subscriber == "" {
		return failure(errors.New("stop requires subscriber and nodeId"))
	}
	id, err := opcua.ParseNodeID(req.NodeID)
	if err != nil {
		return failure(err)
	}
	if err := svc.StopPublish(ctx, subscription.Identity{Subscriber: req.Subscriber, NodeID: id, Credential: req.Credential}); err != nil {
		return failure(err)
	}
	return Response{Success: true, Count: 1}
}

func (b *Bridge) list(svc Service, data []byte) Response {
	var req ListRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return failure(fmt.Errorf("invalid request: %w", err))
		}
	}
	if req.Subscriber == "" {
		return failure(errors.New("list requires subscriber"))
	}
	items := svc.List(req.Subscriber)
	resp := Response{Success: true, Count: len(items), Items: make([]ItemInfo, len(items))}
	for i, item := range items {
		resp.Items[i] = itemInfo(item)
	}
	return resp
}

// Forward publishes m on the data subject of its subscriber. It is meant
// as the publisher's sink and does not block on the network.
func (b *Bridge) Forward(m publisher.Message) {
	data, err := json.Marshal(m)
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("encoding message failed", slog.String("node", m.NodeID), slog.Any("error", err))
		return
	}
	msg := nats.NewMsg(b.DataSubject(m.Subscriber))
	msg.Header.Set(nats.MsgIdHdr, m.ID)
	msg.Data = data
	if err := b.nc.PublishMsg(msg); err != nil {
		b.failed.Add(1)
		b.logger.Warn("publishing message failed", slog.String("node", m.NodeID), slog.Any("error", err))
		return
	}
	b.published.Add(1)
}

// Stats returns the number of published and failed messages.
func (b *Bridge) Stats() (published, failed uint64) {
	return b.published.Load(), b.failed.Load()
}

// Close unsubscribes the request subjects.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, s := range b.subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	return errors.Join(errs...)
}
