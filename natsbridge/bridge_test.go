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

package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/metrics"
	"github.com/edgeo-scada/opcpublisher/publisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func connect(t *testing.T, srv *server.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// fakeService keeps items in memory.
type fakeService struct {
	mu       sync.Mutex
	items    map[subscription.Identity]subscription.MonitoredItem
	startErr error
}

func newFakeService() *fakeService {
	return &fakeService{items: make(map[subscription.Identity]subscription.MonitoredItem)}
}

func (s *fakeService) StartPublish(_ context.Context, items ...subscription.MonitoredItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	for _, item := range items {
		s.items[item.Identity()] = item.Normalize()
	}
	return nil
}

func (s *fakeService) StopPublish(_ context.Context, id subscription.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("stop %s: %w", id, opcua.ErrMonitoredItemNotFound)
	}
	delete(s.items, id)
	return nil
}

func (s *fakeService) List(subscriber string) []subscription.MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []subscription.MonitoredItem
	for _, item := range s.items {
		if item.Subscriber == subscriber {
			out = append(out, item)
		}
	}
	return out
}

func newTestBridge(t *testing.T, nc *nats.Conn, svc Service, opts ...Option) *Bridge {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(nc, "test", append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, b.Serve(svc))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func request(t *testing.T, nc *nats.Conn, subject string, body interface{}) Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	msg, err := nc.Request(subject, data, 2*time.Second)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	return resp
}

func TestBridgeStartListStop(t *testing.T) {
	srv := runServer(t)
	nc := connect(t, srv)
	svc := newFakeService()
	newTestBridge(t, nc, svc)

	resp := request(t, nc, "test.publish.start", StartRequest{
		Endpoint: "opc.tcp://plc:4840",
		Nodes: []NodeRequest{
			{Subscriber: "hmi", NodeID: "ns=2;s=Pump.Speed", SamplingInterval: Duration(250 * time.Millisecond)},
			{Subscriber: "hmi", NodeID: "i=2253", Events: []string{"Message", "Severity"}},
		},
	})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 2, resp.Count)

	resp = request(t, nc, "test.publish.list", ListRequest{Subscriber: "hmi"})
	require.True(t, resp.Success, resp.Error)
	require.Len(t, resp.Items, 2)
	byNode := make(map[string]ItemInfo)
	for _, info := range resp.Items {
		byNode[info.NodeID] = info
	}
	speed := byNode["ns=2;s=Pump.Speed"]
	assert.Equal(t, "opc.tcp://plc:4840", speed.Endpoint)
	assert.Equal(t, Duration(250*time.Millisecond), speed.SamplingInterval)
	assert.Equal(t, Duration(subscription.DefaultPublishingInterval), speed.PublishingInterval)
	assert.True(t, speed.DiscardOldest)
	assert.Equal(t, []string{"Message", "Severity"}, byNode["i=2253"].Events)

	resp = request(t, nc, "test.publish.stop", StopRequest{Subscriber: "hmi", NodeID: "ns=2;s=Pump.Speed"})
	require.True(t, resp.Success, resp.Error)

	resp = request(t, nc, "test.publish.stop", StopRequest{Subscriber: "hmi", NodeID: "ns=2;s=Pump.Speed"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not found")

	resp = request(t, nc, "test.publish.list", ListRequest{Subscriber: "hmi"})
	assert.Equal(t, 1, resp.Count)
}

func TestBridgeRejectsBadRequests(t *testing.T) {
	srv := runServer(t)
	nc := connect(t, srv)
	svc := newFakeService()
	newTestBridge(t, nc, svc)

	msg, err := nc.Request("test.publish.start", []byte("{not json"), 2*time.Second)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid request")

	resp = request(t, nc, "test.publish.start", StartRequest{Endpoint: "opc.tcp://plc:4840"})
	assert.False(t, resp.Success)

	resp = request(t, nc, "test.publish.start", StartRequest{
		Endpoint: "opc.tcp://plc:4840",
		Nodes:    []NodeRequest{{Subscriber: "hmi", NodeID: "not-a-node"}},
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid node ID")

	resp = request(t, nc, "test.publish.stop", StopRequest{NodeID: "i=85"})
	assert.False(t, resp.Success)

	resp = request(t, nc, "test.publish.list", ListRequest{})
	assert.False(t, resp.Success)
}

func TestBridgeReportsServiceErrors(t *testing.T) {
	srv := runServer(t)
	nc := connect(t, srv)
	svc := newFakeService()
	svc.startErr = errors.New("server unreachable")
	reg := prometheus.NewRegistry()
	m, err := metrics.New("test", reg)
	require.NoError(t, err)
	newTestBridge(t, nc, svc, WithMetrics(m))

	resp := request(t, nc, "test.publish.start", StartRequest{
		Endpoint: "opc.tcp://plc:4840",
		Nodes:    []NodeRequest{{Subscriber: "hmi", NodeID: "i=85"}},
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "server unreachable", resp.Error)
	assert.Equal(t, 1, resp.Count)

	request(t, nc, "test.publish.list", ListRequest{Subscriber: "hmi"})
	n, err := testutil.GatherAndCount(reg, "test_bridge_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBridgeForward(t *testing.T) {
	srv := runServer(t)
	nc := connect(t, srv)
	b := newTestBridge(t, nc, newFakeService())

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("test.data.>", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	b.Forward(publisher.Message{
		ID:         "0b6f5c1e-3f0a-4d53-9a65-5d3c5c1b7a10",
		Subscriber: "line.1 hmi",
		NodeID:     "ns=2;s=Pump.Speed",
		Value:      1450.5,
		Status:     "Good",
	})

	select {
	case msg := <-ch:
		assert.Equal(t, "test.data.line_1_hmi", msg.Subject)
		assert.Equal(t, "0b6f5c1e-3f0a-4d53-9a65-5d3c5c1b7a10", msg.Header.Get(nats.MsgIdHdr))
		var got publisher.Message
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "ns=2;s=Pump.Speed", got.NodeID)
		assert.Equal(t, 1450.5, got.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	published, failed := b.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Zero(t, failed)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1.5s"`), &d))
	assert.Equal(t, Duration(1500*time.Millisecond), d)
	require.NoError(t, json.Unmarshal([]byte(`250`), &d))
	assert.Equal(t, Duration(250*time.Millisecond), d)
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(data))
}

func TestSubjects(t *testing.T) {
	b := New(nil, "opcpublisher.")
	assert.Equal(t, "opcpublisher.publish.start", b.Subject("publish", "start"))
	assert.Equal(t, "opcpublisher.data.a_b", b.DataSubject("a.b"))
	assert.Equal(t, "opcpublisher.data._", b.DataSubject(""))
	assert.Equal(t, "opcpublisher.data.x_y_", b.DataSubject("x*y>"))
}
