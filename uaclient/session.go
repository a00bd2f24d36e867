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

package uaclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

// Session is one connected gopcua client. It serves type discovery and
// subscription management for the publisher.
type Session struct {
	client *gopcua.Client
	key    string
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[uint32]subscription.NotifyFunc
	lost    error
	wake    chan struct{}
	cancel  context.CancelFunc
	stopped chan struct{}
}

var (
	_ typesystem.NodeSource = (*Session)(nil)
	_ subscription.Backend  = (*Session)(nil)
)

func newSession(client *gopcua.Client, key string, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:  client,
		key:     key,
		logger:  logger.With(slog.String("session", key)),
		subs:    make(map[uint32]subscription.NotifyFunc),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go s.publishLoop(ctx)
	return s
}

// Key returns the connection key the session was opened for.
func (s *Session) Key() string { return s.key }

// Err returns the error that showed the session was dropped by the
// server, or nil while publishing works.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

func (s *Session) setLost(err error) {
	s.mu.Lock()
	s.lost = err
	s.mu.Unlock()
}

// Close stops publishing and closes the client.
func (s *Session) Close(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}
	return convertError("close", s.client.Close(ctx))
}

// responseInto returns a Send handler that stores the response in out.
func responseInto[R ua.Response](out *R) func(interface{}) error {
	return func(v interface{}) error {
		r, ok := v.(R)
		if !ok {
			return fmt.Errorf("unexpected response %T", v)
		}
		*out = r
		return nil
	}
}

// send issues one service request and returns its typed response.
func send[R ua.Response](ctx context.Context, c *gopcua.Client, service string, req ua.Request) (R, error) {
	var out R
	if err := c.Send(ctx, req, responseInto(&out)); err != nil {
		return out, convertError(service, err)
	}
	if h := out.Header(); h != nil && h.ServiceResult != ua.StatusOK {
		return out, convertError(service, h.ServiceResult)
	}
	return out, nil
}

// Read passes a read request through.
func (s *Session) Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	return send[*ua.ReadResponse](ctx, s.client, "read", req)
}

// Write passes a write request through.
func (s *Session) Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error) {
	return send[*ua.WriteResponse](ctx, s.client, "write", req)
}

// Browse passes a browse request through.
func (s *Session) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return send[*ua.BrowseResponse](ctx, s.client, "browse", req)
}

// Call passes a method call request through.
func (s *Session) Call(ctx context.Context, req *ua.CallRequest) (*ua.CallResponse, error) {
	return send[*ua.CallResponse](ctx, s.client, "call", req)
}
