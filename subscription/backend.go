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
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Parameters are the requested subscription settings.
type Parameters struct {
	PublishingInterval time.Duration
	LifetimeCount      uint32
	MaxKeepAliveCount  uint32
	Priority           uint8
}

// ItemRequest is a monitored item as sent to the server.
type ItemRequest struct {
	MonitoredItem
	ClientHandle uint32
	// ServerID is set for modify requests.
	ServerID uint32
}

// ItemResult is the server's answer for one item request.
type ItemResult struct {
	ServerID   uint32
	StatusCode opcua.StatusCode
}

// Notification is one data change or event delivered by the server.
type Notification struct {
	SubscriptionID uint32
	SequenceNumber uint32
	ClientHandle   uint32
	Value          opcua.DataValue
	EventFields    []opcua.Variant
}

// NotifyFunc receives notifications. It is called from the backend's
// delivery goroutine.
type NotifyFunc func(Notification)

// Backend applies subscription changes on a server session.
type Backend interface {
	CreateSubscription(ctx context.Context, params Parameters, notify NotifyFunc) (uint32, error)
	DeleteSubscription(ctx context.Context, subscriptionID uint32) error
	CreateItems(ctx context.Context, subscriptionID uint32, items []ItemRequest) ([]ItemResult, error)
	ModifyItems(ctx context.Context, subscriptionID uint32, items []ItemRequest) ([]ItemResult, error)
	DeleteItems(ctx context.Context, subscriptionID uint32, serverIDs []uint32) ([]opcua.StatusCode, error)
}

// BackendProvider hands out a backend per connection key. The release
// function is called once the backend is no longer used.
type BackendProvider interface {
	Backend(ctx context.Context, connectionKey string) (Backend, func(), error)
}

// Event is a value forwarded to the subscriber of a monitored item.
type Event struct {
	// Connection is the connection key of the item.
	Connection     string
	Subscriber     string
	NodeID         opcua.NodeID
	DisplayName    string
	Value          opcua.DataValue
	EventFields    []opcua.Variant
	SubscriptionID uint32
	SequenceNumber uint32
	Heartbeat      bool
}
