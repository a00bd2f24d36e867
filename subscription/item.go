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
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Defaults applied by Normalize.
const (
	DefaultPublishingInterval = time.Second
	DefaultQueueSize          = 1
)

// Identity is the deduplication key of a monitored item.
type Identity struct {
	Subscriber string
	NodeID     opcua.NodeID
	Credential string
}

func (id Identity) String() string {
	if id.Credential == "" {
		return fmt.Sprintf("%s/%s", id.Subscriber, id.NodeID)
	}
	return fmt.Sprintf("%s/%s (%s)", id.Subscriber, id.NodeID, id.Credential)
}

// EventFilter selects event fields by browse path relative to
// BaseEventType.
type EventFilter struct {
	SelectClauses [][]string
}

func (f *EventFilter) equal(o *EventFilter) bool {
	if f == nil || o == nil {
		return f == o
	}
	return slices.EqualFunc(f.SelectClauses, o.SelectClauses, func(a, b []string) bool {
		return slices.Equal(a, b)
	})
}

// MonitoredItem is the desired monitoring of one node by one subscriber.
type MonitoredItem struct {
	Subscriber string
	NodeID     opcua.NodeID
	Credential string

	// Endpoint is the server URL. Together with Credential it selects the
	// shared session.
	Endpoint string

	SamplingInterval   time.Duration
	PublishingInterval time.Duration
	DisplayName        string
	QueueSize          uint32
	DiscardOldest      bool
	HeartbeatInterval  time.Duration
	Filter             *EventFilter
}

// Identity returns the deduplication key of the item.
func (m MonitoredItem) Identity() Identity {
	return Identity{Subscriber: m.Subscriber, NodeID: m.NodeID, Credential: m.Credential}
}

// ConnectionKey names the session the item is monitored on.
func (m MonitoredItem) ConnectionKey() string {
	if m.Credential == "" {
		return m.Endpoint
	}
	return m.Endpoint + "#" + m.Credential
}

// Validate checks the item without modifying it.
func (m MonitoredItem) Validate() error {
	var errs []error
	if m.Subscriber == "" {
		errs = append(errs, errors.New("subscriber is required"))
	}
	if m.NodeID.IsNull() {
		errs = append(errs, errors.New("node id is required"))
	}
	if m.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if m.SamplingInterval < 0 || m.PublishingInterval < 0 || m.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("monitored item %s: %w", m.Identity(), err)
	}
	return nil
}

// Normalize returns a copy with defaults filled in.
func (m MonitoredItem) Normalize() MonitoredItem {
	if m.DisplayName == "" {
		m.DisplayName = m.NodeID.String()
	}
	if m.PublishingInterval == 0 {
		m.PublishingInterval = DefaultPublishingInterval
	}
	if m.QueueSize == 0 {
		m.QueueSize = DefaultQueueSize
	}
	return m
}

// sameParams reports whether two items with the same identity need no
// update.
func (m MonitoredItem) sameParams(o MonitoredItem) bool {
	return m.sameServerParams(o) &&
		m.Endpoint == o.Endpoint &&
		m.PublishingInterval == o.PublishingInterval &&
		m.DisplayName == o.DisplayName &&
		m.HeartbeatInterval == o.HeartbeatInterval
}

// sameServerParams compares the parameters held by the server.
func (m MonitoredItem) sameServerParams(o MonitoredItem) bool {
	return m.SamplingInterval == o.SamplingInterval &&
		m.QueueSize == o.QueueSize &&
		m.DiscardOldest == o.DiscardOldest &&
		m.Filter.equal(o.Filter)
}

// sortItems orders items by node id, then subscriber and credential.
func sortItems(items []MonitoredItem) {
	slices.SortFunc(items, func(a, b MonitoredItem) int {
		switch {
		case a.NodeID.Less(b.NodeID):
			return -1
		case b.NodeID.Less(a.NodeID):
			return 1
		}
		if c := cmp.Compare(a.Subscriber, b.Subscriber); c != 0 {
			return c
		}
		return cmp.Compare(a.Credential, b.Credential)
	})
}
