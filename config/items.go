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

package config

import (
	"fmt"
	"strings"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
)

// Items returns the monitored items of every endpoint in file order.
func (c *Config) Items() ([]subscription.MonitoredItem, error) {
	var out []subscription.MonitoredItem
	for _, ep := range c.Endpoints {
		for _, n := range ep.Nodes {
			item, err := n.item(ep)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (n NodeConfig) item(ep EndpointConfig) (subscription.MonitoredItem, error) {
	id, err := opcua.ParseNodeID(n.NodeID)
	if err != nil {
		return subscription.MonitoredItem{}, fmt.Errorf("endpoint %s: %w", ep.URL, err)
	}
	item := subscription.MonitoredItem{
		Subscriber:         n.Subscriber,
		NodeID:             id,
		Credential:         ep.Credential,
		Endpoint:           ep.URL,
		SamplingInterval:   n.SamplingInterval,
		PublishingInterval: n.PublishingInterval,
		DisplayName:        n.DisplayName,
		QueueSize:          n.QueueSize,
		HeartbeatInterval:  n.HeartbeatInterval,
		Filter:             EventFilter(n.Events),
	}
	if n.DiscardOldest != nil {
		item.DiscardOldest = *n.DiscardOldest
	}
	return item, nil
}

// EventFilter turns "/"-separated browse paths into an event filter. It
// returns nil for an empty list.
func EventFilter(paths []string) *subscription.EventFilter {
	if len(paths) == 0 {
		return nil
	}
	f := &subscription.EventFilter{}
	for _, p := range paths {
		f.SelectClauses = append(f.SelectClauses, strings.Split(strings.Trim(p, "/"), "/"))
	}
	return f
}
