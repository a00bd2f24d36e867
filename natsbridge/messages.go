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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgeo-scada/opcpublisher/config"
	"github.com/edgeo-scada/opcpublisher/subscription"
)

// Duration accepts "250ms" style strings or a number of milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(x * float64(time.Millisecond)))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q", x)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

// NodeRequest is one node of a start request.
type NodeRequest struct {
	Subscriber         string   `json:"subscriber"`
	NodeID             string   `json:"nodeId"`
	DisplayName        string   `json:"displayName,omitempty"`
	SamplingInterval   Duration `json:"samplingInterval,omitempty"`
	PublishingInterval Duration `json:"publishingInterval,omitempty"`
	HeartbeatInterval  Duration `json:"heartbeatInterval,omitempty"`
	QueueSize          uint32   `json:"queueSize,omitempty"`
	DiscardOldest      *bool    `json:"discardOldest,omitempty"`
	Events             []string `json:"events,omitempty"`
}

// StartRequest asks to publish nodes of one endpoint.
type StartRequest struct {
	Endpoint   string        `json:"endpoint"`
	Credential string        `json:"credential,omitempty"`
	Nodes      []NodeRequest `json:"nodes"`
}

// Items converts the request with the defaults of the published nodes
// file.
func (r StartRequest) Items() ([]subscription.MonitoredItem, error) {
	if r.Endpoint == "" || len(r.Nodes) == 0 {
		return nil, fmt.Errorf("start requires endpoint and nodes")
	}
	ep := config.EndpointConfig{URL: r.Endpoint, Credential: r.Credential}
	for _, n := range r.Nodes {
		ep.Nodes = append(ep.Nodes, config.NodeConfig{
			Subscriber:         n.Subscriber,
			NodeID:             n.NodeID,
			DisplayName:        n.DisplayName,
			SamplingInterval:   time.Duration(n.SamplingInterval),
			PublishingInterval: time.Duration(n.PublishingInterval),
			HeartbeatInterval:  time.Duration(n.HeartbeatInterval),
			QueueSize:          n.QueueSize,
			DiscardOldest:      n.DiscardOldest,
			Events:             n.Events,
		})
	}
	cfg := &config.Config{Endpoints: []config.EndpointConfig{ep}}
	config.Normalize(cfg)
	return cfg.Items()
}

// StopRequest asks to stop one item.
type StopRequest struct {
	Subscriber string `json:"subscriber"`
	NodeID     string `json:"nodeId"`
	Credential string `json:"credential,omitempty"`
}

// ListRequest asks for the items of a subscriber.
type ListRequest struct {
	Subscriber string `json:"subscriber"`
}

// ItemInfo describes a published item in list replies.
type ItemInfo struct {
	Subscriber         string   `json:"subscriber"`
	NodeID             string   `json:"nodeId"`
	Endpoint           string   `json:"endpoint"`
	Credential         string   `json:"credential,omitempty"`
	DisplayName        string   `json:"displayName"`
	SamplingInterval   Duration `json:"samplingInterval"`
	PublishingInterval Duration `json:"publishingInterval"`
	HeartbeatInterval  Duration `json:"heartbeatInterval,omitempty"`
	QueueSize          uint32   `json:"queueSize"`
	DiscardOldest      bool     `json:"discardOldest"`
	Events             []string `json:"events,omitempty"`
}

func itemInfo(m subscription.MonitoredItem) ItemInfo {
	info := ItemInfo{
		Subscriber:         m.Subscriber,
		NodeID:             m.NodeID.String(),
		Endpoint:           m.Endpoint,
		Credential:         m.Credential,
		DisplayName:        m.DisplayName,
		SamplingInterval:   Duration(m.SamplingInterval),
		PublishingInterval: Duration(m.PublishingInterval),
		HeartbeatInterval:  Duration(m.HeartbeatInterval),
		QueueSize:          m.QueueSize,
		DiscardOldest:      m.DiscardOldest,
	}
	if m.Filter != nil {
		for _, path := range m.Filter.SelectClauses {
			info.Events = append(info.Events, strings.Join(path, "/"))
		}
	}
	return info
}

// Response is the reply to every request.
type Response struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Count   int        `json:"count,omitempty"`
	Items   []ItemInfo `json:"items,omitempty"`
}
