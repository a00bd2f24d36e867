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
	"strings"
	"time"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
)

// Defaults filled in by Normalize.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultSessionTimeout = 30 * time.Minute
	DefaultConnectTimeout = 30 * time.Second
	DefaultIdleTimeout    = 10 * time.Second
	DefaultNATSPrefix     = "opcpublisher"
	DefaultMetricsListen  = ":9464"
	DefaultMetricsNS      = "opcpublisher"
)

// Normalize fills in defaults. It must only be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	c := &cfg.Client
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.SecurityMode == "" {
		if strings.EqualFold(c.SecurityPolicy, "None") {
			c.SecurityMode = "None"
		} else {
			c.SecurityMode = "SignAndEncrypt"
		}
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}

	if cfg.NATS.Prefix == "" {
		cfg.NATS.Prefix = DefaultNATSPrefix
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNS
	}

	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		ep.URL = strings.TrimRight(ep.URL, "/")
		for j := range ep.Nodes {
			n := &ep.Nodes[j]
			if id, err := opcua.ParseNodeID(n.NodeID); err == nil {
				n.NodeID = id.String()
			}
			if n.PublishingInterval == 0 {
				n.PublishingInterval = subscription.DefaultPublishingInterval
			}
			if n.QueueSize == 0 {
				n.QueueSize = subscription.DefaultQueueSize
			}
			if n.DiscardOldest == nil {
				discard := true
				n.DiscardOldest = &discard
			}
		}
	}
}
