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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcpublisher"
	"github.com/edgeo-scada/opcpublisher/subscription"
	"github.com/edgeo-scada/opcpublisher/uaclient"
)

const sample = `
client:
  request_timeout: 5s
credentials:
  operator:
    username: op
    password: secret
types:
  load: true
nats:
  url: nats://127.0.0.1:4222
endpoints:
  - url: opc.tcp://plc:4840/
    nodes:
      - subscriber: historian
        node_id: ns=2;s=Line1.Temperature
        sampling_interval: 250ms
      - subscriber: historian
        node_id: i=2253
        events: [Message, Severity, /EventType/]
  - url: opc.tcp://plc:4840
    credential: operator
    nodes:
      - subscriber: hmi
        node_id: ns=2;i=1001
        publishing_interval: 500ms
        queue_size: 10
        discard_oldest: false
        heartbeat_interval: 30s
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, uaclient.Credential{Username: "op", Password: "secret"}, cfg.Credentials["operator"])
	assert.True(t, cfg.Types.Load)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, 250*time.Millisecond, cfg.Endpoints[0].Nodes[0].SamplingInterval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("endpoints:\n  - url: opc.tcp://plc:4840\n    nodez: []\n"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Endpoints)
	assert.NoError(t, Validate(cfg))
}

func TestValidateSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "bad url",
			cfg:  Config{Endpoints: []EndpointConfig{{URL: "http://plc"}}},
			want: "url must be opc.tcp",
		},
		{
			name: "unknown credential",
			cfg:  Config{Endpoints: []EndpointConfig{{URL: "opc.tcp://plc:4840", Credential: "nobody"}}},
			want: `unknown credential "nobody"`,
		},
		{
			name: "credential without username",
			cfg:  Config{Credentials: map[string]uaclient.Credential{"operator": {}}},
			want: "username is required",
		},
		{
			name: "credential name with separator",
			cfg:  Config{Credentials: map[string]uaclient.Credential{"a#b": {Username: "x"}}},
			want: "must not contain '#'",
		},
		{
			name: "missing subscriber",
			cfg: Config{Endpoints: []EndpointConfig{{
				URL:   "opc.tcp://plc:4840",
				Nodes: []NodeConfig{{NodeID: "i=85"}},
			}}},
			want: "subscriber is required",
		},
		{
			name: "bad node id",
			cfg: Config{Endpoints: []EndpointConfig{{
				URL:   "opc.tcp://plc:4840",
				Nodes: []NodeConfig{{Subscriber: "s", NodeID: "x=1"}},
			}}},
			want: "node",
		},
		{
			name: "negative interval",
			cfg: Config{Endpoints: []EndpointConfig{{
				URL:   "opc.tcp://plc:4840",
				Nodes: []NodeConfig{{Subscriber: "s", NodeID: "i=85", SamplingInterval: -time.Second}},
			}}},
			want: "must not be negative",
		},
		{
			name: "duplicate item",
			cfg: Config{Endpoints: []EndpointConfig{
				{URL: "opc.tcp://plc:4840", Nodes: []NodeConfig{{Subscriber: "s", NodeID: "ns=2;i=1"}}},
				{URL: "opc.tcp://other:4840", Nodes: []NodeConfig{{Subscriber: "s", NodeID: "ns=2;i=1"}}},
			}},
			want: "already monitors",
		},
		{
			name: "security without certificate",
			cfg:  Config{Client: ClientConfig{SecurityPolicy: "Basic256Sha256"}},
			want: "certificate_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	before := *cfg
	require.NoError(t, Validate(cfg))
	assert.Equal(t, before, *cfg)
}

func TestNormalize(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	Normalize(cfg)

	assert.Equal(t, "None", cfg.Client.SecurityPolicy)
	assert.Equal(t, "None", cfg.Client.SecurityMode)
	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, DefaultSessionTimeout, cfg.Client.SessionTimeout)
	assert.Equal(t, DefaultIdleTimeout, cfg.Client.IdleTimeout)
	assert.Equal(t, DefaultNATSPrefix, cfg.NATS.Prefix)
	assert.Equal(t, DefaultMetricsListen, cfg.Metrics.Listen)
	assert.Equal(t, "opc.tcp://plc:4840", cfg.Endpoints[0].URL)

	n := cfg.Endpoints[0].Nodes[0]
	assert.Equal(t, subscription.DefaultPublishingInterval, n.PublishingInterval)
	assert.Equal(t, uint32(subscription.DefaultQueueSize), n.QueueSize)
	require.NotNil(t, n.DiscardOldest)
	assert.True(t, *n.DiscardOldest)

	hmi := cfg.Endpoints[1].Nodes[0]
	assert.Equal(t, uint32(10), hmi.QueueSize)
	assert.False(t, *hmi.DiscardOldest)

	Normalize(nil)
}

func TestNormalizeSecureDefaults(t *testing.T) {
	cfg := &Config{Client: ClientConfig{SecurityPolicy: "Basic256Sha256"}}
	Normalize(cfg)
	assert.Equal(t, "SignAndEncrypt", cfg.Client.SecurityMode)
}

func TestItems(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	items, err := cfg.Items()
	require.NoError(t, err)
	require.Len(t, items, 3)

	temp := items[0]
	assert.Equal(t, "historian", temp.Subscriber)
	assert.Equal(t, opcua.NewStringNodeID(2, "Line1.Temperature"), temp.NodeID)
	assert.Equal(t, "opc.tcp://plc:4840", temp.ConnectionKey())
	assert.True(t, temp.DiscardOldest)
	assert.Nil(t, temp.Filter)
	assert.NoError(t, temp.Validate())

	events := items[1]
	require.NotNil(t, events.Filter)
	assert.Equal(t, [][]string{{"Message"}, {"Severity"}, {"EventType"}}, events.Filter.SelectClauses)

	hmi := items[2]
	assert.Equal(t, "opc.tcp://plc:4840#operator", hmi.ConnectionKey())
	assert.Equal(t, 500*time.Millisecond, hmi.PublishingInterval)
	assert.Equal(t, 30*time.Second, hmi.HeartbeatInterval)
	assert.False(t, hmi.DiscardOldest)
}

func TestClientConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	Normalize(cfg)

	cc := cfg.ClientConfig()
	assert.Equal(t, 5*time.Second, cc.RequestTimeout)
	assert.Equal(t, "op", cc.Credentials["operator"].Username)
}

func TestEventFilter(t *testing.T) {
	assert.Nil(t, EventFilter(nil))
	f := EventFilter([]string{"EventType", "SourceNode/Name"})
	assert.Equal(t, [][]string{{"EventType"}, {"SourceNode", "Name"}}, f.SelectClauses)
}
