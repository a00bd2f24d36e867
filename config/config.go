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

// Package config reads the published nodes file.
//
// The file is YAML. Load parses it, Validate checks it without changing
// anything and Normalize fills in defaults. Items flattens the endpoints
// into monitored items for the subscription manager.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/opcpublisher/uaclient"
)

// Config is the published nodes file.
type Config struct {
	Client      ClientConfig                   `yaml:"client"`
	Credentials map[string]uaclient.Credential `yaml:"credentials"`
	Types       TypesConfig                    `yaml:"types"`
	NATS        NATSConfig                     `yaml:"nats"`
	Metrics     MetricsConfig                  `yaml:"metrics"`
	Endpoints   []EndpointConfig               `yaml:"endpoints"`
}

// ---- CLIENT ----

type ClientConfig struct {
	SecurityPolicy  string `yaml:"security_policy"`
	SecurityMode    string `yaml:"security_mode"`
	CertificateFile string `yaml:"certificate_file"`
	PrivateKeyFile  string `yaml:"private_key_file"`
	ApplicationURI  string `yaml:"application_uri"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// IdleTimeout keeps an unused session open before it is closed.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ---- TYPES ----

type TypesConfig struct {
	// Load resolves the server's custom data types on connect.
	Load              bool `yaml:"load"`
	DisableDictionary bool `yaml:"disable_dictionary"`
	ThrowOnError      bool `yaml:"throw_on_error"`
	NamespaceZero     bool `yaml:"namespace_zero"`
}

// ---- NATS ----

type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// ---- ENDPOINTS ----

type EndpointConfig struct {
	URL        string       `yaml:"url"`
	Credential string       `yaml:"credential"`
	Nodes      []NodeConfig `yaml:"nodes"`
}

type NodeConfig struct {
	Subscriber         string        `yaml:"subscriber"`
	NodeID             string        `yaml:"node_id"`
	DisplayName        string        `yaml:"display_name"`
	SamplingInterval   time.Duration `yaml:"sampling_interval"`
	PublishingInterval time.Duration `yaml:"publishing_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	QueueSize          uint32        `yaml:"queue_size"`
	DiscardOldest      *bool         `yaml:"discard_oldest"`
	// Events lists browse paths such as "Message" or "EventType" selected
	// from BaseEventType. A non-empty list monitors events instead of the
	// value.
	Events []string `yaml:"events"`
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ClientConfig returns the settings for the session connector.
func (c *Config) ClientConfig() uaclient.Config {
	return uaclient.Config{
		SecurityPolicy:  c.Client.SecurityPolicy,
		SecurityMode:    c.Client.SecurityMode,
		CertificateFile: c.Client.CertificateFile,
		PrivateKeyFile:  c.Client.PrivateKeyFile,
		ApplicationURI:  c.Client.ApplicationURI,
		RequestTimeout:  c.Client.RequestTimeout,
		SessionTimeout:  c.Client.SessionTimeout,
		Credentials:     c.Credentials,
	}
}
