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

// Package uaclient connects the publisher to OPC UA servers through
// github.com/gopcua/opcua.
package uaclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/edgeo-scada/opcpublisher/session"
)

// Credential is a named user identity. Items select it by name; the name
// becomes part of the connection key.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config holds the client settings shared by every session.
type Config struct {
	SecurityPolicy  string
	SecurityMode    string
	CertificateFile string
	PrivateKeyFile  string
	ApplicationURI  string
	RequestTimeout  time.Duration
	SessionTimeout  time.Duration
	Credentials     map[string]Credential
}

// Connector opens gopcua sessions. It implements session.Connector.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

var _ session.Connector = (*Connector)(nil)

// NewConnector creates a connector.
func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	return &Connector{cfg: cfg, logger: logger}
}

// SplitKey splits a connection key into endpoint and credential name.
func SplitKey(key string) (endpoint, credential string) {
	endpoint, credential, _ = strings.Cut(key, "#")
	return endpoint, credential
}

// Connect opens a session for key, which is an endpoint URL optionally
// followed by "#" and a credential name.
func (c *Connector) Connect(ctx context.Context, key string) (session.Session, error) {
	endpoint, credential := SplitKey(key)
	opts, err := c.options(credential)
	if err != nil {
		return nil, err
	}

	client, err := gopcua.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, convertError("connect", err)
	}

	c.logger.Debug("opc ua client connected", slog.String("endpoint", endpoint), slog.String("credential", credential))
	return newSession(client, key, c.logger), nil
}

func (c *Connector) options(credential string) ([]gopcua.Option, error) {
	opts := []gopcua.Option{
		gopcua.RequestTimeout(c.cfg.RequestTimeout),
		gopcua.SessionTimeout(c.cfg.SessionTimeout),
		gopcua.SessionName("opcpublisher-" + uuid.NewString()),
		gopcua.AutoReconnect(false),
	}
	if c.cfg.ApplicationURI != "" {
		opts = append(opts, gopcua.ApplicationURI(c.cfg.ApplicationURI))
	}

	if policy := securityPolicyURI(c.cfg.SecurityPolicy); policy != ua.SecurityPolicyURINone {
		opts = append(opts,
			gopcua.SecurityPolicy(policy),
			gopcua.SecurityModeString(c.cfg.SecurityMode),
			gopcua.CertificateFile(c.cfg.CertificateFile),
			gopcua.PrivateKeyFile(c.cfg.PrivateKeyFile),
		)
	}

	if credential == "" {
		return append(opts, gopcua.AuthAnonymous()), nil
	}
	cred, ok := c.cfg.Credentials[credential]
	if !ok {
		return nil, fmt.Errorf("unknown credential %q", credential)
	}
	return append(opts, gopcua.AuthUsername(cred.Username, cred.Password)), nil
}

func securityPolicyURI(policy string) string {
	switch strings.ToLower(policy) {
	case "basic128rsa15":
		return ua.SecurityPolicyURIBasic128Rsa15
	case "basic256":
		return ua.SecurityPolicyURIBasic256
	case "basic256sha256":
		return ua.SecurityPolicyURIBasic256Sha256
	case "aes128_sha256_rsaoaep":
		return ua.SecurityPolicyURIAes128Sha256RsaOaep
	case "aes256_sha256_rsapss":
		return ua.SecurityPolicyURIAes256Sha256RsaPss
	default:
		return ua.SecurityPolicyURINone
	}
}
