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
	"errors"
	"fmt"
	"net/url"
	"strings"

	opcua "github.com/edgeo-scada/opcpublisher"
)

// Validate checks the configuration. It does not modify it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error
	for name, cred := range cfg.Credentials {
		if name == "" || strings.Contains(name, "#") {
			errs = append(errs, fmt.Errorf("credential %q: name must be non-empty and must not contain '#'", name))
		}
		if cred.Username == "" {
			errs = append(errs, fmt.Errorf("credential %q: username is required", name))
		}
	}

	if cfg.Client.RequestTimeout < 0 || cfg.Client.SessionTimeout < 0 ||
		cfg.Client.ConnectTimeout < 0 || cfg.Client.IdleTimeout < 0 {
		errs = append(errs, errors.New("client: timeouts must not be negative"))
	}
	if cfg.Client.SecurityPolicy != "" && !strings.EqualFold(cfg.Client.SecurityPolicy, "None") {
		if cfg.Client.CertificateFile == "" || cfg.Client.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("client: security policy %s needs certificate_file and private_key_file", cfg.Client.SecurityPolicy))
		}
	}

	// key = subscriber | node id | credential
	seen := make(map[string]string)
	for i, ep := range cfg.Endpoints {
		where := fmt.Sprintf("endpoint %d (%s)", i, ep.URL)
		if u, err := url.Parse(ep.URL); err != nil || u.Scheme != "opc.tcp" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: url must be opc.tcp://host[:port]", where))
		}
		if ep.Credential != "" {
			if _, ok := cfg.Credentials[ep.Credential]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown credential %q", where, ep.Credential))
			}
		}

		for j, n := range ep.Nodes {
			node := fmt.Sprintf("%s node %d", where, j)
			if n.Subscriber == "" {
				errs = append(errs, fmt.Errorf("%s: subscriber is required", node))
			}
			id, err := opcua.ParseNodeID(n.NodeID)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", node, err))
				continue
			}
			if n.SamplingInterval < 0 || n.PublishingInterval < 0 || n.HeartbeatInterval < 0 {
				errs = append(errs, fmt.Errorf("%s: intervals must not be negative", node))
			}
			for _, path := range n.Events {
				if strings.Trim(path, "/") == "" {
					errs = append(errs, fmt.Errorf("%s: empty event field path", node))
				}
			}

			key := n.Subscriber + "|" + id.String() + "|" + ep.Credential
			if prev, dup := seen[key]; dup {
				errs = append(errs, fmt.Errorf("%s: %s already monitors %s for %s", node, prev, id, n.Subscriber))
				continue
			}
			seen[key] = node
		}
	}
	return errors.Join(errs...)
}
