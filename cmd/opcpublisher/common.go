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
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/opcpublisher/config"
	"github.com/edgeo-scada/opcpublisher/typesystem"
)

// newLogger builds the process logger from --log-format and --verbose.
func newLogger() (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if viper.GetBool("verbose") {
		opts.Level = slog.LevelDebug
	}
	switch strings.ToLower(viper.GetString("log-format")) {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", viper.GetString("log-format"))
	}
}

// loadConfig reads, validates and normalizes the published nodes file.
// When optional is set a missing file yields the defaults.
func loadConfig(optional bool) (*config.Config, error) {
	path := viper.GetString("config")
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case optional && errors.Is(err, fs.ErrNotExist):
		cfg = &config.Config{}
	default:
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// typeOptions maps the types section onto type system options.
func typeOptions(cfg config.TypesConfig, logger *slog.Logger) []typesystem.Option {
	return []typesystem.Option{
		typesystem.WithLogger(logger),
		typesystem.WithDisableDictionary(cfg.DisableDictionary),
		typesystem.WithThrowOnError(cfg.ThrowOnError),
		typesystem.WithNamespaceZero(cfg.NamespaceZero),
	}
}
