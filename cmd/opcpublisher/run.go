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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/opcpublisher/metrics"
	"github.com/edgeo-scada/opcpublisher/natsbridge"
	"github.com/edgeo-scada/opcpublisher/publisher"
	"github.com/edgeo-scada/opcpublisher/uaclient"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish the configured nodes to NATS",
	Long: `Connects to the configured OPC UA servers, subscribes the published
nodes and forwards every value and event to NATS. Nodes can be added and
removed at runtime through the <prefix>.publish.* request subjects.

Examples:
  opcpublisher run -c publishednodes.yaml
  OPCPUB_VERBOSE=true opcpublisher run --log-format json`,
	RunE: runPublisher,
}

var shutdownTimeout time.Duration

func init() {
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Time allowed to remove subscriptions on exit")
}

func runPublisher(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	items, err := cfg.Items()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(cfg.Metrics.Namespace, reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	url := cfg.NATS.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("opcpublisher"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", url, err)
	}
	defer nc.Close()

	bridge := natsbridge.New(nc, cfg.NATS.Prefix,
		natsbridge.WithLogger(logger),
		natsbridge.WithMetrics(m),
	)

	opts := []publisher.Option{
		publisher.WithLogger(logger),
		publisher.WithMetrics(m),
		publisher.WithSink(bridge.Forward),
		publisher.WithIdleTimeout(cfg.Client.IdleTimeout),
		publisher.WithConnectTimeout(cfg.Client.ConnectTimeout),
	}
	if cfg.Types.Load {
		opts = append(opts, publisher.WithTypes(typeOptions(cfg.Types, logger)...))
	}
	pub := publisher.New(uaclient.NewConnector(cfg.ClientConfig(), logger), opts...)

	if err := bridge.Serve(pub); err != nil {
		_ = pub.Close(context.Background())
		return err
	}

	if err := pub.StartPublish(ctx, items...); err != nil {
		// Unreachable servers are retried by the resync loop.
		logger.Warn("initial publish incomplete", slog.Any("error", err))
	}
	logger.Info("publishing",
		slog.Int("items", len(items)),
		slog.Int("endpoints", len(cfg.Endpoints)),
		slog.String("nats", url),
		slog.String("metrics", cfg.Metrics.Listen),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		pub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	runErr := g.Wait()

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := errors.Join(bridge.Close(), pub.Close(sctx))
	if err := nc.Drain(); err != nil {
		logger.Warn("draining nats failed", slog.Any("error", err))
	}
	return errors.Join(runErr, closeErr)
}
