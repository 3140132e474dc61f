// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package main runs the streaming risk-assessment worker: it consumes
// feature-vector requests from the broker, scores them against the vector
// index and posts the results to the configured callback endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"risk/internal/worker/config"
	"risk/internal/worker/lifecycle"
	"risk/internal/worker/telemetry"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "riskworker",
		Short: "Streaming risk-assessment worker",
		Long: "riskworker consumes feature-vector assessment requests from an AMQP " +
			"queue, embeds them with the fitted encoder, scores them against the " +
			"Redis vector index and delivers results to the callback endpoint.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (env-only when omitted)")

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("worker exited")
	}
}

func run(cfgPath string) error {
	log.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Server.Environment == "dev" {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{})
	}

	if cfg.Server.MetricsAddr != "" {
		telemetry.ServeMetrics(cfg.Server.MetricsAddr)
		log.Infof("metrics listening on %s", cfg.Server.MetricsAddr)
	}

	mgr := lifecycle.New(cfg)
	if err := mgr.Start(context.Background()); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("received %s, draining", sig)

	// A second signal aborts the drain.
	go func() {
		<-sigs
		log.Warn("second signal, aborting drain")
		os.Exit(1)
	}()

	mgr.Stop()
	return nil
}
