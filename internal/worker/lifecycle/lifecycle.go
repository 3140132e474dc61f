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

// Package lifecycle boots and tears down the worker in a fixed order:
// dependencies come up before anything that needs them, and shutdown walks
// the same order in reverse so in-flight work finishes before its outputs
// lose their way out.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"risk/internal/worker/artefact"
	"risk/internal/worker/config"
	"risk/internal/worker/consumer"
	"risk/internal/worker/dispatch"
	"risk/internal/worker/index"
	"risk/internal/worker/kernel"
)

// Drain budgets for graceful shutdown.
const (
	consumerDrainTimeout = 30 * time.Second
	dispatchDrainTimeout = 30 * time.Second
)

// Manager owns every long-lived component of the worker process.
type Manager struct {
	cfg *config.Config

	artefacts  *artefact.Registry
	idx        *index.Client
	dispatcher *dispatch.Dispatcher
	subscriber *consumer.Subscriber
	reg        *registration
}

// New prepares a manager for the given configuration.
func New(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// Start brings the worker up. Order matters: artefacts and the vector
// index must be healthy before the broker subscription opens, and the
// discovery registration happens last so traffic is only announced once
// the worker can actually serve it.
func (m *Manager) Start(ctx context.Context) error {
	log.WithFields(log.Fields{
		"environment": m.cfg.Server.Environment,
		"version":     m.cfg.Server.Version,
	}).Info("starting risk worker")

	reg, err := artefact.Load(artefact.Paths{
		Encoder:      m.cfg.Artefacts.EncoderPath,
		Standardiser: m.cfg.Artefacts.StandardiserPath,
		Thresholds:   m.cfg.Artefacts.ThresholdsPath,
	}, m.cfg.Artefacts.AllowDegraded)
	if err != nil {
		return fmt.Errorf("artefacts: %w", err)
	}
	m.artefacts = reg

	m.idx = index.New(index.Options{
		Addr:      m.cfg.Index.Addr(),
		DB:        m.cfg.Index.DB,
		Password:  m.cfg.Index.Password,
		IndexName: m.cfg.Index.IndexName,
		PoolSize:  m.cfg.Index.PoolSize,
	})
	if err := m.idx.Ping(ctx); err != nil {
		return err
	}

	m.dispatcher = dispatch.New(dispatch.Options{
		URL:       m.cfg.Callback.URL,
		Timeout:   m.cfg.Callback.Timeout(),
		HighWater: 10 * m.cfg.Broker.Prefetch,
	})
	m.dispatcher.Start()

	k := kernel.New(m.artefacts, m.idx, kernel.DefaultK)
	c := consumer.New(k, m.dispatcher, consumer.Options{
		BatchSize: m.cfg.Batch.Size,
		FlushAge:  m.cfg.Batch.FlushAge(),
	})
	m.subscriber = consumer.NewSubscriber(c, consumer.BrokerOptions{
		URL:        m.cfg.Broker.AMQPURL(),
		Queue:      m.cfg.Broker.Queue,
		Exchange:   m.cfg.Broker.Exchange,
		RoutingKey: m.cfg.Broker.RoutingKey,
		Prefetch:   m.cfg.Broker.Prefetch,
		Heartbeat:  m.cfg.Broker.HeartbeatInterval(),
	})
	if err := m.subscriber.Connect(); err != nil {
		return err
	}
	m.subscriber.Start()

	m.reg, err = register(m.cfg.Registry, m.cfg.Server)
	if err != nil {
		// Registration failure must not strand an already-consuming
		// worker; unwind what came up.
		m.Stop()
		return err
	}

	log.Info("risk worker started")
	return nil
}

// Stop tears the worker down in reverse order: withdraw from discovery,
// drain the consumer so buffered requests are scored and acked, then drain
// the callback queue.
func (m *Manager) Stop() {
	log.Info("stopping risk worker")
	m.reg.deregister()
	if m.subscriber != nil {
		if err := m.subscriber.Stop(consumerDrainTimeout); err != nil {
			log.WithError(err).Warn("consumer drain incomplete")
		}
	}
	if m.dispatcher != nil {
		if err := m.dispatcher.Drain(dispatchDrainTimeout); err != nil {
			log.WithError(err).Warn("dispatch drain incomplete")
		}
	}
	log.Info("risk worker stopped")
}
