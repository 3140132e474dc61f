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

// Package dispatch delivers result envelopes to the configured HTTP
// callback. Delivery is best-effort: the assessment pipeline never blocks
// on a slow or dead callback endpoint.
package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"risk"
	"risk/internal/worker/telemetry"
)

// Options configure the dispatcher.
type Options struct {
	URL     string        // callback endpoint; empty drops every result with a warning
	Timeout time.Duration // per-request budget
	Workers int           // delivery goroutines
	// HighWater is the queue depth that triggers a backlog warning.
	HighWater int
}

// Dispatcher fans queued envelopes out to delivery workers.
type Dispatcher struct {
	opts   Options
	client *http.Client

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []risk.ResultEnvelope
	closing bool

	wg sync.WaitGroup
}

// New builds a dispatcher. Zero workers selects 16; zero timeout 30s;
// zero high-water 500.
func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HighWater <= 0 {
		opts.HighWater = 500
	}
	d := &Dispatcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue hands an envelope to the delivery pool. It never blocks: the
// queue is unbounded and backpressure is reported through the high-water
// counter instead of stalling the scoring path.
func (d *Dispatcher) Enqueue(env risk.ResultEnvelope) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		log.Warnf("dispatcher closed, dropping result %s", env.RequestID)
		return
	}
	d.queue = append(d.queue, env)
	depth := len(d.queue)
	d.mu.Unlock()
	d.cond.Signal()

	if depth == d.opts.HighWater {
		telemetry.QueueHighWater.Inc()
		log.Warnf("dispatch queue reached %d pending callbacks", depth)
	}
}

// Drain stops accepting new envelopes and waits for the queue to empty,
// up to the timeout.
func (d *Dispatcher) Drain(timeout time.Duration) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("dispatch drain exceeded %v", timeout)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closing {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closing {
			d.mu.Unlock()
			return
		}
		env := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(env)
	}
}

// deliver posts one envelope. Failures are logged and dropped; the broker
// side already acked, so retrying here would only reorder and duplicate.
func (d *Dispatcher) deliver(env risk.ResultEnvelope) {
	if d.opts.URL == "" {
		telemetry.CallbacksDelivered.WithLabelValues("dropped").Inc()
		log.Warnf("no callback url configured, dropping result %s", env.RequestID)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		telemetry.CallbacksDelivered.WithLabelValues("error").Inc()
		log.WithError(err).Errorf("marshal result %s", env.RequestID)
		return
	}
	req, err := http.NewRequest(http.MethodPost, d.opts.URL, bytes.NewReader(raw))
	if err != nil {
		telemetry.CallbacksDelivered.WithLabelValues("error").Inc()
		log.WithError(err).Errorf("build callback for %s", env.RequestID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", env.RequestID)

	resp, err := d.client.Do(req)
	if err != nil {
		telemetry.CallbacksDelivered.WithLabelValues("error").Inc()
		log.WithError(err).Warnf("callback for %s failed", env.RequestID)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.CallbacksDelivered.WithLabelValues("rejected").Inc()
		log.Warnf("callback for %s rejected with %d", env.RequestID, resp.StatusCode)
		return
	}
	telemetry.CallbacksDelivered.WithLabelValues("delivered").Inc()
	log.Debugf("callback for %s delivered", env.RequestID)
}
