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

// Package consumer subscribes to the assessment queue and feeds the scoring
// kernel through a micro-batch buffer. Deliveries are acknowledged only
// after their results have been handed to the dispatch sink, so a crash
// mid-batch makes the broker redeliver instead of losing work.
package consumer

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"risk"
	"risk/internal/worker/telemetry"
)

// Scorer turns a batch of requests into one result per request.
type Scorer interface {
	ScoreBatch(ctx context.Context, reqs []risk.RequestEnvelope) []risk.ResultEnvelope
}

// Sink accepts finished results for delivery. Enqueue must not block.
type Sink interface {
	Enqueue(env risk.ResultEnvelope)
}

// Acknowledger settles deliveries with the broker.
type Acknowledger interface {
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// delivery is one raw message plus its broker tag.
type delivery struct {
	body []byte
	tag  uint64
}

// Consumer lifecycle states.
const (
	stateInit int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

// Options tune the micro-batch buffer.
type Options struct {
	BatchSize int           // flush when the buffer reaches this many requests
	FlushAge  time.Duration // flush when the oldest buffered request is this old
}

// Consumer owns the buffer and the single scoring executor.
type Consumer struct {
	scorer Scorer
	sink   Sink
	opts   Options

	state atomic.Int32
}

// New builds a consumer. Zero options select 16 requests / 20ms.
func New(scorer Scorer, sink Sink, opts Options) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.FlushAge <= 0 {
		opts.FlushAge = 20 * time.Millisecond
	}
	return &Consumer{scorer: scorer, sink: sink, opts: opts}
}

// beginDrain marks the next session close as a graceful drain: the buffer
// is flushed and all pending acks settled before the session returns.
func (c *Consumer) beginDrain() {
	c.state.Store(stateDraining)
}

// job is a flushed batch: requests plus the tags to settle once scored.
type job struct {
	reqs []risk.RequestEnvelope
	tags []uint64
}

// ackResult carries settle instructions back to the session loop. Only the
// session goroutine talks to the Acknowledger, keeping channel access
// single-threaded.
type ackResult struct {
	tags []uint64
	ok   bool // ack on true, nack+requeue on false
}

// runSession consumes deliveries until in closes. When the consumer is in
// the draining state at close time the remaining buffer is flushed and all
// in-flight acks settled before returning; otherwise buffered deliveries
// are abandoned unacked so the broker redelivers them.
func (c *Consumer) runSession(in <-chan delivery, ack Acknowledger) {
	c.state.Store(stateRunning)

	execCh := make(chan job)
	ackCh := make(chan ackResult, 4)
	go func() {
		defer close(ackCh)
		for j := range execCh {
			ackCh <- c.runBatch(j)
		}
	}()

	var (
		reqs  []risk.RequestEnvelope
		tags  []uint64
		timer = time.NewTimer(c.opts.FlushAge)
	)
	timer.Stop()

	settle := func(ar ackResult) {
		for _, tag := range ar.tags {
			if ar.ok {
				if err := ack.Ack(tag); err != nil {
					log.WithError(err).Warn("ack failed")
				}
				telemetry.Acks.Inc()
			} else {
				if err := ack.Nack(tag, true); err != nil {
					log.WithError(err).Warn("nack failed")
				}
				telemetry.Nacks.Inc()
			}
		}
	}

	// flush hands the buffer to the executor. The send races against
	// pending settle instructions so a busy executor can never deadlock
	// the session.
	flush := func(trigger string) {
		if len(reqs) == 0 {
			return
		}
		telemetry.BatchesFlushed.WithLabelValues(trigger).Inc()
		telemetry.BatchSize.Observe(float64(len(reqs)))
		j := job{reqs: reqs, tags: tags}
		for {
			select {
			case execCh <- j:
				reqs, tags = nil, nil
				timer.Stop()
				return
			case ar := <-ackCh:
				settle(ar)
			}
		}
	}

	for {
		select {
		case d, open := <-in:
			if !open {
				if c.state.Load() == stateDraining {
					flush("drain")
				} else if len(reqs) > 0 {
					log.Warnf("session lost with %d buffered deliveries, broker will redeliver", len(reqs))
				}
				close(execCh)
				for ar := range ackCh {
					settle(ar)
				}
				c.state.Store(stateStopped)
				return
			}
			telemetry.MessagesConsumed.Inc()
			req, err := decodeRequest(d.body)
			if err != nil {
				// Permanent failure: the payload can never become valid.
				// Answer with an ERROR envelope and drop it from the queue.
				telemetry.MalformedPayloads.Inc()
				log.WithError(err).Warn("dropping malformed delivery")
				c.sink.Enqueue(risk.ErrorEnvelope(req.RequestID, req.SubjectID, err.Error()))
				settle(ackResult{tags: []uint64{d.tag}, ok: true})
				continue
			}
			if len(reqs) == 0 {
				timer.Reset(c.opts.FlushAge)
			}
			reqs = append(reqs, req)
			tags = append(tags, d.tag)
			if len(reqs) >= c.opts.BatchSize {
				flush("size")
			}
		case <-timer.C:
			flush("age")
		case ar := <-ackCh:
			settle(ar)
		}
	}
}

// runBatch scores one flushed batch. A panicking kernel must not take the
// session down: the batch is requeued and the worker keeps serving.
func (c *Consumer) runBatch(j job) (ar ackResult) {
	ar = ackResult{tags: j.tags, ok: true}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("scoring batch of %d panicked: %v, requeueing", len(j.reqs), r)
			ar.ok = false
		}
	}()
	results := c.scorer.ScoreBatch(context.Background(), j.reqs)
	for _, res := range results {
		c.sink.Enqueue(res)
	}
	return ar
}
