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

package consumer

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// BrokerOptions name the AMQP endpoint and topology.
type BrokerOptions struct {
	URL        string
	Queue      string
	Exchange   string
	RoutingKey string
	Prefetch   int
	Heartbeat  time.Duration
}

const consumerTag = "riskworker"

// Subscriber binds a Consumer to a live AMQP subscription and keeps it
// alive across connection losses.
type Subscriber struct {
	c    *Consumer
	opts BrokerOptions

	conn *amqp.Connection
	ch   *amqp.Channel

	stop chan struct{}
	done chan struct{}
}

// NewSubscriber wires a consumer to broker options. Connect must succeed
// before Start.
func NewSubscriber(c *Consumer, opts BrokerOptions) *Subscriber {
	return &Subscriber{
		c:    c,
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Connect dials the broker and declares the topology: a durable direct
// exchange, the durable work queue dead-lettering into <queue>.dlq, and
// the dead-letter queue itself. Declaration is idempotent across workers.
func (s *Subscriber) Connect() error {
	conn, err := amqp.DialConfig(s.opts.URL, amqp.Config{
		Heartbeat: s.opts.Heartbeat,
		Properties: amqp.Table{
			"connection_name": consumerTag,
		},
	})
	if err != nil {
		return fmt.Errorf("broker dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker channel: %w", err)
	}

	dlq := s.opts.Queue + ".dlq"
	if err := ch.ExchangeDeclare(s.opts.Exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", s.opts.Exchange, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(s.opts.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", s.opts.Queue, err)
	}
	if err := ch.QueueBind(s.opts.Queue, s.opts.RoutingKey, s.opts.Exchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("bind queue %s: %w", s.opts.Queue, err)
	}
	if err := ch.Qos(s.opts.Prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	s.conn, s.ch = conn, ch
	log.WithFields(log.Fields{
		"queue":    s.opts.Queue,
		"exchange": s.opts.Exchange,
		"prefetch": s.opts.Prefetch,
	}).Info("broker topology declared")
	return nil
}

// Start begins consuming in a background goroutine. Connection loss is
// retried forever with exponential backoff; a graceful Stop ends the loop.
func (s *Subscriber) Start() {
	go s.run()
}

func (s *Subscriber) run() {
	defer close(s.done)
	for {
		deliveries, err := s.ch.Consume(s.opts.Queue, consumerTag, false, false, false, false, nil)
		if err != nil {
			log.WithError(err).Warn("subscribe failed")
		} else {
			in := make(chan delivery)
			go func() {
				defer close(in)
				for d := range deliveries {
					in <- delivery{body: d.Body, tag: d.DeliveryTag}
				}
			}()
			s.c.runSession(in, channelAck{s.ch})
		}

		select {
		case <-s.stop:
			return
		default:
		}

		log.Warn("broker session lost, reconnecting")
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 5 * time.Second
		bo.MaxInterval = 60 * time.Second
		bo.MaxElapsedTime = 0
		for {
			if s.conn != nil {
				s.conn.Close()
			}
			if err := s.Connect(); err == nil {
				break
			} else {
				log.WithError(err).Warn("broker reconnect failed")
			}
			select {
			case <-s.stop:
				return
			case <-time.After(bo.NextBackOff()):
			}
		}
	}
}

// Stop drains gracefully: the in-flight batch finishes, its results are
// enqueued and acked, and only then does the subscription close. Deadline
// overrun abandons the session; unacked deliveries are redelivered.
func (s *Subscriber) Stop(timeout time.Duration) error {
	s.c.beginDrain()
	close(s.stop)
	if s.ch != nil {
		if err := s.ch.Cancel(consumerTag, false); err != nil {
			log.WithError(err).Warn("consumer cancel failed")
		}
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		return fmt.Errorf("consumer drain exceeded %v", timeout)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// channelAck adapts an AMQP channel to the Acknowledger interface.
type channelAck struct {
	ch *amqp.Channel
}

func (a channelAck) Ack(tag uint64) error                { return a.ch.Ack(tag, false) }
func (a channelAck) Nack(tag uint64, requeue bool) error { return a.ch.Nack(tag, false, requeue) }
