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
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"risk"
)

type fakeScorer struct {
	mu      sync.Mutex
	batches [][]risk.RequestEnvelope
	panicOn int // 1-based batch number that panics; 0 disables
}

func (f *fakeScorer) ScoreBatch(_ context.Context, reqs []risk.RequestEnvelope) []risk.ResultEnvelope {
	f.mu.Lock()
	f.batches = append(f.batches, reqs)
	n := len(f.batches)
	f.mu.Unlock()
	if f.panicOn != 0 && n == f.panicOn {
		panic("kernel blew up")
	}
	out := make([]risk.ResultEnvelope, len(reqs))
	for i, r := range reqs {
		out[i] = risk.ResultEnvelope{RequestID: r.RequestID, Status: risk.StatusSuccess}
	}
	return out
}

func (f *fakeScorer) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

type fakeSink struct {
	mu   sync.Mutex
	envs []risk.ResultEnvelope
}

func (f *fakeSink) Enqueue(env risk.ResultEnvelope) {
	f.mu.Lock()
	f.envs = append(f.envs, env)
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envs)
}

type fakeAck struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (f *fakeAck) Ack(tag uint64) error {
	f.mu.Lock()
	f.acked = append(f.acked, tag)
	f.mu.Unlock()
	return nil
}

func (f *fakeAck) Nack(tag uint64, requeue bool) error {
	f.mu.Lock()
	f.nacked = append(f.nacked, tag)
	f.mu.Unlock()
	if !requeue {
		panic("consumer must always requeue on nack")
	}
	return nil
}

func body(t *testing.T, id string) []byte {
	t.Helper()
	raw, err := json.Marshal(risk.RequestEnvelope{
		RequestID: id, SubjectID: "s-" + id, Vector: make([]float64, risk.FeatureDim),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// drainSession runs a full graceful session over the given deliveries.
func drainSession(c *Consumer, ack Acknowledger, ds ...delivery) {
	in := make(chan delivery, len(ds))
	for _, d := range ds {
		in <- d
	}
	c.beginDrain()
	close(in)
	c.runSession(in, ack)
}

func TestRunSession_SizeTrigger(t *testing.T) {
	scorer := &fakeScorer{}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 4, FlushAge: time.Hour})

	var ds []delivery
	for i := 0; i < 10; i++ {
		ds = append(ds, delivery{body: body(t, "r"), tag: uint64(i + 1)})
	}
	drainSession(c, ack, ds...)

	sizes := scorer.batchSizes()
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Fatalf("batch sizes = %v, want [4 4 2]", sizes)
	}
	if sink.count() != 10 {
		t.Fatalf("sink got %d results, want 10", sink.count())
	}
	if len(ack.acked) != 10 || len(ack.nacked) != 0 {
		t.Fatalf("acked=%d nacked=%d", len(ack.acked), len(ack.nacked))
	}
}

// TestRunSession_TwentyMessagesTwoBatches runs the canonical burst: 20
// messages at the default batch size must settle in at most 2 batches with
// exactly one ack each.
func TestRunSession_TwentyMessagesTwoBatches(t *testing.T) {
	scorer := &fakeScorer{}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 16, FlushAge: time.Hour})

	var ds []delivery
	for i := 0; i < 20; i++ {
		ds = append(ds, delivery{body: body(t, "r"), tag: uint64(i + 1)})
	}
	drainSession(c, ack, ds...)

	if sizes := scorer.batchSizes(); len(sizes) > 2 {
		t.Fatalf("20 messages took %d batches: %v", len(sizes), sizes)
	}
	if len(ack.acked) != 20 || len(ack.nacked) != 0 {
		t.Fatalf("acked=%d nacked=%d, want exactly 20 acks", len(ack.acked), len(ack.nacked))
	}
	if sink.count() != 20 {
		t.Fatalf("sink got %d results, want 20", sink.count())
	}
}

func TestRunSession_AgeTrigger(t *testing.T) {
	scorer := &fakeScorer{}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 100, FlushAge: 10 * time.Millisecond})

	in := make(chan delivery)
	done := make(chan struct{})
	go func() {
		c.runSession(in, ack)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		in <- delivery{body: body(t, "r"), tag: uint64(i + 1)}
	}

	deadline := time.After(2 * time.Second)
	for sink.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("age flush never happened, sink=%d", sink.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	c.beginDrain()
	close(in)
	<-done

	if sizes := scorer.batchSizes(); len(sizes) != 1 || sizes[0] != 3 {
		t.Fatalf("batch sizes = %v, want [3]", sizes)
	}
}

func TestRunSession_MalformedPayload(t *testing.T) {
	scorer := &fakeScorer{}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 2, FlushAge: time.Hour})

	drainSession(c, ack,
		delivery{body: []byte("{broken"), tag: 1},
		delivery{body: body(t, "ok1"), tag: 2},
		delivery{body: body(t, "ok2"), tag: 3},
	)

	if len(ack.acked) != 3 || len(ack.nacked) != 0 {
		t.Fatalf("acked=%v nacked=%v, malformed must be acked away", ack.acked, ack.nacked)
	}
	if sink.count() != 3 {
		t.Fatalf("sink got %d envelopes, want 3 (1 error + 2 results)", sink.count())
	}
	if sink.envs[0].Status != risk.StatusError {
		t.Fatalf("first envelope = %+v, want ERROR", sink.envs[0])
	}
	if sizes := scorer.batchSizes(); len(sizes) != 1 || sizes[0] != 2 {
		t.Fatalf("scorer saw %v, malformed payload must not reach it", sizes)
	}
}

func TestRunSession_DoubleEncodedPayload(t *testing.T) {
	scorer := &fakeScorer{}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 1, FlushAge: time.Hour})

	wrapped, err := json.Marshal(string(body(t, "nested")))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	drainSession(c, ack, delivery{body: wrapped, tag: 1})

	if sizes := scorer.batchSizes(); len(sizes) != 1 || sizes[0] != 1 {
		t.Fatalf("double-encoded payload not scored: %v", sizes)
	}
	if scorer.batches[0][0].RequestID != "nested" {
		t.Fatalf("decoded request = %+v", scorer.batches[0][0])
	}
}

func TestRunSession_PanicRequeuesBatch(t *testing.T) {
	scorer := &fakeScorer{panicOn: 1}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 2, FlushAge: time.Hour})

	drainSession(c, ack,
		delivery{body: body(t, "a"), tag: 1},
		delivery{body: body(t, "b"), tag: 2},
		delivery{body: body(t, "c"), tag: 3},
		delivery{body: body(t, "d"), tag: 4},
	)

	if len(ack.nacked) != 2 {
		t.Fatalf("nacked = %v, want the 2 tags of the panicked batch", ack.nacked)
	}
	if len(ack.acked) != 2 {
		t.Fatalf("acked = %v, want the 2 tags of the surviving batch", ack.acked)
	}
	if sink.count() != 2 {
		t.Fatalf("sink got %d results, want 2 from the surviving batch", sink.count())
	}
}

func TestRunSession_AbandonWithoutDrain(t *testing.T) {
	scorer := &fakeScorer{}
	sink := &fakeSink{}
	ack := &fakeAck{}
	c := New(scorer, sink, Options{BatchSize: 100, FlushAge: time.Hour})

	in := make(chan delivery, 3)
	for i := 0; i < 3; i++ {
		in <- delivery{body: body(t, "r"), tag: uint64(i + 1)}
	}
	close(in) // connection loss, no drain requested
	c.runSession(in, ack)

	if len(scorer.batches) != 0 {
		t.Fatalf("abandoned buffer must not be scored, got %v", scorer.batchSizes())
	}
	if len(ack.acked) != 0 || len(ack.nacked) != 0 {
		t.Fatalf("abandoned deliveries must stay unsettled: acked=%v nacked=%v", ack.acked, ack.nacked)
	}
}

func TestDecodeRequest_FlatFeatureFields(t *testing.T) {
	fields := map[string]interface{}{"requestId": "flat", "subjectId": "s"}
	for i := 1; i <= risk.FeatureDim; i++ {
		fields["feature_"+strconv.Itoa(i)] = float64(i) / 10
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := decodeRequest(raw)
	if err != nil {
		t.Fatalf("decode flat layout: %v", err)
	}
	if len(req.Vector) != risk.FeatureDim || req.Vector[0] != 0.1 || req.Vector[34] != 3.5 {
		t.Fatalf("flat vector = %v", req.Vector)
	}

	// a partial feature set must not silently produce a short vector
	delete(fields, "feature_20")
	raw, _ = json.Marshal(fields)
	req, err = decodeRequest(raw)
	if err != nil {
		t.Fatalf("partial flat layout decode: %v", err)
	}
	if req.Vector != nil {
		t.Fatalf("partial flat layout produced vector %v", req.Vector)
	}
}

func TestDecodeRequest_MissingRequestID(t *testing.T) {
	_, err := decodeRequest([]byte(`{"subjectId":"s","vector":[]}`))
	if err == nil {
		t.Fatalf("expected error for missing requestId")
	}
}
