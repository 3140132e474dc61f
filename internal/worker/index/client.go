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

// Package index queries the Redis vector index for approximate nearest
// neighbours of an embedding.
package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"risk"
	"risk/internal/worker/telemetry"
)

// Doer is the slice of the Redis client the index needs. Production passes
// *redis.Client; tests pass an in-process fake.
type Doer interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
}

// Options configure a production client.
type Options struct {
	Addr      string
	DB        int
	Password  string
	IndexName string
	PoolSize  int
	Timeout   time.Duration
}

// Client searches one named vector index.
type Client struct {
	rdb       Doer
	indexName string
	timeout   time.Duration
}

const defaultQueryTimeout = 2 * time.Second

// New dials Redis and returns a client for the configured index.
func New(opts Options) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		DB:       opts.DB,
		Password: opts.Password,
		PoolSize: opts.PoolSize,
	})
	return NewWithDoer(rdb, opts.IndexName, opts.Timeout)
}

// NewWithDoer builds a client over any Doer. A zero timeout gets the
// default per-query budget.
func NewWithDoer(rdb Doer, indexName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Client{rdb: rdb, indexName: indexName, timeout: timeout}
}

// Ping verifies connectivity at startup.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Do(ctx, "PING").Err(); err != nil {
		return fmt.Errorf("index ping: %w", err)
	}
	return nil
}

// KNN returns up to k nearest neighbours of the embedding, sorted by
// ascending distance. It never fails the caller: any query or parse error
// is logged and degrades to an empty neighbourhood, which the scoring rule
// treats as "no anchor".
func (c *Client) KNN(ctx context.Context, embedding []float64, k int) []risk.Neighbour {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := fmt.Sprintf("*=>[KNN %d @vector $vec AS similarity_score]", k)
	args := []interface{}{
		"FT.SEARCH", c.indexName, query,
		"PARAMS", "2", "vec", vectorBlob(embedding),
		"SORTBY", "similarity_score", "ASC",
		"DIALECT", "2",
		"LIMIT", "0", strconv.Itoa(k),
	}
	res, err := c.rdb.Do(ctx, args...).Result()
	if err != nil {
		telemetry.IndexQueryErrors.Inc()
		log.WithError(err).Warnf("index search on %s failed, scoring without neighbours", c.indexName)
		return nil
	}
	ns, err := parseSearchReply(res)
	if err != nil {
		telemetry.IndexQueryErrors.Inc()
		log.WithError(err).Warnf("index reply from %s unparseable, scoring without neighbours", c.indexName)
		return nil
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].Distance < ns[j].Distance })
	if len(ns) > k {
		ns = ns[:k]
	}
	return ns
}

// vectorBlob packs the embedding as little-endian float32, the layout the
// index was built with.
func vectorBlob(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(x)))
	}
	return buf
}

// parseSearchReply walks the RESP2 FT.SEARCH shape: total count followed by
// alternating document keys and field/value arrays.
func parseSearchReply(res interface{}) ([]risk.Neighbour, error) {
	rows, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("reply type %T", res)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var ns []risk.Neighbour
	for i := 1; i < len(rows); i += 2 {
		if i+1 >= len(rows) {
			break
		}
		fieldList, ok := rows[i+1].([]interface{})
		if !ok {
			return nil, fmt.Errorf("document fields type %T", rows[i+1])
		}
		fields := map[string]string{}
		for f := 0; f+1 < len(fieldList); f += 2 {
			fields[asString(fieldList[f])] = asString(fieldList[f+1])
		}
		n, ok := neighbourFromFields(fields)
		if !ok {
			continue
		}
		ns = append(ns, n)
	}
	return ns, nil
}

func neighbourFromFields(fields map[string]string) (risk.Neighbour, bool) {
	var n risk.Neighbour
	// entity_id is the canonical identifier; old index generations used id.
	n.ID = fields["entity_id"]
	if n.ID == "" {
		n.ID = fields["id"]
	}
	if n.ID == "" {
		log.Debugf("index document without entity id dropped: %v", fields)
		return n, false
	}
	distRaw, ok := fields["similarity_score"]
	if !ok {
		log.Debugf("index document %s without distance dropped", n.ID)
		return n, false
	}
	dist, err := strconv.ParseFloat(distRaw, 64)
	if err != nil {
		log.Debugf("index document %s distance %q dropped: %v", n.ID, distRaw, err)
		return n, false
	}
	n.Distance = dist
	if labRaw, ok := fields["label"]; ok && labRaw != "" {
		if lab, err := strconv.Atoi(labRaw); err == nil {
			n.Label = &lab
		}
	}
	return n, true
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}
