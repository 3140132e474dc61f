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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file: %v", err)
	}
	if cfg.Broker.Prefetch != 50 {
		t.Fatalf("broker.prefetch = %d, want 50", cfg.Broker.Prefetch)
	}
	if cfg.Batch.Size != 16 || cfg.Batch.TimeoutMS != 20 {
		t.Fatalf("batch defaults = %+v", cfg.Batch)
	}
	if cfg.Server.Port != 8000 || cfg.Server.Environment != "dev" || cfg.Server.Version != "1.0.0" {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if cfg.Index.Addr() != "localhost:6379" {
		t.Fatalf("index addr = %q", cfg.Index.Addr())
	}
	if cfg.Callback.Timeout() != 30*time.Second {
		t.Fatalf("callback timeout = %v", cfg.Callback.Timeout())
	}
	if cfg.Registry.Addr != "" {
		t.Fatalf("registry addr should default empty, got %q", cfg.Registry.Addr)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	body := []byte("broker:\n  host: mq.internal\n  prefetch: 8\nbatch:\n  size: 4\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RISKWORKER_BROKER_PREFETCH", "99")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.Host != "mq.internal" {
		t.Fatalf("broker.host = %q, want file value", cfg.Broker.Host)
	}
	if cfg.Broker.Prefetch != 99 {
		t.Fatalf("broker.prefetch = %d, want env override 99", cfg.Broker.Prefetch)
	}
	if cfg.Batch.Size != 4 {
		t.Fatalf("batch.size = %d, want 4", cfg.Batch.Size)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestBroker_AMQPURL(t *testing.T) {
	b := Broker{Host: "mq", Port: 5672, VHost: "/", User: "svc", Password: "p@ss"}
	if got, want := b.AMQPURL(), "amqp://svc:p%40ss@mq:5672/"; got != want {
		t.Fatalf("AMQPURL = %q, want %q", got, want)
	}
	b.VHost = "/risk"
	if got, want := b.AMQPURL(), "amqp://svc:p%40ss@mq:5672/risk"; got != want {
		t.Fatalf("AMQPURL vhost = %q, want %q", got, want)
	}
}
