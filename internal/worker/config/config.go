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

// Package config loads the worker configuration from an optional YAML file
// with environment-variable overrides (RISKWORKER_ prefix, dots replaced by
// underscores, e.g. RISKWORKER_BROKER_HOST).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Broker holds AMQP connection and subscription parameters.
type Broker struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	VHost      string `mapstructure:"vhost"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Queue      string `mapstructure:"queue"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	Prefetch   int    `mapstructure:"prefetch"`
	Heartbeat  int    `mapstructure:"heartbeat"`
}

// Index holds vector index connection parameters.
type Index struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// Callback holds the result-delivery endpoint parameters.
type Callback struct {
	URL      string `mapstructure:"url"`
	TimeoutS int    `mapstructure:"timeout_s"`
}

// Batch holds the micro-batching trigger thresholds.
type Batch struct {
	Size      int `mapstructure:"size"`
	TimeoutMS int `mapstructure:"timeout_ms"`
}

// Artefacts holds paths to the model artefacts loaded at boot.
type Artefacts struct {
	EncoderPath      string `mapstructure:"encoder_path"`
	StandardiserPath string `mapstructure:"standardiser_path"`
	ThresholdsPath   string `mapstructure:"thresholds_path"`
	AllowDegraded    bool   `mapstructure:"allow_degraded"`
}

// Registry holds discovery-registry parameters. An empty Addr disables
// registration entirely.
type Registry struct {
	Addr               string `mapstructure:"addr"`
	Namespace          string `mapstructure:"namespace"`
	Group              string `mapstructure:"group"`
	ServiceName        string `mapstructure:"service_name"`
	Cluster            string `mapstructure:"cluster"`
	EnableRemoteConfig bool   `mapstructure:"enable_remote_config"`
}

// Server holds instance metadata and the optional metrics listener.
type Server struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Config is the full worker configuration.
type Config struct {
	Broker    Broker    `mapstructure:"broker"`
	Index     Index     `mapstructure:"index"`
	Callback  Callback  `mapstructure:"callback"`
	Batch     Batch     `mapstructure:"batch"`
	Artefacts Artefacts `mapstructure:"artefacts"`
	Registry  Registry  `mapstructure:"registry"`
	Server    Server    `mapstructure:"server"`
}

// Load reads the configuration from path (optional; empty path means
// env/defaults only) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RISKWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 5672)
	v.SetDefault("broker.vhost", "/")
	v.SetDefault("broker.user", "guest")
	v.SetDefault("broker.password", "guest")
	v.SetDefault("broker.queue", "risk.assessment.queue")
	v.SetDefault("broker.exchange", "risk.assessment.exchange")
	v.SetDefault("broker.routing_key", "risk.assessment")
	v.SetDefault("broker.prefetch", 50)
	v.SetDefault("broker.heartbeat", 600)

	v.SetDefault("index.host", "localhost")
	v.SetDefault("index.port", 6379)
	v.SetDefault("index.db", 0)
	v.SetDefault("index.index_name", "entity_vectors")
	v.SetDefault("index.pool_size", 16)

	v.SetDefault("callback.timeout_s", 30)

	v.SetDefault("batch.size", 16)
	v.SetDefault("batch.timeout_ms", 20)

	v.SetDefault("registry.namespace", "public")
	v.SetDefault("registry.group", "DEFAULT_GROUP")
	v.SetDefault("registry.service_name", "analysis-service")
	v.SetDefault("registry.cluster", "DEFAULT")
	v.SetDefault("registry.enable_remote_config", false)

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.version", "1.0.0")
}

// AMQPURL assembles the broker dial URL.
func (b Broker) AMQPURL() string {
	vhost := b.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(b.User), url.QueryEscape(b.Password),
		b.Host, b.Port, url.PathEscape(strings.TrimPrefix(vhost, "/")))
}

// HeartbeatInterval returns the AMQP heartbeat as a duration.
func (b Broker) HeartbeatInterval() time.Duration {
	return time.Duration(b.Heartbeat) * time.Second
}

// Addr returns the vector index host:port address.
func (i Index) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Timeout returns the per-request callback timeout as a duration.
func (c Callback) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// FlushAge returns the maximum age of the oldest buffered message before a
// batch is flushed.
func (b Batch) FlushAge() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}
