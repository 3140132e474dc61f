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

package lifecycle

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	log "github.com/sirupsen/logrus"

	"risk/internal/worker/config"
)

// registration announces this worker instance to the discovery registry so
// synchronous callers can locate it. Registration is optional: an empty
// registry address skips it entirely, which is the normal mode for pure
// queue-driven deployments.
type registration struct {
	client     naming_client.INamingClient
	cfg        config.Registry
	ip         string
	port       uint64
	instanceID string
}

// register connects to the discovery registry and announces the instance.
// A nil return with nil error means registration was disabled.
func register(cfg config.Registry, srv config.Server) (*registration, error) {
	if cfg.Addr == "" {
		log.Info("discovery registry disabled")
		return nil, nil
	}

	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("registry addr %q: %w", cfg.Addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("registry addr %q: %w", cfg.Addr, err)
	}

	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig: constant.NewClientConfig(
			constant.WithNamespaceId(namespaceID(cfg.Namespace)),
			constant.WithTimeoutMs(5000),
			constant.WithNotLoadCacheAtStart(true),
			constant.WithLogLevel("warn"),
		),
		ServerConfigs: []constant.ServerConfig{
			*constant.NewServerConfig(host, port),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}

	r := &registration{
		client:     client,
		cfg:        cfg,
		ip:         localIP(),
		port:       uint64(srv.Port),
		instanceID: uuid.NewString(),
	}
	ok, err := client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.ip,
		Port:        r.port,
		ServiceName: cfg.ServiceName,
		GroupName:   cfg.Group,
		ClusterName: cfg.Cluster,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata: map[string]string{
			"environment": srv.Environment,
			"version":     srv.Version,
			"instance_id": r.instanceID,
		},
	})
	if err != nil || !ok {
		return nil, fmt.Errorf("register %s at %s:%d: ok=%v err=%w", cfg.ServiceName, r.ip, r.port, ok, err)
	}
	log.WithFields(log.Fields{
		"service":  cfg.ServiceName,
		"group":    cfg.Group,
		"instance": r.instanceID,
		"addr":     fmt.Sprintf("%s:%d", r.ip, r.port),
	}).Info("registered with discovery registry")
	return r, nil
}

// deregister withdraws the instance. Failures are logged, not returned:
// the registry expires ephemeral instances on its own once heartbeats stop.
func (r *registration) deregister() {
	if r == nil {
		return
	}
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.ip,
		Port:        r.port,
		ServiceName: r.cfg.ServiceName,
		GroupName:   r.cfg.Group,
		Cluster:     r.cfg.Cluster,
		Ephemeral:   true,
	})
	if err != nil || !ok {
		log.WithError(err).Warnf("deregister %s failed, relying on heartbeat expiry", r.cfg.ServiceName)
		return
	}
	log.Infof("deregistered %s instance %s", r.cfg.ServiceName, r.instanceID)
}

// namespaceID maps the conventional "public" namespace to the empty id the
// registry expects.
func namespaceID(ns string) string {
	if strings.EqualFold(ns, "public") {
		return ""
	}
	return ns
}

// localIP picks the outbound interface address without sending traffic.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
