// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry announces the service to Consul so gateways can
// discover healthy instances.
package registry

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/consul/api"
)

// Config describes the Consul agent and the service instance. An empty
// Address disables registration.
type Config struct {
	Address     string   `mapstructure:"address"`
	Scheme      string   `mapstructure:"scheme"`
	Datacenter  string   `mapstructure:"datacenter"`
	Token       string   `mapstructure:"token"`
	ServiceName string   `mapstructure:"service_name"`
	ServiceID   string   `mapstructure:"service_id"`
	Tags        []string `mapstructure:"tags"`
	// AdvertiseAddress is the host other services should dial. Defaults
	// to the machine's outbound address.
	AdvertiseAddress string        `mapstructure:"advertise_address"`
	HealthPath       string        `mapstructure:"health_path"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	CheckTimeout     time.Duration `mapstructure:"check_timeout"`
	DeregisterAfter  time.Duration `mapstructure:"deregister_after"`
}

func (c Config) Enabled() bool {
	return c.Address != ""
}

// ConsulRegistrar registers one service instance with a Consul agent.
type ConsulRegistrar struct {
	client *api.Client
	cfg    Config
}

// NewConsulRegistrar creates a client for cfg.Address. It does not contact
// the agent.
func NewConsulRegistrar(cfg Config) (*ConsulRegistrar, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("registry: consul address is empty")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hearth"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 3 * time.Second
	}
	if cfg.DeregisterAfter <= 0 {
		cfg.DeregisterAfter = time.Minute
	}

	consulCfg := api.DefaultConfig()
	consulCfg.Address = cfg.Address
	if cfg.Scheme != "" {
		consulCfg.Scheme = cfg.Scheme
	}
	consulCfg.Datacenter = cfg.Datacenter
	consulCfg.Token = cfg.Token

	client, err := api.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &ConsulRegistrar{client: client, cfg: cfg}, nil
}

// Register announces the instance listening on port, with an HTTP health
// check against HealthPath. It returns the registered service id.
func (r *ConsulRegistrar) Register(port int) (string, error) {
	address := r.cfg.AdvertiseAddress
	if address == "" {
		address = outboundIP()
	}
	id := r.cfg.ServiceID
	if id == "" {
		id = ServiceID(r.cfg.ServiceName, address, port)
	}

	registration := &api.AgentServiceRegistration{
		ID:      id,
		Name:    r.cfg.ServiceName,
		Tags:    r.cfg.Tags,
		Address: address,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s%s", net.JoinHostPort(address, strconv.Itoa(port)), r.cfg.HealthPath),
			Interval:                       r.cfg.CheckInterval.String(),
			Timeout:                        r.cfg.CheckTimeout.String(),
			DeregisterCriticalServiceAfter: r.cfg.DeregisterAfter.String(),
		},
	}
	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return "", fmt.Errorf("register service %s: %w", id, err)
	}
	slog.Info("registered with consul", "service_id", id, "address", address, "port", port)
	return id, nil
}

// Deregister removes the instance.
func (r *ConsulRegistrar) Deregister(serviceID string) error {
	if err := r.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("deregister service %s: %w", serviceID, err)
	}
	slog.Info("deregistered from consul", "service_id", serviceID)
	return nil
}

// ServiceID builds a stable instance id from the service name, host and port.
func ServiceID(name, address string, port int) string {
	host, _ := os.Hostname()
	if host == "" {
		host = address
	}
	return fmt.Sprintf("%s-%s-%d", name, host, port)
}

// outboundIP returns the local address used for outbound traffic. No
// packets are sent.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
