// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package turnlog publishes a summary record of every finished chat turn
// for downstream analytics.
package turnlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

const (
	DefaultTopic = "hearth_turns"
	// Tags let consumers subscribe to one outcome only.
	TagCompleted = "completed"
	TagAwaiting  = "awaiting_confirmation"
	TagFailed    = "failed"
	TagCancelled = "cancelled"
)

// Config configures the RocketMQ producer. An empty NameServers list
// disables publishing.
type Config struct {
	NameServers []string      `mapstructure:"name_servers"`
	Topic       string        `mapstructure:"topic"`
	GroupName   string        `mapstructure:"group_name"`
	MaxRetries  int           `mapstructure:"max_retries"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return len(c.NameServers) > 0
}

// sender is the part of rocketmq.Producer the publisher uses.
type sender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
}

// RocketMQPublisher sends turn records as JSON messages tagged by status.
type RocketMQPublisher struct {
	producer    sender
	shutdown    func() error
	topic       string
	sendTimeout time.Duration
}

// NewRocketMQPublisher starts a producer against cfg.NameServers.
func NewRocketMQPublisher(cfg Config) (*RocketMQPublisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("turnlog: no name servers configured")
	}
	opts := []producer.Option{
		producer.WithNsResolver(primitive.NewPassthroughResolver(resolveNameServers(cfg.NameServers))),
		producer.WithRetry(cfg.MaxRetries),
	}
	if cfg.GroupName != "" {
		opts = append(opts, producer.WithGroupName(cfg.GroupName))
	}
	p, err := rocketmq.NewProducer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}
	pub := newPublisher(p, cfg)
	pub.shutdown = p.Shutdown
	slog.Info("turn publisher started", "topic", pub.topic, "name_servers", len(cfg.NameServers))
	return pub, nil
}

func newPublisher(s sender, cfg Config) *RocketMQPublisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RocketMQPublisher{producer: s, topic: topic, sendTimeout: timeout}
}

// PublishTurn sends record synchronously.
func (p *RocketMQPublisher) PublishTurn(ctx context.Context, record datatypes.TurnRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode turn record: %w", err)
	}
	msg := primitive.NewMessage(p.topic, body)
	msg.WithTag(tagFor(record.Status))
	msg.WithKeys([]string{record.ConversationID})
	msg.WithProperty("user_id", record.UserID)

	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	res, err := p.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send turn record: %w", err)
	}
	if res != nil && res.Status != primitive.SendOK {
		return fmt.Errorf("send turn record: broker status %d", res.Status)
	}
	return nil
}

// Close shuts the producer down.
func (p *RocketMQPublisher) Close() error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown()
}

func tagFor(status datatypes.TurnStatus) string {
	switch status {
	case datatypes.TurnCompleted:
		return TagCompleted
	case datatypes.TurnAwaitingConfirmation:
		return TagAwaiting
	case datatypes.TurnCancelled:
		return TagCancelled
	default:
		return TagFailed
	}
}

// resolveNameServers turns host:port pairs into ip:port, which the client
// requires. Unresolvable entries are kept as given.
func resolveNameServers(servers []string) []string {
	resolved := make([]string, 0, len(servers))
	for _, addr := range servers {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			resolved = append(resolved, addr)
			continue
		}
		ips, err := net.LookupHost(host)
		if err != nil || len(ips) == 0 {
			slog.Warn("could not resolve rocketmq name server", "addr", addr, "error", err)
			resolved = append(resolved, addr)
			continue
		}
		resolved = append(resolved, net.JoinHostPort(ips[0], port))
	}
	return resolved
}

// LogPublisher writes turn records to the structured log. It is used when
// no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) PublishTurn(ctx context.Context, record datatypes.TurnRecord) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "turn finished",
		"conversation_id", record.ConversationID,
		"status", record.Status,
		"model", record.Model,
		"input_tokens", record.InputTokens,
		"output_tokens", record.OutputTokens,
		"tool_calls", record.ToolCalls,
		"error_code", record.ErrorCode,
		"latency_s", record.Latency)
	return nil
}
