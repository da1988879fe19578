// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat runs a single conversational turn: it resolves the
// conversation, streams the model's answer, runs or halts on tool calls,
// and persists the outcome after the stream has ended.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/AleutianAI/hearth/services/orchestrator/spacecontext"
	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("hearth.chat")

// TurnPublisher receives a summary of every persisted turn.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, record datatypes.TurnRecord) error
}

// Config tunes the orchestrator.
type Config struct {
	// MaxToolCalls caps tool calls per turn, including a confirmed one.
	MaxToolCalls int `mapstructure:"max_tool_calls"`
	// TurnTimeout bounds generation and tool work for one turn.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// HistoryLimit is the number of earlier messages sent to the model.
	HistoryLimit   int           `mapstructure:"history_limit"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
}

func DefaultConfig() Config {
	return Config{
		MaxToolCalls:   5,
		TurnTimeout:    2 * time.Minute,
		HistoryLimit:   20,
		PersistTimeout: 30 * time.Second,
		Temperature:    0.4,
		MaxTokens:      1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = d.MaxToolCalls
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Dependencies are the orchestrator's collaborators. Publisher, Redactor
// and Metrics are optional.
type Dependencies struct {
	Model         llm.ChatModel
	Tools         *tools.Registry
	Conversations conversation.Store
	Usage         conversation.UsageStore
	Pending       conversation.PendingStore
	Publisher     TurnPublisher
	Redactor      spacecontext.TextRedactor
	Metrics       *observability.ChatMetrics
}

// Orchestrator turns chat requests into event streams. It holds no
// per-turn state and is safe for concurrent use.
type Orchestrator struct {
	deps       Dependencies
	cfg        Config
	now        func() time.Time
	persisting sync.WaitGroup
}

func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Model == nil:
		return nil, errors.New("chat: model is required")
	case deps.Tools == nil:
		return nil, errors.New("chat: tool registry is required")
	case deps.Conversations == nil || deps.Usage == nil:
		return nil, errors.New("chat: conversation and usage stores are required")
	case deps.Pending == nil:
		return nil, errors.New("chat: pending action store is required")
	}
	return &Orchestrator{deps: deps, cfg: cfg.withDefaults(), now: time.Now}, nil
}

// TurnInput is one inbound chat request after the pre-stream gates.
type TurnInput struct {
	UserID   string
	SpaceID  string
	UserName string
	// ConversationID is an existing id or datatypes.NewConversationID.
	ConversationID string
	// Message is the sanitized user text. Empty on a confirmation resume.
	Message string
	// Advisory is streamed ahead of the answer and never persisted.
	Advisory string
	// SpaceContext is the raw snapshot; the orchestrator redacts it.
	SpaceContext  datatypes.SpaceContext
	ConfirmAction *datatypes.ConfirmAction
	// VoiceSeconds is the length of dictated input, added to usage.
	VoiceSeconds int64
	// Source tags the usage record, e.g. datatypes.SourceChatSSE.
	Source string
}

// Outcome summarizes how a turn ended.
type Outcome struct {
	ConversationID string
	Status         datatypes.TurnStatus
	ErrorCode      observability.ErrorCode
	InputTokens    int64
	OutputTokens   int64
	ToolCalls      int
}

// Turn is the lazy, finite event sequence of one ProcessMessage call.
// It is not restartable.
type Turn struct {
	events   chan datatypes.StreamEvent
	finished chan struct{}
	outcome  Outcome
}

// Events yields the turn's records in order. The channel is closed after
// the terminal done record, or early if the request context is cancelled.
func (t *Turn) Events() <-chan datatypes.StreamEvent {
	return t.events
}

// Outcome blocks until the turn has stopped emitting and returns its
// summary. Persistence may still be running.
func (t *Turn) Outcome() Outcome {
	<-t.finished
	return t.outcome
}

// ProcessMessage starts a turn and returns immediately.
//
// # Description
//
// The turn runs on its own goroutine and hands records to the consumer one
// at a time through Turn.Events. The first record is always
// conversation_id; every path that is not cut short by cancellation ends
// with done. When ctx is cancelled no further records are produced, the
// model is no longer consulted and no new tool is started, but the partial
// turn is still persisted.
//
// # Inputs
//
//   - ctx: The request context. Its cancellation means the client is gone.
//   - in: The validated, sanitized request.
//
// # Outputs
//
//   - *Turn: Consume Events until closed, or cancel ctx.
func (o *Orchestrator) ProcessMessage(ctx context.Context, in TurnInput) *Turn {
	turn := &Turn{
		events:   make(chan datatypes.StreamEvent),
		finished: make(chan struct{}),
	}
	go o.run(ctx, in, turn)
	return turn
}

// WaitForPersistence blocks until every detached persistence task has
// finished or ctx is done.
func (o *Orchestrator) WaitForPersistence(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.persisting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModelName reports the backing model.
func (o *Orchestrator) ModelName() string {
	return o.deps.Model.ModelName()
}

// ListTools exposes the registry's public tool list.
func (o *Orchestrator) ListTools() []tools.Info {
	return o.deps.Tools.ListTools()
}
