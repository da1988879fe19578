// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts hosted language models to a single streaming,
// tool-calling contract.
package llm

import (
	"context"
	"encoding/json"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32   `json:"temperature"`
	MaxTokens   *int       `json:"max_tokens"`
	Tools       []ToolSpec `json:"tools,omitempty"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters"`
}

// ToolParam is one flat parameter of a tool. Type is one of "string",
// "integer", "boolean" or "array" (of strings).
type ToolParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// =============================================================================
// Streaming
// =============================================================================

type StreamEventType string

const (
	// StreamEventToken carries a chunk of assistant text in Content.
	StreamEventToken StreamEventType = "token"
	// StreamEventToolCall carries one complete tool call in ToolCall.
	StreamEventToolCall StreamEventType = "tool_call"
	// StreamEventDone is the final event of a successful pass. Usage is set.
	StreamEventDone StreamEventType = "done"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type StreamEvent struct {
	Type     StreamEventType
	Content  string
	ToolCall *datatypes.ToolCall
	Usage    *Usage
}

// StreamCallback receives events in order. Returning an error stops the
// stream and ChatStream returns that error (possibly wrapped).
type StreamCallback func(event StreamEvent) error

// ChatModel is the model capability the orchestrator depends on.
//
// # Description
//
// One ChatStream call is one generation pass. Text chunks arrive as token
// events, tool calls arrive complete (arguments fully assembled) after the
// text of the pass, and a done event closes a successful pass. A pass that
// produced tool calls expects the caller to append the results and call
// ChatStream again.
//
// Messages use datatypes.Message. An assistant message's ToolCalls are
// sent to the model only when a matching ToolResult is present on the same
// message; unanswered calls are dropped because providers reject them.
type ChatModel interface {
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams,
		callback StreamCallback) error
	ModelName() string
}

// EstimateTokens is a rough token count used when a provider does not
// report usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateMessagesTokens sums EstimateTokens over message content.
func EstimateMessagesTokens(messages []datatypes.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
		for _, r := range m.ToolResults {
			total += EstimateTokens(r.Message)
		}
	}
	return total
}

// answeredToolCalls returns the calls on msg that have a result, paired
// with that result, in call order.
func answeredToolCalls(msg datatypes.Message) ([]datatypes.ToolCall, []datatypes.ToolResult) {
	if len(msg.ToolCalls) == 0 || len(msg.ToolResults) == 0 {
		return nil, nil
	}
	byID := make(map[string]datatypes.ToolResult, len(msg.ToolResults))
	for _, r := range msg.ToolResults {
		byID[r.ID] = r
	}
	var calls []datatypes.ToolCall
	var results []datatypes.ToolResult
	for _, c := range msg.ToolCalls {
		if r, ok := byID[c.ID]; ok {
			calls = append(calls, c)
			results = append(results, r)
		}
	}
	return calls, results
}

// toolResultPayload is the JSON the model sees for a tool result.
func toolResultPayload(r datatypes.ToolResult) map[string]any {
	payload := map[string]any{
		"success": r.Success,
		"message": r.Message,
	}
	if r.Data != nil {
		payload["data"] = r.Data
	}
	return payload
}

func toolResultJSON(r datatypes.ToolResult) string {
	b, err := json.Marshal(toolResultPayload(r))
	if err != nil {
		return `{"success":false,"message":"result could not be encoded"}`
	}
	return string(b)
}
