// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Conversation is a persistent thread owned by the user who created it.
// Only UpdatedAt changes after creation.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	SpaceID   string    `json:"spaceId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is an append-only entry in a conversation.
//
// Token counts are estimates when the backend reports no usage. LatencyMs
// and Model are set on assistant messages only.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults    []ToolResult `json:"toolResults,omitempty"`
	InputTokens    int64        `json:"inputTokens"`
	OutputTokens   int64        `json:"outputTokens"`
	LatencyMs      int64        `json:"latencyMs,omitempty"`
	Model          string       `json:"model,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// ToolCall is a request from the model to run a named tool.
type ToolCall struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
}

// ToolResult is the outcome of one ToolCall; ID equals the call's ID.
type ToolResult struct {
	ID       string `json:"id"`
	ToolName string `json:"toolName"`
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Message  string `json:"message"`
}

// =============================================================================
// Usage and Budget
// =============================================================================

// Tier is a subscription level.
type Tier string

const (
	TierFree   Tier = "free"
	TierPlus   Tier = "plus"
	TierFamily Tier = "family"
)

// Usage sources name the feature that consumed assistant capacity.
const (
	SourceChatSSE       = "chat_sse"
	SourceChatWebSocket = "chat_websocket"
)

// UsageRecord is the per-(user, space, UTC day) usage tally. Source is the
// feature of the most recent increment that named one.
type UsageRecord struct {
	UserID        string `json:"userId"`
	SpaceID       string `json:"spaceId"`
	Day           string `json:"day"`
	InputTokens   int64  `json:"inputTokens"`
	OutputTokens  int64  `json:"outputTokens"`
	Conversations int64  `json:"conversations"`
	Messages      int64  `json:"messages"`
	ToolCalls     int64  `json:"toolCalls"`
	VoiceSeconds  int64  `json:"voiceSeconds"`
	Source        string `json:"source,omitempty"`
}

// TotalTokens is input plus output tokens.
func (u UsageRecord) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// UsageDelta is an increment applied to a UsageRecord. Counters are
// additive; At selects the UTC day. A non-empty Source replaces the
// record's Source.
type UsageDelta struct {
	UserID        string
	SpaceID       string
	At            time.Time
	InputTokens   int64
	OutputTokens  int64
	Conversations int64
	Messages      int64
	ToolCalls     int64
	VoiceSeconds  int64
	Source        string
}

// BudgetDecision is the outcome of a daily budget check.
type BudgetDecision struct {
	Allowed    bool      `json:"allowed"`
	Tier       Tier      `json:"tier"`
	Reason     string    `json:"reason,omitempty"`
	ResetAt    time.Time `json:"reset_at"`
	TokensUsed int64     `json:"tokens_used"`
	TokenLimit int64     `json:"token_limit"`
}

// UsageDay returns the UTC calendar day of t as YYYY-MM-DD.
func UsageDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// NextUTCMidnight returns the start of the UTC day after t.
func NextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
