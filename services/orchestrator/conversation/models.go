// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

type ConversationModel struct {
	ID        string    `gorm:"primaryKey;size:36;column:id"`
	UserID    string    `gorm:"index:idx_conversations_user;size:36;not null;column:user_id"`
	SpaceID   string    `gorm:"index:idx_conversations_space;size:36;not null;column:space_id"`
	Title     string    `gorm:"size:200;column:title"`
	CreatedAt time.Time `gorm:"autoCreateTime;not null;column:created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;not null;column:updated_at"`
}

func (ConversationModel) TableName() string { return "conversations" }

func (m *ConversationModel) ToDomain() datatypes.Conversation {
	return datatypes.Conversation{
		ID:        m.ID,
		UserID:    m.UserID,
		SpaceID:   m.SpaceID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type MessageModel struct {
	ID             string                 `gorm:"primaryKey;size:26;column:id"`
	ConversationID string                 `gorm:"index:idx_messages_conversation,priority:1;size:36;not null;column:conversation_id"`
	Role           string                 `gorm:"size:20;not null;column:role"`
	Content        string                 `gorm:"type:text;not null;column:content"`
	ToolCalls      []datatypes.ToolCall   `gorm:"serializer:json;column:tool_calls"`
	ToolResults    []datatypes.ToolResult `gorm:"serializer:json;column:tool_results"`
	InputTokens    int64                  `gorm:"not null;default:0;column:input_tokens"`
	OutputTokens   int64                  `gorm:"not null;default:0;column:output_tokens"`
	LatencyMs      int64                  `gorm:"not null;default:0;column:latency_ms"`
	Model          string                 `gorm:"size:100;column:model"`
	CreatedAt      time.Time              `gorm:"index:idx_messages_conversation,priority:2;not null;column:created_at"`
}

func (MessageModel) TableName() string { return "messages" }

func (m *MessageModel) ToDomain() datatypes.Message {
	return datatypes.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           datatypes.Role(m.Role),
		Content:        m.Content,
		ToolCalls:      m.ToolCalls,
		ToolResults:    m.ToolResults,
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		LatencyMs:      m.LatencyMs,
		Model:          m.Model,
		CreatedAt:      m.CreatedAt,
	}
}

func ToMessageModel(d datatypes.Message) *MessageModel {
	return &MessageModel{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Role:           string(d.Role),
		Content:        d.Content,
		ToolCalls:      d.ToolCalls,
		ToolResults:    d.ToolResults,
		InputTokens:    d.InputTokens,
		OutputTokens:   d.OutputTokens,
		LatencyMs:      d.LatencyMs,
		Model:          d.Model,
		CreatedAt:      d.CreatedAt,
	}
}

// UsageRecordModel has a composite primary key so the additive upsert can
// target it as the conflict key.
type UsageRecordModel struct {
	UserID        string    `gorm:"primaryKey;size:36;column:user_id"`
	SpaceID       string    `gorm:"primaryKey;size:36;column:space_id"`
	Day           string    `gorm:"primaryKey;size:10;column:day"`
	InputTokens   int64     `gorm:"not null;default:0;column:input_tokens"`
	OutputTokens  int64     `gorm:"not null;default:0;column:output_tokens"`
	Conversations int64     `gorm:"not null;default:0;column:conversations"`
	Messages      int64     `gorm:"not null;default:0;column:messages"`
	ToolCalls     int64     `gorm:"not null;default:0;column:tool_calls"`
	VoiceSeconds  int64     `gorm:"not null;default:0;column:voice_seconds"`
	Source        string    `gorm:"size:32;not null;default:'';column:source"`
	UpdatedAt     time.Time `gorm:"not null;column:updated_at"`
}

func (UsageRecordModel) TableName() string { return "usage_records" }

func (m *UsageRecordModel) ToDomain() datatypes.UsageRecord {
	return datatypes.UsageRecord{
		UserID:        m.UserID,
		SpaceID:       m.SpaceID,
		Day:           m.Day,
		InputTokens:   m.InputTokens,
		OutputTokens:  m.OutputTokens,
		Conversations: m.Conversations,
		Messages:      m.Messages,
		ToolCalls:     m.ToolCalls,
		VoiceSeconds:  m.VoiceSeconds,
		Source:        m.Source,
	}
}

// Models lists every table owned by this package, for AutoMigrate.
func Models() []any {
	return []any{&ConversationModel{}, &MessageModel{}, &UsageRecordModel{}}
}
