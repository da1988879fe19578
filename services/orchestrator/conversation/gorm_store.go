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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store and UsageStore on the relational database.
type GormStore struct {
	db *gorm.DB
}

var (
	_ Store      = (*GormStore)(nil)
	_ UsageStore = (*GormStore)(nil)
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateConversation(ctx context.Context, userID, spaceID, title string) (datatypes.Conversation, error) {
	m := ConversationModel{ID: uuid.NewString(), UserID: userID, SpaceID: spaceID, Title: title}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return datatypes.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return m.ToDomain(), nil
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (datatypes.Conversation, error) {
	var m ConversationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return datatypes.Conversation{}, ErrConversationNotFound
		}
		return datatypes.Conversation{}, fmt.Errorf("failed to find conversation: %w", err)
	}
	return m.ToDomain(), nil
}

func (s *GormStore) AddMessage(ctx context.Context, msg datatypes.Message) (datatypes.Message, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return tx.Create(ToMessageModel(msg)).Error
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return datatypes.Message{}, err
		}
		return datatypes.Message{}, fmt.Errorf("failed to add message: %w", err)
	}
	return msg, nil
}

func (s *GormStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	messages := make([]datatypes.Message, len(models))
	for i := range models {
		messages[len(models)-1-i] = models[i].ToDomain()
	}
	return messages, nil
}

// RecordUsage performs a single additive upsert.
func (s *GormStore) RecordUsage(ctx context.Context, delta datatypes.UsageDelta) error {
	at := delta.At
	if at.IsZero() {
		at = time.Now()
	}
	rec := UsageRecordModel{
		UserID:        delta.UserID,
		SpaceID:       delta.SpaceID,
		Day:           datatypes.UsageDay(at),
		InputTokens:   delta.InputTokens,
		OutputTokens:  delta.OutputTokens,
		Conversations: delta.Conversations,
		Messages:      delta.Messages,
		ToolCalls:     delta.ToolCalls,
		VoiceSeconds:  delta.VoiceSeconds,
		Source:        delta.Source,
		UpdatedAt:     time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "space_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"input_tokens":  gorm.Expr("usage_records.input_tokens + excluded.input_tokens"),
			"output_tokens": gorm.Expr("usage_records.output_tokens + excluded.output_tokens"),
			"conversations": gorm.Expr("usage_records.conversations + excluded.conversations"),
			"messages":      gorm.Expr("usage_records.messages + excluded.messages"),
			"tool_calls":    gorm.Expr("usage_records.tool_calls + excluded.tool_calls"),
			"voice_seconds": gorm.Expr("usage_records.voice_seconds + excluded.voice_seconds"),
			"source":        gorm.Expr("CASE WHEN excluded.source <> '' THEN excluded.source ELSE usage_records.source END"),
			"updated_at":    gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (s *GormStore) GetUsage(ctx context.Context, userID, spaceID, day string) (datatypes.UsageRecord, error) {
	var m UsageRecordModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND space_id = ? AND day = ?", userID, spaceID, day).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return datatypes.UsageRecord{UserID: userID, SpaceID: spaceID, Day: day}, nil
	}
	if err != nil {
		return datatypes.UsageRecord{}, fmt.Errorf("failed to get usage: %w", err)
	}
	return m.ToDomain(), nil
}
