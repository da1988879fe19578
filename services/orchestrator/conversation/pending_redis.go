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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/go-redis/redis/v8"
)

// RedisPendingStore shares the pending ledger across replicas.
type RedisPendingStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

var _ PendingStore = (*RedisPendingStore)(nil)

func NewRedisPendingStore(rdb *redis.Client, ttl time.Duration) *RedisPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &RedisPendingStore{rdb: rdb, ttl: ttl, prefix: "hearth:pending"}
}

func (s *RedisPendingStore) key(conversationID, toolCallID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, conversationID, toolCallID)
}

func (s *RedisPendingStore) Put(ctx context.Context, action PendingAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	action.Status = PendingAwaiting
	raw, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode pending action: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(action.ConversationID, action.ToolCall.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store pending action: %w", err)
	}
	return nil
}

// Claim races on a companion claim key with SETNX; exactly one caller
// creates it.
func (s *RedisPendingStore) Claim(ctx context.Context, conversationID, toolCallID string) (PendingAction, error) {
	key := s.key(conversationID, toolCallID)
	won, err := s.rdb.SetNX(ctx, key+":claim", "1", s.ttl).Result()
	if err != nil {
		return PendingAction{}, fmt.Errorf("claim pending action: %w", err)
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		if won {
			s.rdb.Del(ctx, key+":claim")
		}
		return PendingAction{}, ErrPendingActionNotFound
	}
	if err != nil {
		return PendingAction{}, fmt.Errorf("load pending action: %w", err)
	}
	var action PendingAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return PendingAction{}, fmt.Errorf("decode pending action: %w", err)
	}
	if !won {
		if action.Status == PendingAwaiting {
			action.Status = PendingClaimed
		}
		return action, ErrAlreadyResolved
	}
	action.Status = PendingClaimed
	return action, nil
}

func (s *RedisPendingStore) Resolve(ctx context.Context, conversationID, toolCallID string, result datatypes.ToolResult) error {
	key := s.key(conversationID, toolCallID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrPendingActionNotFound
	}
	if err != nil {
		return fmt.Errorf("load pending action: %w", err)
	}
	var action PendingAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return fmt.Errorf("decode pending action: %w", err)
	}
	action.Status = PendingResolved
	action.Result = &result
	updated, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode pending action: %w", err)
	}
	if err := s.rdb.Set(ctx, key, updated, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("store pending action: %w", err)
	}
	return nil
}
