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
	"sync"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

// DefaultPendingTTL is how long a halted tool call waits for confirmation.
const DefaultPendingTTL = 24 * time.Hour

type PendingStatus string

const (
	PendingAwaiting PendingStatus = "awaiting"
	PendingClaimed  PendingStatus = "claimed"
	PendingResolved PendingStatus = "resolved"
)

// PendingAction is a confirmation-required tool call that halted a turn.
type PendingAction struct {
	ConversationID string                `json:"conversation_id"`
	UserID         string                `json:"user_id"`
	SpaceID        string                `json:"space_id"`
	ToolCall       datatypes.ToolCall    `json:"tool_call"`
	// UserMessage and AssistantText record what led to the halt.
	UserMessage    string                `json:"user_message,omitempty"`
	AssistantText  string                `json:"assistant_text,omitempty"`
	Status         PendingStatus         `json:"status"`
	Result         *datatypes.ToolResult `json:"result,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// PendingStore is the ledger that makes confirmation idempotent.
//
// # Description
//
// Put records a halted call. Claim atomically moves it from awaiting to
// claimed; exactly one caller wins. Every later Claim for the same call
// returns ErrAlreadyResolved together with the stored action so the caller
// can replay its result without executing again. Resolve stores the result.
type PendingStore interface {
	Put(ctx context.Context, action PendingAction) error
	Claim(ctx context.Context, conversationID, toolCallID string) (PendingAction, error)
	Resolve(ctx context.Context, conversationID, toolCallID string, result datatypes.ToolResult) error
}

// MemoryPendingStore is a PendingStore for a single process.
type MemoryPendingStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	actions map[string]PendingAction
	now     func() time.Time
}

var _ PendingStore = (*MemoryPendingStore)(nil)

func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &MemoryPendingStore{ttl: ttl, actions: make(map[string]PendingAction), now: time.Now}
}

func pendingKey(conversationID, toolCallID string) string {
	return conversationID + "/" + toolCallID
}

func (s *MemoryPendingStore) Put(_ context.Context, action PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = s.now().UTC()
	}
	action.Status = PendingAwaiting
	s.actions[pendingKey(action.ConversationID, action.ToolCall.ID)] = action
	return nil
}

func (s *MemoryPendingStore) Claim(_ context.Context, conversationID, toolCallID string) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(conversationID, toolCallID)
	action, ok := s.actions[key]
	if !ok || s.now().Sub(action.CreatedAt) > s.ttl {
		delete(s.actions, key)
		return PendingAction{}, ErrPendingActionNotFound
	}
	if action.Status != PendingAwaiting {
		return action, ErrAlreadyResolved
	}
	action.Status = PendingClaimed
	s.actions[key] = action
	return action, nil
}

func (s *MemoryPendingStore) Resolve(_ context.Context, conversationID, toolCallID string, result datatypes.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(conversationID, toolCallID)
	action, ok := s.actions[key]
	if !ok {
		return ErrPendingActionNotFound
	}
	action.Status = PendingResolved
	action.Result = &result
	s.actions[key] = action
	return nil
}
