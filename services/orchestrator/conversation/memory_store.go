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
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MemoryStore implements Store and UsageStore in process memory. It is the
// lightweight-mode backend and the default in tests.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]datatypes.Conversation
	messages      map[string][]datatypes.Message
	usage         map[usageKey]datatypes.UsageRecord
}

type usageKey struct {
	userID, spaceID, day string
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ UsageStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]datatypes.Conversation),
		messages:      make(map[string][]datatypes.Message),
		usage:         make(map[usageKey]datatypes.UsageRecord),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, userID, spaceID, title string) (datatypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := datatypes.Conversation{ID: uuid.NewString(), UserID: userID, SpaceID: spaceID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (datatypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return datatypes.Conversation{}, ErrConversationNotFound
	}
	return c, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, msg datatypes.Message) (datatypes.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return datatypes.Message{}, ErrConversationNotFound
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = msg.CreatedAt
	s.conversations[c.ID] = c
	s.messages[c.ID] = append(s.messages[c.ID], msg)
	return msg, nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]datatypes.Message(nil), all...), nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, delta datatypes.UsageDelta) error {
	at := delta.At
	if at.IsZero() {
		at = time.Now()
	}
	key := usageKey{delta.UserID, delta.SpaceID, datatypes.UsageDay(at)}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.usage[key]
	rec.UserID, rec.SpaceID, rec.Day = key.userID, key.spaceID, key.day
	rec.InputTokens += delta.InputTokens
	rec.OutputTokens += delta.OutputTokens
	rec.Conversations += delta.Conversations
	rec.Messages += delta.Messages
	rec.ToolCalls += delta.ToolCalls
	rec.VoiceSeconds += delta.VoiceSeconds
	if delta.Source != "" {
		rec.Source = delta.Source
	}
	s.usage[key] = rec
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, userID, spaceID, day string) (datatypes.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.usage[usageKey{userID, spaceID, day}]
	if !ok {
		return datatypes.UsageRecord{UserID: userID, SpaceID: spaceID, Day: day}, nil
	}
	return rec, nil
}
