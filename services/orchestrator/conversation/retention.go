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
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// PruneConversations deletes up to limit conversations, with their
// messages, whose last activity is before cutoff. It returns the number of
// conversations removed.
func (s *GormStore) PruneConversations(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&ConversationModel{}).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to find stale conversations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id IN ?", ids).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&ConversationModel{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	return int(removed), nil
}

// PruneConversations is the in-memory counterpart of
// GormStore.PruneConversations. Oldest activity goes first.
func (s *MemoryStore) PruneConversations(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for id, c := range s.conversations {
		if c.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return s.conversations[stale[i]].UpdatedAt.Before(s.conversations[stale[j]].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, id := range stale {
		delete(s.conversations, id)
		delete(s.messages, id)
	}
	return len(stale), nil
}

// SweepExpired drops pending actions older than the store's TTL. Redis and
// Badger expire keys themselves; only the in-memory store needs sweeping.
func (s *MemoryPendingStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, action := range s.actions {
		if now.Sub(action.CreatedAt) > s.ttl {
			delete(s.actions, key)
			removed++
		}
	}
	return removed, nil
}
