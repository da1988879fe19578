// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package household

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStore is the relational Store backed by the household schema.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Space(ctx context.Context, spaceID string) (Space, error) {
	var m SpaceModel
	if err := s.db.WithContext(ctx).Where("id = ?", spaceID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Space{}, ErrNotFound
		}
		return Space{}, fmt.Errorf("failed to load space: %w", err)
	}
	return Space{ID: m.ID, Name: m.Name, Timezone: m.Timezone, Tier: datatypes.Tier(m.Tier)}, nil
}

func (s *GormStore) IsMember(ctx context.Context, spaceID, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MemberModel{}).
		Where("space_id = ? AND user_id = ?", spaceID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) Members(ctx context.Context, spaceID string) ([]datatypes.Member, error) {
	var models []MemberModel
	if err := s.db.WithContext(ctx).Where("space_id = ?", spaceID).
		Order("joined_at asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	members := make([]datatypes.Member, len(models))
	for i := range models {
		members[i] = models[i].ToDomain()
	}
	return members, nil
}

func (s *GormStore) memberNames(ctx context.Context, spaceID string) (map[string]string, error) {
	var models []MemberModel
	if err := s.db.WithContext(ctx).Select("user_id", "display_name").
		Where("space_id = ?", spaceID).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get member names: %w", err)
	}
	names := make(map[string]string, len(models))
	for _, m := range models {
		names[m.UserID] = m.DisplayName
	}
	return names, nil
}

func (s *GormStore) OpenTasks(ctx context.Context, spaceID string, limit int) ([]datatypes.Task, error) {
	var models []TaskModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ? AND completed_at IS NULL", spaceID).
		Order("due_at IS NULL, due_at asc, created_at asc").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	names, err := s.memberNames(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	tasks := make([]datatypes.Task, len(models))
	for i := range models {
		tasks[i] = models[i].ToDomain(names)
	}
	return tasks, nil
}

func (s *GormStore) Chores(ctx context.Context, spaceID string, limit int) ([]datatypes.Chore, error) {
	var models []ChoreModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ?", spaceID).
		Order("next_due_at IS NULL, next_due_at asc").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get chores: %w", err)
	}
	names, err := s.memberNames(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	chores := make([]datatypes.Chore, len(models))
	for i := range models {
		chores[i] = models[i].ToDomain(names)
	}
	return chores, nil
}

func (s *GormStore) ShoppingLists(ctx context.Context, spaceID string, previewItems int) ([]datatypes.ShoppingList, error) {
	var lists []ShoppingListModel
	if err := s.db.WithContext(ctx).Where("space_id = ?", spaceID).
		Order("name asc").Find(&lists).Error; err != nil {
		return nil, fmt.Errorf("failed to get shopping lists: %w", err)
	}
	if len(lists) == 0 {
		return nil, nil
	}
	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = l.ID
	}
	var items []ShoppingItemModel
	if err := s.db.WithContext(ctx).
		Where("list_id IN ? AND checked = ?", ids, false).
		Order("created_at asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to get shopping items: %w", err)
	}
	byList := make(map[string][]ShoppingItemModel, len(lists))
	for _, it := range items {
		byList[it.ListID] = append(byList[it.ListID], it)
	}

	var out []datatypes.ShoppingList
	for _, l := range lists {
		open := byList[l.ID]
		if len(open) == 0 {
			continue
		}
		out = append(out, summarizeList(l, open, previewItems))
	}
	return out, nil
}

func summarizeList(l ShoppingListModel, open []ShoppingItemModel, previewItems int) datatypes.ShoppingList {
	summary := datatypes.ShoppingList{ID: l.ID, Name: l.Name, ItemCount: len(open)}
	for i, it := range open {
		if i >= previewItems {
			break
		}
		summary.Items = append(summary.Items, it.Name)
	}
	return summary
}

func (s *GormStore) EventsBetween(ctx context.Context, spaceID string, from, to time.Time) ([]datatypes.CalendarEvent, error) {
	var models []EventModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ? AND starts_at >= ? AND starts_at < ?", spaceID, from.UTC(), to.UTC()).
		Order("starts_at asc").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	events := make([]datatypes.CalendarEvent, len(models))
	for i := range models {
		events[i] = models[i].ToDomain()
	}
	return events, nil
}

// =============================================================================
// Writer
// =============================================================================

func (s *GormStore) CreateTask(ctx context.Context, spaceID, createdBy string, task datatypes.Task) (datatypes.Task, error) {
	m := TaskModel{
		ID:         uuid.NewString(),
		SpaceID:    spaceID,
		Title:      task.Title,
		AssigneeID: task.AssigneeID,
		DueAt:      task.DueAt,
		Priority:   task.Priority,
		CreatedBy:  createdBy,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return datatypes.Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	out := m.ToDomain(nil)
	out.AssigneeName = task.AssigneeName
	return out, nil
}

func (s *GormStore) CompleteTask(ctx context.Context, spaceID, taskID string) (datatypes.Task, error) {
	var m TaskModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND space_id = ?", taskID, spaceID).First(&m).Error; err != nil {
			return err
		}
		if m.CompletedAt != nil {
			return nil
		}
		now := time.Now().UTC()
		m.CompletedAt = &now
		return tx.Model(&m).Update("completed_at", now).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return datatypes.Task{}, ErrNotFound
		}
		return datatypes.Task{}, fmt.Errorf("failed to complete task: %w", err)
	}
	return m.ToDomain(nil), nil
}

func (s *GormStore) AddShoppingItem(ctx context.Context, spaceID, listName, item string, quantity int) (datatypes.ShoppingList, error) {
	if quantity <= 0 {
		quantity = 1
	}
	var list ShoppingListModel
	var open []ShoppingItemModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(ShoppingListModel{SpaceID: spaceID, Name: listName}).
			Attrs(ShoppingListModel{ID: uuid.NewString()}).
			FirstOrCreate(&list).Error; err != nil {
			return err
		}
		if err := tx.Create(&ShoppingItemModel{
			ID:       uuid.NewString(),
			ListID:   list.ID,
			Name:     item,
			Quantity: quantity,
		}).Error; err != nil {
			return err
		}
		return tx.Where("list_id = ? AND checked = ?", list.ID, false).
			Order("created_at asc").Find(&open).Error
	})
	if err != nil {
		return datatypes.ShoppingList{}, fmt.Errorf("failed to add shopping item: %w", err)
	}
	return summarizeList(list, open, len(open)), nil
}

func (s *GormStore) CreateEvent(ctx context.Context, spaceID, createdBy string, event datatypes.CalendarEvent) (datatypes.CalendarEvent, error) {
	m := EventModel{
		ID:        uuid.NewString(),
		SpaceID:   spaceID,
		Title:     event.Title,
		StartsAt:  event.StartsAt.UTC(),
		EndsAt:    event.EndsAt.UTC(),
		Location:  event.Location,
		CreatedBy: createdBy,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return datatypes.CalendarEvent{}, fmt.Errorf("failed to create event: %w", err)
	}
	return m.ToDomain(), nil
}
