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
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

type SpaceModel struct {
	ID        string    `gorm:"primaryKey;size:36;column:id"`
	Name      string    `gorm:"size:120;not null;column:name"`
	Timezone  string    `gorm:"size:64;not null;default:UTC;column:timezone"`
	Tier      string    `gorm:"size:20;not null;default:free;column:tier"`
	CreatedAt time.Time `gorm:"autoCreateTime;column:created_at"`
}

func (SpaceModel) TableName() string { return "spaces" }

type MemberModel struct {
	SpaceID     string    `gorm:"primaryKey;size:36;column:space_id"`
	UserID      string    `gorm:"primaryKey;size:36;column:user_id"`
	DisplayName string    `gorm:"size:120;not null;column:display_name"`
	Role        string    `gorm:"size:20;not null;default:member;column:role"`
	Email       string    `gorm:"size:255;column:email"`
	Phone       string    `gorm:"size:40;column:phone"`
	JoinedAt    time.Time `gorm:"autoCreateTime;column:joined_at"`
}

func (MemberModel) TableName() string { return "space_members" }

func (m *MemberModel) ToDomain() datatypes.Member {
	return datatypes.Member{ID: m.UserID, DisplayName: m.DisplayName, Role: m.Role, Email: m.Email, Phone: m.Phone}
}

type TaskModel struct {
	ID          string     `gorm:"primaryKey;size:36;column:id"`
	SpaceID     string     `gorm:"index:idx_tasks_space;size:36;not null;column:space_id"`
	Title       string     `gorm:"size:200;not null;column:title"`
	AssigneeID  string     `gorm:"size:36;column:assignee_id"`
	DueAt       *time.Time `gorm:"column:due_at"`
	Priority    string     `gorm:"size:20;column:priority"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedBy   string     `gorm:"size:36;column:created_by"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;column:created_at"`
}

func (TaskModel) TableName() string { return "tasks" }

func (m *TaskModel) ToDomain(names map[string]string) datatypes.Task {
	return datatypes.Task{
		ID:           m.ID,
		Title:        m.Title,
		AssigneeID:   m.AssigneeID,
		AssigneeName: names[m.AssigneeID],
		DueAt:        m.DueAt,
		Priority:     m.Priority,
		Completed:    m.CompletedAt != nil,
	}
}

type ChoreModel struct {
	ID         string     `gorm:"primaryKey;size:36;column:id"`
	SpaceID    string     `gorm:"index:idx_chores_space;size:36;not null;column:space_id"`
	Name       string     `gorm:"size:200;not null;column:name"`
	AssigneeID string     `gorm:"size:36;column:assignee_id"`
	Frequency  string     `gorm:"size:20;column:frequency"`
	NextDueAt  *time.Time `gorm:"column:next_due_at"`
}

func (ChoreModel) TableName() string { return "chores" }

func (m *ChoreModel) ToDomain(names map[string]string) datatypes.Chore {
	return datatypes.Chore{
		ID:           m.ID,
		Name:         m.Name,
		AssigneeID:   m.AssigneeID,
		AssigneeName: names[m.AssigneeID],
		Frequency:    m.Frequency,
		NextDueAt:    m.NextDueAt,
	}
}

type ShoppingListModel struct {
	ID        string    `gorm:"primaryKey;size:36;column:id"`
	SpaceID   string    `gorm:"uniqueIndex:idx_lists_space_name;size:36;not null;column:space_id"`
	Name      string    `gorm:"uniqueIndex:idx_lists_space_name;size:120;not null;column:name"`
	CreatedAt time.Time `gorm:"autoCreateTime;column:created_at"`
}

func (ShoppingListModel) TableName() string { return "shopping_lists" }

type ShoppingItemModel struct {
	ID        string    `gorm:"primaryKey;size:36;column:id"`
	ListID    string    `gorm:"index:idx_items_list;size:36;not null;column:list_id"`
	Name      string    `gorm:"size:200;not null;column:name"`
	Quantity  int       `gorm:"not null;default:1;column:quantity"`
	Checked   bool      `gorm:"not null;default:false;column:checked"`
	CreatedAt time.Time `gorm:"autoCreateTime;column:created_at"`
}

func (ShoppingItemModel) TableName() string { return "shopping_items" }

type EventModel struct {
	ID        string    `gorm:"primaryKey;size:36;column:id"`
	SpaceID   string    `gorm:"index:idx_events_space_start,priority:1;size:36;not null;column:space_id"`
	Title     string    `gorm:"size:200;not null;column:title"`
	StartsAt  time.Time `gorm:"index:idx_events_space_start,priority:2;not null;column:starts_at"`
	EndsAt    time.Time `gorm:"not null;column:ends_at"`
	Location  string    `gorm:"size:200;column:location"`
	CreatedBy string    `gorm:"size:36;column:created_by"`
}

func (EventModel) TableName() string { return "events" }

func (m *EventModel) ToDomain() datatypes.CalendarEvent {
	return datatypes.CalendarEvent{ID: m.ID, Title: m.Title, StartsAt: m.StartsAt, EndsAt: m.EndsAt, Location: m.Location}
}

// Models lists every table owned by this package, for AutoMigrate.
func Models() []any {
	return []any{
		&SpaceModel{}, &MemberModel{}, &TaskModel{}, &ChoreModel{},
		&ShoppingListModel{}, &ShoppingItemModel{}, &EventModel{},
	}
}
