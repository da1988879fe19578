// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package household gives the chat service read access to a household
// space and the handful of mutations its tools perform.
package household

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

var (
	// ErrNotFound is returned when a space, task or list does not exist.
	ErrNotFound = errors.New("household: not found")
)

// Space is the space-level metadata the chat service needs.
type Space struct {
	ID       string
	Name     string
	Timezone string
	Tier     datatypes.Tier
}

// Reader is the read side used by the context builder, the access guard
// and the read-only tools.
type Reader interface {
	Space(ctx context.Context, spaceID string) (Space, error)
	IsMember(ctx context.Context, spaceID, userID string) (bool, error)
	Members(ctx context.Context, spaceID string) ([]datatypes.Member, error)
	// OpenTasks returns incomplete tasks ordered by due date, nulls last.
	OpenTasks(ctx context.Context, spaceID string, limit int) ([]datatypes.Task, error)
	Chores(ctx context.Context, spaceID string, limit int) ([]datatypes.Chore, error)
	// ShoppingLists returns only lists that have at least one open item.
	ShoppingLists(ctx context.Context, spaceID string, previewItems int) ([]datatypes.ShoppingList, error)
	EventsBetween(ctx context.Context, spaceID string, from, to time.Time) ([]datatypes.CalendarEvent, error)
}

// Writer is the mutation side used by tools.
type Writer interface {
	CreateTask(ctx context.Context, spaceID, createdBy string, task datatypes.Task) (datatypes.Task, error)
	CompleteTask(ctx context.Context, spaceID, taskID string) (datatypes.Task, error)
	// AddShoppingItem appends to the named list, creating it if needed.
	AddShoppingItem(ctx context.Context, spaceID, listName, item string, quantity int) (datatypes.ShoppingList, error)
	CreateEvent(ctx context.Context, spaceID, createdBy string, event datatypes.CalendarEvent) (datatypes.CalendarEvent, error)
}

type Store interface {
	Reader
	Writer
}
