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
	"testing"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGormStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(Models()...))

	require.NoError(t, db.Create(&SpaceModel{ID: "sp1", Name: "Maple House", Timezone: "Europe/London", Tier: "plus"}).Error)
	require.NoError(t, db.Create(&MemberModel{SpaceID: "sp1", UserID: "u1", DisplayName: "Alex", Role: "owner", Email: "alex@example.com"}).Error)
	require.NoError(t, db.Create(&MemberModel{SpaceID: "sp1", UserID: "u2", DisplayName: "Sam", Role: "member"}).Error)
	return NewGormStore(db), db
}

func TestGormStore_SpaceAndMembership(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	space, err := store.Space(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, "Maple House", space.Name)
	assert.Equal(t, datatypes.TierPlus, space.Tier)

	_, err = store.Space(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.IsMember(ctx, "sp1", "u2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsMember(ctx, "sp1", "stranger")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_TasksLifecycle(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()
	soon := time.Now().Add(2 * time.Hour).UTC()

	_, err := store.CreateTask(ctx, "sp1", "u1", datatypes.Task{Title: "No due date"})
	require.NoError(t, err)
	created, err := store.CreateTask(ctx, "sp1", "u1", datatypes.Task{Title: "Clean garage", AssigneeID: "u2", DueAt: &soon})
	require.NoError(t, err)

	open, err := store.OpenTasks(ctx, "sp1", 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "Clean garage", open[0].Title, "dated tasks sort before undated ones")
	assert.Equal(t, "Sam", open[0].AssigneeName)

	done, err := store.CompleteTask(ctx, "sp1", created.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed)

	open, err = store.OpenTasks(ctx, "sp1", 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = store.CompleteTask(ctx, "sp1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_ShoppingListsOnlyNonEmpty(t *testing.T) {
	store, db := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&ShoppingListModel{ID: "empty", SpaceID: "sp1", Name: "Hardware"}).Error)

	list, err := store.AddShoppingItem(ctx, "sp1", "Groceries", "milk", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, list.ItemCount)
	list, err = store.AddShoppingItem(ctx, "sp1", "Groceries", "eggs", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.ItemCount)

	lists, err := store.ShoppingLists(ctx, "sp1", 1)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "Groceries", lists[0].Name)
	assert.Equal(t, 2, lists[0].ItemCount)
	assert.Equal(t, []string{"milk"}, lists[0].Items)
}

func TestGormStore_EventsBetween(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.CreateEvent(ctx, "sp1", "u1", datatypes.CalendarEvent{Title: "Dentist", StartsAt: now.Add(24 * time.Hour), EndsAt: now.Add(25 * time.Hour)})
	require.NoError(t, err)
	_, err = store.CreateEvent(ctx, "sp1", "u1", datatypes.CalendarEvent{Title: "Holiday", StartsAt: now.Add(30 * 24 * time.Hour), EndsAt: now.Add(31 * 24 * time.Hour)})
	require.NoError(t, err)

	events, err := store.EventsBetween(ctx, "sp1", now, now.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Dentist", events[0].Title)
}
