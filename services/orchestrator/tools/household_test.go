// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHouseholdRegistry(t *testing.T) (*Registry, *household.MemoryStore) {
	t.Helper()
	store := household.NewMemoryStore()
	store.PutSpace(household.Space{ID: "sp1", Name: "Flat", Timezone: "UTC"},
		datatypes.Member{ID: "u1", DisplayName: "Ana", Role: "owner"},
		datatypes.Member{ID: "u2", DisplayName: "Ben", Role: "member"})
	r := NewRegistry(nil)
	require.NoError(t, RegisterHouseholdTools(r, store))
	return r, store
}

var execCtx = ExecContext{UserID: "u1", SpaceID: "sp1", ConversationID: "conv", Timezone: "UTC"}

func run(t *testing.T, r *Registry, name string, params map[string]any) datatypes.ToolResult {
	t.Helper()
	res, err := r.Execute(context.Background(), datatypes.ToolCall{ID: "call-" + name, ToolName: name, Parameters: params}, execCtx)
	require.NoError(t, err)
	return res
}

func TestRegisterHouseholdTools_ConfirmationPolicy(t *testing.T) {
	r, _ := newHouseholdRegistry(t)
	want := map[string]bool{
		ToolCreateTask:        true,
		ToolCompleteTask:      true,
		ToolCreateEvent:       true,
		ToolAddShoppingItem:   false,
		ToolListTasks:         false,
		ToolListShoppingLists: false,
	}
	infos := r.ListTools()
	require.Len(t, infos, len(want))
	for _, info := range infos {
		assert.Equal(t, want[info.Name], info.RequiresConfirmation, info.Name)
	}
}

func TestCreateTask_ResolvesAssignee(t *testing.T) {
	r, store := newHouseholdRegistry(t)

	res := run(t, r, ToolCreateTask, map[string]any{"title": "Fix sink", "assignee": "ben", "due_date": "2025-06-01", "priority": "High"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, `Created task "Fix sink" for Ben.`, res.Message)

	tasks, err := store.OpenTasks(context.Background(), "sp1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "u2", tasks[0].AssigneeID)
	assert.Equal(t, "high", tasks[0].Priority)
	require.NotNil(t, tasks[0].DueAt)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *tasks[0].DueAt)
}

func TestCreateTask_UnknownAssignee(t *testing.T) {
	r, store := newHouseholdRegistry(t)
	res := run(t, r, ToolCreateTask, map[string]any{"title": "Fix sink", "assignee": "Zed"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Zed")

	tasks, _ := store.OpenTasks(context.Background(), "sp1", 10)
	assert.Empty(t, tasks)
}

func TestCompleteTask(t *testing.T) {
	r, store := newHouseholdRegistry(t)
	created, err := store.CreateTask(context.Background(), "sp1", "u1", datatypes.Task{Title: "Bins"})
	require.NoError(t, err)

	res := run(t, r, ToolCompleteTask, map[string]any{"task_id": created.ID})
	require.True(t, res.Success, res.Message)

	res = run(t, r, ToolCompleteTask, map[string]any{"task_id": "gone"})
	assert.False(t, res.Success)
	assert.Equal(t, "That task no longer exists.", res.Message)
}

func TestAddShoppingItem_DefaultList(t *testing.T) {
	r, store := newHouseholdRegistry(t)
	res := run(t, r, ToolAddShoppingItem, map[string]any{"item": "milk"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Added milk to Shopping.", res.Message)

	lists, err := store.ShoppingLists(context.Background(), "sp1", 5)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, DefaultShoppingList, lists[0].Name)
}

func TestCreateEvent(t *testing.T) {
	r, store := newHouseholdRegistry(t)

	res := run(t, r, ToolCreateEvent, map[string]any{"title": "Dentist", "starts_at": "2030-01-02T10:00"})
	require.True(t, res.Success, res.Message)

	events, err := store.EventsBetween(context.Background(), "sp1",
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Hour, events[0].EndsAt.Sub(events[0].StartsAt))

	res = run(t, r, ToolCreateEvent, map[string]any{"title": "Bad", "starts_at": "2030-01-02T10:00", "ends_at": "2030-01-02T09:00"})
	assert.False(t, res.Success)

	res = run(t, r, ToolCreateEvent, map[string]any{"title": "No start"})
	assert.False(t, res.Success)
}

func TestListTools(t *testing.T) {
	r, store := newHouseholdRegistry(t)
	_, err := store.CreateTask(context.Background(), "sp1", "u1", datatypes.Task{Title: "Bins"})
	require.NoError(t, err)

	res := run(t, r, ToolListTasks, nil)
	require.True(t, res.Success)
	assert.Len(t, res.Data, 1)

	res = run(t, r, ToolListShoppingLists, map[string]any{})
	require.True(t, res.Success)
	assert.Equal(t, "0 shopping lists with open items.", res.Message)
}
