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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
)

// Names of the household tools.
const (
	ToolCreateTask        = "create_task"
	ToolCompleteTask      = "complete_task"
	ToolAddShoppingItem   = "add_shopping_item"
	ToolCreateEvent       = "create_event"
	ToolListTasks         = "list_tasks"
	ToolListShoppingLists = "list_shopping_lists"
)

// DefaultShoppingList receives items when the model names no list.
const DefaultShoppingList = "Shopping"

// RegisterHouseholdTools registers the household actions backed by store.
// Creating tasks and events and completing tasks need confirmation;
// adding a shopping item and the read-only listings do not.
func RegisterHouseholdTools(r *Registry, store household.Store) error {
	h := householdTools{store: store}
	tools := []Tool{
		{
			Spec: llm.ToolSpec{
				Name:        ToolCreateTask,
				Description: "Create a task in the household. Use when the user asks to add a to-do or assign work to someone.",
				Parameters: []llm.ToolParam{
					{Name: "title", Type: TypeString, Description: "Short task title", Required: true},
					{Name: "assignee", Type: TypeString, Description: "Display name of the member to assign"},
					{Name: "due_date", Type: TypeString, Description: "Due date, YYYY-MM-DD or YYYY-MM-DDTHH:MM in the household's timezone"},
					{Name: "priority", Type: TypeString, Description: "Task priority", Enum: []string{"low", "medium", "high"}},
				},
			},
			RequiresConfirmation: true,
			Handler:              h.createTask,
		},
		{
			Spec: llm.ToolSpec{
				Name:        ToolCompleteTask,
				Description: "Mark an open task as done. Use the task id from the household context.",
				Parameters: []llm.ToolParam{
					{Name: "task_id", Type: TypeString, Description: "Id of the task to complete", Required: true},
				},
			},
			RequiresConfirmation: true,
			Handler:              h.completeTask,
		},
		{
			Spec: llm.ToolSpec{
				Name:        ToolAddShoppingItem,
				Description: "Add an item to a shopping list, creating the list if needed.",
				Parameters: []llm.ToolParam{
					{Name: "item", Type: TypeString, Description: "Item to buy", Required: true},
					{Name: "list_name", Type: TypeString, Description: "List to add to. Defaults to Shopping"},
					{Name: "quantity", Type: TypeInteger, Description: "How many"},
				},
			},
			Handler: h.addShoppingItem,
		},
		{
			Spec: llm.ToolSpec{
				Name:        ToolCreateEvent,
				Description: "Add an event to the household calendar.",
				Parameters: []llm.ToolParam{
					{Name: "title", Type: TypeString, Description: "Event title", Required: true},
					{Name: "starts_at", Type: TypeString, Description: "Start, YYYY-MM-DDTHH:MM in the household's timezone", Required: true},
					{Name: "ends_at", Type: TypeString, Description: "End, same format. Defaults to one hour after the start"},
					{Name: "location", Type: TypeString, Description: "Where it happens"},
				},
			},
			RequiresConfirmation: true,
			Handler:              h.createEvent,
		},
		{
			Spec: llm.ToolSpec{
				Name:        ToolListTasks,
				Description: "List open tasks in the household, soonest due first.",
				Parameters: []llm.ToolParam{
					{Name: "limit", Type: TypeInteger, Description: "Maximum number of tasks, default 20"},
				},
			},
			Handler: h.listTasks,
		},
		{
			Spec: llm.ToolSpec{
				Name:        ToolListShoppingLists,
				Description: "List shopping lists that have open items, with a preview of the items.",
			},
			Handler: h.listShoppingLists,
		},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type householdTools struct {
	store household.Store
}

// resolveMember finds a member by display name, case-insensitively.
func (h householdTools) resolveMember(ctx context.Context, spaceID, name string) (datatypes.Member, error) {
	members, err := h.store.Members(ctx, spaceID)
	if err != nil {
		return datatypes.Member{}, fmt.Errorf("load members: %w", err)
	}
	for _, m := range members {
		if strings.EqualFold(m.DisplayName, name) {
			return m, nil
		}
	}
	return datatypes.Member{}, Failf("There is no household member named %q.", name)
}

func (h householdTools) createTask(ctx context.Context, exec ExecContext, p Params) (Outcome, error) {
	task := datatypes.Task{
		Title:    p.String("title"),
		Priority: strings.ToLower(p.String("priority")),
	}
	due, err := p.Time("due_date", exec.Location())
	if err != nil {
		return Outcome{}, err
	}
	task.DueAt = due
	if name := p.String("assignee"); name != "" {
		m, err := h.resolveMember(ctx, exec.SpaceID, name)
		if err != nil {
			return Outcome{}, err
		}
		task.AssigneeID = m.ID
		task.AssigneeName = m.DisplayName
	}

	created, err := h.store.CreateTask(ctx, exec.SpaceID, exec.UserID, task)
	if err != nil {
		return Outcome{}, err
	}
	msg := fmt.Sprintf("Created task %q.", created.Title)
	if created.AssigneeName != "" {
		msg = fmt.Sprintf("Created task %q for %s.", created.Title, created.AssigneeName)
	}
	return Outcome{Data: created, Message: msg}, nil
}

func (h householdTools) completeTask(ctx context.Context, exec ExecContext, p Params) (Outcome, error) {
	task, err := h.store.CompleteTask(ctx, exec.SpaceID, p.String("task_id"))
	if errors.Is(err, household.ErrNotFound) {
		return Outcome{}, Failf("That task no longer exists.")
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Data: task, Message: fmt.Sprintf("Marked %q as done.", task.Title)}, nil
}

func (h householdTools) addShoppingItem(ctx context.Context, exec ExecContext, p Params) (Outcome, error) {
	listName := p.String("list_name")
	if listName == "" {
		listName = DefaultShoppingList
	}
	item := p.String("item")
	list, err := h.store.AddShoppingItem(ctx, exec.SpaceID, listName, item, p.Int("quantity", 1))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Data: list, Message: fmt.Sprintf("Added %s to %s.", item, list.Name)}, nil
}

func (h householdTools) createEvent(ctx context.Context, exec ExecContext, p Params) (Outcome, error) {
	loc := exec.Location()
	starts, err := p.Time("starts_at", loc)
	if err != nil {
		return Outcome{}, err
	}
	ends, err := p.Time("ends_at", loc)
	if err != nil {
		return Outcome{}, err
	}
	event := datatypes.CalendarEvent{
		Title:    p.String("title"),
		StartsAt: starts.UTC(),
		Location: p.String("location"),
	}
	if ends != nil {
		if ends.Before(*starts) {
			return Outcome{}, Failf("The event cannot end before it starts.")
		}
		event.EndsAt = ends.UTC()
	} else {
		event.EndsAt = event.StartsAt.Add(time.Hour)
	}

	created, err := h.store.CreateEvent(ctx, exec.SpaceID, exec.UserID, event)
	if err != nil {
		return Outcome{}, err
	}
	when := created.StartsAt.In(loc).Format("Mon 2 Jan 15:04")
	return Outcome{Data: created, Message: fmt.Sprintf("Added %q on %s.", created.Title, when)}, nil
}

func (h householdTools) listTasks(ctx context.Context, exec ExecContext, p Params) (Outcome, error) {
	limit := p.Int("limit", 20)
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	tasks, err := h.store.OpenTasks(ctx, exec.SpaceID, limit)
	if err != nil {
		return Outcome{}, err
	}
	if tasks == nil {
		tasks = []datatypes.Task{}
	}
	return Outcome{Data: tasks, Message: fmt.Sprintf("%d open tasks.", len(tasks))}, nil
}

func (h householdTools) listShoppingLists(ctx context.Context, exec ExecContext, _ Params) (Outcome, error) {
	lists, err := h.store.ShoppingLists(ctx, exec.SpaceID, 10)
	if err != nil {
		return Outcome{}, err
	}
	if lists == nil {
		lists = []datatypes.ShoppingList{}
	}
	return Outcome{Data: lists, Message: fmt.Sprintf("%d shopping lists with open items.", len(lists))}, nil
}
