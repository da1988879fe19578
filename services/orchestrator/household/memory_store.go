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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for lightweight mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	spaces  map[string]Space
	members map[string][]datatypes.Member
	tasks   map[string][]datatypes.Task
	chores  map[string][]datatypes.Chore
	lists   map[string][]memoryList
	events  map[string][]datatypes.CalendarEvent
}

type memoryList struct {
	id    string
	name  string
	items []string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spaces:  make(map[string]Space),
		members: make(map[string][]datatypes.Member),
		tasks:   make(map[string][]datatypes.Task),
		chores:  make(map[string][]datatypes.Chore),
		lists:   make(map[string][]memoryList),
		events:  make(map[string][]datatypes.CalendarEvent),
	}
}

// PutSpace registers a space with its members. Existing data is kept.
func (s *MemoryStore) PutSpace(space Space, members ...datatypes.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if space.Timezone == "" {
		space.Timezone = "UTC"
	}
	if space.Tier == "" {
		space.Tier = datatypes.TierFree
	}
	s.spaces[space.ID] = space
	s.members[space.ID] = append(s.members[space.ID], members...)
}

// PutChore seeds a chore.
func (s *MemoryStore) PutChore(spaceID string, chore datatypes.Chore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chore.ID == "" {
		chore.ID = uuid.NewString()
	}
	s.chores[spaceID] = append(s.chores[spaceID], chore)
}

func (s *MemoryStore) Space(_ context.Context, spaceID string) (Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	space, ok := s.spaces[spaceID]
	if !ok {
		return Space{}, ErrNotFound
	}
	return space, nil
}

func (s *MemoryStore) IsMember(_ context.Context, spaceID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members[spaceID] {
		if m.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Members(_ context.Context, spaceID string) ([]datatypes.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]datatypes.Member(nil), s.members[spaceID]...), nil
}

func (s *MemoryStore) OpenTasks(_ context.Context, spaceID string, limit int) ([]datatypes.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []datatypes.Task
	for _, t := range s.tasks[spaceID] {
		if !t.Completed {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i].DueAt, open[j].DueAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (s *MemoryStore) Chores(_ context.Context, spaceID string, limit int) ([]datatypes.Chore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chores := append([]datatypes.Chore(nil), s.chores[spaceID]...)
	if limit > 0 && len(chores) > limit {
		chores = chores[:limit]
	}
	return chores, nil
}

func (s *MemoryStore) ShoppingLists(_ context.Context, spaceID string, previewItems int) ([]datatypes.ShoppingList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.ShoppingList
	for _, l := range s.lists[spaceID] {
		if len(l.items) == 0 {
			continue
		}
		out = append(out, l.summary(previewItems))
	}
	return out, nil
}

func (l memoryList) summary(previewItems int) datatypes.ShoppingList {
	n := len(l.items)
	if previewItems < n {
		n = previewItems
	}
	return datatypes.ShoppingList{ID: l.id, Name: l.name, ItemCount: len(l.items), Items: append([]string(nil), l.items[:n]...)}
}

func (s *MemoryStore) EventsBetween(_ context.Context, spaceID string, from, to time.Time) ([]datatypes.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []datatypes.CalendarEvent
	for _, e := range s.events[spaceID] {
		if !e.StartsAt.Before(from) && e.StartsAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *MemoryStore) CreateTask(_ context.Context, spaceID, _ string, task datatypes.Task) (datatypes.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[spaceID]; !ok {
		return datatypes.Task{}, ErrNotFound
	}
	task.ID = uuid.NewString()
	task.Completed = false
	s.tasks[spaceID] = append(s.tasks[spaceID], task)
	return task, nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, spaceID, taskID string) (datatypes.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks[spaceID] {
		if t.ID == taskID {
			s.tasks[spaceID][i].Completed = true
			return s.tasks[spaceID][i], nil
		}
	}
	return datatypes.Task{}, ErrNotFound
}

func (s *MemoryStore) AddShoppingItem(_ context.Context, spaceID, listName, item string, _ int) (datatypes.ShoppingList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[spaceID]; !ok {
		return datatypes.ShoppingList{}, ErrNotFound
	}
	lists := s.lists[spaceID]
	for i := range lists {
		if strings.EqualFold(lists[i].name, listName) {
			lists[i].items = append(lists[i].items, item)
			return lists[i].summary(len(lists[i].items)), nil
		}
	}
	l := memoryList{id: uuid.NewString(), name: listName, items: []string{item}}
	s.lists[spaceID] = append(lists, l)
	return l.summary(1), nil
}

func (s *MemoryStore) CreateEvent(_ context.Context, spaceID, _ string, event datatypes.CalendarEvent) (datatypes.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[spaceID]; !ok {
		return datatypes.CalendarEvent{}, ErrNotFound
	}
	event.ID = uuid.NewString()
	s.events[spaceID] = append(s.events[spaceID], event)
	return event, nil
}
