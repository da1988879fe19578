// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package spacecontext

import (
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

// TextRedactor masks sensitive substrings in free text.
type TextRedactor interface {
	Redact(text string) string
}

// Redact returns a copy of sc that is safe to place in a model prompt.
//
// Member, user and space identifiers and all contact details are removed,
// assignees are kept by display name only, and every free-text field is
// passed through r. Task ids are kept because tools address tasks by id.
// The input is not modified. A nil r leaves free text unchanged.
func Redact(sc datatypes.SpaceContext, r TextRedactor) datatypes.SpaceContext {
	text := func(s string) string {
		if r == nil || s == "" {
			return s
		}
		return r.Redact(s)
	}

	out := datatypes.SpaceContext{
		SpaceName: text(sc.SpaceName),
		Timezone:  sc.Timezone,
		UserName:  sc.UserName,
		BuiltAt:   sc.BuiltAt,
		Degraded:  append([]string(nil), sc.Degraded...),
	}

	out.Members = make([]datatypes.Member, len(sc.Members))
	for i, m := range sc.Members {
		out.Members[i] = datatypes.Member{DisplayName: m.DisplayName, Role: m.Role}
	}

	out.OpenTasks = make([]datatypes.Task, len(sc.OpenTasks))
	for i, t := range sc.OpenTasks {
		t.Title = text(t.Title)
		t.AssigneeID = ""
		if t.DueAt != nil {
			due := *t.DueAt
			t.DueAt = &due
		}
		out.OpenTasks[i] = t
	}

	out.Chores = make([]datatypes.Chore, len(sc.Chores))
	for i, c := range sc.Chores {
		c.ID = ""
		c.Name = text(c.Name)
		c.AssigneeID = ""
		if c.NextDueAt != nil {
			due := *c.NextDueAt
			c.NextDueAt = &due
		}
		out.Chores[i] = c
	}

	out.ShoppingLists = make([]datatypes.ShoppingList, len(sc.ShoppingLists))
	for i, l := range sc.ShoppingLists {
		items := make([]string, len(l.Items))
		for j, it := range l.Items {
			items[j] = text(it)
		}
		out.ShoppingLists[i] = datatypes.ShoppingList{Name: text(l.Name), ItemCount: l.ItemCount, Items: items}
	}

	out.UpcomingEvents = make([]datatypes.CalendarEvent, len(sc.UpcomingEvents))
	for i, e := range sc.UpcomingEvents {
		out.UpcomingEvents[i] = datatypes.CalendarEvent{
			Title:    text(e.Title),
			StartsAt: e.StartsAt,
			EndsAt:   e.EndsAt,
			Location: text(e.Location),
		}
	}
	return out
}
