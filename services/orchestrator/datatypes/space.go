// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// Member is a person in a household space.
type Member struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type Task struct {
	ID           string     `json:"id,omitempty"`
	Title        string     `json:"title"`
	AssigneeID   string     `json:"assigneeId,omitempty"`
	AssigneeName string     `json:"assigneeName,omitempty"`
	DueAt        *time.Time `json:"dueAt,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Completed    bool       `json:"completed"`
}

type Chore struct {
	ID           string     `json:"id,omitempty"`
	Name         string     `json:"name"`
	AssigneeID   string     `json:"assigneeId,omitempty"`
	AssigneeName string     `json:"assigneeName,omitempty"`
	Frequency    string     `json:"frequency,omitempty"`
	NextDueAt    *time.Time `json:"nextDueAt,omitempty"`
}

// ShoppingList summarizes a list; Items holds a bounded preview.
type ShoppingList struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	ItemCount int      `json:"itemCount"`
	Items     []string `json:"items,omitempty"`
}

type CalendarEvent struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Location string    `json:"location,omitempty"`
}

// SpaceContext is a read-only snapshot of a household space taken at the
// start of a turn. Sections that could not be loaded are empty and listed
// in Degraded.
type SpaceContext struct {
	SpaceID        string          `json:"spaceId,omitempty"`
	SpaceName      string          `json:"spaceName"`
	Timezone       string          `json:"timezone"`
	UserID         string          `json:"userId,omitempty"`
	UserName       string          `json:"userName"`
	Members        []Member        `json:"members"`
	OpenTasks      []Task          `json:"openTasks"`
	Chores         []Chore         `json:"chores"`
	ShoppingLists  []ShoppingList  `json:"shoppingLists"`
	UpcomingEvents []CalendarEvent `json:"upcomingEvents"`
	Degraded       []string        `json:"degraded,omitempty"`
	BuiltAt        time.Time       `json:"builtAt"`
}
