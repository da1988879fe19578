// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package spacecontext assembles the household snapshot that grounds a chat
// turn, and produces the redacted copy that is shown to the model.
package spacecontext

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("hearth.spacecontext")

// Section names reported in SpaceContext.Degraded.
const (
	SectionSpace         = "space"
	SectionMembers       = "members"
	SectionTasks         = "tasks"
	SectionChores        = "chores"
	SectionShoppingLists = "shopping_lists"
	SectionEvents        = "events"
)

// Limits bounds the size of each section.
type Limits struct {
	MaxTasks      int           `mapstructure:"max_tasks"`
	MaxChores     int           `mapstructure:"max_chores"`
	PreviewItems  int           `mapstructure:"preview_items"`
	EventsHorizon time.Duration `mapstructure:"events_horizon"`
	// FetchTimeout bounds each sub-fetch independently.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxTasks:      10,
		MaxChores:     10,
		PreviewItems:  5,
		EventsHorizon: 7 * 24 * time.Hour,
		FetchTimeout:  3 * time.Second,
	}
}

// User identifies the caller the context is built for.
type User struct {
	ID          string
	DisplayName string
}

// Builder fetches a SpaceContext from a household.Reader.
type Builder struct {
	reader household.Reader
	limits Limits
	now    func() time.Time
}

func NewBuilder(reader household.Reader, limits Limits) *Builder {
	d := DefaultLimits()
	if limits.MaxTasks <= 0 {
		limits.MaxTasks = d.MaxTasks
	}
	if limits.MaxChores <= 0 {
		limits.MaxChores = d.MaxChores
	}
	if limits.PreviewItems <= 0 {
		limits.PreviewItems = d.PreviewItems
	}
	if limits.EventsHorizon <= 0 {
		limits.EventsHorizon = d.EventsHorizon
	}
	if limits.FetchTimeout <= 0 {
		limits.FetchTimeout = d.FetchTimeout
	}
	return &Builder{reader: reader, limits: limits, now: time.Now}
}

// Build loads every section of the space concurrently.
//
// # Description
//
// Each section is fetched by its own goroutine with its own timeout. A
// section that fails is left empty and its name is added to Degraded; Build
// itself never fails. Build returns once every fetch has settled.
//
// # Inputs
//
//   - ctx: Parent context. Cancelling it abandons outstanding fetches.
//   - spaceID: Household space to describe.
//   - user: The caller, used for the "you are talking to" line.
//
// # Outputs
//
//   - datatypes.SpaceContext: The snapshot. Treat it as read-only.
func (b *Builder) Build(ctx context.Context, spaceID string, user User) datatypes.SpaceContext {
	ctx, span := tracer.Start(ctx, "spacecontext.Build")
	defer span.End()

	now := b.now().UTC()
	sc := datatypes.SpaceContext{
		SpaceID:        spaceID,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		Timezone:       "UTC",
		Members:        []datatypes.Member{},
		OpenTasks:      []datatypes.Task{},
		Chores:         []datatypes.Chore{},
		ShoppingLists:  []datatypes.ShoppingList{},
		UpcomingEvents: []datatypes.CalendarEvent{},
		BuiltAt:        now,
	}

	var (
		mu       sync.Mutex
		degraded []string
	)
	g, gCtx := errgroup.WithContext(ctx)

	fetch := func(section string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gCtx, b.limits.FetchTimeout)
			defer cancel()
			if err := fn(fctx); err != nil {
				slog.Warn("space context section unavailable",
					"space_id", spaceID,
					"section", section,
					"error", err)
				mu.Lock()
				degraded = append(degraded, section)
				mu.Unlock()
			}
			// Section failures are non-fatal and must not cancel siblings.
			return nil
		})
	}

	fetch(SectionSpace, func(ctx context.Context) error {
		space, err := b.reader.Space(ctx, spaceID)
		if err != nil {
			return err
		}
		mu.Lock()
		sc.SpaceName = space.Name
		if space.Timezone != "" {
			sc.Timezone = space.Timezone
		}
		mu.Unlock()
		return nil
	})
	fetch(SectionMembers, func(ctx context.Context) error {
		members, err := b.reader.Members(ctx, spaceID)
		if err != nil {
			return err
		}
		mu.Lock()
		sc.Members = nonNil(members)
		mu.Unlock()
		return nil
	})
	fetch(SectionTasks, func(ctx context.Context) error {
		tasks, err := b.reader.OpenTasks(ctx, spaceID, b.limits.MaxTasks)
		if err != nil {
			return err
		}
		mu.Lock()
		sc.OpenTasks = nonNil(truncate(tasks, b.limits.MaxTasks))
		mu.Unlock()
		return nil
	})
	fetch(SectionChores, func(ctx context.Context) error {
		chores, err := b.reader.Chores(ctx, spaceID, b.limits.MaxChores)
		if err != nil {
			return err
		}
		mu.Lock()
		sc.Chores = nonNil(truncate(chores, b.limits.MaxChores))
		mu.Unlock()
		return nil
	})
	fetch(SectionShoppingLists, func(ctx context.Context) error {
		lists, err := b.reader.ShoppingLists(ctx, spaceID, b.limits.PreviewItems)
		if err != nil {
			return err
		}
		nonEmpty := make([]datatypes.ShoppingList, 0, len(lists))
		for _, l := range lists {
			if l.ItemCount > 0 {
				nonEmpty = append(nonEmpty, l)
			}
		}
		mu.Lock()
		sc.ShoppingLists = nonEmpty
		mu.Unlock()
		return nil
	})
	fetch(SectionEvents, func(ctx context.Context) error {
		events, err := b.reader.EventsBetween(ctx, spaceID, now, now.Add(b.limits.EventsHorizon))
		if err != nil {
			return err
		}
		mu.Lock()
		sc.UpcomingEvents = nonNil(events)
		mu.Unlock()
		return nil
	})

	_ = g.Wait()

	if sc.UserName == "" {
		for _, m := range sc.Members {
			if m.ID == user.ID {
				sc.UserName = m.DisplayName
				break
			}
		}
	}
	sort.Strings(degraded)
	sc.Degraded = degraded
	span.SetAttributes(
		attribute.String("space_id", spaceID),
		attribute.Int("degraded_sections", len(degraded)))
	return sc
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
