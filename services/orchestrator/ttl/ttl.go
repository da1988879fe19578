// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl expires stored chat data on a schedule: conversations idle
// past the retention window and pending confirmations past their lifetime.
package ttl

import (
	"context"
	"time"
)

// =============================================================================
// Interfaces
// =============================================================================

// Sweeper removes one kind of expired data.
//
// # Description
//
// Sweep deletes at most batch items that are expired as of now and returns
// how many it removed. A batch of zero means no limit. Implementations must
// be safe to call while the service is handling requests.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, now time.Time, batch int) (int, error)
}

// Scheduler runs the sweepers periodically.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RunNow(ctx context.Context) CleanupResult
}

// =============================================================================
// Results
// =============================================================================

// CleanupResult summarizes one cleanup cycle.
type CleanupResult struct {
	StartTime time.Time
	EndTime   time.Time
	// Removed counts deleted items per sweeper name.
	Removed map[string]int
	Errors  []CleanupError
}

// Duration returns the total duration of the cleanup cycle.
func (r *CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Total is the number of items removed by every sweeper.
func (r *CleanupResult) Total() int {
	n := 0
	for _, v := range r.Removed {
		n += v
	}
	return n
}

// HasErrors returns true if any sweeper failed.
func (r *CleanupResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// CleanupError records a sweeper failure.
type CleanupError struct {
	Sweeper string
	Err     error
}
