// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"time"
)

// ConversationPruner deletes conversations idle since before cutoff.
type ConversationPruner interface {
	PruneConversations(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PendingSweeper drops expired pending confirmations.
type PendingSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// IdleSweeper drops in-memory state that has gone unused.
type IdleSweeper interface {
	SweepIdle(ctx context.Context, now time.Time) (int, error)
}

type conversationRetention struct {
	store     ConversationPruner
	retention time.Duration
}

// ConversationRetention removes conversations with no activity for longer
// than retention.
func ConversationRetention(store ConversationPruner, retention time.Duration) Sweeper {
	return &conversationRetention{store: store, retention: retention}
}

func (c *conversationRetention) Name() string { return "conversations" }

func (c *conversationRetention) Sweep(ctx context.Context, now time.Time, batch int) (int, error) {
	return c.store.PruneConversations(ctx, now.Add(-c.retention), batch)
}

type pendingExpiry struct {
	store PendingSweeper
}

// PendingExpiry removes pending confirmations that can no longer be
// claimed. The batch size does not apply.
func PendingExpiry(store PendingSweeper) Sweeper {
	return &pendingExpiry{store: store}
}

func (p *pendingExpiry) Name() string { return "pending_actions" }

func (p *pendingExpiry) Sweep(ctx context.Context, now time.Time, _ int) (int, error) {
	return p.store.SweepExpired(ctx, now)
}

type idleRateBuckets struct {
	limiter IdleSweeper
}

// IdleRateBuckets evicts rate-limit buckets that have refilled and gone
// unused. The batch size does not apply.
func IdleRateBuckets(limiter IdleSweeper) Sweeper {
	return &idleRateBuckets{limiter: limiter}
}

func (i *idleRateBuckets) Name() string { return "rate_buckets" }

func (i *idleRateBuckets) Sweep(ctx context.Context, now time.Time, _ int) (int, error) {
	return i.limiter.SweepIdle(ctx, now)
}
