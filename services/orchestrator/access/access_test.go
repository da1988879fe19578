// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSpaces() *household.MemoryStore {
	spaces := household.NewMemoryStore()
	spaces.PutSpace(household.Space{ID: "sp-free", Name: "Flat", Tier: datatypes.TierFree},
		datatypes.Member{ID: "u1", DisplayName: "Ana", Role: "owner"})
	spaces.PutSpace(household.Space{ID: "sp-family", Name: "House", Tier: datatypes.TierFamily},
		datatypes.Member{ID: "u2", DisplayName: "Ben", Role: "owner"})
	return spaces
}

// =============================================================================
// CheckAccess
// =============================================================================

func TestGuard_CheckAccess_AllowsFreshUser(t *testing.T) {
	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: conversation.NewMemoryStore()})

	decision, err := g.CheckAccess(context.Background(), "u1", "sp-free", true)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, datatypes.TierFree, decision.Tier)
}

func TestGuard_CheckAccess_ExhaustedBudget(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	usage := conversation.NewMemoryStore()
	require.NoError(t, usage.RecordUsage(context.Background(), datatypes.UsageDelta{
		UserID: "u1", SpaceID: "sp-free", At: now, InputTokens: 40_000, OutputTokens: 10_000,
	}))

	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: usage})
	g.now = func() time.Time { return now }

	decision, err := g.CheckAccess(context.Background(), "u1", "sp-free", true)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
	assert.True(t, decision.ResetAt.After(now))
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), decision.ResetAt)
}

func TestGuard_CheckAccess_ConversationCapOnlyForNewConversations(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	usage := conversation.NewMemoryStore()
	require.NoError(t, usage.RecordUsage(context.Background(), datatypes.UsageDelta{
		UserID: "u1", SpaceID: "sp-free", At: now, InputTokens: 100, Conversations: 20,
	}))
	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: usage})
	g.now = func() time.Time { return now }

	decision, err := g.CheckAccess(context.Background(), "u1", "sp-free", true)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = g.CheckAccess(context.Background(), "u1", "sp-free", false)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestGuard_CheckAccess_TierScalesBudget(t *testing.T) {
	now := time.Now().UTC()
	usage := conversation.NewMemoryStore()
	require.NoError(t, usage.RecordUsage(context.Background(), datatypes.UsageDelta{
		UserID: "u2", SpaceID: "sp-family", At: now, InputTokens: 60_000,
	}))
	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: usage})
	g.now = func() time.Time { return now }

	decision, err := g.CheckAccess(context.Background(), "u2", "sp-family", true)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, datatypes.TierFamily, decision.Tier)
}

func TestGuard_CheckAccess_UnknownSpace(t *testing.T) {
	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: conversation.NewMemoryStore()})
	_, err := g.CheckAccess(context.Background(), "u1", "nope", true)
	assert.ErrorIs(t, err, ErrSpaceNotFound)
}

type failingUsage struct{}

func (failingUsage) RecordUsage(context.Context, datatypes.UsageDelta) error {
	return errors.New("db down")
}

func (failingUsage) GetUsage(context.Context, string, string, string) (datatypes.UsageRecord, error) {
	return datatypes.UsageRecord{}, errors.New("db down")
}

func TestGuard_CheckAccess_StoreFailure(t *testing.T) {
	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: failingUsage{}})
	_, err := g.CheckAccess(context.Background(), "u1", "sp-free", true)
	assert.Error(t, err)
}

// =============================================================================
// CheckRate
// =============================================================================

func TestGuard_CheckRate_BurstIsLimitedPerTier(t *testing.T) {
	tiers := TierTable{
		datatypes.TierFree: {RequestsPerWindow: 2},
		datatypes.TierPlus: {RequestsPerWindow: 4},
	}
	g := NewGuard(GuardConfig{Spaces: newTestSpaces(), Usage: conversation.NewMemoryStore(), Tiers: tiers})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := g.CheckRate(ctx, "u1", datatypes.TierFree)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}
	d, err := g.CheckRate(ctx, "u1", datatypes.TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	// Different user has an independent allowance.
	d, err = g.CheckRate(ctx, "u2", datatypes.TierFree)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// A higher tier for the same user gets its larger allowance.
	allowed := 0
	for i := 0; i < 6; i++ {
		d, err := g.CheckRate(ctx, "u3", datatypes.TierPlus)
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)
}

func TestMemoryRateLimiter_Refills(t *testing.T) {
	lim := NewMemoryRateLimiter()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, _ := lim.Allow(ctx, "k", 3, time.Minute)
		require.True(t, d.Allowed)
	}
	d, _ := lim.Allow(ctx, "k", 3, time.Minute)
	require.False(t, d.Allowed)

	clock = clock.Add(21 * time.Second)
	d, _ = lim.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, d.Allowed)
}

func TestMemoryRateLimiter_SweepIdleEvictsRefilledBuckets(t *testing.T) {
	lim := NewMemoryRateLimiter()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := lim.Allow(ctx, "idle", 2, time.Minute)
		require.NoError(t, err)
	}
	clock = clock.Add(30 * time.Second)
	_, err := lim.Allow(ctx, "busy", 2, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, lim.Len())

	removed, err := lim.SweepIdle(ctx, clock.Add(40*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, lim.Len())

	// The evicted key starts again with a full bucket.
	clock = clock.Add(40 * time.Second)
	for i := 0; i < 2; i++ {
		d, err := lim.Allow(ctx, "idle", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lim := NewRedisRateLimiter(rdb)
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := lim.Allow(ctx, "u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		clock = clock.Add(10 * time.Second)
	}

	d, err := lim.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	// Oldest entry was at T+0, now is T+30s.
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clock = clock.Add(31 * time.Second)
	d, err = lim.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	d, err := NewRedisRateLimiter(rdb).Allow(context.Background(), "u1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisRateLimiter_ConcurrentRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	lim := NewRedisRateLimiter(rdb)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := lim.Allow(context.Background(), "burst", 5, time.Minute)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 3, RetryAfterSeconds(2100*time.Millisecond))
}

// =============================================================================
// SpaceAuthz
// =============================================================================

func TestSpaceAuthz(t *testing.T) {
	authz := NewSpaceAuthz(newTestSpaces())
	ctx := context.Background()

	tests := []struct {
		name    string
		req     extensions.AuthzRequest
		wantErr bool
	}{
		{"member", extensions.AuthzRequest{User: &extensions.AuthInfo{UserID: "u1"}, Action: "chat", ResourceType: ResourceSpace, ResourceID: "sp-free"}, false},
		{"non-member", extensions.AuthzRequest{User: &extensions.AuthInfo{UserID: "u2"}, Action: "chat", ResourceType: ResourceSpace, ResourceID: "sp-free"}, true},
		{"missing space", extensions.AuthzRequest{User: &extensions.AuthInfo{UserID: "u1"}, Action: "chat", ResourceType: ResourceSpace}, true},
		{"anonymous", extensions.AuthzRequest{Action: "chat", ResourceType: ResourceSpace, ResourceID: "sp-free"}, true},
		{"other resource", extensions.AuthzRequest{User: &extensions.AuthInfo{UserID: "u1"}, Action: "read", ResourceType: "usage"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authz.Authorize(ctx, tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, extensions.ErrUnauthorized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
