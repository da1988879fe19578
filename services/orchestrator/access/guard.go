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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
)

// ErrSpaceNotFound is returned by CheckAccess for an unknown space.
var ErrSpaceNotFound = errors.New("access: space not found")

// Guard evaluates the daily budget and the burst rate for a caller.
type Guard struct {
	spaces  household.Reader
	usage   conversation.UsageStore
	limiter RateLimiter
	tiers   TierTable
	window  time.Duration
	now     func() time.Time
}

// GuardConfig groups Guard's collaborators.
type GuardConfig struct {
	Spaces     household.Reader
	Usage      conversation.UsageStore
	Limiter    RateLimiter
	Tiers      TierTable
	RateWindow time.Duration
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTierTable()
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewMemoryRateLimiter()
	}
	return &Guard{
		spaces:  cfg.Spaces,
		usage:   cfg.Usage,
		limiter: cfg.Limiter,
		tiers:   cfg.Tiers,
		window:  cfg.RateWindow,
		now:     time.Now,
	}
}

// CheckAccess resolves the space's tier and evaluates the caller's usage
// for the current UTC day against that tier's budget.
//
// # Description
//
// The check is soft: two turns racing past the limit may both be admitted.
// A denial carries a reason and the next UTC midnight as ResetAt.
//
// # Inputs
//
//   - ctx: Context for the store reads.
//   - userID: Authenticated caller.
//   - spaceID: Household space the turn runs in.
//   - newConversation: Whether the turn opens a conversation. Only then
//     does the daily conversation allowance apply.
//
// # Outputs
//
//   - datatypes.BudgetDecision: Allowed, Tier, Reason and ResetAt.
//   - error: ErrSpaceNotFound, or a wrapped store failure.
func (g *Guard) CheckAccess(ctx context.Context, userID, spaceID string, newConversation bool) (datatypes.BudgetDecision, error) {
	space, err := g.spaces.Space(ctx, spaceID)
	if err != nil {
		if errors.Is(err, household.ErrNotFound) {
			return datatypes.BudgetDecision{}, ErrSpaceNotFound
		}
		return datatypes.BudgetDecision{}, fmt.Errorf("resolve tier: %w", err)
	}
	tier := NormalizeTier(space.Tier)

	decision, err := conversation.CheckBudget(ctx, g.usage, userID, spaceID, tier, g.tiers.For(tier).BudgetLimits,
		newConversation, g.now())
	if err != nil {
		return datatypes.BudgetDecision{}, err
	}
	if !decision.Allowed {
		slog.Info("daily budget exhausted",
			"user_id", userID,
			"space_id", spaceID,
			"tier", tier,
			"tokens_used", decision.TokensUsed,
			"reset_at", decision.ResetAt)
	}
	return decision, nil
}

// CheckRate applies the tier's burst limit to userID.
func (g *Guard) CheckRate(ctx context.Context, userID string, tier datatypes.Tier) (RateDecision, error) {
	tier = NormalizeTier(tier)
	limit := g.tiers.For(tier).RequestsPerWindow
	decision, err := g.limiter.Allow(ctx, "user:"+userID, limit, g.window)
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate check: %w", err)
	}
	if !decision.Allowed {
		slog.Info("rate limited", "user_id", userID, "tier", tier, "retry_after", decision.RetryAfter)
	}
	return decision, nil
}
