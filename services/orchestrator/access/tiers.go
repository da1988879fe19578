// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access gates a chat turn before any model work is done. It holds
// two independent checks: the daily budget, evaluated against the caller's
// UsageRecord, and a short-horizon request rate limit that absorbs bursts.
package access

import (
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

// DefaultRateWindow is the sliding window for per-user request limits.
const DefaultRateWindow = time.Minute

// TierLimits are the allowances attached to one subscription tier.
type TierLimits struct {
	conversation.BudgetLimits `mapstructure:",squash"`

	// RequestsPerWindow is the number of chat requests allowed per RateWindow.
	RequestsPerWindow int `mapstructure:"requests_per_window"`
}

// TierTable maps each tier to its limits.
type TierTable map[datatypes.Tier]TierLimits

// DefaultTierTable returns the built-in allowances. Zero budget fields mean
// unlimited.
func DefaultTierTable() TierTable {
	return TierTable{
		datatypes.TierFree: {
			BudgetLimits:      conversation.BudgetLimits{DailyTokens: 50_000, DailyConversations: 20},
			RequestsPerWindow: 10,
		},
		datatypes.TierPlus: {
			BudgetLimits:      conversation.BudgetLimits{DailyTokens: 250_000, DailyConversations: 100},
			RequestsPerWindow: 30,
		},
		datatypes.TierFamily: {
			BudgetLimits:      conversation.BudgetLimits{DailyTokens: 500_000},
			RequestsPerWindow: 60,
		},
	}
}

// For returns the limits for tier, falling back to the free tier for
// unknown or empty values.
func (t TierTable) For(tier datatypes.Tier) TierLimits {
	if l, ok := t[tier]; ok {
		return l
	}
	if l, ok := t[datatypes.TierFree]; ok {
		return l
	}
	return DefaultTierTable()[datatypes.TierFree]
}

// NormalizeTier maps unknown values to the free tier.
func NormalizeTier(tier datatypes.Tier) datatypes.Tier {
	switch tier {
	case datatypes.TierFree, datatypes.TierPlus, datatypes.TierFamily:
		return tier
	default:
		return datatypes.TierFree
	}
}
