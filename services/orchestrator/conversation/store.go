// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation provides durable conversation history, per-day
// usage accounting and the pending-confirmation ledger.
//
// # Description
//
// Conversations and messages live in the relational store. Usage counters
// are additive increments keyed by (user, space, UTC day) so concurrent
// turns never lose updates. Pending actions record tool calls that halted a
// turn until the user confirms them.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrPendingActionNotFound = errors.New("pending action not found")
	// ErrAlreadyResolved is returned by Claim for a call that was already
	// claimed or resolved. The returned action carries the stored result,
	// if any.
	ErrAlreadyResolved = errors.New("pending action already resolved")
)

// Store persists conversations and their messages.
type Store interface {
	CreateConversation(ctx context.Context, userID, spaceID, title string) (datatypes.Conversation, error)
	// GetConversation returns ErrConversationNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (datatypes.Conversation, error)
	// AddMessage appends msg, assigning ID and CreatedAt when empty, and
	// bumps the conversation's UpdatedAt. The conversation must exist.
	AddMessage(ctx context.Context, msg datatypes.Message) (datatypes.Message, error)
	// RecentMessages returns up to limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error)
}

// UsageStore holds the additive usage counters.
type UsageStore interface {
	// RecordUsage adds delta to the (user, space, day) record, creating it
	// when absent. Increments are never lost under concurrency.
	RecordUsage(ctx context.Context, delta datatypes.UsageDelta) error
	// GetUsage returns the record for day, or a zero record.
	GetUsage(ctx context.Context, userID, spaceID, day string) (datatypes.UsageRecord, error)
}

// BudgetLimits are the daily allowances of a tier. Zero means unlimited.
type BudgetLimits struct {
	DailyTokens        int64 `mapstructure:"daily_tokens"`
	DailyConversations int64 `mapstructure:"daily_conversations"`
}

// CheckBudget evaluates today's usage against limits.
//
// # Description
//
// The check is soft: two turns that start together may both pass and
// finish slightly over budget. ResetAt is always the next UTC midnight.
// The conversation allowance only applies when newConversation is true;
// continuing a thread or resuming a confirmation opens nothing.
//
// # Outputs
//
//   - BudgetDecision: Allowed=false with a user-facing Reason when exhausted.
//   - error: Non-nil only when usage could not be read.
func CheckBudget(ctx context.Context, usage UsageStore, userID, spaceID string, tier datatypes.Tier,
	limits BudgetLimits, newConversation bool, now time.Time) (datatypes.BudgetDecision, error) {

	record, err := usage.GetUsage(ctx, userID, spaceID, datatypes.UsageDay(now))
	if err != nil {
		return datatypes.BudgetDecision{}, fmt.Errorf("read usage: %w", err)
	}
	decision := datatypes.BudgetDecision{
		Allowed:    true,
		Tier:       tier,
		ResetAt:    datatypes.NextUTCMidnight(now),
		TokensUsed: record.TotalTokens(),
		TokenLimit: limits.DailyTokens,
	}
	switch {
	case limits.DailyTokens > 0 && record.TotalTokens() >= limits.DailyTokens:
		decision.Allowed = false
		decision.Reason = "You've reached today's assistant usage limit for your plan."
	case newConversation && limits.DailyConversations > 0 && record.Conversations >= limits.DailyConversations:
		decision.Allowed = false
		decision.Reason = "You've reached today's conversation limit for your plan."
	}
	return decision, nil
}
