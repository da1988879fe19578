// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
)

// turnSnapshot is the part of a finished turn that is written afterwards.
type turnSnapshot struct {
	conversation    datatypes.Conversation
	newConversation bool
	userID          string
	spaceID         string
	userMessage     string
	assistantText   string
	calls           []datatypes.ToolCall
	results         []datatypes.ToolResult
	executed        int
	toolCalls       int
	inputTokens     int64
	outputTokens    int64
	voiceSeconds    int64
	source          string
	status          datatypes.TurnStatus
	errorCode       string
	startedAt       time.Time
	endedAt         time.Time
}

func (s *turnState) snapshot() turnSnapshot {
	return turnSnapshot{
		conversation:    s.conv,
		newConversation: s.newConversation,
		userID:          s.in.UserID,
		spaceID:         s.in.SpaceID,
		userMessage:     s.in.Message,
		assistantText:   s.text.String(),
		calls:           append([]datatypes.ToolCall(nil), s.calls...),
		results:         append([]datatypes.ToolResult(nil), s.results...),
		executed:        s.executed,
		toolCalls:       s.toolCalls,
		inputTokens:     s.inputTokens,
		outputTokens:    s.outputTokens,
		voiceSeconds:    s.in.VoiceSeconds,
		source:          s.in.Source,
		status:          s.status,
		errorCode:       string(s.errorCode),
		startedAt:       s.started,
		endedAt:         s.o.now(),
	}
}

// persistAsync writes the turn on a detached goroutine. ctx must not carry
// the request's cancellation.
func (o *Orchestrator) persistAsync(ctx context.Context, snap turnSnapshot) {
	o.persisting.Add(1)
	go func() {
		defer o.persisting.Done()
		ctx, cancel := context.WithTimeout(ctx, o.cfg.PersistTimeout)
		defer cancel()
		o.persist(ctx, snap)
	}()
}

// persist stores the user message, then the assistant message, then the
// usage increment, then publishes the turn record. Failures are logged.
func (o *Orchestrator) persist(ctx context.Context, snap turnSnapshot) {
	ctx, span := tracer.Start(ctx, "chat.Persist")
	defer span.End()

	logger := slog.With("conversation_id", snap.conversation.ID, "user_id", snap.userID)
	store := o.deps.Conversations
	var stored int64

	if snap.userMessage != "" {
		_, err := store.AddMessage(ctx, datatypes.Message{
			ConversationID: snap.conversation.ID,
			Role:           datatypes.RoleUser,
			Content:        snap.userMessage,
			InputTokens:    int64(llm.EstimateTokens(snap.userMessage)),
			CreatedAt:      snap.startedAt.UTC(),
		})
		if err != nil {
			logger.Error("failed to persist user message", "error", err)
		} else {
			stored++
		}
	}

	if snap.assistantText != "" || len(snap.calls) > 0 {
		createdAt := snap.endedAt.UTC()
		if !createdAt.After(snap.startedAt.UTC()) {
			createdAt = snap.startedAt.UTC().Add(time.Millisecond)
		}
		_, err := store.AddMessage(ctx, datatypes.Message{
			ConversationID: snap.conversation.ID,
			Role:           datatypes.RoleAssistant,
			Content:        snap.assistantText,
			ToolCalls:      snap.calls,
			ToolResults:    snap.results,
			InputTokens:    snap.inputTokens,
			OutputTokens:   snap.outputTokens,
			LatencyMs:      snap.endedAt.Sub(snap.startedAt).Milliseconds(),
			Model:          o.deps.Model.ModelName(),
			CreatedAt:      createdAt,
		})
		if err != nil {
			logger.Error("failed to persist assistant message", "error", err)
		} else {
			stored++
		}
	}

	delta := datatypes.UsageDelta{
		UserID:       snap.userID,
		SpaceID:      snap.spaceID,
		At:           snap.startedAt,
		InputTokens:  snap.inputTokens,
		OutputTokens: snap.outputTokens,
		Messages:     stored,
		ToolCalls:    int64(snap.executed),
		VoiceSeconds: snap.voiceSeconds,
		Source:       snap.source,
	}
	if snap.newConversation {
		delta.Conversations = 1
	}
	if err := o.deps.Usage.RecordUsage(ctx, delta); err != nil {
		logger.Error("failed to record usage", "error", err)
	}
	o.deps.Metrics.RecordTokens(int(snap.inputTokens), int(snap.outputTokens), o.deps.Model.ModelName())

	if o.deps.Publisher != nil {
		record := datatypes.TurnRecord{
			ConversationID: snap.conversation.ID,
			UserID:         snap.userID,
			SpaceID:        snap.spaceID,
			Status:         snap.status,
			Model:          o.deps.Model.ModelName(),
			InputTokens:    snap.inputTokens,
			OutputTokens:   snap.outputTokens,
			ToolCalls:      snap.toolCalls,
			ErrorCode:      snap.errorCode,
			StartedAt:      snap.startedAt.UTC(),
			Latency:        snap.endedAt.Sub(snap.startedAt).Seconds(),
		}
		if err := o.deps.Publisher.PublishTurn(ctx, record); err != nil {
			logger.Warn("failed to publish turn record", "error", err)
		}
	}
	logger.Debug("turn persisted", "messages", stored, "status", snap.status)
}
