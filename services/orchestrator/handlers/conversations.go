// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/middleware"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryPage = 50
	maxHistoryPage     = 200
)

// ConversationHandler serves the read-only conversation and usage
// endpoints.
type ConversationHandler struct {
	store   conversation.Store
	usage   conversation.UsageStore
	access  AccessChecker
	opts    extensions.ServiceOptions
	metrics *observability.ChatMetrics
	now     func() time.Time
}

func NewConversationHandler(store conversation.Store, usage conversation.UsageStore, access AccessChecker,
	opts extensions.ServiceOptions, metrics *observability.ChatMetrics) *ConversationHandler {

	return &ConversationHandler{
		store:   store,
		usage:   usage,
		access:  access,
		opts:    opts.WithDefaults(),
		metrics: metrics,
		now:     time.Now,
	}
}

// GetMessages serves GET /v1/conversations/:id/messages?limit=N. Only the
// conversation's owner can read it; anyone else gets 404.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	user := middleware.GetAuthInfo(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(observability.ErrorCodeUnauthorized)})
		return
	}

	limit := defaultHistoryPage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   string(observability.ErrorCodeValidation),
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxHistoryPage)
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	conv, err := h.store.GetConversation(ctx, id)
	if errors.Is(err, conversation.ErrConversationNotFound) || (err == nil && conv.UserID != user.UserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "conversation not found"})
		return
	}
	if err != nil {
		slog.Error("failed to load conversation", "conversation_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(observability.ErrorCodeInternal)})
		return
	}

	messages, err := h.store.RecentMessages(ctx, id, limit)
	if err != nil {
		slog.Error("failed to load messages", "conversation_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(observability.ErrorCodeInternal)})
		return
	}
	if messages == nil {
		messages = []datatypes.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
}

// GetUsageToday serves GET /v1/usage/today?space_id=S with the caller's
// counters for the current UTC day and the budget that applies.
func (h *ConversationHandler) GetUsageToday(c *gin.Context) {
	user := middleware.GetAuthInfo(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(observability.ErrorCodeUnauthorized)})
		return
	}
	spaceID := c.Query("space_id")
	if spaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(observability.ErrorCodeValidation),
			"message": "space_id is required",
		})
		return
	}

	ctx := c.Request.Context()
	if rej := authorizeSpace(ctx, h.opts, h.metrics, user, "read", spaceID); rej != nil {
		c.JSON(rej.status, rej.body())
		return
	}

	// The reported budget answers whether a new conversation may start.
	decision, err := h.access.CheckAccess(ctx, user.UserID, spaceID, true)
	if err != nil {
		slog.Error("failed to evaluate budget", "space_id", spaceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(observability.ErrorCodeInternal)})
		return
	}
	record, err := h.usage.GetUsage(ctx, user.UserID, spaceID, datatypes.UsageDay(h.now()))
	if err != nil {
		slog.Error("failed to read usage", "space_id", spaceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(observability.ErrorCodeInternal)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": record, "budget": decision})
}
