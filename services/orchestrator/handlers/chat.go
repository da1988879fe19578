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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/services/orchestrator/access"
	"github.com/AleutianAI/hearth/services/orchestrator/chat"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/middleware"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/AleutianAI/hearth/services/orchestrator/spacecontext"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHeartbeatInterval is how often an idle stream gets a keepalive.
const DefaultHeartbeatInterval = 15 * time.Second

// TurnProcessor runs chat turns.
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, in chat.TurnInput) *chat.Turn
}

// AccessChecker gates turns on budget and request rate.
type AccessChecker interface {
	CheckAccess(ctx context.Context, userID, spaceID string, newConversation bool) (datatypes.BudgetDecision, error)
	CheckRate(ctx context.Context, userID string, tier datatypes.Tier) (access.RateDecision, error)
}

// ConversationLookup resolves conversation ids to their owners.
type ConversationLookup interface {
	GetConversation(ctx context.Context, id string) (datatypes.Conversation, error)
}

// ContextBuilder snapshots a household space for a turn.
type ContextBuilder interface {
	Build(ctx context.Context, spaceID string, user spacecontext.User) datatypes.SpaceContext
}

// ChatDependencies are the collaborators of ChatHandler. Metrics is
// optional; Options is completed with Nop defaults.
type ChatDependencies struct {
	Orchestrator TurnProcessor
	Access       AccessChecker
	Context      ContextBuilder
	Options      extensions.ServiceOptions
	Metrics      *observability.ChatMetrics

	// Conversations lets the conversation allowance see ids that will be
	// replaced by a new conversation. Without it only "new" counts.
	Conversations ConversationLookup

	// Heartbeat defaults to DefaultHeartbeatInterval.
	Heartbeat time.Duration

	// AllowedOrigins lists browser origins accepted for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedOrigins []string
}

// ChatHandler serves the chat endpoints over SSE and WebSocket.
type ChatHandler struct {
	orchestrator TurnProcessor
	access       AccessChecker
	builder      ContextBuilder
	convs        ConversationLookup
	opts         extensions.ServiceOptions
	metrics      *observability.ChatMetrics
	heartbeat    time.Duration
	origins      map[string]bool
	tracer       trace.Tracer
}

func NewChatHandler(deps ChatDependencies) (*ChatHandler, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("handlers: orchestrator is required")
	case deps.Access == nil:
		return nil, errors.New("handlers: access checker is required")
	case deps.Context == nil:
		return nil, errors.New("handlers: context builder is required")
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	origins := make(map[string]bool, len(deps.AllowedOrigins))
	for _, o := range deps.AllowedOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}
	return &ChatHandler{
		orchestrator: deps.Orchestrator,
		access:       deps.Access,
		builder:      deps.Context,
		convs:        deps.Conversations,
		opts:         deps.Options.WithDefaults(),
		metrics:      deps.Metrics,
		heartbeat:    heartbeat,
		origins:      origins,
		tracer:       otel.Tracer("hearth.handlers.chat"),
	}, nil
}

// rejection is a pre-stream refusal. Nothing has been streamed yet, so it
// becomes an ordinary HTTP error.
type rejection struct {
	status     int
	code       observability.ErrorCode
	message    string
	retryAfter int
	extra      gin.H
}

func (r *rejection) body() gin.H {
	body := gin.H{"error": string(r.code), "message": r.message}
	for k, v := range r.extra {
		body[k] = v
	}
	return body
}

func reject(status int, code observability.ErrorCode, message string) *rejection {
	return &rejection{status: status, code: code, message: message}
}

// HandleChatStream answers POST /v1/chat with an SSE stream.
//
// # Description
//
// The request passes validation (400), workspace authorization (403), the
// burst rate limit (429 rate_limited with Retry-After), the daily budget
// (429 daily_limit_reached with reset_at) and the input sanitizer (422)
// before anything is streamed. The space context is then built and the
// turn is streamed record by record, each flushed as it is produced. A
// keepalive comment is written while the turn is idle.
//
// When the client disconnects the turn is cancelled; it still persists.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointSSE

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	user := middleware.GetAuthInfo(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(observability.ErrorCodeUnauthorized)})
		return
	}
	span.SetAttributes(attribute.String("user.id", user.UserID))

	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(observability.ErrorCodeValidation),
			"message": "invalid request body",
		})
		return
	}

	input, rej := h.preflight(ctx, user, &req, endpoint)
	if rej != nil {
		span.SetStatus(codes.Error, string(rej.code))
		if rej.retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(rej.retryAfter))
		}
		c.JSON(rej.status, rej.body())
		return
	}

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(observability.ErrorCodeInternal)})
		return
	}
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	heartbeatStopped := make(chan struct{})
	go func() {
		defer close(heartbeatStopped)
		h.runHeartbeat(turnCtx, writer, endpoint, heartbeatDone)
	}()

	turn := h.orchestrator.ProcessMessage(turnCtx, input)
	var firstText time.Time
	for ev := range turn.Events() {
		if ev.Type == datatypes.StreamEventText && firstText.IsZero() {
			firstText = time.Now()
			h.metrics.RecordTimeToFirstText(endpoint, firstText.Sub(startTime).Seconds())
		}
		if err := writer.WriteEvent(ev); err != nil {
			slog.Info("stream write failed, cancelling turn", "user_id", user.UserID, "error", err)
			cancel()
			break
		}
	}
	close(heartbeatDone)
	<-heartbeatStopped

	outcome := turn.Outcome()
	h.finishTurn(ctx, span, user, input, outcome, endpoint, startTime)
}

// preflight runs every gate that may refuse a turn and builds its input.
func (h *ChatHandler) preflight(ctx context.Context, user *extensions.AuthInfo, req *datatypes.ChatRequest,
	endpoint observability.Endpoint) (chat.TurnInput, *rejection) {

	rej := h.gate(ctx, user, req)
	if rej != nil {
		h.metrics.RecordError(endpoint, rej.code)
		return chat.TurnInput{}, rej
	}

	input := chat.TurnInput{
		UserID:         user.UserID,
		SpaceID:        req.SpaceID,
		UserName:       user.DisplayName,
		ConversationID: req.ConversationID,
		ConfirmAction:  req.ConfirmAction,
		VoiceSeconds:   req.VoiceSeconds,
		Source:         usageSource(endpoint),
	}

	if strings.TrimSpace(req.Message) != "" {
		filtered, err := h.opts.MessageFilter.FilterInput(ctx, user.UserID, req.Message)
		if err != nil {
			slog.Error("message filter failed", "user_id", user.UserID, "error", err)
			h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
			return chat.TurnInput{}, reject(http.StatusInternalServerError, observability.ErrorCodeInternal,
				"Your message could not be processed. Please try again.")
		}
		if filtered.Blocked {
			h.audit(ctx, extensions.AuditEvent{
				EventType:    extensions.EventChatBlocked,
				UserID:       user.UserID,
				Action:       "chat",
				ResourceType: access.ResourceSpace,
				ResourceID:   req.SpaceID,
				Outcome:      "blocked",
				Metadata:     map[string]any{"categories": filtered.Categories},
			})
			h.metrics.RecordError(endpoint, observability.ErrorCodeSafetyBlocked)
			rej := reject(http.StatusUnprocessableEntity, observability.ErrorCodeSafetyBlocked, filtered.Reason)
			rej.extra = gin.H{"reason": filtered.Reason}
			return chat.TurnInput{}, rej
		}
		input.Message = filtered.Text
		input.Advisory = filtered.Advisory
	}

	input.SpaceContext = h.builder.Build(ctx, req.SpaceID, spacecontext.User{
		ID:          user.UserID,
		DisplayName: user.DisplayName,
	})
	return input, nil
}

// gate applies validation, authorization, budget and rate in that order.
// A request refused for its budget does not use up a rate slot.
func (h *ChatHandler) gate(ctx context.Context, user *extensions.AuthInfo, req *datatypes.ChatRequest) *rejection {
	if err := req.Validate(); err != nil {
		return reject(http.StatusBadRequest, observability.ErrorCodeValidation, validationMessage(err))
	}

	if rej := h.authorize(ctx, user, "chat", req.SpaceID); rej != nil {
		return rej
	}

	decision, err := h.access.CheckAccess(ctx, user.UserID, req.SpaceID, h.startsConversation(ctx, user, req))
	if err != nil {
		if errors.Is(err, access.ErrSpaceNotFound) {
			return reject(http.StatusForbidden, observability.ErrorCodeForbidden, "You don't have access to this space.")
		}
		slog.Error("budget check failed", "user_id", user.UserID, "space_id", req.SpaceID, "error", err)
		return reject(http.StatusInternalServerError, observability.ErrorCodeInternal,
			"We couldn't check your usage right now. Please try again.")
	}

	if !decision.Allowed {
		h.metrics.RecordAccessDenial(observability.ErrorCodeBudgetExceeded)
		rej := reject(http.StatusTooManyRequests, observability.ErrorCodeBudgetExceeded, decision.Reason)
		rej.extra = gin.H{"reset_at": decision.ResetAt, "tier": decision.Tier}
		return rej
	}

	rate, err := h.access.CheckRate(ctx, user.UserID, decision.Tier)
	if err != nil {
		slog.Warn("rate check failed, allowing request", "user_id", user.UserID, "error", err)
		rate = access.RateDecision{Allowed: true}
	}
	if !rate.Allowed {
		h.metrics.RecordAccessDenial(observability.ErrorCodeRateLimited)
		rej := reject(http.StatusTooManyRequests, observability.ErrorCodeRateLimited,
			"You're sending messages too quickly. Please wait a moment.")
		rej.retryAfter = access.RetryAfterSeconds(rate.RetryAfter)
		rej.extra = gin.H{"retry_after": rej.retryAfter}
		return rej
	}
	return nil
}

// startsConversation reports whether req will open a conversation. Ids
// that are unknown or belong to someone else are replaced by a new one.
// A confirmation resume never opens one.
func (h *ChatHandler) startsConversation(ctx context.Context, user *extensions.AuthInfo, req *datatypes.ChatRequest) bool {
	if req.IsNewConversation() {
		return true
	}
	if req.ConfirmAction != nil || h.convs == nil {
		return false
	}
	conv, err := h.convs.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return errors.Is(err, conversation.ErrConversationNotFound)
	}
	return conv.UserID != user.UserID || conv.SpaceID != req.SpaceID
}

// authorize checks that user may act on spaceID and audits denials.
func (h *ChatHandler) authorize(ctx context.Context, user *extensions.AuthInfo, action, spaceID string) *rejection {
	return authorizeSpace(ctx, h.opts, h.metrics, user, action, spaceID)
}

func authorizeSpace(ctx context.Context, opts extensions.ServiceOptions, metrics *observability.ChatMetrics,
	user *extensions.AuthInfo, action, spaceID string) *rejection {

	err := opts.AuthzProvider.Authorize(ctx, extensions.AuthzRequest{
		User:         user,
		Action:       action,
		ResourceType: access.ResourceSpace,
		ResourceID:   spaceID,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, extensions.ErrUnauthorized) {
		slog.Error("authorization check failed", "user_id", user.UserID, "space_id", spaceID, "error", err)
		return reject(http.StatusInternalServerError, observability.ErrorCodeInternal,
			"We couldn't verify your access right now. Please try again.")
	}
	audit(ctx, opts.AuditLogger, extensions.AuditEvent{
		EventType:    extensions.EventAuthzDenied,
		UserID:       user.UserID,
		Action:       action,
		ResourceType: access.ResourceSpace,
		ResourceID:   spaceID,
		Outcome:      "denied",
	})
	metrics.RecordAccessDenial(observability.ErrorCodeForbidden)
	return reject(http.StatusForbidden, observability.ErrorCodeForbidden, "You don't have access to this space.")
}

// finishTurn records metrics and the audit trail once a turn has stopped
// emitting.
func (h *ChatHandler) finishTurn(ctx context.Context, span trace.Span, user *extensions.AuthInfo,
	input chat.TurnInput, outcome chat.Outcome, endpoint observability.Endpoint, startTime time.Time) {

	success := outcome.Status == datatypes.TurnCompleted || outcome.Status == datatypes.TurnAwaitingConfirmation
	duration := time.Since(startTime).Seconds()

	h.metrics.RecordTurn(endpoint, success)
	h.metrics.RecordStreamDuration(endpoint, duration, success)
	if outcome.ErrorCode != "" {
		h.metrics.RecordError(endpoint, outcome.ErrorCode)
	}
	if outcome.Status == datatypes.TurnCancelled {
		h.metrics.RecordClientDisconnect(endpoint)
	}

	span.SetAttributes(
		attribute.String("conversation.id", outcome.ConversationID),
		attribute.String("turn.status", string(outcome.Status)),
		attribute.Int("turn.tool_calls", outcome.ToolCalls))
	if success {
		span.SetStatus(codes.Ok, "turn finished")
	} else {
		span.SetStatus(codes.Error, string(outcome.ErrorCode))
	}

	if input.ConfirmAction != nil {
		h.audit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventConfirmAction,
			UserID:       user.UserID,
			Action:       "confirm",
			ResourceType: "tool_call",
			ResourceID:   input.ConfirmAction.ToolCallID,
			Outcome:      fmt.Sprintf("approved=%t", input.ConfirmAction.Approved),
		})
	}
	if outcome.ToolCalls > 0 {
		h.audit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventToolExecuted,
			UserID:       user.UserID,
			Action:       "execute",
			ResourceType: "conversation",
			ResourceID:   outcome.ConversationID,
			Outcome:      string(outcome.Status),
			Metadata:     map[string]any{"tool_calls": outcome.ToolCalls},
		})
	}
	h.audit(ctx, extensions.AuditEvent{
		EventType:    extensions.EventChatStream,
		UserID:       user.UserID,
		Action:       "chat",
		ResourceType: "conversation",
		ResourceID:   outcome.ConversationID,
		Outcome:      string(outcome.Status),
		Metadata: map[string]any{
			"endpoint":      string(endpoint),
			"space_id":      input.SpaceID,
			"error_code":    string(outcome.ErrorCode),
			"input_tokens":  outcome.InputTokens,
			"output_tokens": outcome.OutputTokens,
			"duration_ms":   time.Since(startTime).Milliseconds(),
		},
	})
}

func (h *ChatHandler) audit(ctx context.Context, event extensions.AuditEvent) {
	audit(ctx, h.opts.AuditLogger, event)
}

// audit records event without letting a logger failure affect the request.
func audit(ctx context.Context, logger extensions.AuditLogger, event extensions.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := logger.Log(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("audit log failed", "event_type", event.EventType, "error", err)
	}
}

func (h *ChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, endpoint observability.Endpoint,
	done <-chan struct{}) {

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}

func usageSource(endpoint observability.Endpoint) string {
	if endpoint == observability.EndpointWebSocket {
		return datatypes.SourceChatWebSocket
	}
	return datatypes.SourceChatSSE
}

// validationMessage turns a validation failure into a client message that
// names fields but no values.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return "invalid request: " + strings.Join(fields, ", ")
	}
	return "invalid request: " + err.Error()
}
