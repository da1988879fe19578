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
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/AleutianAI/hearth/services/orchestrator/spacecontext"
	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Client-facing stream error messages. Internals are only logged.
const (
	msgConversationUnavailable = "We couldn't open this conversation. Please try again."
	msgModelUnavailable        = "The assistant is unavailable right now. Please try again."
	msgTimeout                 = "The response took too long. Please try again."
	msgToolLimit               = "This request needed too many steps. Please break it into smaller requests."
	msgToolFault               = "Something went wrong while carrying out that action. Please try again."
	msgPendingSaveFailed       = "We couldn't hold that action for your confirmation. Please try again."
	msgNotAwaiting             = "That action is no longer waiting for confirmation."
	msgRejected                = "Cancelled"
)

var (
	// errHalt stops the model stream at a tool call that needs approval.
	errHalt = errors.New("halt for confirmation")
	// errClientGone stops the model stream once the consumer has left.
	errClientGone = errors.New("client disconnected")
)

// turnState is the mutable state of one turn. It is owned by the turn's
// goroutine.
type turnState struct {
	o         *Orchestrator
	in        TurnInput
	clientCtx context.Context
	turn      *Turn
	logger    *slog.Logger
	started   time.Time

	conv            datatypes.Conversation
	convReady       bool
	newConversation bool

	// text is the assistant text streamed this turn. The advisory is not
	// part of it.
	text    strings.Builder
	calls   []datatypes.ToolCall
	results []datatypes.ToolResult
	// resolved maps tool call ids already executed or rejected this turn.
	resolved map[string]datatypes.ToolResult

	toolCalls    int
	executed     int
	inputTokens  int64
	outputTokens int64

	status    datatypes.TurnStatus
	errorCode observability.ErrorCode
	cancelled bool
}

func (o *Orchestrator) run(ctx context.Context, in TurnInput, turn *Turn) {
	s := &turnState{
		o:         o,
		in:        in,
		clientCtx: ctx,
		turn:      turn,
		logger:    slog.With("user_id", in.UserID, "space_id", in.SpaceID),
		started:   o.now(),
		resolved:  make(map[string]datatypes.ToolResult),
		status:    datatypes.TurnFailed,
	}

	spanCtx, span := tracer.Start(ctx, "chat.Turn")
	genCtx, cancel := context.WithTimeout(spanCtx, o.cfg.TurnTimeout)

	s.execute(genCtx)

	cancel()
	if s.cancelled {
		s.status = datatypes.TurnCancelled
		s.errorCode = observability.ErrorCodeClientDisconnect
	}
	span.SetAttributes(
		attribute.String("conversation_id", s.conv.ID),
		attribute.String("status", string(s.status)),
		attribute.Int("tool_calls", s.toolCalls))
	span.End()

	turn.outcome = Outcome{
		ConversationID: s.conv.ID,
		Status:         s.status,
		ErrorCode:      s.errorCode,
		InputTokens:    s.inputTokens,
		OutputTokens:   s.outputTokens,
		ToolCalls:      s.toolCalls,
	}
	if s.convReady {
		o.persistAsync(context.WithoutCancel(spanCtx), s.snapshot())
	}
	close(turn.events)
	close(turn.finished)
}

// emit hands ev to the consumer. It returns false, and emits nothing more
// for the rest of the turn, once the client has gone.
func (s *turnState) emit(ev datatypes.StreamEvent) bool {
	if s.cancelled {
		return false
	}
	if s.clientCtx.Err() != nil {
		s.cancelled = true
		return false
	}
	select {
	case s.turn.events <- ev:
		return true
	case <-s.clientCtx.Done():
		s.cancelled = true
		return false
	}
}

// fail emits the terminal error/done pair.
func (s *turnState) fail(message string, retryable bool, code observability.ErrorCode) {
	s.status = datatypes.TurnFailed
	s.errorCode = code
	if s.emit(datatypes.ErrorEvent(message, retryable)) {
		s.emit(datatypes.DoneEvent())
	}
}

func (s *turnState) finish(status datatypes.TurnStatus) {
	s.status = status
	s.emit(datatypes.DoneEvent())
}

func (s *turnState) execute(ctx context.Context) {
	if !s.resolveConversation(ctx) {
		// The caller still gets an id first, even though nothing was stored.
		if s.emit(datatypes.ConversationIDEvent(uuid.NewString())) {
			s.fail(msgConversationUnavailable, true, observability.ErrorCodeInternal)
		}
		return
	}
	s.logger = s.logger.With("conversation_id", s.conv.ID)

	if !s.emit(datatypes.ConversationIDEvent(s.conv.ID)) {
		return
	}
	if s.in.Advisory != "" && !s.emit(datatypes.TextEvent(s.in.Advisory+"\n\n")) {
		return
	}

	redacted := spacecontext.Redact(s.in.SpaceContext, s.o.deps.Redactor)
	if redacted.UserName == "" {
		redacted.UserName = s.in.UserName
	}
	messages := []datatypes.Message{{
		Role:    datatypes.RoleSystem,
		Content: SystemPrompt(redacted, s.o.now()),
	}}
	messages = append(messages, s.loadHistory(ctx)...)

	if s.in.ConfirmAction != nil {
		resumed, ok := s.resume(ctx)
		if !ok {
			return
		}
		messages = append(messages, resumed)
	} else {
		messages = append(messages, datatypes.Message{
			Role:           datatypes.RoleUser,
			ConversationID: s.conv.ID,
			Content:        s.in.Message,
		})
	}

	s.generate(ctx, messages)
}

// resolveConversation loads the requested conversation when the caller owns
// it in this space, and otherwise starts a new one.
func (s *turnState) resolveConversation(ctx context.Context) bool {
	store := s.o.deps.Conversations
	if id := s.in.ConversationID; id != "" && id != datatypes.NewConversationID {
		conv, err := store.GetConversation(ctx, id)
		switch {
		case err == nil && conv.UserID == s.in.UserID && conv.SpaceID == s.in.SpaceID:
			s.conv = conv
			s.convReady = true
			return true
		case err == nil:
			s.logger.Warn("conversation belongs to another user or space, starting a new one",
				"requested_conversation_id", id)
		case errors.Is(err, conversation.ErrConversationNotFound):
			s.logger.Info("unknown conversation id, starting a new one", "requested_conversation_id", id)
		default:
			s.logger.Error("failed to load conversation", "error", err)
			return false
		}
	}

	conv, err := store.CreateConversation(ctx, s.in.UserID, s.in.SpaceID, conversationTitle(s.in.Message))
	if err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		return false
	}
	s.conv = conv
	s.convReady = true
	s.newConversation = true
	return true
}

func (s *turnState) loadHistory(ctx context.Context) []datatypes.Message {
	if s.newConversation {
		return nil
	}
	history, err := s.o.deps.Conversations.RecentMessages(ctx, s.conv.ID, s.o.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("conversation history unavailable", "error", err)
		return nil
	}
	return history
}

// resume settles the pending action named by the confirmation. It returns
// the assistant message carrying the call and its result, or false when
// the turn has already ended.
func (s *turnState) resume(ctx context.Context) (datatypes.Message, bool) {
	confirm := s.in.ConfirmAction
	persistCtx := context.WithoutCancel(ctx)
	metrics := s.o.deps.Metrics

	action, err := s.o.deps.Pending.Claim(persistCtx, s.conv.ID, confirm.ToolCallID)
	switch {
	case errors.Is(err, conversation.ErrAlreadyResolved):
		// Already executed or rejected: replay, never run again.
		metrics.RecordConfirmation("replayed")
		if action.Result != nil && action.UserID == s.in.UserID {
			if !s.emit(datatypes.ResultEvent(*action.Result)) {
				return datatypes.Message{}, false
			}
		}
		s.finish(datatypes.TurnCompleted)
		return datatypes.Message{}, false
	case errors.Is(err, conversation.ErrPendingActionNotFound):
		s.fail(msgNotAwaiting, false, observability.ErrorCodeValidation)
		return datatypes.Message{}, false
	case err != nil:
		s.logger.Error("failed to claim pending action", "tool_call_id", confirm.ToolCallID, "error", err)
		s.fail(msgToolFault, true, observability.ErrorCodeInternal)
		return datatypes.Message{}, false
	}
	if action.UserID != s.in.UserID {
		s.fail(msgNotAwaiting, false, observability.ErrorCodeValidation)
		return datatypes.Message{}, false
	}

	call := action.ToolCall
	s.toolCalls++

	var result datatypes.ToolResult
	if confirm.Approved {
		metrics.RecordConfirmation("approved")
		result, err = s.o.deps.Tools.Execute(persistCtx, call, s.execContext())
		if err != nil {
			s.logger.Error("confirmed tool could not run", "tool", call.ToolName, "error", err)
			result = datatypes.ToolResult{ID: call.ID, ToolName: call.ToolName, Message: "The action could not be completed."}
			s.resolvePending(persistCtx, call, result)
			s.fail(msgToolFault, true, observability.ErrorCodeInternal)
			return datatypes.Message{}, false
		}
		s.executed++
	} else {
		metrics.RecordConfirmation("rejected")
		metrics.RecordToolExecution(call.ToolName, "rejected")
		result = datatypes.ToolResult{ID: call.ID, ToolName: call.ToolName, Success: false, Message: msgRejected}
	}

	s.resolvePending(persistCtx, call, result)
	s.record(call, result)

	if !s.emit(datatypes.ResultEvent(result)) {
		return datatypes.Message{}, false
	}
	return datatypes.Message{
		Role:           datatypes.RoleAssistant,
		ConversationID: s.conv.ID,
		ToolCalls:      []datatypes.ToolCall{call},
		ToolResults:    []datatypes.ToolResult{result},
	}, true
}

func (s *turnState) resolvePending(ctx context.Context, call datatypes.ToolCall, result datatypes.ToolResult) {
	if err := s.o.deps.Pending.Resolve(ctx, s.conv.ID, call.ID, result); err != nil {
		s.logger.Error("failed to store pending action result", "tool_call_id", call.ID, "error", err)
	}
}

func (s *turnState) record(call datatypes.ToolCall, result datatypes.ToolResult) {
	s.resolved[call.ID] = result
	s.calls = append(s.calls, call)
	s.results = append(s.results, result)
}

func (s *turnState) execContext() tools.ExecContext {
	return tools.ExecContext{
		UserID:         s.in.UserID,
		SpaceID:        s.in.SpaceID,
		ConversationID: s.conv.ID,
		Timezone:       s.in.SpaceContext.Timezone,
	}
}

// generate runs model passes until the model finishes without calling a
// tool, a tool halts the turn, or something fails.
func (s *turnState) generate(ctx context.Context, messages []datatypes.Message) {
	temperature := s.o.cfg.Temperature
	maxTokens := s.o.cfg.MaxTokens
	params := llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Tools:       s.o.deps.Tools.Specs(),
	}

	for {
		var (
			passText  strings.Builder
			passCalls []datatypes.ToolCall
			usage     *llm.Usage
		)
		err := s.o.deps.Model.ChatStream(ctx, messages, params, func(ev llm.StreamEvent) error {
			switch ev.Type {
			case llm.StreamEventToken:
				if ev.Content == "" {
					return nil
				}
				if !s.emit(datatypes.TextEvent(ev.Content)) {
					return errClientGone
				}
				passText.WriteString(ev.Content)
				s.text.WriteString(ev.Content)
			case llm.StreamEventToolCall:
				if ev.ToolCall == nil {
					return nil
				}
				call := *ev.ToolCall
				if call.ID == "" {
					call.ID = "call_" + ulid.Make().String()
				}
				passCalls = append(passCalls, call)
				if confirm, err := s.o.deps.Tools.RequiresConfirmation(call.ToolName); err == nil && confirm {
					return errHalt
				}
			case llm.StreamEventDone:
				usage = ev.Usage
			}
			return nil
		})
		s.addUsage(usage, messages, passText.String())

		if err != nil && !errors.Is(err, errHalt) {
			s.streamFailed(ctx, err)
			return
		}
		if s.cancelled {
			return
		}
		if len(passCalls) == 0 {
			s.finish(datatypes.TurnCompleted)
			return
		}

		assistant := datatypes.Message{
			Role:           datatypes.RoleAssistant,
			ConversationID: s.conv.ID,
			Content:        passText.String(),
		}
		for _, call := range passCalls {
			result, ok := s.runTool(ctx, call)
			if !ok {
				return
			}
			assistant.ToolCalls = append(assistant.ToolCalls, call)
			assistant.ToolResults = append(assistant.ToolResults, result)
		}
		messages = append(messages, assistant)
	}
}

func (s *turnState) addUsage(usage *llm.Usage, messages []datatypes.Message, output string) {
	if usage != nil && (usage.InputTokens > 0 || usage.OutputTokens > 0) {
		s.inputTokens += int64(usage.InputTokens)
		s.outputTokens += int64(usage.OutputTokens)
		return
	}
	s.inputTokens += int64(llm.EstimateMessagesTokens(messages))
	s.outputTokens += int64(llm.EstimateTokens(output))
}

// runTool handles one tool call from the model. It returns false when the
// turn has ended: halted for confirmation, over the ceiling, failed or
// abandoned by the client.
func (s *turnState) runTool(ctx context.Context, call datatypes.ToolCall) (datatypes.ToolResult, bool) {
	if prior, ok := s.resolved[call.ID]; ok {
		return prior, true
	}

	if s.toolCalls >= s.o.cfg.MaxToolCalls {
		s.logger.Warn("tool call ceiling reached", "limit", s.o.cfg.MaxToolCalls, "tool", call.ToolName)
		s.fail(msgToolLimit, false, observability.ErrorCodeToolLimit)
		return datatypes.ToolResult{}, false
	}
	s.toolCalls++

	confirm, err := s.o.deps.Tools.RequiresConfirmation(call.ToolName)
	if err != nil {
		s.logger.Error("model called an unregistered tool", "tool", call.ToolName)
		s.fail(msgToolFault, true, observability.ErrorCodeInternal)
		return datatypes.ToolResult{}, false
	}

	if confirm {
		s.halt(ctx, call)
		return datatypes.ToolResult{}, false
	}

	// Nothing new starts once the client has gone.
	if s.clientCtx.Err() != nil {
		s.cancelled = true
		return datatypes.ToolResult{}, false
	}
	if !s.emit(datatypes.ToolCallEvent(call)) {
		return datatypes.ToolResult{}, false
	}

	// A started tool runs to completion even if the client leaves.
	result, err := s.o.deps.Tools.Execute(context.WithoutCancel(ctx), call, s.execContext())
	if err != nil {
		s.logger.Error("tool execution fault", "tool", call.ToolName, "error", err)
		s.fail(msgToolFault, true, observability.ErrorCodeInternal)
		return datatypes.ToolResult{}, false
	}
	s.executed++
	s.record(call, result)

	if !s.emit(datatypes.ResultEvent(result)) {
		return datatypes.ToolResult{}, false
	}
	return result, true
}

// halt parks call for approval and ends the turn.
func (s *turnState) halt(ctx context.Context, call datatypes.ToolCall) {
	if !s.emit(datatypes.ToolCallEvent(call)) {
		// The client never saw the call, so there is nothing to confirm.
		return
	}
	action := conversation.PendingAction{
		ConversationID: s.conv.ID,
		UserID:         s.in.UserID,
		SpaceID:        s.in.SpaceID,
		ToolCall:       call,
		UserMessage:    s.in.Message,
		AssistantText:  s.text.String(),
	}
	if err := s.o.deps.Pending.Put(context.WithoutCancel(ctx), action); err != nil {
		s.logger.Error("failed to store pending action", "tool_call_id", call.ID, "error", err)
		s.fail(msgPendingSaveFailed, true, observability.ErrorCodeInternal)
		return
	}
	s.calls = append(s.calls, call)
	s.logger.Info("turn awaiting confirmation", "tool", call.ToolName, "tool_call_id", call.ID)
	s.finish(datatypes.TurnAwaitingConfirmation)
}

func (s *turnState) streamFailed(ctx context.Context, err error) {
	switch {
	case s.cancelled || errors.Is(err, errClientGone) || s.clientCtx.Err() != nil:
		s.cancelled = true
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Warn("turn exceeded its time budget", "timeout", s.o.cfg.TurnTimeout)
		s.fail(msgTimeout, true, observability.ErrorCodeTimeout)
	default:
		s.logger.Error("model stream failed", "model", s.o.deps.Model.ModelName(), "error", err)
		s.fail(msgModelUnavailable, true, observability.ErrorCodeLLMError)
	}
}
