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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

// pass is one scripted generation pass.
type pass func(ctx context.Context, cb llm.StreamCallback) error

// fakeModel replays scripted passes in order, then repeat (if set).
type fakeModel struct {
	mu     sync.Mutex
	passes []pass
	repeat pass
	calls  int
	seen   [][]datatypes.Message
}

func (m *fakeModel) ChatStream(ctx context.Context, messages []datatypes.Message, _ llm.GenerationParams,
	cb llm.StreamCallback) error {

	m.mu.Lock()
	i := m.calls
	m.calls++
	m.seen = append(m.seen, append([]datatypes.Message(nil), messages...))
	var p pass
	switch {
	case i < len(m.passes):
		p = m.passes[i]
	case m.repeat != nil:
		p = m.repeat
	}
	m.mu.Unlock()

	if p == nil {
		return fmt.Errorf("unexpected generation pass %d", i)
	}
	return p(ctx, cb)
}

func (m *fakeModel) ModelName() string { return "fake-model" }

func (m *fakeModel) passCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeModel) messagesOfPass(i int) []datatypes.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[i]
}

func say(chunks ...string) pass {
	return func(_ context.Context, cb llm.StreamCallback) error {
		for _, c := range chunks {
			if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: c}); err != nil {
				return err
			}
		}
		return cb(llm.StreamEvent{Type: llm.StreamEventDone, Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}})
	}
}

func callTool(id, name string, params map[string]any) pass {
	return func(_ context.Context, cb llm.StreamCallback) error {
		call := &datatypes.ToolCall{ID: id, ToolName: name, Parameters: params}
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToolCall, ToolCall: call}); err != nil {
			return err
		}
		return cb(llm.StreamEvent{Type: llm.StreamEventDone, Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}})
	}
}

func fail(err error) pass {
	return func(context.Context, llm.StreamCallback) error { return err }
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []datatypes.TurnRecord
}

func (p *recordingPublisher) PublishTurn(_ context.Context, r datatypes.TurnRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
	return nil
}

// brokenStore fails every conversation read.
type brokenStore struct {
	conversation.Store
}

func (brokenStore) GetConversation(context.Context, string) (datatypes.Conversation, error) {
	return datatypes.Conversation{}, errors.New("connection refused")
}

type secretRedactor struct{}

func (secretRedactor) Redact(s string) string {
	return strings.ReplaceAll(s, "gate code 4411", "[secret]")
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	orch      *Orchestrator
	model     *fakeModel
	convs     *conversation.MemoryStore
	pending   *conversation.MemoryPendingStore
	household *household.MemoryStore
	publisher *recordingPublisher
	metrics   *observability.ChatMetrics
}

func newHarness(t *testing.T, model *fakeModel, mutate ...func(*Dependencies, *Config)) *harness {
	t.Helper()
	hh := household.NewMemoryStore()
	hh.PutSpace(household.Space{ID: "sp1", Name: "Flat", Timezone: "UTC"},
		datatypes.Member{ID: "u1", DisplayName: "Ana", Role: "owner"},
		datatypes.Member{ID: "u2", DisplayName: "Ben", Role: "member"})

	metrics := observability.NewChatMetrics(prometheus.NewRegistry())
	registry := tools.NewRegistry(metrics)
	require.NoError(t, tools.RegisterHouseholdTools(registry, hh))

	h := &harness{
		model:     model,
		convs:     conversation.NewMemoryStore(),
		pending:   conversation.NewMemoryPendingStore(time.Hour),
		household: hh,
		publisher: &recordingPublisher{},
		metrics:   metrics,
	}
	deps := Dependencies{
		Model:         model,
		Tools:         registry,
		Conversations: h.convs,
		Usage:         h.convs,
		Pending:       h.pending,
		Publisher:     h.publisher,
		Metrics:       metrics,
	}
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&deps, &cfg)
	}
	orch, err := New(deps, cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) turn(t *testing.T, in TurnInput) ([]datatypes.StreamEvent, Outcome) {
	t.Helper()
	if in.UserID == "" {
		in.UserID = "u1"
	}
	if in.SpaceID == "" {
		in.SpaceID = "sp1"
	}
	if in.ConversationID == "" {
		in.ConversationID = datatypes.NewConversationID
	}
	in.SpaceContext.Timezone = "UTC"

	turn := h.orch.ProcessMessage(context.Background(), in)
	var events []datatypes.StreamEvent
	for ev := range turn.Events() {
		events = append(events, ev)
	}
	outcome := turn.Outcome()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.WaitForPersistence(ctx))

	assertWellFormed(t, events)
	return events, outcome
}

// assertWellFormed checks the stream shape every complete turn must have.
func assertWellFormed(t *testing.T, events []datatypes.StreamEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, datatypes.StreamEventConversationID, events[0].Type, "first record")
	assert.Equal(t, datatypes.StreamEventDone, events[len(events)-1].Type, "last record")
	for i, ev := range events[:len(events)-1] {
		assert.NotEqual(t, datatypes.StreamEventDone, ev.Type, "done before the end at %d", i)
	}
	for i, ev := range events[1:] {
		assert.NotEqual(t, datatypes.StreamEventConversationID, ev.Type, "second conversation_id at %d", i+1)
	}
}

func types(events []datatypes.StreamEvent) []datatypes.StreamEventType {
	out := make([]datatypes.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func textOf(events []datatypes.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == datatypes.StreamEventText {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

const (
	evCID    = datatypes.StreamEventConversationID
	evText   = datatypes.StreamEventText
	evCall   = datatypes.StreamEventToolCall
	evResult = datatypes.StreamEventResult
	evError  = datatypes.StreamEventError
	evDone   = datatypes.StreamEventDone
)

// =============================================================================
// Tests
// =============================================================================

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{}, Config{})
	assert.Error(t, err)
}

func TestProcessMessage_SimpleAnswer(t *testing.T) {
	h := newHarness(t, &fakeModel{passes: []pass{say("You have ", "two tasks.")}})

	events, outcome := h.turn(t, TurnInput{Message: "what's on today?"})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evText, evText, evDone}, types(events))
	assert.Equal(t, "You have two tasks.", textOf(events))
	assert.Equal(t, datatypes.TurnCompleted, outcome.Status)
	assert.Equal(t, events[0].ConversationID, outcome.ConversationID)

	conv, err := h.convs.GetConversation(context.Background(), outcome.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.UserID)
	assert.Equal(t, "what's on today?", conv.Title)

	msgs, err := h.convs.RecentMessages(context.Background(), outcome.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Equal(t, "what's on today?", msgs[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "You have two tasks.", msgs[1].Content)
	assert.Equal(t, int64(10), msgs[1].InputTokens)
	assert.Equal(t, int64(5), msgs[1].OutputTokens)
	assert.Equal(t, "fake-model", msgs[1].Model)
	assert.GreaterOrEqual(t, msgs[1].LatencyMs, int64(0))
	assert.Positive(t, msgs[0].InputTokens)
	assert.Empty(t, msgs[0].Model)

	usage, err := h.convs.GetUsage(context.Background(), "u1", "sp1", datatypes.UsageDay(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.InputTokens)
	assert.Equal(t, int64(5), usage.OutputTokens)
	assert.Equal(t, int64(1), usage.Conversations)
	assert.Equal(t, int64(2), usage.Messages)

	require.Len(t, h.publisher.records, 1)
	assert.Equal(t, datatypes.TurnCompleted, h.publisher.records[0].Status)
	assert.Equal(t, "fake-model", h.publisher.records[0].Model)
}

func TestProcessMessage_EstimatesTokensWithoutUsage(t *testing.T) {
	noUsage := func(_ context.Context, cb llm.StreamCallback) error {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: "Sure thing, all done here."}); err != nil {
			return err
		}
		return cb(llm.StreamEvent{Type: llm.StreamEventDone})
	}
	h := newHarness(t, &fakeModel{passes: []pass{noUsage}})

	_, outcome := h.turn(t, TurnInput{Message: "hi"})

	assert.Positive(t, outcome.InputTokens)
	assert.Positive(t, outcome.OutputTokens)
}

func TestProcessMessage_ConfirmationFlow(t *testing.T) {
	model := &fakeModel{passes: []pass{
		callTool("call_1", tools.ToolCreateTask, map[string]any{"title": "Fix sink", "assignee": "Ben"}),
		say("Done, Ben has it."),
	}}
	h := newHarness(t, model)
	ctx := context.Background()

	// Turn 1 halts on the confirm-required tool without running it.
	events, outcome := h.turn(t, TurnInput{Message: "ask Ben to fix the sink"})
	assert.Equal(t, []datatypes.StreamEventType{evCID, evCall, evDone}, types(events))
	assert.Equal(t, datatypes.TurnAwaitingConfirmation, outcome.Status)
	assert.Equal(t, "call_1", events[1].ToolCall.ID)
	tasks, err := h.household.OpenTasks(ctx, "sp1", 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	convID := outcome.ConversationID
	confirm := TurnInput{
		ConversationID: convID,
		ConfirmAction:  &datatypes.ConfirmAction{ToolCallID: "call_1", Approved: true},
	}

	// Turn 2 executes it once and the model continues.
	events, outcome = h.turn(t, confirm)
	assert.Equal(t, []datatypes.StreamEventType{evCID, evResult, evText, evDone}, types(events))
	assert.Equal(t, convID, events[0].ConversationID)
	require.NotNil(t, events[1].Result)
	assert.True(t, events[1].Result.Success, events[1].Result.Message)
	assert.Equal(t, "call_1", events[1].Result.ID)
	assert.Equal(t, datatypes.TurnCompleted, outcome.Status)

	tasks, err = h.household.OpenTasks(ctx, "sp1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "u2", tasks[0].AssigneeID)

	// The model saw the call paired with its result.
	last := model.messagesOfPass(1)
	resumed := last[len(last)-1]
	assert.Equal(t, datatypes.RoleAssistant, resumed.Role)
	require.Len(t, resumed.ToolResults, 1)
	assert.Equal(t, "call_1", resumed.ToolResults[0].ID)

	// Turn 3 re-confirms: the stored result is replayed, nothing runs again.
	events, outcome = h.turn(t, confirm)
	assert.Equal(t, []datatypes.StreamEventType{evCID, evResult, evDone}, types(events))
	assert.True(t, events[1].Result.Success)
	assert.Equal(t, datatypes.TurnCompleted, outcome.Status)
	assert.Equal(t, 2, model.passCount())

	tasks, err = h.household.OpenTasks(ctx, "sp1", 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConfirmationsTotal.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConfirmationsTotal.WithLabelValues("replayed")))
}

func TestProcessMessage_RejectedConfirmation(t *testing.T) {
	model := &fakeModel{passes: []pass{
		callTool("call_1", tools.ToolCreateEvent, map[string]any{"title": "Dentist", "starts_at": "2025-06-01T09:00"}),
		say("Okay, I won't add it."),
	}}
	h := newHarness(t, model)

	_, outcome := h.turn(t, TurnInput{Message: "add dentist on June 1 at 9"})
	require.Equal(t, datatypes.TurnAwaitingConfirmation, outcome.Status)

	events, outcome := h.turn(t, TurnInput{
		ConversationID: outcome.ConversationID,
		ConfirmAction:  &datatypes.ConfirmAction{ToolCallID: "call_1", Approved: false},
	})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evResult, evText, evDone}, types(events))
	assert.False(t, events[1].Result.Success)
	assert.Equal(t, "Cancelled", events[1].Result.Message)
	assert.Equal(t, datatypes.TurnCompleted, outcome.Status)

	evs, err := h.household.EventsBetween(context.Background(), "sp1",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestProcessMessage_ConfirmUnknownAction(t *testing.T) {
	h := newHarness(t, &fakeModel{passes: []pass{say("hello")}})
	_, first := h.turn(t, TurnInput{Message: "hi"})

	events, outcome := h.turn(t, TurnInput{
		ConversationID: first.ConversationID,
		ConfirmAction:  &datatypes.ConfirmAction{ToolCallID: "call_missing", Approved: true},
	})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evError, evDone}, types(events))
	assert.False(t, events[1].Error.Retryable)
	assert.Equal(t, datatypes.TurnFailed, outcome.Status)
}

func TestProcessMessage_AutoToolRunsInline(t *testing.T) {
	model := &fakeModel{passes: []pass{
		callTool("call_1", tools.ToolAddShoppingItem, map[string]any{"item": "milk"}),
		say("Added milk."),
	}}
	h := newHarness(t, model)

	events, outcome := h.turn(t, TurnInput{Message: "we need milk"})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evCall, evResult, evText, evDone}, types(events))
	assert.True(t, events[2].Result.Success)
	assert.Equal(t, datatypes.TurnCompleted, outcome.Status)
	assert.Equal(t, 1, outcome.ToolCalls)
	assert.Equal(t, int64(20), outcome.InputTokens)

	lists, err := h.household.ShoppingLists(context.Background(), "sp1", 5)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"milk"}, lists[0].Items)

	msgs, err := h.convs.RecentMessages(context.Background(), outcome.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Added milk.", msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	require.Len(t, msgs[1].ToolResults, 1)

	usage, err := h.convs.GetUsage(context.Background(), "u1", "sp1", datatypes.UsageDay(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.ToolCalls)
}

func TestProcessMessage_ToolCallCeiling(t *testing.T) {
	var n int
	var mu sync.Mutex
	model := &fakeModel{repeat: func(ctx context.Context, cb llm.StreamCallback) error {
		mu.Lock()
		n++
		id := fmt.Sprintf("call_%d", n)
		mu.Unlock()
		return callTool(id, tools.ToolListTasks, nil)(ctx, cb)
	}}
	h := newHarness(t, model)

	events, outcome := h.turn(t, TurnInput{Message: "loop forever"})

	want := []datatypes.StreamEventType{evCID}
	for i := 0; i < 5; i++ {
		want = append(want, evCall, evResult)
	}
	want = append(want, evError, evDone)
	assert.Equal(t, want, types(events))
	assert.False(t, events[len(events)-2].Error.Retryable)
	assert.Equal(t, observability.ErrorCodeToolLimit, outcome.ErrorCode)
	assert.Equal(t, 5, outcome.ToolCalls)
}

func TestProcessMessage_UnknownTool(t *testing.T) {
	h := newHarness(t, &fakeModel{passes: []pass{callTool("call_1", "launch_rockets", nil)}})

	events, outcome := h.turn(t, TurnInput{Message: "do it"})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evError, evDone}, types(events))
	assert.True(t, events[1].Error.Retryable)
	assert.Equal(t, observability.ErrorCodeInternal, outcome.ErrorCode)
}

func TestProcessMessage_ModelFailure(t *testing.T) {
	partial := func(_ context.Context, cb llm.StreamCallback) error {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: "Let me"}); err != nil {
			return err
		}
		return errors.New("upstream 503")
	}
	h := newHarness(t, &fakeModel{passes: []pass{partial}})

	events, outcome := h.turn(t, TurnInput{Message: "hi"})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evText, evError, evDone}, types(events))
	assert.True(t, events[2].Error.Retryable)
	assert.NotContains(t, events[2].Error.Message, "503")
	assert.Equal(t, observability.ErrorCodeLLMError, outcome.ErrorCode)
	assert.Equal(t, datatypes.TurnFailed, outcome.Status)

	// The partial answer is kept.
	msgs, err := h.convs.RecentMessages(context.Background(), outcome.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Let me", msgs[1].Content)
}

func TestProcessMessage_Timeout(t *testing.T) {
	slow := func(ctx context.Context, _ llm.StreamCallback) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := newHarness(t, &fakeModel{passes: []pass{slow}}, func(_ *Dependencies, cfg *Config) {
		cfg.TurnTimeout = 50 * time.Millisecond
	})

	events, outcome := h.turn(t, TurnInput{Message: "hi"})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evError, evDone}, types(events))
	assert.Equal(t, msgTimeout, events[1].Error.Message)
	assert.Equal(t, observability.ErrorCodeTimeout, outcome.ErrorCode)
}

func TestProcessMessage_ClientDisconnectStillPersists(t *testing.T) {
	model := &fakeModel{passes: []pass{
		callTool("call_1", tools.ToolAddShoppingItem, map[string]any{"item": "eggs"}),
	}}
	h := newHarness(t, model)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turn := h.orch.ProcessMessage(ctx, TurnInput{
		UserID: "u1", SpaceID: "sp1", ConversationID: datatypes.NewConversationID, Message: "eggs please",
	})
	first := <-turn.Events()
	require.Equal(t, evCID, first.Type)
	call := <-turn.Events()
	require.Equal(t, evCall, call.Type)
	cancel()

	outcome := turn.Outcome()
	assert.Equal(t, datatypes.TurnCancelled, outcome.Status)
	assert.Equal(t, observability.ErrorCodeClientDisconnect, outcome.ErrorCode)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, h.orch.WaitForPersistence(waitCtx))

	// The started tool finished and the turn was recorded.
	lists, err := h.household.ShoppingLists(context.Background(), "sp1", 5)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"eggs"}, lists[0].Items)

	msgs, err := h.convs.RecentMessages(context.Background(), first.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "eggs please", msgs[0].Content)
	require.Len(t, msgs[1].ToolResults, 1)
	assert.Equal(t, 1, model.passCount(), "the model is not consulted after the client leaves")
}

func TestProcessMessage_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, &fakeModel{passes: []pass{say("never")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	turn := h.orch.ProcessMessage(ctx, TurnInput{
		UserID: "u1", SpaceID: "sp1", ConversationID: datatypes.NewConversationID, Message: "hi",
	})
	var events []datatypes.StreamEvent
	for ev := range turn.Events() {
		events = append(events, ev)
	}

	assert.Empty(t, events)
	assert.Equal(t, datatypes.TurnCancelled, turn.Outcome().Status)
	assert.Equal(t, 0, h.model.passCount())
}

func TestProcessMessage_UnknownOrForeignConversationStartsNew(t *testing.T) {
	h := newHarness(t, &fakeModel{repeat: say("ok")})
	foreign, err := h.convs.CreateConversation(context.Background(), "u2", "sp1", "Ben's")
	require.NoError(t, err)

	for _, id := range []string{"does-not-exist", foreign.ID} {
		events, outcome := h.turn(t, TurnInput{ConversationID: id, Message: "hello"})
		assert.NotEqual(t, id, events[0].ConversationID)
		conv, err := h.convs.GetConversation(context.Background(), outcome.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, "u1", conv.UserID)
	}

	msgs, err := h.convs.RecentMessages(context.Background(), foreign.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProcessMessage_ConversationStoreFailure(t *testing.T) {
	h := newHarness(t, &fakeModel{passes: []pass{say("unused")}}, func(deps *Dependencies, _ *Config) {
		deps.Conversations = brokenStore{Store: deps.Conversations}
	})

	events, outcome := h.turn(t, TurnInput{ConversationID: "c_1", Message: "hi"})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evError, evDone}, types(events))
	assert.NotEmpty(t, events[0].ConversationID)
	assert.True(t, events[1].Error.Retryable)
	assert.NotContains(t, events[1].Error.Message, "refused")
	assert.Equal(t, datatypes.TurnFailed, outcome.Status)
	assert.Equal(t, 0, h.model.passCount())

	usage, err := h.convs.GetUsage(context.Background(), "u1", "sp1", datatypes.UsageDay(time.Now()))
	require.NoError(t, err)
	assert.Zero(t, usage.Messages)
}

func TestProcessMessage_AdvisoryIsStreamedNotStored(t *testing.T) {
	h := newHarness(t, &fakeModel{passes: []pass{say("Here you go.")}})

	events, outcome := h.turn(t, TurnInput{
		Message:  "my number is [phone]",
		Advisory: "I removed a phone number from your message.",
	})

	assert.Equal(t, []datatypes.StreamEventType{evCID, evText, evText, evDone}, types(events))
	assert.Equal(t, "I removed a phone number from your message.\n\n", events[1].Text)

	msgs, err := h.convs.RecentMessages(context.Background(), outcome.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Here you go.", msgs[1].Content)
}

func TestProcessMessage_HistoryAndRedactedContext(t *testing.T) {
	model := &fakeModel{passes: []pass{say("first answer"), say("second answer")}}
	h := newHarness(t, model, func(deps *Dependencies, _ *Config) {
		deps.Redactor = secretRedactor{}
	})

	_, first := h.turn(t, TurnInput{Message: "first question"})
	_, _ = h.turn(t, TurnInput{
		ConversationID: first.ConversationID,
		Message:        "second question",
		UserName:       "Ana",
		SpaceContext: datatypes.SpaceContext{
			SpaceID:   "sp1",
			OpenTasks: []datatypes.Task{{ID: "t1", Title: "Tell guests gate code 4411"}},
			Members:   []datatypes.Member{{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"}},
		},
	})

	seen := model.messagesOfPass(1)
	require.Len(t, seen, 4)
	assert.Equal(t, datatypes.RoleSystem, seen[0].Role)
	assert.Equal(t, "first question", seen[1].Content)
	assert.Equal(t, "first answer", seen[2].Content)
	assert.Equal(t, "second question", seen[3].Content)

	system := seen[0].Content
	assert.Contains(t, system, "You are talking to: Ana")
	assert.Contains(t, system, "Tell guests [secret]")
	assert.NotContains(t, system, "4411")
	assert.NotContains(t, system, "ana@example.com")
}

func TestProcessMessage_ConcurrentTurnsAccumulateUsage(t *testing.T) {
	h := newHarness(t, &fakeModel{repeat: say("ok")})
	const n = 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn := h.orch.ProcessMessage(context.Background(), TurnInput{
				UserID: "u1", SpaceID: "sp1", ConversationID: datatypes.NewConversationID, Message: "hi",
			})
			for range turn.Events() {
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.WaitForPersistence(ctx))

	usage, err := h.convs.GetUsage(context.Background(), "u1", "sp1", datatypes.UsageDay(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(10*n), usage.InputTokens)
	assert.Equal(t, int64(5*n), usage.OutputTokens)
	assert.Equal(t, int64(n), usage.Conversations)
	assert.Equal(t, int64(2*n), usage.Messages)
}
