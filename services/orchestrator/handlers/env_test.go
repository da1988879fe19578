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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/access"
	"github.com/AleutianAI/hearth/services/orchestrator/chat"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"github.com/AleutianAI/hearth/services/orchestrator/middleware"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/AleutianAI/hearth/services/orchestrator/spacecontext"
	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"github.com/AleutianAI/hearth/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test doubles
// =============================================================================

// scriptedModel answers every pass with the next script entry; the last
// entry repeats.
type scriptedModel struct {
	mu      sync.Mutex
	scripts []func(ctx context.Context, cb llm.StreamCallback) error
	calls   int
}

func (m *scriptedModel) ChatStream(ctx context.Context, _ []datatypes.Message, _ llm.GenerationParams,
	cb llm.StreamCallback) error {

	m.mu.Lock()
	i := min(m.calls, len(m.scripts)-1)
	m.calls++
	script := m.scripts[i]
	m.mu.Unlock()
	return script(ctx, cb)
}

func (m *scriptedModel) ModelName() string { return "scripted" }

func reply(chunks ...string) func(context.Context, llm.StreamCallback) error {
	return func(_ context.Context, cb llm.StreamCallback) error {
		for _, c := range chunks {
			if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: c}); err != nil {
				return err
			}
		}
		return cb(llm.StreamEvent{Type: llm.StreamEventDone, Usage: &llm.Usage{InputTokens: 40, OutputTokens: 8}})
	}
}

func requestTool(id, name string, params map[string]any) func(context.Context, llm.StreamCallback) error {
	return func(_ context.Context, cb llm.StreamCallback) error {
		call := &datatypes.ToolCall{ID: id, ToolName: name, Parameters: params}
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToolCall, ToolCall: call}); err != nil {
			return err
		}
		return cb(llm.StreamEvent{Type: llm.StreamEventDone})
	}
}

// tokenAuth maps "tok-<user>" to that user.
type tokenAuth struct{}

func (tokenAuth) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	user, ok := strings.CutPrefix(token, "tok-")
	if !ok || user == "" {
		return nil, extensions.ErrUnauthorized
	}
	return &extensions.AuthInfo{UserID: user, DisplayName: strings.ToUpper(user[:1]) + user[1:]}, nil
}

type auditRecorder struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (a *auditRecorder) Log(_ context.Context, e extensions.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *auditRecorder) Flush(context.Context) error { return nil }

func (a *auditRecorder) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

// =============================================================================
// Environment
// =============================================================================

type testEnv struct {
	router    *gin.Engine
	model     *scriptedModel
	orch      *chat.Orchestrator
	convs     *conversation.MemoryStore
	household *household.MemoryStore
	metrics   *observability.ChatMetrics
	audit     *auditRecorder
}

type envOptions struct {
	tiers     access.TierTable
	heartbeat time.Duration
	origins   []string
}

func newTestEnv(t *testing.T, model *scriptedModel, mutate ...func(*envOptions)) *testEnv {
	t.Helper()
	o := envOptions{
		tiers: access.TierTable{
			datatypes.TierFree: {
				BudgetLimits:      conversation.BudgetLimits{DailyTokens: 10_000, DailyConversations: 50},
				RequestsPerWindow: 100,
			},
		},
		heartbeat: time.Minute,
	}
	for _, m := range mutate {
		m(&o)
	}

	hh := household.NewMemoryStore()
	hh.PutSpace(household.Space{ID: "sp1", Name: "Flat", Timezone: "UTC"},
		datatypes.Member{ID: "u1", DisplayName: "Ana", Role: "owner"},
		datatypes.Member{ID: "u2", DisplayName: "Ben", Role: "member"})
	hh.PutSpace(household.Space{ID: "sp2", Name: "Cabin", Timezone: "UTC"},
		datatypes.Member{ID: "u3", DisplayName: "Cy", Role: "owner"})

	convs := conversation.NewMemoryStore()
	metrics := observability.NewChatMetrics(prometheus.NewRegistry())
	registry := tools.NewRegistry(metrics)
	require.NoError(t, tools.RegisterHouseholdTools(registry, hh))

	orch, err := chat.New(chat.Dependencies{
		Model:         model,
		Tools:         registry,
		Conversations: convs,
		Usage:         convs,
		Pending:       conversation.NewMemoryPendingStore(time.Hour),
		Metrics:       metrics,
	}, chat.DefaultConfig())
	require.NoError(t, err)

	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)
	sanitizer, err := policy_engine.NewInputSanitizer()
	require.NoError(t, err)
	filter, err := policy_engine.NewChatFilter(sanitizer, policy_engine.NewPIIDetector(engine))
	require.NoError(t, err)

	rec := &auditRecorder{}
	opts := extensions.ServiceOptions{
		AuthProvider:  tokenAuth{},
		AuthzProvider: access.NewSpaceAuthz(hh),
		AuditLogger:   rec,
		MessageFilter: filter,
	}
	guard := access.NewGuard(access.GuardConfig{Spaces: hh, Usage: convs, Tiers: o.tiers})

	chatHandler, err := NewChatHandler(ChatDependencies{
		Orchestrator:   orch,
		Access:         guard,
		Context:        spacecontext.NewBuilder(hh, spacecontext.DefaultLimits()),
		Options:        opts,
		Metrics:        metrics,
		Conversations:  convs,
		Heartbeat:      o.heartbeat,
		AllowedOrigins: o.origins,
	})
	require.NoError(t, err)
	convHandler := NewConversationHandler(convs, convs, guard, opts, metrics)

	router := gin.New()
	v1 := router.Group("/v1", middleware.AuthMiddleware(opts.AuthProvider))
	v1.POST("/chat", chatHandler.HandleChatStream)
	v1.GET("/chat/ws", chatHandler.HandleChatWebSocket)
	v1.GET("/conversations/:id/messages", convHandler.GetMessages)
	v1.GET("/usage/today", convHandler.GetUsageToday)
	v1.GET("/tools", ListTools(registry))

	return &testEnv{
		router:    router,
		model:     model,
		orch:      orch,
		convs:     convs,
		household: hh,
		metrics:   metrics,
		audit:     rec,
	}
}

// settle waits for background persistence of finished turns.
func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.orch.WaitForPersistence(ctx))
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer tok-"+user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) chat(t *testing.T, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/v1/chat", user, body)
}

func newMessage(text string) datatypes.ChatRequest {
	return datatypes.ChatRequest{Message: text, ConversationID: datatypes.NewConversationID, SpaceID: "sp1"}
}

// frame is one decoded SSE data record.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (f frame) text() string {
	var s string
	_ = json.Unmarshal(f.Data, &s)
	return s
}

// parseSSE splits a stream body into data records and counts keepalives.
func parseSSE(t *testing.T, body string) (frames []frame, pings int) {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
		case line == ": ping":
			pings++
		case strings.HasPrefix(line, "data: "):
			var f frame
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f), line)
			frames = append(frames, f)
		default:
			t.Fatalf("unexpected SSE line %q", line)
		}
	}
	return frames, pings
}

func frameTypes(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func streamedText(frames []frame) string {
	var sb strings.Builder
	for _, f := range frames {
		if f.Type == string(datatypes.StreamEventText) {
			sb.WriteString(f.text())
		}
	}
	return sb.String()
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), fmt.Sprintf("body: %s", w.Body.String()))
	return body
}
