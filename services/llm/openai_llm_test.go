// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockOpenAIServer serves a canned SSE body for /chat/completions and
// records the decoded request.
func newMockOpenAIServer(t *testing.T, chunks []string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestOpenAIClient(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", Model: "test-model", BaseURL: url})
	require.NoError(t, err)
	return client
}

func collect(events *[]StreamEvent) StreamCallback {
	return func(event StreamEvent) error {
		*events = append(*events, event)
		return nil
	}
}

func TestOpenAIClient_ChatStream_Text(t *testing.T) {
	server := newMockOpenAIServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
	}, nil)
	defer server.Close()

	var events []StreamEvent
	err := newTestOpenAIClient(t, server.URL).ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "Hi"}}, GenerationParams{}, collect(&events))

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, StreamEventToken, events[0].Type)
	assert.Equal(t, "Hello", events[0].Content)
	assert.Equal(t, " there", events[1].Content)
	assert.Equal(t, StreamEventDone, events[2].Type)
	assert.Equal(t, &Usage{InputTokens: 12, OutputTokens: 3}, events[2].Usage)
}

func TestOpenAIClient_ChatStream_AssemblesToolCallFragments(t *testing.T) {
	var captured openai.ChatCompletionRequest
	server := newMockOpenAIServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"Sure."}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"create_task","arguments":"{\"title\":"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Clean garage\"}"}}]},"finish_reason":"tool_calls"}]}`,
	}, &captured)
	defer server.Close()

	params := GenerationParams{Tools: []ToolSpec{{
		Name:        "create_task",
		Description: "Create a task",
		Parameters:  []ToolParam{{Name: "title", Type: "string", Required: true}},
	}}}

	var events []StreamEvent
	err := newTestOpenAIClient(t, server.URL).ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "make a task"}}, params, collect(&events))

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, StreamEventToken, events[0].Type)
	require.Equal(t, StreamEventToolCall, events[1].Type)
	assert.Equal(t, "call_1", events[1].ToolCall.ID)
	assert.Equal(t, "create_task", events[1].ToolCall.ToolName)
	assert.Equal(t, "Clean garage", events[1].ToolCall.Parameters["title"])
	assert.Equal(t, StreamEventDone, events[2].Type)
	assert.NotNil(t, events[2].Usage, "usage is estimated when the server sends none")

	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "create_task", captured.Tools[0].Function.Name)
	assert.True(t, captured.Stream)
}

func TestOpenAIClient_ChatStream_CallbackErrorStopsStream(t *testing.T) {
	server := newMockOpenAIServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"b"}}]}`,
	}, nil)
	defer server.Close()

	stop := errors.New("stop")
	calls := 0
	err := newTestOpenAIClient(t, server.URL).ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "Hi"}}, GenerationParams{},
		func(StreamEvent) error {
			calls++
			return stop
		})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenAIClient_ChatStream_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer server.Close()

	err := newTestOpenAIClient(t, server.URL).ChatStream(context.Background(),
		[]datatypes.Message{{Role: datatypes.RoleUser, Content: "Hi"}}, GenerationParams{}, func(StreamEvent) error { return nil })

	assert.Error(t, err)
}

func TestToOpenAIMessages_DropsUnansweredToolCalls(t *testing.T) {
	msgs := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: "sys"},
		{Role: datatypes.RoleUser, Content: "add milk and eggs"},
		{
			Role:    datatypes.RoleAssistant,
			Content: "Adding.",
			ToolCalls: []datatypes.ToolCall{
				{ID: "a", ToolName: "add_shopping_item", Parameters: map[string]any{"item": "milk"}},
				{ID: "b", ToolName: "create_task", Parameters: map[string]any{"title": "eggs"}},
			},
			ToolResults: []datatypes.ToolResult{{ID: "a", ToolName: "add_shopping_item", Success: true, Message: "Added"}},
		},
	}

	out := toOpenAIMessages(msgs)

	require.Len(t, out, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "a", out[2].ToolCalls[0].ID)
	assert.Equal(t, openai.ChatMessageRoleTool, out[3].Role)
	assert.Equal(t, "a", out[3].ToolCallID)
	assert.JSONEq(t, `{"success":true,"message":"Added"}`, out[3].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
}
