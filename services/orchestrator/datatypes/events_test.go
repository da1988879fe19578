// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEvent_MarshalJSON_WireShape(t *testing.T) {
	tests := []struct {
		name  string
		event StreamEvent
		want  string
	}{
		{"conversation id", ConversationIDEvent("c1"), `{"type":"conversation_id","data":"c1"}`},
		{"text", TextEvent("Hi"), `{"type":"text","data":"Hi"}`},
		{"done", DoneEvent(), `{"type":"done","data":null}`},
		{"error", ErrorEvent("try again", true), `{"type":"error","data":{"message":"try again","retryable":true}}`},
		{
			"tool call",
			ToolCallEvent(ToolCall{ID: "t1", ToolName: "create_task", Parameters: map[string]any{"title": "X"}}),
			`{"type":"tool_call","data":{"id":"t1","toolName":"create_task","parameters":{"title":"X"}}}`,
		},
		{
			"result",
			ResultEvent(ToolResult{ID: "t1", ToolName: "create_task", Success: true, Message: "Created"}),
			`{"type":"result","data":{"id":"t1","toolName":"create_task","success":true,"message":"Created"}}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestStreamEvent_UnmarshalJSON(t *testing.T) {
	var ev StreamEvent
	require.NoError(t, json.Unmarshal([]byte(`{"type":"tool_call","data":{"id":"t1","toolName":"add_event","parameters":{"title":"Dentist"}}}`), &ev))

	assert.Equal(t, StreamEventToolCall, ev.Type)
	require.NotNil(t, ev.ToolCall)
	assert.Equal(t, "add_event", ev.ToolCall.ToolName)
	assert.Equal(t, "Dentist", ev.ToolCall.Parameters["title"])
}

func TestStreamEvent_RejectsUnknownType(t *testing.T) {
	_, err := json.Marshal(StreamEvent{Type: "mystery"})
	assert.Error(t, err)

	var ev StreamEvent
	assert.Error(t, json.Unmarshal([]byte(`{"type":"mystery","data":1}`), &ev))
}

func TestStreamEvent_RejectsMissingPayload(t *testing.T) {
	_, err := json.Marshal(StreamEvent{Type: StreamEventResult})
	assert.Error(t, err)
}

func TestStreamEvent_IsTerminal(t *testing.T) {
	assert.True(t, DoneEvent().IsTerminal())
	assert.False(t, ErrorEvent("x", true).IsTerminal())
}
