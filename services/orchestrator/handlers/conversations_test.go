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
	"net/http"
	"testing"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedConversation runs one turn for u1 and returns its conversation id.
func seedConversation(t *testing.T, env *testEnv) string {
	t.Helper()
	w := env.chat(t, "u1", newMessage("what's for dinner?"))
	require.Equal(t, http.StatusOK, w.Code)
	frames, _ := parseSSE(t, w.Body.String())
	env.settle(t)
	return frames[0].text()
}

func TestGetMessages(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{scripts: []func(context.Context, llm.StreamCallback) error{reply("Pasta.")}})
	convID := seedConversation(t, env)

	t.Run("owner", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeJSON(t, w)
		conv := body["conversation"].(map[string]any)
		assert.Equal(t, convID, conv["id"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "what's for dinner?", msgs[0].(map[string]any)["content"])
		assert.Equal(t, "Pasta.", msgs[1].(map[string]any)["content"])
	})

	t.Run("limit", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages?limit=1", "u1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		msgs := decodeJSON(t, w)["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Pasta.", msgs[0].(map[string]any)["content"])
	})

	t.Run("bad limit", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages?limit=zero", "u1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("another member cannot read it", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", "u2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/conversations/nope/messages", "u1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetUsageToday(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{scripts: []func(context.Context, llm.StreamCallback) error{reply("Pasta.")}})
	seedConversation(t, env)

	w := env.do(t, http.MethodGet, "/v1/usage/today?space_id=sp1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	usage := body["usage"].(map[string]any)
	assert.Equal(t, 2.0, usage["messages"])
	assert.Equal(t, 1.0, usage["conversations"])
	assert.Equal(t, 8.0, usage["outputTokens"])
	budget := body["budget"].(map[string]any)
	assert.Equal(t, true, budget["allowed"])
	assert.Equal(t, "free", budget["tier"])

	w = env.do(t, http.MethodGet, "/v1/usage/today?space_id=sp1", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, decodeJSON(t, w)["usage"].(map[string]any)["messages"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/usage/today", "u1", nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/usage/today?space_id=sp2", "u1", nil).Code)
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{scripts: []func(context.Context, llm.StreamCallback) error{reply("x")}})

	w := env.do(t, http.MethodGet, "/v1/tools", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeJSON(t, w)["tools"].([]any)
	confirm := map[string]bool{}
	for _, item := range list {
		m := item.(map[string]any)
		confirm[m["name"].(string)] = m["requiresConfirmation"].(bool)
	}
	assert.True(t, confirm[tools.ToolCreateTask])
	assert.False(t, confirm[tools.ToolListTasks])
}
