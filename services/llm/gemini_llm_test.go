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
	"testing"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToGeminiContents(t *testing.T) {
	msgs := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: "You help households."},
		{Role: datatypes.RoleUser, Content: "create a task"},
		{
			Role:        datatypes.RoleAssistant,
			ToolCalls:   []datatypes.ToolCall{{ID: "c1", ToolName: "create_task", Parameters: map[string]any{"title": "X"}}},
			ToolResults: []datatypes.ToolResult{{ID: "c1", ToolName: "create_task", Success: true, Message: "Created"}},
		},
		{Role: datatypes.RoleAssistant, Content: "Done!"},
	}

	system, contents := toGeminiContents(msgs)

	assert.Equal(t, "You help households.", system)
	require.Len(t, contents, 4)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "create_task", contents[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, genai.RoleUser, contents[2].Role)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, true, contents[2].Parts[0].FunctionResponse.Response["success"])
	assert.Equal(t, "Done!", contents[3].Parts[0].Text)
}

func TestToGeminiContents_SkipsEmptyAssistantTurns(t *testing.T) {
	msgs := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi"},
		{Role: datatypes.RoleAssistant, ToolCalls: []datatypes.ToolCall{{ID: "pending", ToolName: "create_task"}}},
	}

	_, contents := toGeminiContents(msgs)

	assert.Len(t, contents, 1)
}

func TestGeminiDeclarations(t *testing.T) {
	decls := geminiDeclarations([]ToolSpec{{
		Name: "add_shopping_item",
		Parameters: []ToolParam{
			{Name: "item", Type: "string", Required: true},
			{Name: "quantity", Type: "integer"},
			{Name: "tags", Type: "array"},
		},
	}})

	require.Len(t, decls, 1)
	schema := decls[0].Parameters
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"item"}, schema.Required)
	assert.Equal(t, genai.TypeInteger, schema.Properties["quantity"].Type)
	require.NotNil(t, schema.Properties["tags"].Items)
	assert.Equal(t, genai.TypeString, schema.Properties["tags"].Items.Type)
}

func TestNewChatModel_UnknownBackend(t *testing.T) {
	_, err := NewChatModel(context.Background(), Config{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewChatModel_GeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewChatModel(context.Background(), Config{Backend: "gemini"})
	assert.Error(t, err)
}
