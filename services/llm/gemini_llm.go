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
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ ChatModel = (*GeminiClient)(nil)

// NewGeminiClient builds a Gemini API client. An empty APIKey falls back to
// GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
		slog.Warn("Gemini model not set, defaulting", "model", model)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	slog.Info("Initializing Gemini client", "model", model)
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) ModelName() string { return g.model }

// ChatStream implements ChatModel.
//
// Gemini returns function calls whole, so they are collected as they
// arrive and emitted after the stream ends to keep the ChatModel ordering
// (text first, then tool calls).
func (g *GeminiClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	system, contents := toGeminiContents(messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if params.Temperature != nil {
		config.Temperature = params.Temperature
	}
	if params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*params.MaxTokens)
	}
	if len(params.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(params.Tools)}}
	}

	var text strings.Builder
	var usage *Usage
	var calls []datatypes.ToolCall

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return fmt.Errorf("Gemini stream failed: %w", err)
		}
		if resp.UsageMetadata != nil {
			usage = &Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				calls = append(calls, datatypes.ToolCall{ID: id, ToolName: part.FunctionCall.Name, Parameters: args})
			case part.Text != "" && !part.Thought:
				text.WriteString(part.Text)
				if err := callback(StreamEvent{Type: StreamEventToken, Content: part.Text}); err != nil {
					return err
				}
			}
		}
	}

	for i := range calls {
		if err := callback(StreamEvent{Type: StreamEventToolCall, ToolCall: &calls[i]}); err != nil {
			return err
		}
	}
	if usage == nil {
		usage = &Usage{
			InputTokens:  EstimateMessagesTokens(messages),
			OutputTokens: EstimateTokens(text.String()),
		}
	}
	return callback(StreamEvent{Type: StreamEventDone, Usage: usage})
}

// toGeminiContents splits out system messages and maps the rest onto
// user/model contents. Tool results travel as user-role function responses.
func toGeminiContents(messages []datatypes.Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case datatypes.RoleSystem:
			system = append(system, m.Content)
		case datatypes.RoleUser:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		case datatypes.RoleAssistant:
			calls, results := answeredToolCalls(m)
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, c := range calls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.ToolName, Args: c.Parameters}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			if len(results) > 0 {
				var responses []*genai.Part
				for _, r := range results {
					responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
						ID:       r.ID,
						Name:     r.ToolName,
						Response: toolResultPayload(r),
					}})
				}
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responses})
			}
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func geminiDeclarations(specs []ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, p := range spec.Parameters {
			prop := &genai.Schema{Type: geminiType(p.Type), Description: p.Description, Enum: p.Enum}
			if p.Type == "array" {
				prop.Items = &genai.Schema{Type: genai.TypeString}
			}
			schema.Properties[p.Name] = prop
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schema,
		})
	}
	return decls
}

func geminiType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}
