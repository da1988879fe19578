// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the chat
// orchestration service.
//
// This file contains the inbound chat request and its validation.
package datatypes

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// NewConversationID is the sentinel a client sends to start a new
	// conversation.
	NewConversationID = "new"
)

// ErrConfirmWithoutConversation is returned when a confirmAction is sent
// for a conversation that does not exist yet.
var ErrConfirmWithoutConversation = errors.New("confirmAction requires an existing conversationId")

// ErrBlankMessage is returned for a whitespace-only message with no
// confirmAction.
var ErrBlankMessage = errors.New("message must not be blank")

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest is the body of POST /v1/chat and of each WebSocket frame.
//
// # Description
//
// A request either carries a new user message, or resumes a halted turn
// with ConfirmAction. When ConfirmAction is present the message may be
// empty. The caller's identity never travels in the body; it comes from the
// bearer token.
//
// # Validation
//
//   - Message: required unless ConfirmAction is set, max 32KB
//   - ConversationID: required, either "new" or an existing id
//   - SpaceID: required
//   - ConfirmAction.ToolCallID: required when ConfirmAction is set
//   - VoiceSeconds: optional, 0..3600, length of dictated input
//
// # Examples
//
//	{"message": "what's on today?", "conversationId": "new", "spaceId": "sp_1"}
//	{"conversationId": "c_9", "spaceId": "sp_1",
//	 "confirmAction": {"toolCallId": "call_1", "approved": true}}
type ChatRequest struct {
	Message        string         `json:"message" validate:"required_without=ConfirmAction,maxbytes"`
	ConversationID string         `json:"conversationId" validate:"required,max=64"`
	SpaceID        string         `json:"spaceId" validate:"required,max=64"`
	ConfirmAction  *ConfirmAction `json:"confirmAction,omitempty" validate:"omitempty"`
	VoiceSeconds   int64          `json:"voiceSeconds,omitempty" validate:"gte=0,lte=3600"`
}

// ConfirmAction approves or rejects a tool call that halted a previous turn.
type ConfirmAction struct {
	ToolCallID string `json:"toolCallId" validate:"required,max=128"`
	Approved   bool   `json:"approved"`
}

// Validate runs tag validation plus the cross-field rules.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	if r.ConfirmAction == nil && strings.TrimSpace(r.Message) == "" {
		return ErrBlankMessage
	}
	if r.ConfirmAction != nil && r.IsNewConversation() {
		return ErrConfirmWithoutConversation
	}
	return nil
}

// IsNewConversation reports whether the client asked for a new conversation.
func (r *ChatRequest) IsNewConversation() bool {
	return r.ConversationID == NewConversationID
}
