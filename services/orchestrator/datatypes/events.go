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
	"fmt"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType is the discriminant of a wire record.
type StreamEventType string

const (
	StreamEventConversationID StreamEventType = "conversation_id"
	StreamEventText           StreamEventType = "text"
	StreamEventToolCall       StreamEventType = "tool_call"
	StreamEventResult         StreamEventType = "result"
	StreamEventError          StreamEventType = "error"
	StreamEventDone           StreamEventType = "done"
)

// StreamError is the payload of an error record.
type StreamError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StreamEvent is one record of a chat turn's response stream.
//
// # Description
//
// StreamEvent is a tagged union: Type selects which payload field is set.
// On the wire every record is {"type": ..., "data": ...}:
//
//	conversation_id  data: "<id>"
//	text             data: "<chunk>"
//	tool_call        data: {"id", "toolName", "parameters"}
//	result           data: {"id", "toolName", "success", "data"?, "message"}
//	error            data: {"message", "retryable"}
//	done             data: null
//
// Use the constructors rather than building the struct by hand.
type StreamEvent struct {
	Type           StreamEventType
	ConversationID string
	Text           string
	ToolCall       *ToolCall
	Result         *ToolResult
	Error          *StreamError
}

func ConversationIDEvent(id string) StreamEvent {
	return StreamEvent{Type: StreamEventConversationID, ConversationID: id}
}

func TextEvent(chunk string) StreamEvent {
	return StreamEvent{Type: StreamEventText, Text: chunk}
}

func ToolCallEvent(call ToolCall) StreamEvent {
	return StreamEvent{Type: StreamEventToolCall, ToolCall: &call}
}

func ResultEvent(result ToolResult) StreamEvent {
	return StreamEvent{Type: StreamEventResult, Result: &result}
}

func ErrorEvent(message string, retryable bool) StreamEvent {
	return StreamEvent{Type: StreamEventError, Error: &StreamError{Message: message, Retryable: retryable}}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventDone}
}

// IsTerminal reports whether no record may follow this one.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone
}

type wireEvent struct {
	Type StreamEventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the {type, data} wire shape.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case StreamEventConversationID:
		data = e.ConversationID
	case StreamEventText:
		data = e.Text
	case StreamEventToolCall:
		if e.ToolCall == nil {
			return nil, fmt.Errorf("tool_call event without a tool call")
		}
		data = e.ToolCall
	case StreamEventResult:
		if e.Result == nil {
			return nil, fmt.Errorf("result event without a result")
		}
		data = e.Result
	case StreamEventError:
		if e.Error == nil {
			return nil, fmt.Errorf("error event without an error")
		}
		data = e.Error
	case StreamEventDone:
		data = nil
	default:
		return nil, fmt.Errorf("unknown stream event type %q", e.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: raw})
}

// UnmarshalJSON decodes the {type, data} wire shape.
func (e *StreamEvent) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := StreamEvent{Type: w.Type}
	var err error
	switch w.Type {
	case StreamEventConversationID:
		err = json.Unmarshal(w.Data, &out.ConversationID)
	case StreamEventText:
		err = json.Unmarshal(w.Data, &out.Text)
	case StreamEventToolCall:
		out.ToolCall = &ToolCall{}
		err = json.Unmarshal(w.Data, out.ToolCall)
	case StreamEventResult:
		out.Result = &ToolResult{}
		err = json.Unmarshal(w.Data, out.Result)
	case StreamEventError:
		out.Error = &StreamError{}
		err = json.Unmarshal(w.Data, out.Error)
	case StreamEventDone:
	default:
		return fmt.Errorf("unknown stream event type %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s event: %w", w.Type, err)
	}
	*e = out
	return nil
}
