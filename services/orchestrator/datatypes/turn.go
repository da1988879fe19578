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

import "time"

// TurnStatus is how a turn ended.
type TurnStatus string

const (
	TurnCompleted            TurnStatus = "completed"
	TurnAwaitingConfirmation TurnStatus = "awaiting_confirmation"
	TurnFailed               TurnStatus = "failed"
	TurnCancelled            TurnStatus = "cancelled"
)

// TurnRecord summarizes a finished turn for downstream consumers. It never
// carries message text.
type TurnRecord struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	SpaceID        string     `json:"spaceId"`
	Status         TurnStatus `json:"status"`
	Model          string     `json:"model"`
	InputTokens    int64      `json:"inputTokens"`
	OutputTokens   int64      `json:"outputTokens"`
	ToolCalls      int        `json:"toolCalls"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	Latency        float64    `json:"latencySeconds"`
}
