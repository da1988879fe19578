// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/hearth/pkg/extensions"
)

// ChatFilter screens inbound chat messages: it sanitizes first and then
// scans what survives for sensitive data.
type ChatFilter struct {
	sanitizer *InputSanitizer
	detector  *PIIDetector
}

// NewChatFilter combines a sanitizer and a detector. The detector may be nil.
func NewChatFilter(sanitizer *InputSanitizer, detector *PIIDetector) (*ChatFilter, error) {
	if sanitizer == nil {
		return nil, errors.New("policy_engine: sanitizer is required")
	}
	return &ChatFilter{sanitizer: sanitizer, detector: detector}, nil
}

// FilterInput never fails; blocking is reported in the result.
func (f *ChatFilter) FilterInput(_ context.Context, userID, message string) (*extensions.FilterResult, error) {
	sanitized := f.sanitizer.Sanitize(message, userID)
	if sanitized.WasBlocked {
		categories := make([]string, 0, len(sanitized.Detections))
		for _, d := range sanitized.Detections {
			categories = append(categories, d.ClassificationName)
		}
		slog.Info("chat message blocked", "user_id", userID, "categories", categories)
		return &extensions.FilterResult{Blocked: true, Reason: sanitized.BlockReason, Categories: categories}, nil
	}

	result := &extensions.FilterResult{
		Text:     sanitized.SanitizedText,
		Modified: sanitized.WasModified,
	}
	if pii := f.detector.Detect(result.Text); pii.HasPII {
		result.Advisory = pii.WarningMessage
		result.Categories = pii.Categories
	}
	return result, nil
}

var _ extensions.MessageFilter = (*ChatFilter)(nil)
