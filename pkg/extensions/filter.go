// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import "context"

// FilterResult is the outcome of screening one inbound chat message.
//
// # Description
//
// When Blocked is true Text is empty and Reason is safe to show the user.
// Otherwise Text is what should be sent on. Advisory, when set, is a
// user-facing note streamed ahead of the answer; it never blocks.
type FilterResult struct {
	Text       string
	Modified   bool
	Blocked    bool
	Reason     string
	Advisory   string
	Categories []string
}

// MessageFilter screens user messages before they reach the model.
//
// # Description
//
// FilterInput must be deterministic for a given rule set. An error means
// the filter itself failed; a blocked message is a normal result.
type MessageFilter interface {
	FilterInput(ctx context.Context, userID, message string) (*FilterResult, error)
}

// NopMessageFilter passes messages through unchanged.
type NopMessageFilter struct{}

func (f *NopMessageFilter) FilterInput(_ context.Context, _ string, message string) (*FilterResult, error) {
	return &FilterResult{Text: message}, nil
}

var _ MessageFilter = (*NopMessageFilter)(nil)
