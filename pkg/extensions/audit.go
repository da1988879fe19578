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

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventChatBlocked   = "chat.blocked"
	EventChatRejected  = "chat.rejected"
	EventAuthzDenied   = "authz.denied"
	EventChatStream    = "chat.stream"
	EventToolExecuted  = "tool.executed"
	EventConfirmAction = "tool.confirmation"
)

// AuditEvent is a security-relevant occurrence. It never carries message
// text, only identifiers and outcomes.
type AuditEvent struct {
	EventType    string
	Timestamp    time.Time
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	// Outcome is "success", "denied", "blocked" or "failed".
	Outcome  string
	Metadata map[string]any
}

// AuditLogger records audit events. Implementations must be safe for
// concurrent use and should not block the request path for long.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// SlogAuditLogger writes events as structured log records under the
// "audit" group.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	logger.InfoContext(ctx, "audit", slog.Group("audit", attrs...))
	return nil
}

func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

// NopAuditLogger discards events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

func (l *NopAuditLogger) Flush(context.Context) error { return nil }

var (
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*NopAuditLogger)(nil)
)
