// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the registry of actions the assistant may take in a
// household space, and the single place where those actions run.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("hearth.tools")

var (
	// ErrUnknownTool is returned by Execute for a name that was never
	// registered. Callers treat it as an internal fault.
	ErrUnknownTool = errors.New("unknown tool")

	ErrDuplicateTool = errors.New("tool already registered")
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 10 * time.Second

// ExecContext carries the identity a tool acts on behalf of.
type ExecContext struct {
	UserID         string
	SpaceID        string
	ConversationID string
	// Timezone is the space's IANA zone, used to read dates the user typed.
	Timezone string
}

// Location returns the loaded Timezone, or UTC.
func (e ExecContext) Location() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Outcome is what a successful handler reports back.
type Outcome struct {
	Data    any
	Message string
}

// Handler performs one tool call. Returning a *Failure reports a
// user-facing problem; any other error is logged and replaced by a
// generic message.
type Handler func(ctx context.Context, exec ExecContext, params Params) (Outcome, error)

// Tool is a registered action.
type Tool struct {
	Spec llm.ToolSpec
	// RequiresConfirmation is fixed at registration. The orchestrator
	// never runs such a tool without an explicit approval from the caller.
	RequiresConfirmation bool
	Timeout              time.Duration
	Handler              Handler
}

// Info is the public description returned by ListTools.
type Info struct {
	Name                 string `json:"name"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

// Failure is a tool error whose message is safe to show the user and the
// model.
type Failure struct {
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Failf builds a *Failure.
func Failf(format string, args ...any) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// Registry manages tool registration and execution.
//
// Thread Safety:
//
//	Registry is fully thread-safe. All methods can be called concurrently.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Tool
	order   []string
	metrics *observability.ChatMetrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *observability.ChatMetrics) *Registry {
	return &Registry{byName: make(map[string]Tool), metrics: metrics}
}

// Register adds a tool. Names are unique; registering a name twice fails.
func (r *Registry) Register(tool Tool) error {
	name := tool.Spec.Name
	if name == "" || tool.Handler == nil {
		return fmt.Errorf("tool %q: name and handler are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.byName[name] = tool
	r.order = append(r.order, name)
	return nil
}

// ListTools returns every tool in registration order.
func (r *Registry) ListTools() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Info{Name: name, RequiresConfirmation: r.byName[name].RequiresConfirmation})
	}
	return out
}

// Specs returns the model-facing declarations in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Spec)
	}
	return out
}

// RequiresConfirmation reports the declared policy of name.
func (r *Registry) RequiresConfirmation(name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool.RequiresConfirmation, nil
}

// Execute runs call once.
//
// # Description
//
// Parameters are checked against the tool's declaration first. A handler
// failure, a parameter problem, a timeout or a panic all produce a
// ToolResult with Success=false; only an unregistered name is returned as
// an error. The result's ID and ToolName always match the call.
//
// # Inputs
//
//   - ctx: Bounds the execution together with the tool's timeout.
//   - call: The model's tool call.
//   - exec: Identity and space the tool acts in.
//
// # Outputs
//
//   - datatypes.ToolResult: The outcome, success or not.
//   - error: ErrUnknownTool (wrapped) for an unregistered name.
func (r *Registry) Execute(ctx context.Context, call datatypes.ToolCall, exec ExecContext) (result datatypes.ToolResult, err error) {
	r.mu.RLock()
	tool, ok := r.byName[call.ToolName]
	r.mu.RUnlock()
	if !ok {
		return datatypes.ToolResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.ToolName)
	}

	ctx, span := tracer.Start(ctx, "tools.Execute")
	span.SetAttributes(attribute.String("tool", call.ToolName), attribute.String("tool_call_id", call.ID))
	defer span.End()

	logger := slog.With("tool", call.ToolName, "tool_call_id", call.ID, "space_id", exec.SpaceID)
	result = datatypes.ToolResult{ID: call.ID, ToolName: call.ToolName}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tool panicked", "panic", rec)
			result.Success = false
			result.Data = nil
			result.Message = "The action could not be completed."
			err = nil
		}
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		span.SetAttributes(attribute.Bool("success", result.Success))
		r.metrics.RecordToolExecution(call.ToolName, outcome)
	}()

	params := Params(call.Parameters)
	if verr := params.validate(tool.Spec); verr != nil {
		logger.Warn("tool parameters rejected", "error", verr)
		result.Message = verr.Error()
		return result, nil
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, herr := tool.Handler(ctx, exec, params)
	duration := time.Since(start)

	if herr != nil {
		var failure *Failure
		switch {
		case errors.As(herr, &failure):
			result.Message = failure.Message
		case errors.Is(herr, context.DeadlineExceeded):
			logger.Error("tool timed out", "timeout", timeout)
			result.Message = "The action took too long and was not completed."
		default:
			logger.Error("tool failed", "error", herr)
			result.Message = "The action could not be completed."
		}
		return result, nil
	}

	result.Success = true
	result.Data = out.Data
	result.Message = out.Message
	logger.Info("tool executed", "duration", duration)
	return result, nil
}
