// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the chat
// service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring chat turns.
// Metrics include:
//   - Turn counters (by endpoint, status, error code)
//   - Token usage (input/output tokens by model)
//   - Latency histograms (time to first text, total stream duration)
//   - Active stream gauges
//   - Tool executions, confirmation decisions and access denials
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is a no-op on a nil *ChatMetrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "hearth"

// Subsystem for chat metrics
const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for chat turns.
//
// # Fields
//
//   - TurnsTotal: Counter of turns by endpoint and status
//   - TokensTotal: Counter of tokens processed (input/output by model)
//   - TimeToFirstTextSeconds: Histogram of time to first text event
//   - StreamDurationSeconds: Histogram of total stream duration
//   - ActiveStreams: Gauge of currently open streams
//   - ErrorsTotal: Counter of errors by code and endpoint
//   - ToolExecutionsTotal: Counter of tool runs by tool and outcome
//   - AccessDenialsTotal: Counter of pre-stream rejections by reason
type ChatMetrics struct {
	// Labels: endpoint (sse, websocket), status (success, error)
	TurnsTotal *prometheus.CounterVec

	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// Labels: endpoint
	TimeToFirstTextSeconds *prometheus.HistogramVec

	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// Labels: tool, outcome (success, failure, rejected)
	ToolExecutionsTotal *prometheus.CounterVec

	// Labels: decision (approved, rejected, replayed)
	ConfirmationsTotal *prometheus.CounterVec

	// Labels: reason (budget, rate, forbidden, blocked)
	AccessDenialsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance registered by InitMetrics.
var DefaultMetrics *ChatMetrics

// InitMetrics registers the chat metrics with the default Prometheus
// registry and stores them in DefaultMetrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *ChatMetrics {
	DefaultMetrics = NewChatMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewChatMetrics creates the metrics and registers them with reg. Tests
// pass a fresh prometheus.NewRegistry().
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "turns_total",
				Help:      "Total number of chat turns by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		TimeToFirstTextSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_text_seconds",
				Help:      "Time from request to first text event in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open chat streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total chat errors by code and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		ToolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tool_executions_total",
				Help:      "Total tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		ConfirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "confirmations_total",
				Help:      "Total confirmation resumes by decision",
			},
			[]string{"decision"},
		),

		AccessDenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "access_denials_total",
				Help:      "Total requests rejected before streaming by reason",
			},
			[]string{"reason"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics and for the
// "error" field of pre-stream JSON rejections.
type ErrorCode string

const (
	ErrorCodeValidation     ErrorCode = "validation"
	ErrorCodeUnauthorized   ErrorCode = "unauthorized"
	ErrorCodeForbidden      ErrorCode = "forbidden"
	ErrorCodeSafetyBlocked  ErrorCode = "safety_blocked"
	ErrorCodeBudgetExceeded ErrorCode = "daily_limit_reached"
	ErrorCodeRateLimited    ErrorCode = "rate_limited"

	// ErrorCodeLLMError indicates a model API failure mid-stream.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates the turn exceeded its wall-clock budget.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeToolLimit indicates the per-turn tool-call ceiling was hit.
	ErrorCodeToolLimit ErrorCode = "tool_limit"

	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a chat transport for metrics labeling.
type Endpoint string

const (
	EndpointSSE       Endpoint = "sse"
	EndpointWebSocket Endpoint = "websocket"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed turn.
func (m *ChatMetrics) RecordTurn(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
}

// RecordError records a chat error.
func (m *ChatMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokens records token usage.
//
// # Inputs
//
//   - inputTokens: Number of input tokens.
//   - outputTokens: Number of output tokens.
//   - model: The model used.
func (m *ChatMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// StreamStarted increments the active streams gauge.
func (m *ChatMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ChatMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *ChatMetrics) RecordTimeToFirstText(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTextSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

func (m *ChatMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

func (m *ChatMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

func (m *ChatMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordToolExecution counts one tool run. outcome is "success",
// "failure" or "rejected".
func (m *ChatMetrics) RecordToolExecution(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordConfirmation counts one confirmation resume.
func (m *ChatMetrics) RecordConfirmation(decision string) {
	if m == nil {
		return
	}
	m.ConfirmationsTotal.WithLabelValues(decision).Inc()
}

// RecordAccessDenial counts a request rejected before streaming.
func (m *ChatMetrics) RecordAccessDenial(reason ErrorCode) {
	if m == nil {
		return
	}
	m.AccessDenialsTotal.WithLabelValues(string(reason)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
