// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/AleutianAI/hearth/services/orchestrator/middleware"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit  = 2 * datatypes.MaxMessageContentBytes
	wsWriteWait  = 10 * time.Second
	wsRejectType = "rejected"

	// wsQueuedFrames is how many requests may wait behind a running turn.
	wsQueuedFrames = 4
)

// wsRejection is the frame sent instead of a stream when a request is
// refused before the turn starts.
type wsRejection struct {
	Type string `json:"type"`
	Data gin.H  `json:"data"`
}

func (h *ChatHandler) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	if len(h.origins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return h.origins[strings.TrimRight(parsed.Scheme+"://"+parsed.Host, "/")]
		}
	}
	return u
}

// HandleChatWebSocket serves GET /v1/chat/ws.
//
// # Description
//
// Each inbound text frame is one chat request with the same shape as the
// SSE endpoint's body. The turn's records are sent back as one JSON frame
// each, in the same {type, data} form. A refused request yields a single
// {"type":"rejected","data":{status, error, message, ...}} frame and the
// connection stays open for the next request. Turns run one at a time;
// requests sent during a turn wait for it. The socket is read throughout,
// so a client that goes away mid-turn cancels the turn at once.
func (h *ChatHandler) HandleChatWebSocket(c *gin.Context) {
	endpoint := observability.EndpointWebSocket
	user := middleware.GetAuthInfo(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(observability.ErrorCodeUnauthorized)})
		return
	}

	ws, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", user.UserID, "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsReadLimit)
	slog.Info("websocket client connected", "user_id", user.UserID)

	ctx := c.Request.Context()
	frames := make(chan []byte, wsQueuedFrames)
	gone := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go readFrames(ws, user.UserID, frames, gone, done)

	for {
		var frame []byte
		select {
		case frame = <-frames:
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
		startTime := time.Now()

		ctx, span := h.tracer.Start(ctx, "HandleChatWebSocket.Turn")
		var req datatypes.ChatRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			span.End()
			if !h.writeWS(ws, rejectionFrame(reject(http.StatusBadRequest, observability.ErrorCodeValidation,
				"invalid request body"))) {
				return
			}
			continue
		}

		input, rej := h.preflight(ctx, user, &req, endpoint)
		if rej != nil {
			span.End()
			if !h.writeWS(ws, rejectionFrame(rej)) {
				return
			}
			continue
		}

		h.metrics.StreamStarted(endpoint)
		turnCtx, cancel := context.WithCancel(ctx)
		turn := h.orchestrator.ProcessMessage(turnCtx, input)
		connected := h.streamWS(ws, turn.Events(), gone, endpoint, startTime)
		if !connected {
			cancel()
		}
		outcome := turn.Outcome()
		cancel()
		h.metrics.StreamEnded(endpoint)
		h.finishTurn(ctx, span, user, input, outcome, endpoint, startTime)
		span.End()
		if !connected {
			return
		}
	}
}

// streamWS forwards a turn's records until the turn ends. It returns false
// when the client went away or a write failed.
func (h *ChatHandler) streamWS(ws *websocket.Conn, events <-chan datatypes.StreamEvent, gone <-chan struct{},
	endpoint observability.Endpoint, startTime time.Time) bool {

	var firstText time.Time
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return true
			}
			if ev.Type == datatypes.StreamEventText && firstText.IsZero() {
				firstText = time.Now()
				h.metrics.RecordTimeToFirstText(endpoint, firstText.Sub(startTime).Seconds())
			}
			if !h.writeWS(ws, ev) {
				return false
			}
		case <-gone:
			slog.Info("websocket client left during a turn")
			return false
		}
	}
}

// readFrames is the connection's only reader. It hands each inbound frame
// to frames and closes gone once the socket fails or is closed.
func readFrames(ws *websocket.Conn, userID string, frames chan<- []byte, gone chan<- struct{}, done <-chan struct{}) {
	defer close(gone)
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("websocket closed", "user_id", userID, "error", err)
			}
			return
		}
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func rejectionFrame(r *rejection) wsRejection {
	data := r.body()
	data["status"] = r.status
	if r.retryAfter > 0 {
		data["retry_after"] = r.retryAfter
	}
	return wsRejection{Type: wsRejectType, Data: data}
}

func (h *ChatHandler) writeWS(ws *websocket.Conn, v any) bool {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(v); err != nil {
		slog.Info("websocket write failed", "error", err)
		return false
	}
	return true
}
