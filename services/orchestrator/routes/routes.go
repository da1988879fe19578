// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the HTTP surface of the chat service.
package routes

import (
	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/services/orchestrator/handlers"
	"github.com/AleutianAI/hearth/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups what SetupRoutes mounts. Gatherer may be nil to leave
// /metrics out.
type Handlers struct {
	Chat          *handlers.ChatHandler
	Conversations *handlers.ConversationHandler
	Tools         handlers.ToolLister
	ModelName     string
	Auth          extensions.AuthProvider
	Gatherer      prometheus.Gatherer
}

// SetupRoutes mounts the public endpoints and the authenticated /v1 group.
//
//	GET  /health
//	GET  /metrics
//	POST /v1/chat                          SSE stream
//	GET  /v1/chat/ws                       WebSocket stream
//	GET  /v1/conversations/:id/messages
//	GET  /v1/usage/today?space_id=
//	GET  /v1/tools
func SetupRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", handlers.HealthCheck(h.ModelName))
	if h.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := h.Auth
	if auth == nil {
		auth = &extensions.NopAuthProvider{}
	}

	v1 := router.Group("/v1", middleware.AuthMiddleware(auth))
	{
		v1.POST("/chat", h.Chat.HandleChatStream)
		v1.GET("/chat/ws", h.Chat.HandleChatWebSocket)
		v1.GET("/conversations/:id/messages", h.Conversations.GetMessages)
		v1.GET("/usage/today", h.Conversations.GetUsageToday)
		if h.Tools != nil {
			v1.GET("/tools", handlers.ListTools(h.Tools))
		}
	}
}
