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
	"net/http"

	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness. It is also the Consul check target.
func HealthCheck(model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "model": model})
	}
}

// ToolLister exposes the registered tools.
type ToolLister interface {
	ListTools() []tools.Info
}

// ListTools serves GET /v1/tools so clients can tell which actions will
// ask for confirmation.
func ListTools(lister ToolLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": lister.ListTools()})
	}
}
