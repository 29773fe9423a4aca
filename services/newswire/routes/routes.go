// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the newswire HTTP surface onto a gin engine.
package routes

import (
	"github.com/AleutianAI/AleutianNewswire/services/newswire/dialogue"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/handlers"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/pipeline"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/runs"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/trends"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries everything the handlers need. Trends is nil when the
// integration is not configured; its endpoint answers 503.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Dialogue     *dialogue.Manager
	Runs         runs.Store
	Memory       memory.Store
	Trends       *trends.Recorder
	Health       handlers.HealthTargets
}

// SetupRoutes registers every endpoint on the router. Middleware
// (auth, CORS, tracing) is attached by the caller before this runs.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth(deps.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		pipelineGroup := v1.Group("/pipeline")
		{
			pipelineGroup.POST("/process", handlers.HandleProcess(deps.Orchestrator))
			pipelineGroup.POST("/quick", handlers.HandleQuick(deps.Orchestrator))
			pipelineGroup.GET("/status/:runId", handlers.HandleRunStatus(deps.Runs))
		}

		v1.POST("/chat", handlers.HandleChat(deps.Dialogue))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps.Dialogue))
		v1.GET("/chat/:sessionId", handlers.HandleChatHistory(deps.Dialogue))
		v1.DELETE("/chat/:sessionId", handlers.HandleDeleteSession(deps.Dialogue))
		v1.GET("/sessions", handlers.HandleListSessions(deps.Dialogue))

		news := v1.Group("/news")
		{
			news.GET("/trending", handlers.HandleTrending(deps.Orchestrator))
			news.GET("/category/:category", handlers.HandleCategory(deps.Orchestrator))
		}

		v1.GET("/trends/:topic", handlers.HandleTopicTrends(deps.Trends))

		user := v1.Group("/user/:id")
		{
			user.GET("/profile", handlers.HandleGetProfile(deps.Memory))
			user.PUT("/profile", handlers.HandleUpdateProfile(deps.Memory))
			user.POST("/interaction", handlers.HandleRecordInteraction(deps.Memory))
			user.DELETE("/memory", handlers.HandleClearMemory(deps.Memory))
		}
	}
}
