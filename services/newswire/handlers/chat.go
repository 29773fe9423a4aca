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
	"strconv"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/dialogue"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

// HandleChat runs one dialogue turn: POST /v1/chat.
//
// An empty session_id creates a session implicitly; its id comes back
// in the response. A concurrent turn against the same session yields
// 429 SessionBusy unless wait is set.
func HandleChat(manager *dialogue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}

		resp, err := manager.Chat(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dialogue turn failed")
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, resp)
	}
}

// HandleChatHistory returns a session's messages:
// GET /v1/chat/:sessionId.
func HandleChatHistory(manager *dialogue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleChatHistory")
		defer span.End()

		history, err := manager.History(ctx, c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, history)
	}
}

// HandleDeleteSession removes a session, its turns, and its cached
// embeddings: DELETE /v1/chat/:sessionId.
func HandleDeleteSession(manager *dialogue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleDeleteSession")
		defer span.End()

		sessionID := c.Param("sessionId")
		deleted, err := manager.Delete(ctx, sessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, gin.H{
			"session_id":    sessionID,
			"turns_deleted": deleted,
		})
	}
}

// HandleListSessions lists sessions, newest activity first:
// GET /v1/sessions?user_id=&limit=.
func HandleListSessions(manager *dialogue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleListSessions")
		defer span.End()

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				respondBadRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		sessions, err := manager.List(ctx, c.Query("user_id"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if sessions == nil {
			sessions = []datatypes.SessionInfo{}
		}
		respondOK(c, http.StatusOK, gin.H{"sessions": sessions})
	}
}
