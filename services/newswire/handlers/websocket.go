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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/dialogue"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSTurnRequest is one dialogue turn over the socket. The session is
// fixed at connect time; per-turn retrieval knobs mirror ChatRequest.
type WSTurnRequest struct {
	Message         string   `json:"message"`
	MaxContextNews  *int     `json:"max_context_news,omitempty"`
	SimilarityFloor *float64 `json:"similarity_floor,omitempty"`
	RunID           string   `json:"run_id,omitempty"`
	UseMemory       *bool    `json:"use_memory,omitempty"`
	Personalize     *bool    `json:"personalize,omitempty"`
}

// WSTurnResponse is one complete reply. No partial-token streaming:
// each turn produces exactly one of these. IntegrityHash is the
// SHA-256 of the reply computed while it sat in protected memory.
type WSTurnResponse struct {
	SessionID     string                 `json:"session_id"`
	Reply         string                 `json:"reply,omitempty"`
	Sources       []datatypes.SourceInfo `json:"sources,omitempty"`
	Confidence    float64                `json:"confidence,omitempty"`
	Suggestions   []string               `json:"suggestions,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	IntegrityHash string                 `json:"integrity_hash,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced by the HTTP middleware; the socket
		// accepts any origin that got this far.
		return true
	},
}

// HandleChatWebSocket serves the dialogue socket: GET /v1/chat/ws.
//
// # Description
//
// On connect a fresh session is created and its id sent immediately as
// {"action": "session_created", "session_id": ...}. Every subsequent
// client frame is one WSTurnRequest; every server frame after the
// first is one WSTurnResponse. Turn errors are reported in-band and
// keep the socket open; read failures close it.
//
// The reply passes through a ReplyAccumulator between generation and
// delivery, so it never sits in swappable memory, and the response
// carries its integrity hash.
func HandleChatWebSocket(manager *dialogue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		observability.WebsocketOpened()
		defer observability.WebsocketClosed()

		userID := c.Query("user_id")
		session, err := manager.StartSession(c.Request.Context(), userID, c.Query("run_id"))
		if err != nil {
			slog.Error("Websocket session create failed", "error", err)
			_ = ws.WriteJSON(gin.H{"error": "failed to create session"})
			return
		}
		slog.Info("Websocket session started", "session_id", session.SessionID)

		if err := ws.WriteJSON(gin.H{
			"action":     "session_created",
			"session_id": session.SessionID,
		}); err != nil {
			return
		}

		for {
			var req WSTurnRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected",
					"session_id", session.SessionID, "reason", err.Error())
				return
			}

			resp := runSocketTurn(c, manager, session.SessionID, userID, req)
			if err := ws.WriteJSON(resp); err != nil {
				slog.Warn("Websocket write failed", "session_id", session.SessionID, "error", err)
				return
			}
		}
	}
}

// runSocketTurn executes one turn and shields the reply until it is
// serialized.
func runSocketTurn(c *gin.Context, manager *dialogue.Manager, sessionID, userID string, req WSTurnRequest) WSTurnResponse {
	out := WSTurnResponse{SessionID: sessionID}

	chatReq := datatypes.ChatRequest{
		UserID:          userID,
		SessionID:       sessionID,
		Message:         req.Message,
		MaxContextNews:  req.MaxContextNews,
		SimilarityFloor: req.SimilarityFloor,
		RunID:           req.RunID,
		UseMemory:       req.UseMemory,
		Personalize:     req.Personalize,
		// Socket turns arrive serialized per connection; queue rather
		// than bounce if another client shares the session.
		Wait: true,
	}

	resp, err := manager.Chat(c.Request.Context(), chatReq)
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = string(datatypes.KindOf(err))
		return out
	}

	acc, accErr := NewReplyAccumulator()
	if accErr != nil {
		// Reply survives, just without the protected-memory pass.
		slog.Warn("Reply accumulator unavailable", "session_id", sessionID, "error", accErr)
		out.Reply = resp.Reply
	} else {
		defer acc.Destroy()
		if err := acc.Write(resp.Reply); err == nil {
			if reply, hashStr, err := acc.Finalize(); err == nil {
				out.Reply = reply
				out.IntegrityHash = hashStr
			} else {
				out.Reply = resp.Reply
			}
		} else {
			out.Reply = resp.Reply
		}
	}

	out.Sources = resp.Sources
	out.Confidence = resp.Confidence
	out.Suggestions = resp.Suggestions
	out.Warnings = resp.Warnings
	return out
}
