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
	"time"

	"github.com/AleutianAI/AleutianNewswire/pkg/validation"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/gin-gonic/gin"
)

// HandleGetProfile returns the user's derived profile:
// GET /v1/user/:id/profile.
func HandleGetProfile(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleGetProfile")
		defer span.End()

		userID := c.Param("id")
		if err := validation.ValidateUserID(userID); err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		profile, err := store.GetProfile(ctx, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, profile)
	}
}

// HandleUpdateProfile replaces the caller-settable profile fields:
// PUT /v1/user/:id/profile.
func HandleUpdateProfile(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleUpdateProfile")
		defer span.End()

		userID := c.Param("id")
		if err := validation.ValidateUserID(userID); err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		var req datatypes.ProfileUpdateRequest
		if err := c.BindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		profile, err := store.UpdateSettings(ctx, userID, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, profile)
	}
}

// HandleRecordInteraction appends one interaction to the user's log:
// POST /v1/user/:id/interaction. The path user id wins over any user id
// in the body.
func HandleRecordInteraction(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleRecordInteraction")
		defer span.End()

		userID := c.Param("id")
		if err := validation.ValidateUserID(userID); err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		var rec datatypes.InteractionRecord
		if err := c.BindJSON(&rec); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
		rec.UserID = userID
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now().UTC()
		}
		if rec.Importance == 0 {
			rec.Importance = 1
		}
		if err := rec.Validate(); err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		if err := store.Record(ctx, &rec); err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusAccepted, gin.H{"recorded": true})
	}
}

// HandleClearMemory removes the user's profile and interaction log:
// DELETE /v1/user/:id/memory.
func HandleClearMemory(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleClearMemory")
		defer span.End()

		userID := c.Param("id")
		if err := validation.ValidateUserID(userID); err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		if err := store.Clear(ctx, userID); err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, gin.H{"cleared": true, "user_id": userID})
	}
}
