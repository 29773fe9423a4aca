// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the HTTP and websocket surface of the
// newswire service. Every JSON endpoint answers with the same envelope:
//
//	{"success": true,  "data": ...}
//	{"success": false, "error": {"kind": "...", "message": "..."}}
//
// Statuses derive from the error kind in one place (respondError).
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.newswire.handlers")

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

// respondOK writes the success envelope.
func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// respondError maps the error's kind to an HTTP status and writes the
// error envelope. Unknown kinds become 500 internal.
func respondError(c *gin.Context, err error) {
	kind := datatypes.KindOf(err)
	if kind == "" {
		kind = datatypes.KindInternal
	}
	status := datatypes.HTTPStatusForKind(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "kind", string(kind), "error", err)
	}
	c.JSON(status, envelope{
		Success: false,
		Error:   &errorBody{Kind: string(kind), Message: err.Error()},
	})
}

// respondBadRequest rejects malformed request bodies before validation
// kinds exist.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, envelope{
		Success: false,
		Error:   &errorBody{Kind: string(datatypes.KindValidation), Message: message},
	})
}
