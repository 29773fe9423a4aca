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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthResponse(t *testing.T, targets HealthTargets) (int, map[string]any) {
	t.Helper()

	router := gin.New()
	router.GET("/health", HandleHealth(targets))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHandleHealth_AllOK(t *testing.T) {
	ok := func(context.Context) error { return nil }
	code, body := healthResponse(t, HealthTargets{Weaviate: ok, LLM: ok, Memory: ok, Trends: ok})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "ok", components["weaviate"])
	assert.Equal(t, "ok", components["trends"])
}

func TestHandleHealth_DegradedOnFailure(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }
	code, body := healthResponse(t, HealthTargets{Weaviate: ok, LLM: down, Memory: ok})

	assert.Equal(t, http.StatusOK, code, "liveness stays 200 while degraded")
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	assert.Contains(t, components["llm"], "connection refused")
}

func TestHandleHealth_UnconfiguredNeverDegrades(t *testing.T) {
	ok := func(context.Context) error { return nil }
	code, body := healthResponse(t, HealthTargets{Weaviate: ok, LLM: ok, Memory: ok})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "not configured", components["trends"])
}
