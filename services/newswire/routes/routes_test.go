// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupRoutes_RegistersSurface(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{})

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/pipeline/process"},
		{"POST", "/v1/pipeline/quick"},
		{"GET", "/v1/pipeline/status/:runId"},
		{"POST", "/v1/chat"},
		{"GET", "/v1/chat/ws"},
		{"GET", "/v1/chat/:sessionId"},
		{"DELETE", "/v1/chat/:sessionId"},
		{"GET", "/v1/sessions"},
		{"GET", "/v1/news/trending"},
		{"GET", "/v1/news/category/:category"},
		{"GET", "/v1/trends/:topic"},
		{"GET", "/v1/user/:id/profile"},
		{"PUT", "/v1/user/:id/profile"},
		{"POST", "/v1/user/:id/interaction"},
		{"DELETE", "/v1/user/:id/memory"},
	}

	registered := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range registered {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "missing route %s %s", want.method, want.path)
	}
}

func TestSetupRoutes_HealthAnswers(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status"`)
}

func TestSetupRoutes_MetricsAnswers(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestSetupRoutes_UnconfiguredTrendsAnswers503(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/trends/fusion", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
