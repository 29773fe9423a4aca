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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthProbe checks one dependency's reachability.
type HealthProbe func(ctx context.Context) error

// HealthTargets holds the per-provider probes. A nil probe reports
// "not configured" instead of running a check; optional integrations
// (trends, archive) stay nil when disabled.
type HealthTargets struct {
	Weaviate HealthProbe
	LLM      HealthProbe
	Memory   HealthProbe
	Trends   HealthProbe
}

const healthProbeTimeout = 3 * time.Second

// HandleHealth reports service and per-provider status: GET /health.
//
// The service is "ok" when every configured provider answers, and
// "degraded" otherwise. Optional integrations that are not configured
// never degrade it. The status code stays 200 either way so container
// liveness probes don't restart a service whose backing store is
// flapping; readiness belongs to the caller's interpretation.
func HandleHealth(targets HealthTargets) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		components := gin.H{}
		degraded := false
		check := func(name string, probe HealthProbe) {
			if probe == nil {
				components[name] = "not configured"
				return
			}
			if err := probe(ctx); err != nil {
				components[name] = "error: " + err.Error()
				degraded = true
				return
			}
			components[name] = "ok"
		}

		check("weaviate", targets.Weaviate)
		check("llm", targets.LLM)
		check("memory", targets.Memory)
		check("trends", targets.Trends)

		status := "ok"
		if degraded {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     status,
			"components": components,
		})
	}
}
