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

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/pipeline"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/runs"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

// HandleProcess runs the full pipeline: POST /v1/pipeline/process.
//
// # Description
//
// Binds the request, applies the caller's stage toggles (all stages
// when the body omits them), and runs the orchestrator synchronously.
// The full run record is the response, whatever its terminal status:
// partial successes still return 200 with warnings inline.
func HandleProcess(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleProcess")
		defer span.End()

		var req datatypes.PipelineRequest
		if err := c.BindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
		if !req.Stages.Any() {
			req.Stages = datatypes.AllStages()
		}

		run, err := orch.Run(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline run rejected")
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, run)
	}
}

// HandleQuick runs the bounded quick path: POST /v1/pipeline/quick.
// Quick runs skip persistence stages and generate cards only.
func HandleQuick(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleQuick")
		defer span.End()

		var req datatypes.PipelineRequest
		if err := c.BindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
		req.Stages = datatypes.QuickStages()

		run, err := orch.Run(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "quick run rejected")
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, run)
	}
}

// HandleRunStatus returns a retained run record:
// GET /v1/pipeline/status/:runId. Expired or unknown runs are 404.
func HandleRunStatus(store runs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleRunStatus")
		defer span.End()

		runID := c.Param("runId")
		run, err := store.Get(ctx, runID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, run)
	}
}
