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
	"strings"

	"github.com/AleutianAI/AleutianNewswire/pkg/validation"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/pipeline"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

// Canned queries for the browse endpoints. Category keys are the
// values ValidateCategory accepts.
var categoryQueries = map[string]string{
	"technology":    "latest technology news",
	"business":      "latest business news",
	"politics":      "latest politics news",
	"science":       "latest science news",
	"health":        "latest health news",
	"sports":        "latest sports news",
	"entertainment": "latest entertainment news",
	"world":         "latest world news",
}

const trendingQuery = "top trending news stories today"

// browseNumResults bounds the canned quick runs; browsing never pulls
// a full provider page.
const browseNumResults = 10

// HandleTrending runs a bounded quick pipeline over the canned trending
// query: GET /v1/news/trending?user_id=.
func HandleTrending(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleTrending")
		defer span.End()

		run, err := orch.Run(ctx, browseRequest(trendingQuery, c.Query("user_id")))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "trending run rejected")
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, run)
	}
}

// HandleCategory runs a bounded quick pipeline for one category:
// GET /v1/news/category/:category?user_id=.
func HandleCategory(orch *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleCategory")
		defer span.End()

		category := strings.ToLower(c.Param("category"))
		if err := validation.ValidateCategory(category); err != nil {
			respondBadRequest(c, err.Error())
			return
		}
		query, ok := categoryQueries[category]
		if !ok {
			query = "latest " + category + " news"
		}

		run, err := orch.Run(ctx, browseRequest(query, c.Query("user_id")))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "category run rejected")
			respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, run)
	}
}

func browseRequest(query, userID string) datatypes.PipelineRequest {
	n := browseNumResults
	return datatypes.PipelineRequest{
		Query:      query,
		UserID:     userID,
		NumResults: &n,
		Window:     "1d",
		Stages:     datatypes.QuickStages(),
	}
}
