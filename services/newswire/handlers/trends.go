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

	"github.com/AleutianAI/AleutianNewswire/services/newswire/trends"
	"github.com/gin-gonic/gin"
)

// HandleTopicTrends returns the aggregated time series for one topic:
// GET /v1/trends/:topic?window=1d|1w|1m|1y.
//
// 503 when the trends integration is not configured. Topic names are
// sanitized inside the recorder before they touch any Flux query.
func HandleTopicTrends(recorder *trends.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleTopicTrends")
		defer span.End()

		if recorder == nil {
			c.JSON(http.StatusServiceUnavailable, envelope{
				Success: false,
				Error:   &errorBody{Kind: "StoreUnavailable", Message: "trend recording is not configured"},
			})
			return
		}

		topic := c.Param("topic")
		window := c.DefaultQuery("window", "1w")

		points, err := recorder.TopicSeries(ctx, topic, window)
		if err != nil {
			respondError(c, err)
			return
		}
		if points == nil {
			points = []trends.TrendPoint{}
		}
		respondOK(c, http.StatusOK, gin.H{
			"topic":  topic,
			"window": window,
			"points": points,
		})
	}
}
