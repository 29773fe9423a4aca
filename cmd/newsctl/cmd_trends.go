// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"

	"github.com/AleutianAI/AleutianNewswire/pkg/ux"
	"github.com/spf13/cobra"
)

func runTopicTrends(cmd *cobra.Command, args []string) {
	series, err := apiClient.TopicTrends(context.Background(), args[0], trendWindow)
	if err != nil {
		log.Fatalf("Could not fetch trends for %s: %v", args[0], err)
	}
	ux.RenderTrendSeries(series.Topic, series.Window, series.Points)
}
