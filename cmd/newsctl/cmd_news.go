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
	"strings"

	"github.com/AleutianAI/AleutianNewswire/pkg/ux"
	"github.com/spf13/cobra"
)

func runTrending(cmd *cobra.Command, args []string) {
	spin := ux.NewSpinner("Fetching trending stories")
	spin.Start()
	run, err := apiClient.Trending(context.Background(), userID)
	spin.Stop()
	if err != nil {
		log.Fatalf("Could not fetch trending news: %v", err)
	}
	ux.RenderCards(run.Cards)
	if len(run.RecommendedQueries) > 0 {
		ux.Dim("try next: %s", strings.Join(run.RecommendedQueries, " | "))
	}
}

func runCategory(cmd *cobra.Command, args []string) {
	category := strings.ToLower(args[0])

	spin := ux.NewSpinner("Fetching " + category + " news")
	spin.Start()
	run, err := apiClient.Category(context.Background(), category, userID)
	spin.Stop()
	if err != nil {
		log.Fatalf("Could not fetch %s news: %v", category, err)
	}
	ux.RenderCards(run.Cards)
}
