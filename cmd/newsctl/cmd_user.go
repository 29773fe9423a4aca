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
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianNewswire/pkg/ux"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/spf13/cobra"
)

func runProfileShow(cmd *cobra.Command, args []string) {
	profile, err := apiClient.Profile(context.Background(), userID)
	if err != nil {
		log.Fatalf("Could not fetch profile for %s: %v", userID, err)
	}
	renderProfile(profile)
}

func runProfileSet(cmd *cobra.Command, args []string) {
	update := datatypes.ProfileUpdateRequest{}
	if responseLength != "" || formality != "" || detailDepth != "" {
		update.Style = &datatypes.StylePreferences{
			ResponseLength: responseLength,
			Formality:      formality,
			DetailDepth:    detailDepth,
		}
	}
	if sourcesFlag != "" {
		for _, src := range strings.Split(sourcesFlag, ",") {
			if trimmed := strings.TrimSpace(src); trimmed != "" {
				update.PreferredSources = append(update.PreferredSources, trimmed)
			}
		}
	}
	if update.Style == nil && update.PreferredSources == nil {
		log.Fatalf("Nothing to update: pass --length, --tone, --depth, or --sources")
	}

	profile, err := apiClient.UpdateProfile(context.Background(), userID, update)
	if err != nil {
		log.Fatalf("Could not update profile for %s: %v", userID, err)
	}
	ux.Success("Profile updated")
	renderProfile(profile)
}

func runClearMemory(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		log.Fatalf("Refusing to erase memory for %s without --force", userID)
	}
	if err := apiClient.ClearMemory(context.Background(), userID); err != nil {
		log.Fatalf("Could not clear memory for %s: %v", userID, err)
	}
	ux.Success("Erased all stored data for %s", userID)
}

func renderProfile(profile *datatypes.UserProfile) {
	ux.Header("Profile: " + profile.UserID)

	style := profile.Style
	fmt.Printf("  style: length=%s tone=%s depth=%s personalization=%.2f\n",
		orDefault(style.ResponseLength, "medium"),
		orDefault(style.Formality, "neutral"),
		orDefault(style.DetailDepth, "balanced"),
		style.PersonalizationLevel)

	if len(profile.PreferredSources) > 0 {
		fmt.Printf("  sources: %s\n", strings.Join(profile.PreferredSources, ", "))
	}
	if top := profile.TopCategories(5); len(top) > 0 {
		parts := make([]string, 0, len(top))
		for _, cat := range top {
			parts = append(parts, fmt.Sprintf("%s(%.2f)", cat, profile.CategoryWeights[cat]))
		}
		fmt.Printf("  interests: %s\n", strings.Join(parts, " "))
	}

	c := profile.Counters
	ux.Dim("  activity: %d queries, %d views, %d likes, %d dialogue turns",
		c.QueriesIssued, c.ArticlesViewed, c.CardsLiked, c.DialogueTurns)
	if !profile.UpdatedAt.IsZero() {
		ux.Dim("  updated %s", profile.UpdatedAt.Local().Format(time.RFC822))
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
