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

func runListSessions(cmd *cobra.Command, args []string) {
	filter := userID
	if !cmd.Root().PersistentFlags().Changed("user") {
		filter = "" // list everyone unless a user was named explicitly
	}
	sessions, err := apiClient.Sessions(context.Background(), filter, sessionLimit)
	if err != nil {
		log.Fatalf("Could not list sessions: %v", err)
	}
	ux.RenderSessions(sessions)
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	deleted, err := apiClient.DeleteSession(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Could not delete session %s: %v", args[0], err)
	}
	ux.Success("Deleted session %s (%d turns)", args[0], deleted)
}

func runHistory(cmd *cobra.Command, args []string) {
	history, err := apiClient.History(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Could not fetch session %s: %v", args[0], err)
	}
	ux.RenderHistory(history)
}
