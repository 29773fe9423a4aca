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
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianNewswire/pkg/ux"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/spf13/cobra"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	sessionID := resumeSession

	// The turn closure carries the session id across turns; the first
	// reply pins it when the session was created implicitly.
	turn := func(message string) (*datatypes.ChatResponse, error) {
		resp, err := apiClient.Chat(context.Background(), chatRequest(sessionID, message))
		if err != nil {
			return nil, err
		}
		sessionID = resp.SessionID
		return resp, nil
	}

	if ux.IsInteractive() {
		if err := ux.RunChat(sessionID, turn); err != nil {
			log.Fatalf("Chat session failed: %v", err)
		}
		if sessionID != "" {
			fmt.Printf("Session: %s (resume with --resume)\n", sessionID)
		}
		return
	}

	// Piped input: one turn per line, plain output.
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		resp, err := turn(message)
		if err != nil {
			log.Fatalf("Chat turn failed: %v", err)
		}
		ux.RenderChatResponse(resp)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Reading input: %v", err)
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	spin := ux.NewSpinner("Consulting the newswire")
	spin.Start()
	resp, err := apiClient.Chat(context.Background(), chatRequest(resumeSession, question))
	spin.Stop()
	if err != nil {
		log.Fatalf("Ask failed: %v", err)
	}
	ux.RenderChatResponse(resp)
	fmt.Printf("\nSession: %s (continue with 'newsctl ask --session %s ...')\n",
		resp.SessionID, resp.SessionID)
}

func chatRequest(sessionID, message string) datatypes.ChatRequest {
	req := datatypes.ChatRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		RunID:     chatRunID,
		Wait:      true,
	}
	if noMemory {
		f := false
		req.UseMemory = &f
	}
	if noPersonalize {
		f := false
		req.Personalize = &f
	}
	return req
}
